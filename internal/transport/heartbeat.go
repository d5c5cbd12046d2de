package transport

import (
	"log"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// NodeID derives a stable identifier for this process's heartbeats. Falls
// back to a random id when the machine id is unavailable (containers).
func NodeID(override string) string {
	if override != "" {
		return override
	}
	if id, err := machineid.ProtectedID("signal-core"); err == nil && len(id) >= 12 {
		return "core-" + id[:12]
	}
	return "core-" + uuid.NewString()[:12]
}

// HealthMonitor tracks per-channel liveness. Any traffic counts as a beat;
// a channel silent beyond the window is DEGRADED and the Fire Router treats
// that as a dispatch precondition failure.
type HealthMonitor struct {
	mu     sync.RWMutex
	window time.Duration
	beats  map[Channel]time.Time

	// OnDegraded fires once per degradation edge, outside the lock.
	OnDegraded func(ch Channel, silent time.Duration)
	degraded   map[Channel]bool
}

// NewHealthMonitor creates a monitor with the given silence window.
func NewHealthMonitor(window time.Duration) *HealthMonitor {
	if window <= 0 {
		window = 60 * time.Second
	}
	h := &HealthMonitor{
		window:   window,
		beats:    make(map[Channel]time.Time),
		degraded: make(map[Channel]bool),
	}
	// Seed every channel with a synthetic beat at start, so a peer that
	// never comes up at all degrades after one window instead of staying
	// healthy forever.
	now := time.Now()
	for _, ch := range []Channel{
		ChannelMarketData, ChannelSignalIn, ChannelFireOut,
		ChannelConfirmIn, ChannelHeartbeat,
	} {
		h.beats[ch] = now
	}
	return h
}

// Beat records traffic on a channel.
func (h *HealthMonitor) Beat(ch Channel) {
	h.mu.Lock()
	h.beats[ch] = time.Now()
	wasDegraded := h.degraded[ch]
	h.degraded[ch] = false
	h.mu.Unlock()

	if wasDegraded {
		log.Printf("transport: channel %s recovered", ch)
	}
}

// Healthy reports whether the channel has beaten within the window.
// A channel that has never beaten is treated as healthy until its first
// window elapses from monitor start; Check drives that clock.
func (h *HealthMonitor) Healthy(ch Channel) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.degraded[ch]
}

// Check evaluates all tracked channels, marking and reporting degradations.
func (h *HealthMonitor) Check(now time.Time) {
	type edge struct {
		ch     Channel
		silent time.Duration
	}
	var edges []edge

	h.mu.Lock()
	for ch, last := range h.beats {
		silent := now.Sub(last)
		if silent > h.window && !h.degraded[ch] {
			h.degraded[ch] = true
			edges = append(edges, edge{ch, silent})
		}
	}
	cb := h.OnDegraded
	h.mu.Unlock()

	for _, e := range edges {
		log.Printf("transport: channel %s DEGRADED (silent %v)", e.ch, e.silent.Round(time.Second))
		if cb != nil {
			cb(e.ch, e.silent)
		}
	}
}

// Run drives Check on a ticker until ctx is done.
func (h *HealthMonitor) Run(done <-chan struct{}) {
	t := time.NewTicker(h.window / 4)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				h.Check(now)
			}
		}
	}()
}
