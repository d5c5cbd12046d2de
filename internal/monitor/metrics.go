package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall core performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	ValidateLatency *LatencyHistogram
	DispatchLatency *LatencyHistogram
	ResolveLatency  *LatencyHistogram

	// Counters
	signalsSeen     uint64
	missionsOpened  uint64
	firesDispatched uint64
	confirmsSeen    uint64
	outcomesWritten uint64
	rejections      uint64
	staleRefusals   uint64

	// Mode split (fast vs patient) is a monitored target, not a gate.
	fastFired    uint64
	patientFired uint64

	lastUpdate time.Time
}

// NewSystemMetrics creates a metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ValidateLatency: NewLatencyHistogram(1000),
		DispatchLatency: NewLatencyHistogram(1000),
		ResolveLatency:  NewLatencyHistogram(1000),
		lastUpdate:      time.Now(),
	}
}

// LatencyHistogram tracks latency samples over a sliding window with lazy
// stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg, p50, p95, p99, recomputing only when samples
// changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

func (m *SystemMetrics) IncrementSignals()  { atomic.AddUint64(&m.signalsSeen, 1) }
func (m *SystemMetrics) IncrementMissions() { atomic.AddUint64(&m.missionsOpened, 1) }
func (m *SystemMetrics) IncrementConfirms() { atomic.AddUint64(&m.confirmsSeen, 1) }
func (m *SystemMetrics) IncrementOutcomes() { atomic.AddUint64(&m.outcomesWritten, 1) }
func (m *SystemMetrics) IncrementRejections() { atomic.AddUint64(&m.rejections, 1) }
func (m *SystemMetrics) IncrementStaleRefusals() { atomic.AddUint64(&m.staleRefusals, 1) }

// IncrementFires counts a dispatch, split by signal mode for the 60/40
// fast/patient distribution check.
func (m *SystemMetrics) IncrementFires(fast bool) {
	atomic.AddUint64(&m.firesDispatched, 1)
	if fast {
		atomic.AddUint64(&m.fastFired, 1)
	} else {
		atomic.AddUint64(&m.patientFired, 1)
	}
}

// ModeSplit returns the observed fast-share of fired missions (0..1) and
// the totals behind it.
func (m *SystemMetrics) ModeSplit() (share float64, fast, patient uint64) {
	fast = atomic.LoadUint64(&m.fastFired)
	patient = atomic.LoadUint64(&m.patientFired)
	if total := fast + patient; total > 0 {
		share = float64(fast) / float64(total)
	}
	return share, fast, patient
}

// MetricsSnapshot is a point-in-time view for the operator API.
type MetricsSnapshot struct {
	ValidateLatency LatencyStats `json:"validate_latency"`
	DispatchLatency LatencyStats `json:"dispatch_latency"`
	ResolveLatency  LatencyStats `json:"resolve_latency"`
	SignalsSeen     uint64       `json:"signals_seen"`
	MissionsOpened  uint64       `json:"missions_opened"`
	FiresDispatched uint64       `json:"fires_dispatched"`
	ConfirmsSeen    uint64       `json:"confirms_seen"`
	OutcomesWritten uint64       `json:"outcomes_written"`
	Rejections      uint64       `json:"rejections"`
	StaleRefusals   uint64       `json:"stale_refusals"`
	FastShare       float64      `json:"fast_share"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	share, _, _ := m.ModeSplit()

	return MetricsSnapshot{
		ValidateLatency: m.ValidateLatency.Stats(),
		DispatchLatency: m.DispatchLatency.Stats(),
		ResolveLatency:  m.ResolveLatency.Stats(),
		SignalsSeen:     atomic.LoadUint64(&m.signalsSeen),
		MissionsOpened:  atomic.LoadUint64(&m.missionsOpened),
		FiresDispatched: atomic.LoadUint64(&m.firesDispatched),
		ConfirmsSeen:    atomic.LoadUint64(&m.confirmsSeen),
		OutcomesWritten: atomic.LoadUint64(&m.outcomesWritten),
		Rejections:      atomic.LoadUint64(&m.rejections),
		StaleRefusals:   atomic.LoadUint64(&m.staleRefusals),
		FastShare:       share,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Timestamp:       time.Now(),
	}
}

// Timer measures one operation into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer recording into h.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
