// Package vitality scores how much of a signal's edge is left against live
// market drift. Scores are pure functions of the signal, the latest quote
// and the recent per-symbol window; readings are cached briefly because the
// router may revalidate the same mission several times in one burst.
package vitality

import (
	"fmt"
	"math"
	"sync"
	"time"

	"signal-core/internal/market"
	"signal-core/internal/mission"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
)

// Status buckets a vitality score.
type Status string

const (
	StatusFresh   Status = "FRESH"   // >= 80
	StatusValid   Status = "VALID"   // >= 50
	StatusAging   Status = "AGING"   // >= 20
	StatusExpired Status = "EXPIRED" // < 20, execution must be refused
)

// ExecutionFloor is the score below which execution must be refused.
const ExecutionFloor = 20.0

// Penalty weights and knees.
const (
	driftWeight  = 0.5
	spreadWeight = 0.3
	volumeWeight = 0.2

	driftFreePips = 5.0  // no penalty below this drift
	driftMaxPips  = 15.0 // full penalty at/after this drift

	spreadFreeRatio = 1.5 // no penalty below 1.5x rolling average spread
	spreadKneeRatio = 2.5 // penalty 0.5 at 2.5x, capped 1.0 beyond

	volumeFreeRatio = 0.7 // no penalty above 70% of rolling average volume
	volumeKneeRatio = 0.4 // penalty 0.4 at 40%, approaching 1.0 below
)

// Reading is a transient vitality assessment for one mission. Never
// persisted; always rederivable from live market state plus the signal.
type Reading struct {
	MissionID  string    `json:"mission_id"`
	Score      float64   `json:"score"`
	Status     Status    `json:"status"`
	AdjEntry   float64   `json:"adj_entry"`
	AdjStop    float64   `json:"adj_stop"`
	AdjTarget  float64   `json:"adj_target"`
	Reasons    []string  `json:"reasons,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// Executable reports whether the reading permits firing.
func (r Reading) Executable() bool {
	return r.Score >= ExecutionFloor
}

func statusFor(score float64) Status {
	switch {
	case score >= 80:
		return StatusFresh
	case score >= 50:
		return StatusValid
	case score >= ExecutionFloor:
		return StatusAging
	default:
		return StatusExpired
	}
}

// Engine computes and caches vitality readings.
type Engine struct {
	Book  *market.Book
	Specs map[string]config.SymbolSpec
	TTL   time.Duration

	mu    sync.Mutex
	cache map[string]Reading
}

// NewEngine builds an engine over the market book.
func NewEngine(book *market.Book, specs map[string]config.SymbolSpec, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine{
		Book:  book,
		Specs: specs,
		TTL:   ttl,
		cache: make(map[string]Reading),
	}
}

// Compute returns the vitality reading for a mission, reusing a cached
// reading younger than the TTL.
func (e *Engine) Compute(m mission.Mission) Reading {
	e.mu.Lock()
	if r, ok := e.cache[m.ID]; ok && time.Since(r.ComputedAt) <= e.TTL {
		e.mu.Unlock()
		return r
	}
	e.mu.Unlock()

	var r Reading
	if q, ok := e.Book.Quote(m.Signal.Symbol); ok {
		r = e.score(m, q, e.Book.Stats(m.Signal.Symbol))
	} else {
		r = e.timeDecay(m)
	}

	e.mu.Lock()
	e.cache[m.ID] = r
	e.mu.Unlock()
	return r
}

// Invalidate drops the cached reading for a mission (used once terminal).
func (e *Engine) Invalidate(missionID string) {
	e.mu.Lock()
	delete(e.cache, missionID)
	e.mu.Unlock()
}

func (e *Engine) pipSize(symbol string) float64 {
	if spec, ok := e.Specs[symbol]; ok && spec.PipSize > 0 {
		return spec.PipSize
	}
	return 0.0001
}

// score is the deterministic core: weighted drift/spread/volume penalties.
func (e *Engine) score(m mission.Mission, q cache.Quote, stats market.Stats) Reading {
	sig := m.Signal
	pip := e.pipSize(sig.Symbol)
	mid := q.Mid()

	var reasons []string

	driftPips := math.Abs(mid-sig.Entry) / pip
	drift := ramp(driftPips, driftFreePips, driftMaxPips)
	if drift > 0 {
		reasons = append(reasons, fmt.Sprintf("price drifted %.1f pips from signal entry", driftPips))
	}

	var spread float64
	if stats.AvgSpread > 0 {
		ratio := q.Spread() / stats.AvgSpread
		// 0 below 1.5x average, 0.5 at 2.5x, capped at 1.0 past 3.5x.
		spread = 0.5*ramp(ratio, spreadFreeRatio, spreadKneeRatio) +
			0.5*ramp(ratio, spreadKneeRatio, spreadKneeRatio+1)
		if ratio > spreadFreeRatio {
			reasons = append(reasons, fmt.Sprintf("spread %.1fx rolling average", ratio))
		}
	}

	var volume float64
	if stats.AvgVolume > 0 {
		ratio := q.Volume / stats.AvgVolume
		switch {
		case ratio >= volumeFreeRatio:
			volume = 0
		case ratio >= volumeKneeRatio:
			volume = volumeKneeRatio * (volumeFreeRatio - ratio) / (volumeFreeRatio - volumeKneeRatio)
			reasons = append(reasons, fmt.Sprintf("volume down to %.0f%% of rolling average", ratio*100))
		default:
			// below 40% liquidity collapses toward full penalty
			volume = volumeKneeRatio + (1-volumeKneeRatio)*(volumeKneeRatio-ratio)/volumeKneeRatio
			if volume > 1 {
				volume = 1
			}
			reasons = append(reasons, fmt.Sprintf("illiquid: volume at %.0f%% of rolling average", ratio*100))
		}
	}

	weighted := driftWeight*drift + spreadWeight*spread + volumeWeight*volume
	score := clamp(100*(1-weighted), 0, 100)

	r := Reading{
		MissionID:  m.ID,
		Score:      score,
		Status:     statusFor(score),
		Reasons:    reasons,
		ComputedAt: time.Now(),
	}

	// Rebase entry/stop/target on the current price, preserving the
	// signal's original risk:reward ratio instead of the stale levels.
	stopDist := math.Abs(sig.Entry - sig.Stop)
	targetDist := math.Abs(sig.Target - sig.Entry)
	r.AdjEntry = mid
	if sig.Direction == mission.Buy {
		r.AdjStop = mid - stopDist
		r.AdjTarget = mid + targetDist
	} else {
		r.AdjStop = mid + stopDist
		r.AdjTarget = mid - targetDist
	}
	return r
}

// timeDecay is the failure mode when no live quote exists for the symbol:
// linear decay 100 -> 0 over the signal's nominal lifetime, falling open
// rather than failing closed.
func (e *Engine) timeDecay(m mission.Mission) Reading {
	sig := m.Signal
	score := 0.0
	if lt := sig.Lifetime(); lt > 0 {
		elapsed := time.Since(sig.GeneratedAt)
		score = clamp(100*(1-elapsed.Seconds()/lt.Seconds()), 0, 100)
	}
	return Reading{
		MissionID:  m.ID,
		Score:      score,
		Status:     statusFor(score),
		AdjEntry:   sig.Entry,
		AdjStop:    sig.Stop,
		AdjTarget:  sig.Target,
		Reasons:    []string{"no live quote for symbol; time-decay fallback"},
		ComputedAt: time.Now(),
	}
}

// ramp maps x linearly from 0 at lo to 1 at hi, clamped.
func ramp(x, lo, hi float64) float64 {
	if x <= lo {
		return 0
	}
	if x >= hi {
		return 1
	}
	return (x - lo) / (hi - lo)
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
