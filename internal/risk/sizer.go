package risk

import (
	"math"
	"time"

	"signal-core/internal/market"
	"signal-core/internal/mission"
	"signal-core/internal/vitality"
	"signal-core/pkg/config"

	"github.com/google/uuid"
)

// Sizer converts account state plus a vitality-adjusted signal into concrete
// order parameters. Pure computation: it never dispatches anything and never
// returns a partially built order.
type Sizer struct {
	Specs   map[string]config.SymbolSpec
	Tracker *Tracker
	Book    *market.Book // optional; enables the ATR stop floor
}

// NewSizer builds a sizer over symbol specs and the day tracker.
func NewSizer(specs map[string]config.SymbolSpec, tracker *Tracker, book *market.Book) *Sizer {
	return &Sizer{Specs: specs, Tracker: tracker, Book: book}
}

// BuildOrder produces the FireOrder for a validated mission, or a typed
// error: SIZING_ERROR for degenerate inputs, DRAWDOWN_LIMIT once the user's
// daily cap is hit.
func (s *Sizer) BuildOrder(m mission.Mission, r vitality.Reading, profile UserRiskProfile, account AccountState) (mission.FireOrder, error) {
	var zero mission.FireOrder

	if account.Balance <= 0 {
		return zero, mission.Reject(mission.ReasonSizing, "missing account balance for user %s", m.UserID)
	}

	spec, ok := s.Specs[m.Signal.Symbol]
	if !ok {
		return zero, mission.Reject(mission.ReasonSizing, "no symbol spec for %s", m.Signal.Symbol)
	}

	day := s.Tracker.Day(m.UserID)
	if profile.DailyLossCap > 0 && day.Losses >= profile.DailyLossCap {
		return zero, mission.Reject(mission.ReasonDrawdownLimit,
			"daily loss cap reached for %s: %d/%d", m.UserID, day.Losses, profile.DailyLossCap)
	}

	// Drawdown circuit breaker: a consecutive-loss streak halves the
	// effective risk before the absolute cap kicks in.
	riskPercent := profile.RiskPercent
	if profile.HalveAfterLosses > 0 && day.ConsecutiveLosses >= profile.HalveAfterLosses {
		riskPercent /= 2
	}

	entry := r.AdjEntry
	stop := r.AdjStop
	target := r.AdjTarget

	stopDist := math.Abs(entry - stop)
	if stopDist <= 0 {
		return zero, mission.Reject(mission.ReasonSizing,
			"zero stop distance for %s (entry=%.5f stop=%.5f)", m.Signal.Symbol, entry, stop)
	}

	// Floor the stop at current noise when a volatility measure exists.
	if atr := s.atrFor(m.Signal.Symbol); atr > 0 {
		if floor := atr * spec.ATRMultiplier; stopDist < floor {
			stopDist = floor
			if m.Signal.Direction == mission.Buy {
				stop = entry - stopDist
			} else {
				stop = entry + stopDist
			}
		}
	}

	stopPips := stopDist / spec.PipSize
	riskAmount := account.Balance * riskPercent
	volume := riskAmount / (stopPips * spec.PipValue)

	if volume > spec.MaxVolume {
		volume = spec.MaxVolume
	}
	// Round down to the broker's lot step; never round risk up.
	volume = math.Floor(volume/spec.LotStep) * spec.LotStep

	if volume < spec.MinVolume {
		return zero, mission.Reject(mission.ReasonSizing,
			"volume %.2f below minimum %.2f for %s", volume, spec.MinVolume, m.Signal.Symbol)
	}

	return mission.FireOrder{
		OrderID:         uuid.NewString(),
		MissionID:       m.ID,
		UserID:          m.UserID,
		Symbol:          m.Signal.Symbol,
		Direction:       m.Signal.Direction,
		Volume:          volume,
		Entry:           entry,
		Stop:            stop,
		Target:          target,
		RiskPercentUsed: riskPercent,
		DispatchedAt:    time.Now(),
	}, nil
}

func (s *Sizer) atrFor(symbol string) float64 {
	if s.Book == nil {
		return 0
	}
	return s.Book.Stats(symbol).ATR
}
