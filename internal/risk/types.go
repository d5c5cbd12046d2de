package risk

import (
	"strings"
	"time"

	"signal-core/pkg/config"
)

// UserRiskProfile is per-user risk configuration. The tier decides every
// number; users cannot adjust their own risk. Mutated only by the external
// policy engine, read-only here.
type UserRiskProfile struct {
	UserID             string   `json:"user_id"`
	Tier               string   `json:"tier"`
	MaxConcurrentSlots int      `json:"max_concurrent_slots"`
	RiskPercent        float64  `json:"risk_percent"`
	ConfidenceFloor    float64  `json:"confidence_floor"`
	DailyLossCap       int      `json:"daily_loss_cap"`
	HalveAfterLosses   int      `json:"halve_after_losses"`
	Patterns           []string `json:"patterns,omitempty"` // empty means all patterns
	Cooldown           time.Duration

	// Balance is the declared starting balance, the sizing basis until the
	// terminal's first confirmation reports the live one.
	Balance float64 `json:"balance,omitempty"`
}

// AllowsPattern reports whether the profile's tier may trade the pattern.
func (p UserRiskProfile) AllowsPattern(pattern string) bool {
	if len(p.Patterns) == 0 {
		return true
	}
	for _, allowed := range p.Patterns {
		if strings.EqualFold(allowed, pattern) {
			return true
		}
	}
	return false
}

// ProfileFromTier derives a profile from tier policy.
func ProfileFromTier(userID string, tier config.TierPolicy) UserRiskProfile {
	return UserRiskProfile{
		UserID:             userID,
		Tier:               tier.Name,
		MaxConcurrentSlots: tier.MaxConcurrentSlots,
		RiskPercent:        tier.RiskPercent,
		ConfidenceFloor:    tier.ConfidenceFloor,
		DailyLossCap:       tier.DailyLossCap,
		HalveAfterLosses:   tier.HalveAfterLosses,
		Patterns:           tier.Patterns,
		Cooldown:           time.Duration(tier.CooldownMinutes) * time.Minute,
	}
}

// AccountState is the balance snapshot used for sizing. Refreshed from each
// confirmation's balance field.
type AccountState struct {
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DayStats tracks one user's realized results for the current day.
type DayStats struct {
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	CooldownUntil     time.Time `json:"cooldown_until,omitempty"`
}
