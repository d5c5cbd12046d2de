package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TierPolicy defines what a subscription tier is allowed to do. Values are
// fixed per tier and never user-adjustable.
type TierPolicy struct {
	Name               string   `yaml:"name"`
	ConfidenceFloor    float64  `yaml:"confidence_floor"`
	MaxConcurrentSlots int      `yaml:"max_concurrent_slots"`
	RiskPercent        float64  `yaml:"risk_percent"`
	Patterns           []string `yaml:"patterns"` // empty means all patterns
	DailyLossCap       int      `yaml:"daily_loss_cap"`
	HalveAfterLosses   int      `yaml:"halve_after_losses"`
	CooldownMinutes    int      `yaml:"cooldown_minutes"`
}

// AllowsPattern reports whether the tier may trade the given pattern tag.
func (t TierPolicy) AllowsPattern(pattern string) bool {
	if len(t.Patterns) == 0 {
		return true
	}
	for _, p := range t.Patterns {
		if strings.EqualFold(p, pattern) {
			return true
		}
	}
	return false
}

// SymbolSpec carries broker contract details needed for sizing.
type SymbolSpec struct {
	Symbol        string  `yaml:"symbol"`
	PipSize       float64 `yaml:"pip_size"`       // price units per pip (0.0001 for EURUSD)
	PipValue      float64 `yaml:"pip_value"`      // account currency per pip per 1.0 lot
	MinVolume     float64 `yaml:"min_volume"`     // lots
	MaxVolume     float64 `yaml:"max_volume"`     // lots
	LotStep       float64 `yaml:"lot_step"`       // broker volume increment
	ATRMultiplier float64 `yaml:"atr_multiplier"` // stop floor = ATR * multiplier
}

// Policy is the operator-managed tier and symbol policy file.
type Policy struct {
	Tiers   map[string]TierPolicy `yaml:"tiers"`
	Symbols map[string]SymbolSpec `yaml:"symbols"`
}

// LoadPolicy reads tier and symbol policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %q: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parse yaml: %w", err)
	}

	for name, tier := range p.Tiers {
		if tier.Name == "" {
			tier.Name = name
		}
		if tier.MaxConcurrentSlots <= 0 {
			tier.MaxConcurrentSlots = 1
		}
		if tier.RiskPercent <= 0 {
			tier.RiskPercent = 0.01
		}
		if tier.DailyLossCap <= 0 {
			tier.DailyLossCap = 6
		}
		if tier.HalveAfterLosses <= 0 {
			tier.HalveAfterLosses = 4
		}
		p.Tiers[name] = tier
	}

	for sym, spec := range p.Symbols {
		if spec.Symbol == "" {
			spec.Symbol = sym
		}
		if spec.PipSize <= 0 {
			spec.PipSize = 0.0001
		}
		if spec.PipValue <= 0 {
			spec.PipValue = 10.0
		}
		if spec.LotStep <= 0 {
			spec.LotStep = 0.01
		}
		if spec.MinVolume <= 0 {
			spec.MinVolume = spec.LotStep
		}
		if spec.ATRMultiplier <= 0 {
			spec.ATRMultiplier = 1.5
		}
		p.Symbols[sym] = spec
	}

	if len(p.Tiers) == 0 {
		return nil, fmt.Errorf("policy: no tiers defined in %q", path)
	}
	return &p, nil
}

// DefaultPolicy returns a built-in policy used by tests and local runs when
// no policy file is present.
func DefaultPolicy() *Policy {
	return &Policy{
		Tiers: map[string]TierPolicy{
			"NIBBLER": {
				Name:               "NIBBLER",
				ConfidenceFloor:    70,
				MaxConcurrentSlots: 1,
				RiskPercent:        0.01,
				DailyLossCap:       6,
				HalveAfterLosses:   4,
				CooldownMinutes:    30,
			},
			"FANG": {
				Name:               "FANG",
				ConfidenceFloor:    85,
				MaxConcurrentSlots: 2,
				RiskPercent:        0.0125,
				DailyLossCap:       6,
				HalveAfterLosses:   4,
				CooldownMinutes:    15,
			},
			"COMMANDER": {
				Name:               "COMMANDER",
				ConfidenceFloor:    90,
				MaxConcurrentSlots: 3,
				RiskPercent:        0.015,
				DailyLossCap:       6,
				HalveAfterLosses:   4,
			},
		},
		Symbols: map[string]SymbolSpec{
			"EURUSD": {Symbol: "EURUSD", PipSize: 0.0001, PipValue: 10, MinVolume: 0.01, MaxVolume: 50, LotStep: 0.01, ATRMultiplier: 1.5},
			"GBPUSD": {Symbol: "GBPUSD", PipSize: 0.0001, PipValue: 10, MinVolume: 0.01, MaxVolume: 50, LotStep: 0.01, ATRMultiplier: 1.5},
			"USDJPY": {Symbol: "USDJPY", PipSize: 0.01, PipValue: 9.1, MinVolume: 0.01, MaxVolume: 50, LotStep: 0.01, ATRMultiplier: 1.5},
			"XAUUSD": {Symbol: "XAUUSD", PipSize: 0.1, PipValue: 10, MinVolume: 0.01, MaxVolume: 20, LotStep: 0.01, ATRMultiplier: 2.0},
		},
	}
}
