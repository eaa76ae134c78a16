// Package quality scores patterns on a 0-100 scale and models score decay
// over time and reinforcement on use.
package quality

import (
	"math"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Factor weights. They sum to 1.
const (
	WeightUsage        = 0.30
	WeightAcceptance   = 0.30
	WeightConsistency  = 0.20
	WeightRecency      = 0.10
	WeightCompleteness = 0.10
)

// neutralScore is used for any factor without data.
const neutralScore = 50

// DecayConfig controls score decay and usage reinforcement.
type DecayConfig struct {
	// HalfLifeDays is the number of idle days over which an unused pattern
	// loses half its score (before the acceptance modifier).
	HalfLifeDays float64 `koanf:"half_life_days" json:"half_life_days"`

	// MinScore is the floor decay never goes below.
	MinScore int `koanf:"min_score" json:"min_score"`

	// UsageBoost is added to the score each time the pattern is used.
	UsageBoost int `koanf:"usage_boost" json:"usage_boost"`

	// AcceptanceWeight in [0,1] scales how much a high success rate slows decay.
	AcceptanceWeight float64 `koanf:"acceptance_weight" json:"acceptance_weight"`

	// Threshold is the score below which a pattern is considered degraded.
	// Sweeps report patterns that cross it.
	Threshold int `koanf:"threshold" json:"threshold"`
}

// DefaultDecayConfig returns the production defaults.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		HalfLifeDays:     30,
		MinScore:         10,
		UsageBoost:       5,
		AcceptanceWeight: 0.5,
		Threshold:        40,
	}
}

// Validate reports the first malformed field as a *pattern.ConfigError.
func (c DecayConfig) Validate() error {
	switch {
	case math.IsNaN(c.HalfLifeDays) || c.HalfLifeDays <= 0:
		return &pattern.ConfigError{Field: "decay.half_life_days", Reason: "must be positive"}
	case c.MinScore < 0 || c.MinScore > 100:
		return &pattern.ConfigError{Field: "decay.min_score", Reason: "must be within [0,100]"}
	case c.UsageBoost < 0 || c.UsageBoost > 100:
		return &pattern.ConfigError{Field: "decay.usage_boost", Reason: "must be within [0,100]"}
	case math.IsNaN(c.AcceptanceWeight) || c.AcceptanceWeight < 0 || c.AcceptanceWeight > 1:
		return &pattern.ConfigError{Field: "decay.acceptance_weight", Reason: "must be within [0,1]"}
	case c.Threshold < 0 || c.Threshold > 100:
		return &pattern.ConfigError{Field: "decay.threshold", Reason: "must be within [0,100]"}
	}
	return nil
}
