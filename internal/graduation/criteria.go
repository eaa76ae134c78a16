// Package graduation promotes patterns through tenant levels as evidence
// accumulates, anonymizing them before they become global and gating the
// final step behind admin approval.
package graduation

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// LevelCriteria are the thresholds for leaving one level.
type LevelCriteria struct {
	// MinCount is compared against total observations, unique users or
	// unique companies depending on the level.
	MinCount            int     `koanf:"min_count" json:"min_count"`
	MinAcceptanceRate   float64 `koanf:"min_acceptance_rate" json:"min_acceptance_rate"`
	MaxModificationRate float64 `koanf:"max_modification_rate" json:"max_modification_rate"`
	RequiresApproval    bool    `koanf:"requires_approval" json:"requires_approval"`
}

// Criteria is the versioned graduation configuration.
type Criteria struct {
	Version           string        `koanf:"version" json:"version"`
	ObservationToUser LevelCriteria `koanf:"observation_to_user" json:"observation_to_user"`
	UserToProject     LevelCriteria `koanf:"user_to_project" json:"user_to_project"`
	ProjectToGlobal   LevelCriteria `koanf:"project_to_global" json:"project_to_global"`
}

// DefaultCriteria returns the production thresholds.
func DefaultCriteria() Criteria {
	return Criteria{
		Version: "v1",
		ObservationToUser: LevelCriteria{
			MinCount:            3,
			MinAcceptanceRate:   0.7,
			MaxModificationRate: 0.3,
		},
		UserToProject: LevelCriteria{
			MinCount:            3,
			MinAcceptanceRate:   0.75,
			MaxModificationRate: 0.25,
		},
		ProjectToGlobal: LevelCriteria{
			MinCount:            3,
			MinAcceptanceRate:   0.8,
			MaxModificationRate: 0.2,
			RequiresApproval:    true,
		},
	}
}

// Validate reports the first malformed field as a *pattern.ConfigError.
func (c Criteria) Validate() error {
	if c.Version == "" {
		return &pattern.ConfigError{Field: "graduation.version", Reason: "is required"}
	}
	for name, lc := range map[string]LevelCriteria{
		"observation_to_user": c.ObservationToUser,
		"user_to_project":     c.UserToProject,
		"project_to_global":   c.ProjectToGlobal,
	} {
		if err := lc.validate("graduation." + name); err != nil {
			return err
		}
	}
	return nil
}

func (lc LevelCriteria) validate(prefix string) error {
	switch {
	case lc.MinCount < 1:
		return &pattern.ConfigError{Field: prefix + ".min_count", Reason: "must be at least 1"}
	case !inUnit(lc.MinAcceptanceRate):
		return &pattern.ConfigError{Field: prefix + ".min_acceptance_rate", Reason: "must be within [0,1]"}
	case !inUnit(lc.MaxModificationRate):
		return &pattern.ConfigError{Field: prefix + ".max_modification_rate", Reason: "must be within [0,1]"}
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// rule is the criteria that apply when leaving a level.
type rule struct {
	criteria  LevelCriteria
	to        pattern.Level
	countName string
	count     func(Stats) int
}

// ruleFor returns the automatic graduation rule for level. ORG and
// CROSS_ORG have none.
func (c Criteria) ruleFor(level pattern.Level) (rule, bool) {
	switch level {
	case pattern.LevelObservation:
		return rule{c.ObservationToUser, pattern.LevelUser, "observations", func(s Stats) int { return s.TotalObservations }}, true
	case pattern.LevelUser:
		return rule{c.UserToProject, pattern.LevelProject, "unique users", func(s Stats) int { return s.UniqueUsers }}, true
	case pattern.LevelProject:
		return rule{c.ProjectToGlobal, pattern.LevelGlobal, "unique companies", func(s Stats) int { return s.UniqueCompanies }}, true
	}
	return rule{}, false
}

// unmet returns the first unmet criterion, or "" when all are met.
func (r rule) unmet(s Stats) string {
	if n := r.count(s); n < r.criteria.MinCount {
		return fmt.Sprintf("insufficient %s: %d < %d", r.countName, n, r.criteria.MinCount)
	}
	if s.AcceptanceRate < r.criteria.MinAcceptanceRate {
		return fmt.Sprintf("acceptance rate %.2f below minimum %.2f", s.AcceptanceRate, r.criteria.MinAcceptanceRate)
	}
	if s.ModificationRate > r.criteria.MaxModificationRate {
		return fmt.Sprintf("modification rate %.2f exceeds maximum %.2f", s.ModificationRate, r.criteria.MaxModificationRate)
	}
	return ""
}

// progress returns the mean of the per-criterion progress values, each
// capped at 1, and a description of every unmet criterion.
func (r rule) progress(s Stats) (float64, []string) {
	missing := []string{}

	count := r.count(s)
	countProgress := math.Min(1, float64(count)/float64(r.criteria.MinCount))
	if count < r.criteria.MinCount {
		missing = append(missing, fmt.Sprintf("need %d more %s (%d/%d)", r.criteria.MinCount-count, r.countName, count, r.criteria.MinCount))
	}

	acceptProgress := 1.0
	if r.criteria.MinAcceptanceRate > 0 {
		acceptProgress = math.Min(1, s.AcceptanceRate/r.criteria.MinAcceptanceRate)
	}
	if s.AcceptanceRate < r.criteria.MinAcceptanceRate {
		missing = append(missing, fmt.Sprintf("acceptance rate %.0f%% below required %.0f%%", s.AcceptanceRate*100, r.criteria.MinAcceptanceRate*100))
	}

	modProgress := 1.0
	if s.ModificationRate > r.criteria.MaxModificationRate {
		modProgress = r.criteria.MaxModificationRate / s.ModificationRate
		missing = append(missing, fmt.Sprintf("modification rate %.0f%% exceeds maximum %.0f%%", s.ModificationRate*100, r.criteria.MaxModificationRate*100))
	}

	return (countProgress + acceptProgress + modProgress) / 3, missing
}
