package quality

import (
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Scorer computes quality scores and applies decay and boosts.
//
// All methods are pure: they take pattern values and return new values
// without touching any store.
type Scorer struct {
	cfg   DecayConfig
	clock pattern.Clock
}

// NewScorer creates a Scorer. A nil clock uses the wall clock.
func NewScorer(cfg DecayConfig, clock pattern.Clock) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = pattern.SystemClock{}
	}
	return &Scorer{cfg: cfg, clock: clock}, nil
}

// Config returns the decay configuration.
func (s *Scorer) Config() DecayConfig { return s.cfg }

// Breakdown holds the individual factor scores behind a quality score.
type Breakdown struct {
	Usage        float64 `json:"usage"`
	Acceptance   float64 `json:"acceptance"`
	Consistency  float64 `json:"consistency"`
	Recency      float64 `json:"recency"`
	Completeness float64 `json:"completeness"`
	Total        int     `json:"total"`
}

// Score returns the weighted 0-100 quality score of p.
func (s *Scorer) Score(p pattern.Pattern) int {
	return s.Breakdown(p).Total
}

// Breakdown returns each factor along with the combined score.
func (s *Scorer) Breakdown(p pattern.Pattern) Breakdown {
	b := Breakdown{
		Usage:        usageScore(p.Metadata.UsageCount),
		Acceptance:   acceptanceScore(p.Metadata),
		Consistency:  consistencyScore(p.Confidence),
		Recency:      s.recencyScore(p),
		Completeness: completenessScore(p),
	}
	total := b.Usage*WeightUsage +
		b.Acceptance*WeightAcceptance +
		b.Consistency*WeightConsistency +
		b.Recency*WeightRecency +
		b.Completeness*WeightCompleteness
	b.Total = clampScore(int(math.Round(total)))
	return b
}

// CurrentScore returns the cached score, computing it when absent.
func (s *Scorer) CurrentScore(p pattern.Pattern) int {
	if p.QualityScore != nil {
		return clampScore(*p.QualityScore)
	}
	return s.Score(p)
}

func usageScore(count int) float64 {
	switch {
	case count <= 0:
		return neutralScore
	case count < 5:
		return 20
	case count < 20:
		return 40
	case count < 50:
		return 60
	case count < 100:
		return 80
	default:
		return 100
	}
}

func acceptanceScore(m pattern.Metadata) float64 {
	if m.SuccessRate == 0 && m.UsageCount == 0 {
		return neutralScore
	}
	return clampRate(m.SuccessRate) * 100
}

func consistencyScore(c *pattern.Confidence) float64 {
	if c == nil {
		return neutralScore
	}
	grounding := math.Min(float64(c.GroundingCount)*10, 50)
	return grounding + clampRate(c.Base)*50
}

func (s *Scorer) recencyScore(p pattern.Pattern) float64 {
	days, ok := s.daysSinceLastUse(p)
	if !ok {
		return neutralScore
	}
	switch {
	case days <= 7:
		return 100
	case days <= 30:
		return 80
	case days <= 90:
		return 60
	case days <= 180:
		return 40
	case days <= 365:
		return 20
	default:
		return 10
	}
}

// completenessScore awards 20 points per filled-in part. A pattern with
// neither a structure nor applicability rules has nothing to assess and
// scores neutral.
func completenessScore(p pattern.Pattern) float64 {
	if p.Structure == nil && len(p.ApplicabilityRules) == 0 {
		return neutralScore
	}
	score := 0.0
	if p.Name != "" {
		score += 20
	}
	if p.Description != "" {
		score += 20
	}
	if p.Structure != nil && len(p.Structure.Sections) > 0 {
		score += 20
	}
	if len(p.ApplicabilityRules) > 0 {
		score += 20
	}
	if p.Structure != nil && p.Structure.HasWorkflowStep() {
		score += 20
	}
	return score
}

// daysSinceLastUse uses confidence.LastGrounded, falling back to
// metadata.UpdatedAt. ok is false when neither is set.
func (s *Scorer) daysSinceLastUse(p pattern.Pattern) (float64, bool) {
	var last time.Time
	if p.Confidence != nil && !p.Confidence.LastGrounded.IsZero() {
		last = p.Confidence.LastGrounded
	} else if !p.Metadata.UpdatedAt.IsZero() {
		last = p.Metadata.UpdatedAt
	} else {
		return 0, false
	}
	return s.clock.Now().Sub(last).Hours() / 24, true
}

// CalculateDecay returns the non-negative amount the score would drop by if
// decay were applied now.
func (s *Scorer) CalculateDecay(p pattern.Pattern) float64 {
	days, ok := s.daysSinceLastUse(p)
	if !ok || days <= 0 {
		return 0
	}
	return decayAmount(float64(s.CurrentScore(p)), days, s.cfg.HalfLifeDays, clampRate(p.Metadata.SuccessRate), s.cfg.AcceptanceWeight)
}

func decayAmount(current, days, halfLife, successRate, acceptanceWeight float64) float64 {
	decayFactor := 1 - math.Pow(0.5, days/halfLife)
	acceptanceModifier := 1 - successRate*acceptanceWeight
	amount := current * decayFactor * acceptanceModifier
	if amount < 0 || math.IsNaN(amount) {
		return 0
	}
	return amount
}

// DecayOutcome describes one decay application.
type DecayOutcome struct {
	PatternID        string  `json:"pattern_id"`
	PreviousScore    int     `json:"previous_score"`
	NewScore         int     `json:"new_score"`
	Amount           float64 `json:"amount"`
	CrossedThreshold bool    `json:"crossed_threshold"`
}

// ApplyDecay returns a copy of p with decay applied. CrossedThreshold is set
// exactly when the score moved from at-or-above threshold to below it.
func (s *Scorer) ApplyDecay(p pattern.Pattern, threshold int) (pattern.Pattern, DecayOutcome) {
	current := s.CurrentScore(p)
	amount := s.CalculateDecay(p)
	next := int(math.Round(float64(current) - amount))
	if next < s.cfg.MinScore {
		next = s.cfg.MinScore
	}
	next = clampScore(next)

	out := p.Clone()
	out.QualityScore = &next
	return out, DecayOutcome{
		PatternID:        p.ID,
		PreviousScore:    current,
		NewScore:         next,
		Amount:           amount,
		CrossedThreshold: current >= threshold && next < threshold,
	}
}

// BoostOnUsage returns a copy of p reinforced by one use.
func (s *Scorer) BoostOnUsage(p pattern.Pattern) pattern.Pattern {
	now := s.clock.Now()
	next := s.CurrentScore(p) + s.cfg.UsageBoost
	if next > 100 {
		next = 100
	}

	out := p.Clone()
	out.QualityScore = &next
	out.Metadata.UsageCount++
	out.Metadata.UpdatedAt = now
	if out.Confidence == nil {
		out.Confidence = &pattern.Confidence{Base: 1.0, DecayRate: 0.01}
	}
	out.Confidence.LastGrounded = now
	out.Confidence.GroundingCount++
	return out
}

// SkippedPattern is a pattern a sweep could not process.
type SkippedPattern struct {
	PatternID string `json:"pattern_id"`
	Reason    string `json:"reason"`
}

// DecayJobResult summarizes a batch decay run.
type DecayJobResult struct {
	ProcessedCount        int              `json:"processed_count"`
	DecayedCount          int              `json:"decayed_count"`
	DroppedBelowThreshold []DecayOutcome   `json:"dropped_below_threshold"`
	Skipped               []SkippedPattern `json:"skipped,omitempty"`

	// Updated holds the decayed copies for the caller to persist.
	Updated []pattern.Pattern `json:"-"`
}

// RunDecayJob applies decay to every pattern with a non-zero decay amount.
// Malformed patterns are reported in Skipped and never abort the batch.
func (s *Scorer) RunDecayJob(patterns []pattern.Pattern, threshold int) DecayJobResult {
	res := DecayJobResult{DroppedBelowThreshold: []DecayOutcome{}}
	for _, p := range patterns {
		updated, outcome, decayed, err := s.decayOne(p, threshold)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedPattern{PatternID: p.ID, Reason: err.Error()})
			continue
		}
		res.ProcessedCount++
		if !decayed {
			continue
		}
		res.DecayedCount++
		res.Updated = append(res.Updated, updated)
		if outcome.CrossedThreshold {
			res.DroppedBelowThreshold = append(res.DroppedBelowThreshold, outcome)
		}
	}
	return res
}

// decayOne validates p and applies decay when the amount is non-zero.
func (s *Scorer) decayOne(p pattern.Pattern, threshold int) (updated pattern.Pattern, outcome DecayOutcome, decayed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", pattern.ErrInvalidPattern, r)
		}
	}()
	if err := p.Validate(); err != nil {
		return pattern.Pattern{}, DecayOutcome{}, false, err
	}
	if s.CalculateDecay(p) == 0 {
		return p, DecayOutcome{PatternID: p.ID}, false, nil
	}
	updated, outcome = s.ApplyDecay(p, threshold)
	return updated, outcome, true, nil
}

// DecayPreview projects decay for one pattern without changing it.
type DecayPreview struct {
	PatternID        string  `json:"pattern_id"`
	PatternName      string  `json:"pattern_name"`
	CurrentScore     int     `json:"current_score"`
	ProjectedScore   int     `json:"projected_score"`
	DecayAmount      float64 `json:"decay_amount"`
	DaysSinceLastUse float64 `json:"days_since_last_use"`
	WillCross        bool    `json:"will_cross_threshold"`
}

// DecayPreview projects what ApplyDecay would do to p.
func (s *Scorer) DecayPreview(p pattern.Pattern, threshold int) DecayPreview {
	_, outcome := s.ApplyDecay(p, threshold)
	days, _ := s.daysSinceLastUse(p)
	return DecayPreview{
		PatternID:        p.ID,
		PatternName:      p.Name,
		CurrentScore:     outcome.PreviousScore,
		ProjectedScore:   outcome.NewScore,
		DecayAmount:      outcome.Amount,
		DaysSinceLastUse: days,
		WillCross:        outcome.CrossedThreshold,
	}
}

// DecayingPatterns returns previews for patterns currently at or above
// threshold whose projected score falls below it, lowest projection first.
// Malformed patterns are ignored.
func (s *Scorer) DecayingPatterns(patterns []pattern.Pattern, threshold int) []DecayPreview {
	out := []DecayPreview{}
	for _, p := range patterns {
		if p.Validate() != nil {
			continue
		}
		if s.CalculateDecay(p) == 0 {
			continue
		}
		preview := s.DecayPreview(p, threshold)
		if preview.WillCross {
			out = append(out, preview)
		}
	}
	sortPreviews(out)
	return out
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampRate(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
