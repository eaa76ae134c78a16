package quality

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultDecayConfig(), pattern.FixedClock(testNow))
	require.NoError(t, err)
	return s
}

func scoreOf(v int) *int { return &v }

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

// TestScore_AllDefaults covers a pattern with no usage data at all.
func TestScore_AllDefaults(t *testing.T) {
	s := newTestScorer(t)
	p := pattern.Pattern{ID: "p1", Name: "Bare"}

	b := s.Breakdown(p)
	assert.Equal(t, 50.0, b.Usage)
	assert.Equal(t, 50.0, b.Acceptance)
	assert.Equal(t, 50.0, b.Consistency)
	assert.Equal(t, 50.0, b.Recency)
	assert.Equal(t, 50.0, b.Completeness)
	assert.Equal(t, 50, s.Score(p))
}

func TestScore_Maximum(t *testing.T) {
	s := newTestScorer(t)
	p := pattern.Pattern{
		ID:          "p1",
		Name:        "Incident Report",
		Description: "Structured incident write-up",
		Structure: &pattern.Structure{Sections: []pattern.Section{{
			Name:          "Timeline",
			FieldTypes:    []string{"text"},
			RequiredSteps: []string{"draft"},
		}}},
		ApplicabilityRules: []pattern.ApplicabilityRule{{Field: "input", Operator: "contains", Value: "incident", Weight: 1}},
		Confidence:         &pattern.Confidence{Base: 1, GroundingCount: 8, LastGrounded: testNow},
		Metadata:           pattern.Metadata{UsageCount: 150, SuccessRate: 1},
	}
	assert.Equal(t, 100, s.Score(p))
}

func TestUsageScore_Buckets(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 50}, {1, 20}, {4, 20}, {5, 40}, {19, 40}, {20, 60}, {49, 60}, {50, 80}, {99, 80}, {100, 100}, {5000, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, usageScore(tt.count), "count=%d", tt.count)
	}
}

func TestAcceptanceScore(t *testing.T) {
	assert.Equal(t, 50.0, acceptanceScore(pattern.Metadata{}))
	assert.Equal(t, 0.0, acceptanceScore(pattern.Metadata{UsageCount: 3}))
	assert.InDelta(t, 75.0, acceptanceScore(pattern.Metadata{UsageCount: 3, SuccessRate: 0.75}), 1e-9)
}

func TestConsistencyScore(t *testing.T) {
	assert.Equal(t, 50.0, consistencyScore(nil))
	assert.Equal(t, 30.0+25.0, consistencyScore(&pattern.Confidence{Base: 0.5, GroundingCount: 3}))
	assert.Equal(t, 50.0+0.0, consistencyScore(&pattern.Confidence{GroundingCount: 40}))
}

func TestRecencyScore_Buckets(t *testing.T) {
	s := newTestScorer(t)
	tests := []struct {
		days float64
		want float64
	}{
		{0, 100}, {7, 100}, {8, 80}, {30, 80}, {31, 60}, {90, 60}, {91, 40}, {180, 40}, {181, 20}, {365, 20}, {366, 10},
	}
	for _, tt := range tests {
		p := pattern.Pattern{ID: "p", Metadata: pattern.Metadata{UpdatedAt: daysAgo(tt.days)}}
		assert.Equal(t, tt.want, s.recencyScore(p), "days=%v", tt.days)
	}
}

// TestRecency_PrefersLastGrounded verifies the timestamp fallback order.
func TestRecency_PrefersLastGrounded(t *testing.T) {
	s := newTestScorer(t)
	p := pattern.Pattern{
		ID:         "p",
		Confidence: &pattern.Confidence{LastGrounded: daysAgo(2)},
		Metadata:   pattern.Metadata{UpdatedAt: daysAgo(200)},
	}
	assert.Equal(t, 100.0, s.recencyScore(p))

	p.Confidence.LastGrounded = time.Time{}
	assert.Equal(t, 20.0, s.recencyScore(p))
}

func TestCompletenessScore(t *testing.T) {
	assert.Equal(t, 50.0, completenessScore(pattern.Pattern{Name: "n", Description: "d"}))

	p := pattern.Pattern{
		Name:      "n",
		Structure: &pattern.Structure{Sections: []pattern.Section{{Name: "s"}}},
	}
	assert.Equal(t, 40.0, completenessScore(p))

	p.Structure.Sections[0].RequiredSteps = []string{"draft"}
	p.ApplicabilityRules = []pattern.ApplicabilityRule{{Field: "input"}}
	assert.Equal(t, 80.0, completenessScore(p))
}

// TestCalculateDecay_WorkedExample covers the half-life worked example.
func TestCalculateDecay_WorkedExample(t *testing.T) {
	s := newTestScorer(t)
	p := pattern.Pattern{
		ID:           "p1",
		QualityScore: scoreOf(80),
		Confidence:   &pattern.Confidence{Base: 1, LastGrounded: daysAgo(30)},
		Metadata:     pattern.Metadata{UsageCount: 10, SuccessRate: 0.8},
	}

	assert.InDelta(t, 24.0, s.CalculateDecay(p), 1e-9)

	decayed, outcome := s.ApplyDecay(p, 60)
	require.NotNil(t, decayed.QualityScore)
	assert.Equal(t, 56, *decayed.QualityScore)
	assert.Equal(t, 80, outcome.PreviousScore)
	assert.Equal(t, 56, outcome.NewScore)
	assert.True(t, outcome.CrossedThreshold)

	_, outcome = s.ApplyDecay(p, 50)
	assert.False(t, outcome.CrossedThreshold)

	// original untouched
	assert.Equal(t, 80, *p.QualityScore)
}

func TestCalculateDecay_NoTimestampOrFuture(t *testing.T) {
	s := newTestScorer(t)
	assert.Zero(t, s.CalculateDecay(pattern.Pattern{ID: "p", QualityScore: scoreOf(90)}))

	future := pattern.Pattern{ID: "p", QualityScore: scoreOf(90), Metadata: pattern.Metadata{UpdatedAt: testNow.Add(time.Hour)}}
	assert.Zero(t, s.CalculateDecay(future))
}

// TestCalculateDecay_Monotonic verifies decay never shrinks as idle time grows.
func TestCalculateDecay_Monotonic(t *testing.T) {
	s := newTestScorer(t)
	for _, rate := range []float64{0, 0.3, 0.8, 1} {
		prev := 0.0
		for days := 0; days <= 800; days += 5 {
			p := pattern.Pattern{
				ID:           "p",
				QualityScore: scoreOf(75),
				Metadata:     pattern.Metadata{UpdatedAt: daysAgo(float64(days)), SuccessRate: rate, UsageCount: 1},
			}
			amount := s.CalculateDecay(p)
			assert.GreaterOrEqual(t, amount, 0.0)
			assert.GreaterOrEqual(t, amount, prev, "rate=%v days=%d", rate, days)
			prev = amount
		}
	}
}

func TestApplyDecay_RespectsFloor(t *testing.T) {
	s := newTestScorer(t)
	p := pattern.Pattern{ID: "p", QualityScore: scoreOf(12), Metadata: pattern.Metadata{UpdatedAt: daysAgo(2000)}}
	decayed, outcome := s.ApplyDecay(p, 40)
	assert.Equal(t, 10, *decayed.QualityScore)
	assert.Equal(t, 10, outcome.NewScore)
	assert.False(t, outcome.CrossedThreshold)
}

// TestBoostOnUsage verifies reinforcement and confidence initialization.
func TestBoostOnUsage(t *testing.T) {
	s := newTestScorer(t)
	p := pattern.Pattern{ID: "p", QualityScore: scoreOf(98), Metadata: pattern.Metadata{UsageCount: 4}}

	boosted := s.BoostOnUsage(p)
	assert.Equal(t, 100, *boosted.QualityScore)
	assert.Equal(t, 5, boosted.Metadata.UsageCount)
	assert.Equal(t, testNow, boosted.Metadata.UpdatedAt)
	require.NotNil(t, boosted.Confidence)
	assert.Equal(t, 1.0, boosted.Confidence.Base)
	assert.Equal(t, 0.01, boosted.Confidence.DecayRate)
	assert.Equal(t, 1, boosted.Confidence.GroundingCount)
	assert.Equal(t, testNow, boosted.Confidence.LastGrounded)

	assert.Nil(t, p.Confidence)
	assert.Equal(t, 98, *p.QualityScore)

	again := s.BoostOnUsage(pattern.Pattern{ID: "q", QualityScore: scoreOf(40), Confidence: &pattern.Confidence{Base: 0.4, GroundingCount: 2}})
	assert.Equal(t, 45, *again.QualityScore)
	assert.Equal(t, 0.4, again.Confidence.Base)
	assert.Equal(t, 3, again.Confidence.GroundingCount)
}

// TestRunDecayJob verifies batch decay skips malformed patterns and continues.
func TestRunDecayJob(t *testing.T) {
	s := newTestScorer(t)
	patterns := []pattern.Pattern{
		{ID: "decays", QualityScore: scoreOf(80), Metadata: pattern.Metadata{UpdatedAt: daysAgo(30), SuccessRate: 0.8, UsageCount: 5}},
		{ID: "fresh", QualityScore: scoreOf(70)},
		{ID: "broken", QualityScore: scoreOf(70), Metadata: pattern.Metadata{SuccessRate: 2, UpdatedAt: daysAgo(10)}},
		{ID: "slow", QualityScore: scoreOf(90), Metadata: pattern.Metadata{UpdatedAt: daysAgo(1), SuccessRate: 1, UsageCount: 9}},
	}

	res := s.RunDecayJob(patterns, 60)
	assert.Equal(t, 3, res.ProcessedCount)
	assert.Equal(t, 2, res.DecayedCount)
	require.Len(t, res.DroppedBelowThreshold, 1)
	assert.Equal(t, "decays", res.DroppedBelowThreshold[0].PatternID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "broken", res.Skipped[0].PatternID)
	require.Len(t, res.Updated, 2)
	for _, u := range res.Updated {
		assert.GreaterOrEqual(t, *u.QualityScore, DefaultDecayConfig().MinScore)
		assert.LessOrEqual(t, *u.QualityScore, 100)
	}

	// inputs are not modified
	assert.Equal(t, 80, *patterns[0].QualityScore)
}

func TestDecayingPatterns(t *testing.T) {
	s := newTestScorer(t)
	patterns := []pattern.Pattern{
		{ID: "crossing", Name: "Crossing", QualityScore: scoreOf(80), Metadata: pattern.Metadata{UpdatedAt: daysAgo(30), SuccessRate: 0.8, UsageCount: 5}},
		{ID: "already-low", QualityScore: scoreOf(50), Metadata: pattern.Metadata{UpdatedAt: daysAgo(60)}},
		{ID: "stable", QualityScore: scoreOf(90), Metadata: pattern.Metadata{UpdatedAt: daysAgo(1)}},
	}

	got := s.DecayingPatterns(patterns, 60)
	require.Len(t, got, 1)
	assert.Equal(t, "crossing", got[0].PatternID)
	assert.Equal(t, "Crossing", got[0].PatternName)
	assert.Equal(t, 56, got[0].ProjectedScore)
	assert.InDelta(t, 30.0, got[0].DaysSinceLastUse, 1e-9)
}

func TestDecayConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultDecayConfig().Validate())

	bad := []func(*DecayConfig){
		func(c *DecayConfig) { c.HalfLifeDays = 0 },
		func(c *DecayConfig) { c.MinScore = -1 },
		func(c *DecayConfig) { c.UsageBoost = 101 },
		func(c *DecayConfig) { c.AcceptanceWeight = 1.5 },
		func(c *DecayConfig) { c.Threshold = 200 },
	}
	for i, mutate := range bad {
		cfg := DefaultDecayConfig()
		mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, pattern.ErrInvalidConfig))

		_, err = NewScorer(cfg, nil)
		assert.Error(t, err)
	}
}
