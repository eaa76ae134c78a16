package quality

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
)

func newTestService(t *testing.T) (*Service, *registry.PatternStore) {
	t.Helper()
	store := registry.NewPatternStore()
	svc, err := NewService(newTestScorer(t), store, zap.NewNop(), WithLocker(registry.NewLocker()))
	require.NoError(t, err)
	return svc, store
}

// TestNewService tests service creation.
func TestNewService(t *testing.T) {
	_, err := NewService(nil, registry.NewPatternStore(), nil)
	assert.Error(t, err)

	_, err = NewService(newTestScorer(t), nil, nil)
	assert.Error(t, err)

	svc, err := NewService(newTestScorer(t), registry.NewPatternStore(), nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.Scorer())
}

// TestService_ScorePatternCaches verifies the lazily computed score is stored.
func TestService_ScorePatternCaches(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "p1", Name: "Bare"}))

	score, err := svc.ScorePattern(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 50, score)

	stored, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored.QualityScore)
	assert.Equal(t, 50, *stored.QualityScore)

	_, err = svc.ScorePattern(ctx, "missing")
	assert.True(t, errors.Is(err, pattern.ErrPatternNotFound))
}

func TestService_Breakdown(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "p1"}))

	b, err := svc.Breakdown(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 50, b.Total)
}

// TestService_BoostUsageConcurrent verifies boosts on one pattern are serialized.
func TestService_BoostUsageConcurrent(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "p1", QualityScore: scoreOf(10)}))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.BoostUsage(ctx, "p1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Metadata.UsageCount)
	assert.Equal(t, 40, got.Confidence.GroundingCount)
	assert.Equal(t, 100, *got.QualityScore)
}

func TestService_ApplyDecay(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	require.NoError(t, store.Put(ctx, pattern.Pattern{
		ID:           "p1",
		QualityScore: scoreOf(80),
		Metadata:     pattern.Metadata{UpdatedAt: daysAgo(30), SuccessRate: 0.8, UsageCount: 3},
	}))
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "idle", QualityScore: scoreOf(70)}))

	outcome, err := svc.ApplyDecay(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 56, outcome.NewScore)
	assert.False(t, outcome.CrossedThreshold) // default threshold is 40

	stored, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 56, *stored.QualityScore)

	outcome, err = svc.ApplyDecay(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, 70, outcome.PreviousScore)
	assert.Equal(t, 70, outcome.NewScore)
}

// TestService_RunDecaySweep verifies the sweep persists decays and skips bad records.
func TestService_RunDecaySweep(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	require.NoError(t, store.Put(ctx, pattern.Pattern{
		ID:           "crossing",
		QualityScore: scoreOf(45),
		Metadata:     pattern.Metadata{UpdatedAt: daysAgo(60)},
	}))
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "unused", QualityScore: scoreOf(70)}))
	require.NoError(t, store.Put(ctx, pattern.Pattern{
		ID:           "malformed",
		QualityScore: scoreOf(70),
		Metadata:     pattern.Metadata{SuccessRate: -1, UpdatedAt: daysAgo(10)},
	}))

	res, err := svc.RunDecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.DecayedCount)
	require.Len(t, res.DroppedBelowThreshold, 1)
	assert.Equal(t, "crossing", res.DroppedBelowThreshold[0].PatternID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "malformed", res.Skipped[0].PatternID)

	stored, err := store.Get(ctx, "crossing")
	require.NoError(t, err)
	// 45 - 45*0.75 = 11.25 -> 11
	assert.Equal(t, 11, *stored.QualityScore)

	untouched, err := store.Get(ctx, "malformed")
	require.NoError(t, err)
	assert.Equal(t, 70, *untouched.QualityScore)
}

// skippingRegistry reports one record its listing could not decode.
type skippingRegistry struct {
	*registry.PatternStore
}

func (r skippingRegistry) AllWithSkipped(ctx context.Context) ([]pattern.Pattern, []pattern.SkippedRecord, error) {
	all, err := r.All(ctx)
	return all, []pattern.SkippedRecord{{ID: "corrupt", Reason: "decoding structure of corrupt: unexpected end of JSON input"}}, err
}

func TestService_RunDecaySweep_ReportsUndecodable(t *testing.T) {
	ctx := context.Background()
	store := registry.NewPatternStore()
	svc, err := NewService(newTestScorer(t), skippingRegistry{store}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "ok", QualityScore: scoreOf(70)}))

	res, err := svc.RunDecaySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "corrupt", res.Skipped[0].PatternID)
	assert.Contains(t, res.Skipped[0].Reason, "decoding structure")
}

func TestService_DecayViews(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	require.NoError(t, store.Put(ctx, pattern.Pattern{
		ID:           "crossing",
		QualityScore: scoreOf(45),
		Metadata:     pattern.Metadata{UpdatedAt: daysAgo(60)},
	}))
	require.NoError(t, store.Put(ctx, pattern.Pattern{ID: "unused", QualityScore: scoreOf(70)}))

	preview, err := svc.DecayPreview(ctx, "crossing")
	require.NoError(t, err)
	assert.Equal(t, 11, preview.ProjectedScore)
	assert.True(t, preview.WillCross)

	decaying, err := svc.DecayingPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, decaying, 1)
	assert.Equal(t, "crossing", decaying[0].PatternID)

	// previews never persist
	stored, err := store.Get(ctx, "crossing")
	require.NoError(t, err)
	assert.Equal(t, 45, *stored.QualityScore)
}
