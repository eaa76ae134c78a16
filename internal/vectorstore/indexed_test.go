package vectorstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/embeddings"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
	"github.com/fyrsmithlabs/patternd/internal/vectorstore"
)

var ts = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func observation(id, company, input string) pattern.Observation {
	return pattern.Observation{
		ID:        id,
		Company:   company,
		PatternID: "custom",
		Outcome:   pattern.OutcomeAccepted,
		Input:     input,
		Timestamp: ts,
	}
}

func newIndexed(t *testing.T) (*vectorstore.IndexedObservationStore, *registry.ObservationStore, *vectorstore.ChromemIndex) {
	t.Helper()
	base := registry.NewObservationStore()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{}, embeddings.NewHashingEmbedder(128), zap.NewNop())
	require.NoError(t, err)
	return vectorstore.NewIndexedObservationStore(base, idx, zap.NewNop()), base, idx
}

func TestIndexedObservationStore_FindSimilar(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newIndexed(t)

	require.NoError(t, store.Persist(ctx, observation("o1", "acme", "approve invoice workflow")))
	require.NoError(t, store.Persist(ctx, observation("o2", "acme", "approve invoice workflow quickly")))
	require.NoError(t, store.Persist(ctx, observation("o3", "acme", "")))
	require.NoError(t, store.Persist(ctx, observation("o4", "globex", "approve invoice workflow")))

	got, err := store.FindSimilar(ctx, "approve invoice workflow", "acme", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o1", got[0].Observation.ID)
	assert.Equal(t, "acme", got[0].Observation.Company)
	assert.Equal(t, pattern.OutcomeAccepted, got[0].Observation.Outcome, "hits are hydrated from the base store")
	assert.Greater(t, got[0].Score, got[1].Score)

	o, err := store.Get(ctx, "o3")
	require.NoError(t, err)
	assert.Equal(t, "o3", o.ID, "observations without text are stored but not indexed")
}

func TestIndexedObservationStore_Delegates(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newIndexed(t)
	require.NoError(t, store.Persist(ctx, observation("o1", "acme", "contract renewal")))

	require.NoError(t, store.Relink(ctx, "o1", "p1", "Renewal Pattern"))
	byPattern, err := store.GetByPattern(ctx, "p1", "acme")
	require.NoError(t, err)
	require.Len(t, byPattern, 1)
	assert.Equal(t, "Renewal Pattern", byPattern[0].PatternName)

	orphans, err := store.GetByPatterns(ctx, []string{"custom"}, "acme")
	require.NoError(t, err)
	assert.Empty(t, orphans)

	companies, err := store.Companies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, companies)

	err = store.Persist(ctx, pattern.Observation{ID: "bad"})
	assert.ErrorIs(t, err, pattern.ErrInvalidObservation)
}

func TestIndexedObservationStore_PrunesStaleEntries(t *testing.T) {
	ctx := context.Background()
	store, _, idx := newIndexed(t)

	require.NoError(t, store.Persist(ctx, observation("o1", "acme", "travel expense report")))
	require.NoError(t, idx.Upsert(ctx, []vectorstore.Entry{{ObservationID: "ghost", Company: "acme", Text: "travel expense report"}}))
	require.Equal(t, 2, idx.Count("acme"))

	got, err := store.FindSimilar(ctx, "travel expense report", "acme", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].Observation.ID)
	assert.Equal(t, 1, idx.Count("acme"))
}

func TestIndexedObservationStore_Reindex(t *testing.T) {
	ctx := context.Background()
	store, base, idx := newIndexed(t)

	for _, o := range []pattern.Observation{
		observation("o1", "acme", "security incident triage"),
		observation("o2", "acme", "security incident postmortem"),
		observation("o3", "globex", "security incident triage"),
	} {
		require.NoError(t, base.Persist(ctx, o))
	}
	assert.Equal(t, 0, idx.Count("acme"))

	n, err := store.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, idx.Count("acme"))
	assert.Equal(t, 1, idx.Count("globex"))

	got, err := store.FindSimilar(ctx, "security incident triage", "acme", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "o1", got[0].Observation.ID)
}

func TestIndexedObservationStore_FindSimilarIn(t *testing.T) {
	ctx := context.Background()
	store, _, idx := newIndexed(t)

	for i := 0; i < 60; i++ {
		o := observation(fmt.Sprintf("real-%02d", i), "acme", "invoice approval workflow")
		o.PatternID = "real-pattern"
		require.NoError(t, store.Persist(ctx, o))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Persist(ctx, observation(fmt.Sprintf("orphan-%d", i), "acme", "invoice approval workflow")))
	}
	require.NoError(t, store.Persist(ctx, observation("g1", "globex", "invoice approval workflow")))

	all, err := store.FindSimilar(ctx, "invoice approval workflow", "acme", 50)
	require.NoError(t, err)
	assert.Len(t, all, 50)

	orphans, err := store.FindSimilarIn(ctx, "invoice approval workflow", "acme", []string{"custom", "feature"}, 50)
	require.NoError(t, err)
	require.Len(t, orphans, 3)
	for _, o := range orphans {
		assert.Equal(t, "custom", o.Observation.PatternID)
		assert.Equal(t, "acme", o.Observation.Company)
	}

	none, err := store.FindSimilarIn(ctx, "invoice approval workflow", "acme", nil, 50)
	require.NoError(t, err)
	assert.Empty(t, none)

	// relinking moves the observation between scopes in the index too
	require.NoError(t, store.Relink(ctx, "orphan-0", "p1", "Invoice Pattern"))
	orphans, err = store.FindSimilarIn(ctx, "invoice approval workflow", "acme", []string{"custom"}, 50)
	require.NoError(t, err)
	assert.Len(t, orphans, 2)

	matches, err := idx.Search(ctx, "acme", "invoice approval workflow", 50, []string{"p1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "orphan-0", matches[0].ObservationID)
	assert.Equal(t, 63, idx.Count("acme"), "relink replaces the entry rather than adding one")
}

type failingIndex struct{ vectorstore.Index }

func (failingIndex) Upsert(context.Context, []vectorstore.Entry) error {
	return errors.New("index offline")
}

func (failingIndex) Search(context.Context, string, string, int, []string) ([]vectorstore.Match, error) {
	return nil, errors.New("index offline")
}

type opaqueStore struct{ pattern.ObservationStore }

func TestIndexedObservationStore_IndexFailures(t *testing.T) {
	ctx := context.Background()
	base := registry.NewObservationStore()
	store := vectorstore.NewIndexedObservationStore(base, failingIndex{}, nil)

	require.NoError(t, store.Persist(ctx, observation("o1", "acme", "text")), "index errors do not fail the write")
	_, err := base.Get(ctx, "o1")
	require.NoError(t, err)

	_, err = store.FindSimilar(ctx, "text", "acme", 5)
	assert.ErrorContains(t, err, "index offline")

	require.NoError(t, store.Relink(ctx, "o1", "p1", "Pattern"), "index errors do not fail a relink")
	linked, err := base.GetByPattern(ctx, "p1", "acme")
	require.NoError(t, err)
	assert.Len(t, linked, 1)

	assert.ErrorIs(t, store.Relink(ctx, "ghost", "p1", "Pattern"), pattern.ErrObservationNotFound)

	_, err = vectorstore.NewIndexedObservationStore(opaqueStore{base}, failingIndex{}, nil).Reindex(ctx)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
