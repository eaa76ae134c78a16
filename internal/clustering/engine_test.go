package clustering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// jaccardSearcher ranks every stored observation (any company) by token
// overlap with the query.
type jaccardSearcher struct {
	store *registry.ObservationStore

	mu    sync.Mutex
	calls int
}

func (s *jaccardSearcher) FindSimilar(ctx context.Context, text, company string, limit int) ([]pattern.ScoredObservation, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	q := tokenSet(text)
	out := make([]pattern.ScoredObservation, 0, len(all))
	for _, o := range all {
		out = append(out, pattern.ScoredObservation{Observation: o, Score: jaccard(q, tokenSet(o.Text()))})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(text, 1) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

type failingSearcher struct{}

func (failingSearcher) FindSimilar(context.Context, string, string, int) ([]pattern.ScoredObservation, error) {
	return nil, errors.New("index offline")
}

type recordingSink struct {
	mu      sync.Mutex
	created []pattern.Pattern
	err     error
}

func (s *recordingSink) PatternCreated(ctx context.Context, p pattern.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, p)
	return s.err
}

type fixture struct {
	observations *registry.ObservationStore
	patterns     *registry.PatternStore
	searcher     *jaccardSearcher
	engine       *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	obs := registry.NewObservationStore()
	f := &fixture{
		observations: obs,
		patterns:     registry.NewPatternStore(),
		searcher:     &jaccardSearcher{store: obs},
	}
	opts = append([]Option{WithClock(pattern.FixedClock(baseTime)), WithLogger(zap.NewNop())}, opts...)
	e, err := NewEngine(DefaultConfig(), f.observations, f.searcher, f.patterns, opts...)
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) add(t *testing.T, id, company, patternID string, outcome pattern.Outcome, input string, offset int) {
	t.Helper()
	require.NoError(t, f.observations.Persist(context.Background(), pattern.Observation{
		ID:        id,
		SessionID: "s-" + id,
		Company:   company,
		Project:   "proj",
		User:      "user-" + id,
		PatternID: patternID,
		Outcome:   outcome,
		Input:     input,
		Timestamp: baseTime.Add(time.Duration(offset) * time.Minute),
		Source:    pattern.SourceLive,
	}))
}

// TestCheckAndCreatePatterns_ThreeAcceptedOrphans covers the basic
// orphan-to-pattern flow.
func TestCheckAndCreatePatterns_ThreeAcceptedOrphans(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	f := newFixture(t, WithSink(sink))

	f.add(t, "o1", "acme", "custom", pattern.OutcomeAccepted, "invoice approval workflow", 0)
	f.add(t, "o2", "acme", "feature", pattern.OutcomeAccepted, "invoice approval workflow", 1)
	f.add(t, "o3", "acme", "unknown", pattern.OutcomeAccepted, "invoice approval workflow", 2)

	clusters, err := f.engine.ClusterOrphanObservations(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Observations, 3)
	assert.Equal(t, 1.0, clusters[0].AcceptanceRate)
	assert.Equal(t, "acme", clusters[0].Company)

	res, err := f.engine.CheckAndCreatePatterns(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 3, res.Relinked)
	assert.Zero(t, res.SkippedRelinks)

	p := res.Created[0]
	assert.Equal(t, pattern.LevelObservation, p.Level)
	assert.Equal(t, "acme", p.Company)
	assert.Equal(t, "Approval Invoice Workflow Pattern", p.Name)
	assert.Equal(t, 3, p.Metadata.UsageCount)
	assert.Equal(t, 1.0, p.Metadata.SuccessRate)
	assert.Equal(t, baseTime, p.Metadata.CreatedAt)
	require.NotNil(t, p.Structure)
	require.Len(t, p.Structure.Sections, 1)
	assert.Equal(t, []string{"text", "reference"}, p.Structure.Sections[0].FieldTypes)
	assert.Equal(t, []string{"draft", "active", "completed"}, p.Structure.Sections[0].RequiredSteps)
	require.Len(t, p.ApplicabilityRules, 1)
	assert.Equal(t, "approval", p.ApplicabilityRules[0].Value)

	stored, err := f.patterns.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, stored.Name)

	linked, err := f.observations.GetByPattern(ctx, p.ID, "acme")
	require.NoError(t, err)
	assert.Len(t, linked, 3)
	for _, o := range linked {
		assert.Equal(t, p.Name, o.PatternName)
	}

	require.Len(t, sink.created, 1)
	assert.Equal(t, p.ID, sink.created[0].ID)

	// a second pass finds no orphans left
	again, err := f.engine.CheckAndCreatePatterns(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, again.Created)
}

// scopedSearcher filters by pattern attribution before applying the limit,
// the way the vector index does.
type scopedSearcher struct {
	*jaccardSearcher
	scopedCalls int
}

func (s *scopedSearcher) FindSimilarIn(ctx context.Context, text, company string, patternIDs []string, limit int) ([]pattern.ScoredObservation, error) {
	s.scopedCalls++
	hits, err := s.jaccardSearcher.FindSimilar(ctx, text, company, 1<<20)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(patternIDs))
	for _, id := range patternIDs {
		allowed[id] = true
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Observation.Company == company && allowed[h.Observation.PatternID] {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func addLookalikes(t *testing.T, f *fixture) {
	t.Helper()
	for i := 0; i < 60; i++ {
		f.add(t, fmt.Sprintf("real-%02d", i), "acme", "real-pattern", pattern.OutcomeAccepted, "invoice approval workflow", i)
	}
	for i := 0; i < 3; i++ {
		f.add(t, fmt.Sprintf("orphan-%d", i), "acme", "custom", pattern.OutcomeAccepted, "invoice approval workflow", 100+i)
	}
}

// attributedFirstSearcher breaks score ties in favour of attributed
// observations, the worst case for an unscoped search window.
type attributedFirstSearcher struct {
	*jaccardSearcher
	limits []int
}

func (s *attributedFirstSearcher) FindSimilar(ctx context.Context, text, company string, limit int) ([]pattern.ScoredObservation, error) {
	s.limits = append(s.limits, limit)
	hits, err := s.jaccardSearcher.FindSimilar(ctx, text, company, 1<<20)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Observation.PatternID != "custom" && hits[j].Observation.PatternID == "custom"
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Attributed observations identical to the orphans must not push them out
// of the search window.
func TestCluster_OrphansOutnumberedByAttributedLookalikes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addLookalikes(t, f)

	searcher := &attributedFirstSearcher{jaccardSearcher: f.searcher}
	e, err := NewEngine(DefaultConfig(), f.observations, searcher, f.patterns,
		WithClock(pattern.FixedClock(baseTime)), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	clusters, err := e.ClusterOrphanObservations(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	ids := make([]string, 0, len(clusters[0].Observations))
	for _, o := range clusters[0].Observations {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"orphan-0", "orphan-1", "orphan-2"}, ids)
	assert.Equal(t, []int{50, 100}, searcher.limits)
}

func TestCluster_ScopedSearcher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addLookalikes(t, f)

	scoped := &scopedSearcher{jaccardSearcher: f.searcher}
	e, err := NewEngine(DefaultConfig(), f.observations, scoped, f.patterns,
		WithClock(pattern.FixedClock(baseTime)), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	res, err := e.CheckAndCreatePatterns(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 3, res.Relinked)
	assert.Equal(t, 1, scoped.scopedCalls)

	attributed, err := f.observations.GetByPattern(ctx, "real-pattern", "acme")
	require.NoError(t, err)
	assert.Len(t, attributed, 60)
}

func TestCluster_TooFewOrphans(t *testing.T) {
	f := newFixture(t)
	f.add(t, "o1", "acme", "custom", pattern.OutcomeAccepted, "invoice approval", 0)
	f.add(t, "o2", "acme", "custom", pattern.OutcomeAccepted, "invoice approval", 1)

	clusters, err := f.engine.ClusterOrphanObservations(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, clusters)
	assert.Zero(t, f.searcher.calls)
}

func TestCluster_LowAcceptanceRejected(t *testing.T) {
	f := newFixture(t)
	f.add(t, "o1", "acme", "custom", pattern.OutcomeAccepted, "deploy checklist", 0)
	f.add(t, "o2", "acme", "custom", pattern.OutcomeRejected, "deploy checklist", 1)
	f.add(t, "o3", "acme", "custom", pattern.OutcomeModified, "deploy checklist", 2)

	clusters, err := f.engine.ClusterOrphanObservations(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

// TestCluster_Invariants verifies cluster size, acceptance and disjointness.
func TestCluster_Invariants(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.add(t, fmt.Sprintf("inv-%d", i), "acme", "custom", pattern.OutcomeAccepted, "invoice approval workflow", i)
	}
	for i := 0; i < 3; i++ {
		outcome := pattern.OutcomeAccepted
		if i == 2 {
			outcome = pattern.OutcomeModified
		}
		f.add(t, fmt.Sprintf("onb-%d", i), "acme", "generic", outcome, "employee onboarding plan", 10+i)
	}
	f.add(t, "lonely", "acme", "other", pattern.OutcomeAccepted, "database migration runbook", 20)
	// similar text in another company and an already attributed observation
	f.add(t, "globex-1", "globex", "custom", pattern.OutcomeAccepted, "invoice approval workflow", 30)
	f.add(t, "real-1", "acme", "p-real", pattern.OutcomeAccepted, "invoice approval workflow", 31)

	clusters, err := f.engine.ClusterOrphanObservations(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	seen := make(map[string]bool)
	cfg := DefaultConfig()
	for _, c := range clusters {
		assert.GreaterOrEqual(t, len(c.Observations), cfg.MinObservations)
		assert.GreaterOrEqual(t, c.AcceptanceRate, cfg.MinAcceptanceRate)
		for _, o := range c.Observations {
			assert.False(t, seen[o.ID], "observation %s in two clusters", o.ID)
			seen[o.ID] = true
			assert.Equal(t, "acme", o.Company)
			assert.True(t, f.engine.IsOrphan(o.PatternID))
		}
	}
	assert.Len(t, clusters[0].Observations, 4)
	assert.InDelta(t, 2.0/3.0, clusters[1].AcceptanceRate, 1e-9)
	assert.Equal(t, "Employee Onboarding Plan Pattern", clusters[1].SuggestedPatternName)
	assert.False(t, seen["lonely"])
	assert.False(t, seen["globex-1"])
	assert.False(t, seen["real-1"])
}

// TestCluster_Deterministic verifies repeated passes give the same clusters.
func TestCluster_Deterministic(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 6; i++ {
		f.add(t, fmt.Sprintf("o%d", i), "acme", "custom", pattern.OutcomeAccepted, "weekly status report", i)
	}

	first, err := f.engine.ClusterOrphanObservations(context.Background(), "acme")
	require.NoError(t, err)
	second, err := f.engine.ClusterOrphanObservations(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 1)
	assert.Equal(t, "o0", first[0].Observations[0].ID)
}

func TestCluster_SearchError(t *testing.T) {
	obs := registry.NewObservationStore()
	e, err := NewEngine(DefaultConfig(), obs, failingSearcher{}, registry.NewPatternStore())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, obs.Persist(context.Background(), pattern.Observation{
			ID: fmt.Sprintf("o%d", i), Company: "acme", PatternID: "custom", Outcome: pattern.OutcomeAccepted,
		}))
	}

	_, err = e.CheckAndCreatePatterns(context.Background(), "acme")
	assert.ErrorContains(t, err, "index offline")
}

// relinkRaceStore reports one observation as already attributed when read
// back during relinking.
type relinkRaceStore struct {
	*registry.ObservationStore
	movedID string
}

func (s *relinkRaceStore) Get(ctx context.Context, id string) (*pattern.Observation, error) {
	o, err := s.ObservationStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == s.movedID {
		o.PatternID = "p-elsewhere"
	}
	return o, nil
}

func TestCheckAndCreatePatterns_SkipsReattributed(t *testing.T) {
	ctx := context.Background()
	base := registry.NewObservationStore()
	store := &relinkRaceStore{ObservationStore: base, movedID: "o2"}
	e, err := NewEngine(DefaultConfig(), store, &jaccardSearcher{store: base}, registry.NewPatternStore())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, base.Persist(ctx, pattern.Observation{
			ID: fmt.Sprintf("o%d", i), Company: "acme", PatternID: "custom",
			Outcome: pattern.OutcomeAccepted, Input: "expense report", Timestamp: baseTime,
		}))
	}

	res, err := e.CheckAndCreatePatterns(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 2, res.Relinked)
	assert.Equal(t, 1, res.SkippedRelinks)

	o2, err := base.Get(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, "custom", o2.PatternID)
}

func TestCheckAndCreatePatterns_SinkErrorIgnored(t *testing.T) {
	sink := &recordingSink{err: errors.New("audit down")}
	f := newFixture(t, WithSink(sink))
	for i := 0; i < 3; i++ {
		f.add(t, fmt.Sprintf("o%d", i), "acme", "custom", pattern.OutcomeAccepted, "expense report", i)
	}

	res, err := f.engine.CheckAndCreatePatterns(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
	assert.Len(t, sink.created, 1)
}

// TestCheckAndCreatePatterns_Concurrent verifies concurrent passes never
// claim an observation twice.
func TestCheckAndCreatePatterns_Concurrent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.add(t, fmt.Sprintf("o%d", i), "acme", "custom", pattern.OutcomeAccepted, "sprint retro notes", i)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.CheckAndCreatePatterns(context.Background(), "acme")
			assert.NoError(t, err)
			mu.Lock()
			created += len(res.Created)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.patterns.Len())
}

func TestCheckAllCompanies(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.add(t, fmt.Sprintf("a%d", i), "acme", "custom", pattern.OutcomeAccepted, "expense report", i)
		f.add(t, fmt.Sprintf("g%d", i), "globex", "custom", pattern.OutcomeAccepted, "vendor contract review", i)
	}

	results, err := f.engine.CheckAllCompanies(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "acme", results[0].Company)
	assert.Len(t, results[0].Created, 1)
	assert.Equal(t, "globex", results[1].Company)
	assert.Len(t, results[1].Created, 1)
}

func TestCreatePatternFromCluster_Empty(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreatePatternFromCluster(pattern.ObservationCluster{Company: "acme"})
	assert.ErrorIs(t, err, pattern.ErrEmptyCluster)
}

func TestSuggestName(t *testing.T) {
	obs := []pattern.Observation{
		{Input: "Quarterly budget review", Feedback: "budget numbers looked right"},
		{Input: "budget review for Q3"},
		{Input: "an it of"},
	}
	assert.Equal(t, "Budget Review Looked Pattern", SuggestName(obs))
	assert.Equal(t, "Learned Pattern", SuggestName([]pattern.Observation{{Input: "a an it"}}))
}

func TestTopKeyword(t *testing.T) {
	obs := []pattern.Observation{
		{Input: "ship the release notes"},
		{Input: "release checklist"},
		{Input: "the end"},
	}
	assert.Equal(t, "release", TopKeyword(obs))
	assert.Equal(t, "learned", TopKeyword([]pattern.Observation{{Input: "a b c"}}))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.FallbackPatternIDs = nil },
		func(c *Config) { c.FallbackPatternIDs = []string{""} },
		func(c *Config) { c.FallbackPatternIDs = []string{"custom", "other", "custom"} },
		func(c *Config) { c.MinObservations = 1 },
		func(c *Config) { c.SimilarityThreshold = 0 },
		func(c *Config) { c.MinAcceptanceRate = 1.2 },
		func(c *Config) { c.SearchLimit = 2 },
		func(c *Config) { c.SearchRate = -1 },
		func(c *Config) { c.SearchBurst = 0 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), pattern.ErrInvalidConfig, "case %d", i)
	}

	_, err := NewEngine(DefaultConfig(), nil, failingSearcher{}, registry.NewPatternStore())
	assert.Error(t, err)
}
