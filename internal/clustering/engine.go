package clustering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
)

var tracer = otel.Tracer("patternd.clustering")

// Engine clusters orphan observations and creates patterns from them.
//
// A clustering pass for one company holds that company's lock from the
// orphan fetch through relinking, so two passes never claim the same
// observation.
type Engine struct {
	cfg          Config
	observations pattern.ObservationStore
	searcher     pattern.SimilaritySearcher
	patterns     pattern.PatternRegistry
	sink         pattern.PatternCreatedSink
	clock        pattern.Clock
	companyLocks pattern.KeyLocker
	limiter      *rate.Limiter
	fallback     map[string]struct{}
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink registers a collaborator notified for every created pattern.
func WithSink(sink pattern.PatternCreatedSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithClock overrides the wall clock.
func WithClock(c pattern.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a clustering engine.
func NewEngine(cfg Config, observations pattern.ObservationStore, searcher pattern.SimilaritySearcher, patterns pattern.PatternRegistry, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if observations == nil {
		return nil, fmt.Errorf("observation store cannot be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("similarity searcher cannot be nil")
	}
	if patterns == nil {
		return nil, fmt.Errorf("pattern registry cannot be nil")
	}

	limit := rate.Inf
	if cfg.SearchRate > 0 {
		limit = rate.Limit(cfg.SearchRate)
	}

	e := &Engine{
		cfg:          cfg,
		observations: observations,
		searcher:     searcher,
		patterns:     patterns,
		clock:        pattern.SystemClock{},
		companyLocks: registry.NewLocker(),
		limiter:      rate.NewLimiter(limit, max(cfg.SearchBurst, 1)),
		fallback:     make(map[string]struct{}, len(cfg.FallbackPatternIDs)),
		logger:       zap.NewNop(),
	}
	for _, id := range cfg.FallbackPatternIDs {
		e.fallback[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IsOrphan reports whether patternID is one of the fallback placeholders.
func (e *Engine) IsOrphan(patternID string) bool {
	_, ok := e.fallback[patternID]
	return ok
}

// ClusterOrphanObservations returns the clusters a pass over company's
// orphans would produce, without creating patterns.
func (e *Engine) ClusterOrphanObservations(ctx context.Context, company string) ([]pattern.ObservationCluster, error) {
	unlock := e.companyLocks.Lock(company)
	defer unlock()
	return e.cluster(ctx, company)
}

// cluster runs the greedy pass. Orphans are visited in (timestamp, id)
// order, which makes the result reproducible for a given store state.
func (e *Engine) cluster(ctx context.Context, company string) ([]pattern.ObservationCluster, error) {
	ctx, span := tracer.Start(ctx, "clustering.cluster")
	defer span.End()
	span.SetAttributes(attribute.String("company", company))

	orphans, err := e.observations.GetByPatterns(ctx, e.cfg.FallbackPatternIDs, company)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching orphan observations: %w", err)
	}
	span.SetAttributes(attribute.Int("orphans", len(orphans)))

	if len(orphans) < e.cfg.MinObservations {
		e.logger.Debug("not enough orphan observations to cluster",
			zap.String("company", company),
			zap.Int("orphans", len(orphans)),
			zap.Int("min_observations", e.cfg.MinObservations),
		)
		return []pattern.ObservationCluster{}, nil
	}

	sort.SliceStable(orphans, func(i, j int) bool {
		if !orphans[i].Timestamp.Equal(orphans[j].Timestamp) {
			return orphans[i].Timestamp.Before(orphans[j].Timestamp)
		}
		return orphans[i].ID < orphans[j].ID
	})

	byID := make(map[string]pattern.Observation, len(orphans))
	for _, o := range orphans {
		byID[o.ID] = o
	}

	claimed := make(map[string]bool)
	clusters := []pattern.ObservationCluster{}

	for _, seed := range orphans {
		if claimed[seed.ID] {
			continue
		}

		members, err := e.candidateMembers(ctx, seed, company, byID, claimed)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if len(members) < e.cfg.MinObservations {
			continue
		}

		accepted := acceptanceRate(members)
		if accepted < e.cfg.MinAcceptanceRate {
			e.logger.Debug("discarding low-acceptance candidate",
				zap.String("company", company),
				zap.String("seed_id", seed.ID),
				zap.Int("size", len(members)),
				zap.Float64("acceptance_rate", accepted),
			)
			continue
		}

		for _, m := range members {
			claimed[m.ID] = true
		}
		clusters = append(clusters, pattern.ObservationCluster{
			Observations:         members,
			Centroid:             seed.Text(),
			AcceptanceRate:       accepted,
			Company:              company,
			SuggestedPatternName: SuggestName(members),
		})
	}

	span.SetAttributes(attribute.Int("clusters", len(clusters)))
	span.SetStatus(codes.Ok, "success")
	e.logger.Info("clustered orphan observations",
		zap.String("company", company),
		zap.Int("orphans", len(orphans)),
		zap.Int("clusters", len(clusters)),
		zap.Int("clustered", len(claimed)),
	)
	return clusters, nil
}

// candidateMembers returns the seed plus every unclaimed orphan of the same
// company whose similarity to the seed meets the threshold, capped at
// SearchLimit members in total. A searcher that can scope by pattern is
// asked for orphans only; otherwise the search widens until attributed
// look-alikes can no longer crowd orphans out of the result.
func (e *Engine) candidateMembers(ctx context.Context, seed pattern.Observation, company string, orphans map[string]pattern.Observation, claimed map[string]bool) ([]pattern.Observation, error) {
	members := []pattern.Observation{seed}
	seen := map[string]bool{seed.ID: true}
	collect := func(hits []pattern.ScoredObservation) {
		for _, hit := range hits {
			if len(members) >= e.cfg.SearchLimit {
				return
			}
			id := hit.Observation.ID
			if hit.Score < e.cfg.SimilarityThreshold || seen[id] || claimed[id] {
				continue
			}
			o, isOrphan := orphans[id]
			if !isOrphan || o.Company != company {
				continue
			}
			seen[id] = true
			members = append(members, o)
		}
	}

	if scoped, ok := e.searcher.(pattern.ScopedSimilaritySearcher); ok {
		hits, err := e.search(ctx, func() ([]pattern.ScoredObservation, error) {
			return scoped.FindSimilarIn(ctx, seed.Text(), company, e.cfg.FallbackPatternIDs, e.cfg.SearchLimit)
		})
		if err != nil {
			return nil, err
		}
		collect(hits)
		return members, nil
	}

	for limit := e.cfg.SearchLimit; ; limit *= 2 {
		hits, err := e.search(ctx, func() ([]pattern.ScoredObservation, error) {
			return e.searcher.FindSimilar(ctx, seed.Text(), company, limit)
		})
		if err != nil {
			return nil, err
		}
		collect(hits)
		if len(members) >= e.cfg.SearchLimit || len(hits) < limit ||
			hits[len(hits)-1].Score < e.cfg.SimilarityThreshold {
			return members, nil
		}
	}
}

// search runs one rate-limited similarity search.
func (e *Engine) search(ctx context.Context, fn func() ([]pattern.ScoredObservation, error)) ([]pattern.ScoredObservation, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for search rate limiter: %w", err)
	}
	start := time.Now()
	hits, err := fn()
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("searching similar observations: %w", err)
	}
	return hits, nil
}

func acceptanceRate(members []pattern.Observation) float64 {
	if len(members) == 0 {
		return 0
	}
	accepted := 0
	for _, m := range members {
		if m.Outcome == pattern.OutcomeAccepted {
			accepted++
		}
	}
	return float64(accepted) / float64(len(members))
}

// CreatePatternFromCluster builds a new OBSERVATION-level pattern from a
// cluster. It does not store anything.
func (e *Engine) CreatePatternFromCluster(cluster pattern.ObservationCluster) (pattern.Pattern, error) {
	if len(cluster.Observations) == 0 {
		return pattern.Pattern{}, pattern.ErrEmptyCluster
	}

	now := e.clock.Now()
	name := cluster.SuggestedPatternName
	if name == "" {
		name = SuggestName(cluster.Observations)
	}

	return pattern.Pattern{
		ID:          pattern.NewID(),
		Company:     cluster.Company,
		Name:        name,
		Category:    "learned",
		Description: fmt.Sprintf("Learned from %d similar observations", len(cluster.Observations)),
		Level:       pattern.LevelObservation,
		Structure: &pattern.Structure{Sections: []pattern.Section{{
			Name:          "Main",
			FieldTypes:    []string{"text", "reference"},
			RequiredSteps: []string{"draft", "active", "completed"},
		}}},
		ApplicabilityRules: []pattern.ApplicabilityRule{{
			Field:    "input",
			Operator: "contains",
			Value:    TopKeyword(cluster.Observations),
			Weight:   1.0,
		}},
		Metadata: pattern.Metadata{
			UsageCount:  len(cluster.Observations),
			SuccessRate: cluster.AcceptanceRate,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}, nil
}

// CreationResult summarizes one CheckAndCreatePatterns pass.
type CreationResult struct {
	Company  string            `json:"company"`
	Clusters int               `json:"clusters"`
	Created  []pattern.Pattern `json:"created"`
	Relinked int               `json:"relinked"`

	// SkippedRelinks counts members that were deleted or re-attributed
	// between clustering and relinking.
	SkippedRelinks int `json:"skipped_relinks"`
}

// CheckAndCreatePatterns clusters company's orphans, registers a pattern for
// every cluster and relinks the members to it. Created patterns are returned
// and, when configured, passed to the sink.
func (e *Engine) CheckAndCreatePatterns(ctx context.Context, company string) (*CreationResult, error) {
	ctx, span := tracer.Start(ctx, "clustering.CheckAndCreatePatterns")
	defer span.End()
	span.SetAttributes(attribute.String("company", company))

	unlock := e.companyLocks.Lock(company)
	defer unlock()

	start := time.Now()
	defer func() { passDuration.Observe(time.Since(start).Seconds()) }()

	clusters, err := e.cluster(ctx, company)
	if err != nil {
		return nil, err
	}

	res := &CreationResult{Company: company, Clusters: len(clusters), Created: []pattern.Pattern{}}
	for _, c := range clusters {
		p, err := e.CreatePatternFromCluster(c)
		if err != nil {
			return res, err
		}
		if err := e.patterns.Put(ctx, p); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, fmt.Errorf("registering pattern %s: %w", p.ID, err)
		}
		res.Created = append(res.Created, p)
		patternsCreated.Inc()

		if e.sink != nil {
			if err := e.sink.PatternCreated(ctx, p); err != nil {
				e.logger.Warn("pattern created sink failed",
					zap.String("pattern_id", p.ID),
					zap.Error(err),
				)
			}
		}

		relinked, skipped, err := e.relink(ctx, p, c.Observations)
		res.Relinked += relinked
		res.SkippedRelinks += skipped
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}

		e.logger.Info("pattern created from cluster",
			zap.String("pattern_id", p.ID),
			zap.String("pattern_name", p.Name),
			zap.String("company", company),
			zap.Int("members", len(c.Observations)),
			zap.Float64("acceptance_rate", c.AcceptanceRate),
		)
	}

	span.SetAttributes(
		attribute.Int("created", len(res.Created)),
		attribute.Int("relinked", res.Relinked),
	)
	return res, nil
}

// relink attributes each member to p. Members that no longer exist or were
// re-attributed to a real pattern since the orphan fetch are left alone.
func (e *Engine) relink(ctx context.Context, p pattern.Pattern, members []pattern.Observation) (relinked, skipped int, err error) {
	for _, m := range members {
		current, err := e.observations.Get(ctx, m.ID)
		if errors.Is(err, pattern.ErrObservationNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return relinked, skipped, fmt.Errorf("reading observation %s: %w", m.ID, err)
		}
		if !e.IsOrphan(current.PatternID) {
			e.logger.Debug("observation no longer orphaned, not relinking",
				zap.String("observation_id", m.ID),
				zap.String("pattern_id", current.PatternID),
			)
			skipped++
			continue
		}
		if err := e.observations.Relink(ctx, m.ID, p.ID, p.Name); err != nil {
			return relinked, skipped, fmt.Errorf("relinking observation %s: %w", m.ID, err)
		}
		relinked++
	}
	observationsRelinked.Add(float64(relinked))
	return relinked, skipped, nil
}

// CheckAllCompanies runs CheckAndCreatePatterns for every company with
// observations. A failing company is logged and does not stop the sweep.
func (e *Engine) CheckAllCompanies(ctx context.Context) ([]CreationResult, error) {
	companies, err := e.observations.Companies(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}

	results := make([]CreationResult, 0, len(companies))
	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if company == pattern.GlobalCompany {
			continue
		}
		res, err := e.CheckAndCreatePatterns(ctx, company)
		if err != nil {
			e.logger.Error("clustering pass failed",
				zap.String("company", company),
				zap.Error(err),
			)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}
