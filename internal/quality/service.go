package quality

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

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
)

var tracer = otel.Tracer("patternd.quality")

// Service applies the scorer to stored patterns. Every read-modify-write on a
// pattern runs under that pattern's lock.
type Service struct {
	scorer   *Scorer
	patterns pattern.PatternRegistry
	locker   pattern.KeyLocker
	logger   *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLocker shares a per-pattern locker with other engines.
func WithLocker(l pattern.KeyLocker) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// NewService creates a quality service.
func NewService(scorer *Scorer, patterns pattern.PatternRegistry, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer cannot be nil")
	}
	if patterns == nil {
		return nil, fmt.Errorf("pattern registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		scorer:   scorer,
		patterns: patterns,
		locker:   registry.NewLocker(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Scorer returns the underlying scorer.
func (s *Service) Scorer() *Scorer { return s.scorer }

// ScorePattern returns the pattern's score, computing and caching it when the
// pattern has none yet.
func (s *Service) ScorePattern(ctx context.Context, id string) (int, error) {
	unlock := s.locker.Lock(id)
	defer unlock()

	p, err := s.patterns.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("getting pattern: %w", err)
	}
	if p.QualityScore != nil {
		return *p.QualityScore, nil
	}

	score := s.scorer.Score(*p)
	updated := p.Clone()
	updated.QualityScore = &score
	if err := s.patterns.Put(ctx, updated); err != nil {
		return 0, fmt.Errorf("caching score: %w", err)
	}
	return score, nil
}

// Breakdown returns the factor scores for a pattern without caching anything.
func (s *Service) Breakdown(ctx context.Context, id string) (*Breakdown, error) {
	p, err := s.patterns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting pattern: %w", err)
	}
	b := s.scorer.Breakdown(*p)
	return &b, nil
}

// BoostUsage records one use of the pattern and persists the boosted copy.
func (s *Service) BoostUsage(ctx context.Context, id string) (*pattern.Pattern, error) {
	ctx, span := tracer.Start(ctx, "quality.BoostUsage")
	defer span.End()
	span.SetAttributes(attribute.String("pattern_id", id))

	unlock := s.locker.Lock(id)
	defer unlock()

	p, err := s.patterns.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting pattern: %w", err)
	}

	updated := s.scorer.BoostOnUsage(*p)
	if err := s.patterns.Put(ctx, updated); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving boosted pattern: %w", err)
	}
	usageBoosts.Inc()

	s.logger.Debug("pattern usage boosted",
		zap.String("pattern_id", id),
		zap.Int("quality_score", *updated.QualityScore),
		zap.Int("usage_count", updated.Metadata.UsageCount),
	)
	return &updated, nil
}

// ApplyDecay decays one pattern against the configured threshold and persists it.
func (s *Service) ApplyDecay(ctx context.Context, id string) (*DecayOutcome, error) {
	unlock := s.locker.Lock(id)
	defer unlock()

	p, err := s.patterns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting pattern: %w", err)
	}
	updated, outcome, decayed, err := s.scorer.decayOne(*p, s.scorer.cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if !decayed {
		outcome.PreviousScore = s.scorer.CurrentScore(*p)
		outcome.NewScore = outcome.PreviousScore
		return &outcome, nil
	}
	if err := s.patterns.Put(ctx, updated); err != nil {
		return nil, fmt.Errorf("saving decayed pattern: %w", err)
	}
	s.recordDecay(updated, outcome)
	return &outcome, nil
}

// RunDecaySweep decays every stored pattern. The pattern list is a snapshot;
// each record is re-read and written under its own lock, so a sweep is a set
// of independent updates. Patterns deleted mid-sweep are ignored.
func (s *Service) RunDecaySweep(ctx context.Context) (*DecayJobResult, error) {
	ctx, span := tracer.Start(ctx, "quality.RunDecaySweep")
	defer span.End()

	start := time.Now()
	defer func() { decaySweepDuration.Observe(time.Since(start).Seconds()) }()

	snapshot, undecodable, err := s.listPatterns(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing patterns: %w", err)
	}

	threshold := s.scorer.cfg.Threshold
	res := &DecayJobResult{DroppedBelowThreshold: []DecayOutcome{}}
	for _, rec := range undecodable {
		res.Skipped = append(res.Skipped, SkippedPattern{PatternID: rec.ID, Reason: rec.Reason})
		decaySkipped.Inc()
	}
	for _, snap := range snapshot {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.decayStored(ctx, snap.ID, threshold, res); err != nil {
			return res, err
		}
	}

	span.SetAttributes(
		attribute.Int("processed", res.ProcessedCount),
		attribute.Int("decayed", res.DecayedCount),
		attribute.Int("dropped", len(res.DroppedBelowThreshold)),
	)
	s.logger.Info("decay sweep completed",
		zap.Int("processed", res.ProcessedCount),
		zap.Int("decayed", res.DecayedCount),
		zap.Int("dropped_below_threshold", len(res.DroppedBelowThreshold)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// listPatterns snapshots the registry, including records it could not
// decode when the registry reports them.
func (s *Service) listPatterns(ctx context.Context) ([]pattern.Pattern, []pattern.SkippedRecord, error) {
	if r, ok := s.patterns.(pattern.SkipReportingRegistry); ok {
		return r.AllWithSkipped(ctx)
	}
	all, err := s.patterns.All(ctx)
	return all, nil, err
}

func (s *Service) decayStored(ctx context.Context, id string, threshold int, res *DecayJobResult) error {
	unlock := s.locker.Lock(id)
	defer unlock()

	p, err := s.patterns.Get(ctx, id)
	if errors.Is(err, pattern.ErrPatternNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting pattern %s: %w", id, err)
	}

	updated, outcome, decayed, err := s.scorer.decayOne(*p, threshold)
	if err != nil {
		res.Skipped = append(res.Skipped, SkippedPattern{PatternID: id, Reason: err.Error()})
		decaySkipped.Inc()
		s.logger.Warn("skipping malformed pattern in decay sweep",
			zap.String("pattern_id", id),
			zap.Error(err),
		)
		return nil
	}
	res.ProcessedCount++
	if !decayed {
		return nil
	}
	if err := s.patterns.Put(ctx, updated); err != nil {
		return fmt.Errorf("saving decayed pattern %s: %w", id, err)
	}
	res.DecayedCount++
	if outcome.CrossedThreshold {
		res.DroppedBelowThreshold = append(res.DroppedBelowThreshold, outcome)
	}
	s.recordDecay(updated, outcome)
	return nil
}

func (s *Service) recordDecay(p pattern.Pattern, outcome DecayOutcome) {
	decayApplied.Inc()
	if !outcome.CrossedThreshold {
		return
	}
	thresholdCrossings.Inc()
	s.logger.Warn("pattern quality dropped below threshold",
		zap.String("pattern_id", p.ID),
		zap.String("pattern_name", p.Name),
		zap.String("company", p.Company),
		zap.Int("previous_score", outcome.PreviousScore),
		zap.Int("new_score", outcome.NewScore),
		zap.Int("threshold", s.scorer.cfg.Threshold),
	)
}

// DecayPreview projects decay for a stored pattern.
func (s *Service) DecayPreview(ctx context.Context, id string) (*DecayPreview, error) {
	p, err := s.patterns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting pattern: %w", err)
	}
	preview := s.scorer.DecayPreview(*p, s.scorer.cfg.Threshold)
	return &preview, nil
}

// DecayingPatterns lists stored patterns projected to fall below the threshold.
func (s *Service) DecayingPatterns(ctx context.Context) ([]DecayPreview, error) {
	snapshot, err := s.patterns.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	return s.scorer.DecayingPatterns(snapshot, s.scorer.cfg.Threshold), nil
}

func sortPreviews(previews []DecayPreview) {
	sort.SliceStable(previews, func(i, j int) bool {
		if previews[i].ProjectedScore != previews[j].ProjectedScore {
			return previews[i].ProjectedScore < previews[j].ProjectedScore
		}
		return previews[i].PatternID < previews[j].PatternID
	})
}
