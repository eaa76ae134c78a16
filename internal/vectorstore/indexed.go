package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// ObservationLister enumerates every stored observation. Reindex requires
// the base store to implement it.
type ObservationLister interface {
	All(ctx context.Context) ([]pattern.Observation, error)
}

const reindexBatchSize = 64

// IndexedObservationStore decorates an ObservationStore with a similarity
// index.
type IndexedObservationStore struct {
	base   pattern.ObservationStore
	index  Index
	logger *zap.Logger
}

var (
	_ pattern.ObservationStore         = (*IndexedObservationStore)(nil)
	_ pattern.SimilaritySearcher       = (*IndexedObservationStore)(nil)
	_ pattern.ScopedSimilaritySearcher = (*IndexedObservationStore)(nil)
)

// NewIndexedObservationStore wraps base with index.
func NewIndexedObservationStore(base pattern.ObservationStore, index Index, logger *zap.Logger) *IndexedObservationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexedObservationStore{base: base, index: index, logger: logger}
}

func entryFor(o pattern.Observation) Entry {
	return Entry{ObservationID: o.ID, Company: o.Company, PatternID: o.PatternID, Text: o.Text()}
}

// Get delegates to the base store.
func (s *IndexedObservationStore) Get(ctx context.Context, id string) (*pattern.Observation, error) {
	return s.base.Get(ctx, id)
}

// GetByPattern delegates to the base store.
func (s *IndexedObservationStore) GetByPattern(ctx context.Context, patternID, company string) ([]pattern.Observation, error) {
	return s.base.GetByPattern(ctx, patternID, company)
}

// GetByPatterns delegates to the base store.
func (s *IndexedObservationStore) GetByPatterns(ctx context.Context, patternIDs []string, company string) ([]pattern.Observation, error) {
	return s.base.GetByPatterns(ctx, patternIDs, company)
}

// Relink updates the base store and then re-indexes the observation so its
// pattern metadata follows the new attribution. An indexing failure is
// logged and counted; scoped searches re-check attribution on hydration.
func (s *IndexedObservationStore) Relink(ctx context.Context, observationID, patternID, patternName string) error {
	if err := s.base.Relink(ctx, observationID, patternID, patternName); err != nil {
		return err
	}
	o, err := s.base.Get(ctx, observationID)
	if err == nil {
		err = s.index.Upsert(ctx, []Entry{entryFor(*o)})
	}
	if err != nil {
		indexFailures.Inc()
		s.logger.Warn("observation relinked but index metadata not updated",
			zap.String("observation_id", observationID),
			zap.String("pattern_id", patternID),
			zap.Error(err),
		)
	}
	return nil
}

// Companies delegates to the base store.
func (s *IndexedObservationStore) Companies(ctx context.Context) ([]string, error) {
	return s.base.Companies(ctx)
}

// Persist stores the observation and then indexes it. An indexing failure
// is logged and counted but does not fail the write; Reindex repairs it.
func (s *IndexedObservationStore) Persist(ctx context.Context, o pattern.Observation) error {
	if err := s.base.Persist(ctx, o); err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, []Entry{entryFor(o)}); err != nil {
		indexFailures.Inc()
		s.logger.Warn("observation stored but not indexed",
			zap.String("observation_id", o.ID),
			zap.String("company", o.Company),
			zap.Error(err),
		)
	}
	return nil
}

// FindSimilar searches the index within company and hydrates each hit from
// the base store. Hits whose observation no longer exists, or now belongs
// to another company, are dropped.
func (s *IndexedObservationStore) FindSimilar(ctx context.Context, text, company string, limit int) ([]pattern.ScoredObservation, error) {
	return s.search(ctx, text, company, nil, limit)
}

// FindSimilarIn is FindSimilar restricted to observations attributed to one
// of patternIDs. The restriction is applied by the index before the limit,
// and again after hydration in case the index metadata lags a relink.
func (s *IndexedObservationStore) FindSimilarIn(ctx context.Context, text, company string, patternIDs []string, limit int) ([]pattern.ScoredObservation, error) {
	if len(patternIDs) == 0 {
		return []pattern.ScoredObservation{}, nil
	}
	return s.search(ctx, text, company, patternIDs, limit)
}

func (s *IndexedObservationStore) search(ctx context.Context, text, company string, patternIDs []string, limit int) ([]pattern.ScoredObservation, error) {
	matches, err := s.index.Search(ctx, company, text, limit, patternIDs)
	if err != nil {
		return nil, fmt.Errorf("searching similar observations: %w", err)
	}

	var allowed map[string]bool
	if len(patternIDs) > 0 {
		allowed = make(map[string]bool, len(patternIDs))
		for _, id := range patternIDs {
			allowed[id] = true
		}
	}

	out := make([]pattern.ScoredObservation, 0, len(matches))
	var stale []string
	for _, m := range matches {
		o, err := s.base.Get(ctx, m.ObservationID)
		if errors.Is(err, pattern.ErrObservationNotFound) {
			stale = append(stale, m.ObservationID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading observation %s: %w", m.ObservationID, err)
		}
		if o.Company != company {
			continue
		}
		if allowed != nil && !allowed[o.PatternID] {
			continue
		}
		out = append(out, pattern.ScoredObservation{Observation: *o, Score: m.Score})
	}

	if len(stale) > 0 {
		if err := s.index.Delete(ctx, company, stale); err != nil {
			s.logger.Debug("pruning stale index entries failed", zap.Error(err))
		}
	}
	return out, nil
}

// Reindex rebuilds index entries for every observation in the base store
// and returns how many were submitted.
func (s *IndexedObservationStore) Reindex(ctx context.Context) (int, error) {
	lister, ok := s.base.(ObservationLister)
	if !ok {
		return 0, fmt.Errorf("%w: base store cannot list observations", ErrInvalidConfig)
	}
	all, err := lister.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing observations: %w", err)
	}

	n := 0
	for start := 0; start < len(all); start += reindexBatchSize {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		end := min(start+reindexBatchSize, len(all))
		batch := make([]Entry, 0, end-start)
		for _, o := range all[start:end] {
			batch = append(batch, entryFor(o))
		}
		if err := s.index.Upsert(ctx, batch); err != nil {
			return n, fmt.Errorf("indexing batch at %d: %w", start, err)
		}
		n += len(batch)
	}
	s.logger.Info("observation index rebuilt", zap.Int("observations", n))
	return n, nil
}
