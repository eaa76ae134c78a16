// Package registry provides in-memory pattern and observation stores and the
// per-key locker used to serialize pattern mutations.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// PatternStore is an in-memory pattern.PatternRegistry.
type PatternStore struct {
	mu       sync.RWMutex
	patterns map[string]pattern.Pattern
}

// NewPatternStore creates an empty pattern store.
func NewPatternStore() *PatternStore {
	return &PatternStore{patterns: make(map[string]pattern.Pattern)}
}

// Get returns a copy of the pattern with the given id.
func (s *PatternStore) Get(ctx context.Context, id string) (*pattern.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pattern.ErrPatternNotFound, id)
	}
	out := p.Clone()
	return &out, nil
}

// Put inserts or replaces a pattern.
func (s *PatternStore) Put(ctx context.Context, p pattern.Pattern) error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", pattern.ErrInvalidPattern)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns[p.ID] = p.Clone()
	return nil
}

// All returns copies of every pattern ordered by id.
func (s *PatternStore) All(ctx context.Context) ([]pattern.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pattern.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored patterns.
func (s *PatternStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// ObservationStore is an in-memory pattern.ObservationStore.
type ObservationStore struct {
	mu           sync.RWMutex
	observations map[string]pattern.Observation
	byPattern    map[string]map[string]struct{} // patternID -> observation ids
}

// NewObservationStore creates an empty observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{
		observations: make(map[string]pattern.Observation),
		byPattern:    make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the observation with the given id.
func (s *ObservationStore) Get(ctx context.Context, id string) (*pattern.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.observations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pattern.ErrObservationNotFound, id)
	}
	out := o.Clone()
	return &out, nil
}

// GetByPattern returns observations attributed to patternID, oldest first.
func (s *ObservationStore) GetByPattern(ctx context.Context, patternID, company string) ([]pattern.Observation, error) {
	return s.GetByPatterns(ctx, []string{patternID}, company)
}

// GetByPatterns returns observations attributed to any of patternIDs, oldest
// first. Repeated ids are ignored.
func (s *ObservationStore) GetByPatterns(ctx context.Context, patternIDs []string, company string) ([]pattern.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []pattern.Observation{}
	seen := make(map[string]bool, len(patternIDs))
	for _, pid := range patternIDs {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		for id := range s.byPattern[pid] {
			o := s.observations[id]
			if company != "" && o.Company != company {
				continue
			}
			out = append(out, o.Clone())
		}
	}
	sortObservations(out)
	return out, nil
}

// Persist inserts or replaces an observation.
func (s *ObservationStore) Persist(ctx context.Context, o pattern.Observation) error {
	if err := o.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.observations[o.ID]; ok {
		s.unindex(prev)
	}
	s.observations[o.ID] = o.Clone()
	s.index(o)
	return nil
}

// Relink changes the pattern attribution of one observation.
func (s *ObservationStore) Relink(ctx context.Context, observationID, patternID, patternName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.observations[observationID]
	if !ok {
		return fmt.Errorf("%w: %s", pattern.ErrObservationNotFound, observationID)
	}
	s.unindex(o)
	o.PatternID = patternID
	o.PatternName = patternName
	s.observations[observationID] = o
	s.index(o)
	return nil
}

// Companies lists every company with at least one observation, sorted.
func (s *ObservationStore) Companies(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, o := range s.observations {
		seen[o.Company] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// All returns copies of every observation, oldest first.
func (s *ObservationStore) All(ctx context.Context) ([]pattern.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pattern.Observation, 0, len(s.observations))
	for _, o := range s.observations {
		out = append(out, o.Clone())
	}
	sortObservations(out)
	return out, nil
}

func (s *ObservationStore) index(o pattern.Observation) {
	ids := s.byPattern[o.PatternID]
	if ids == nil {
		ids = make(map[string]struct{})
		s.byPattern[o.PatternID] = ids
	}
	ids[o.ID] = struct{}{}
}

func (s *ObservationStore) unindex(o pattern.Observation) {
	ids := s.byPattern[o.PatternID]
	delete(ids, o.ID)
	if len(ids) == 0 {
		delete(s.byPattern, o.PatternID)
	}
}

func sortObservations(obs []pattern.Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].Timestamp.Equal(obs[j].Timestamp) {
			return obs[i].Timestamp.Before(obs[j].Timestamp)
		}
		return obs[i].ID < obs[j].ID
	})
}

var (
	_ pattern.PatternRegistry  = (*PatternStore)(nil)
	_ pattern.ObservationStore = (*ObservationStore)(nil)
)
