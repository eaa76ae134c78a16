package pattern

import (
	"context"
	"time"
)

// PatternRegistry is the keyed store for patterns.
//
// Implementations must copy on the way in and out: callers never share
// memory with the registry.
type PatternRegistry interface {
	// Get returns ErrPatternNotFound when id is unknown.
	Get(ctx context.Context, id string) (*Pattern, error)
	Put(ctx context.Context, p Pattern) error
	All(ctx context.Context) ([]Pattern, error)
}

// SkippedRecord is a stored record a listing could not decode.
type SkippedRecord struct {
	ID     string
	Reason string
}

// SkipReportingRegistry is a PatternRegistry whose listing also reports the
// records it had to leave out.
type SkipReportingRegistry interface {
	PatternRegistry
	AllWithSkipped(ctx context.Context) ([]Pattern, []SkippedRecord, error)
}

// ObservationStore is the keyed store for observations.
type ObservationStore interface {
	// Get returns ErrObservationNotFound when id is unknown.
	Get(ctx context.Context, id string) (*Observation, error)

	// GetByPattern returns observations attributed to patternID. An empty
	// company matches every tenant.
	GetByPattern(ctx context.Context, patternID, company string) ([]Observation, error)

	// GetByPatterns is GetByPattern over a set of pattern ids.
	GetByPatterns(ctx context.Context, patternIDs []string, company string) ([]Observation, error)

	Persist(ctx context.Context, o Observation) error

	// Relink changes the pattern attribution of one observation.
	Relink(ctx context.Context, observationID, patternID, patternName string) error

	// Companies lists every company with at least one observation.
	Companies(ctx context.Context) ([]string, error)
}

// SimilaritySearcher ranks observations of one company by cosine similarity to text.
type SimilaritySearcher interface {
	FindSimilar(ctx context.Context, text, company string, limit int) ([]ScoredObservation, error)
}

// ScopedSimilaritySearcher restricts a similarity search to observations
// attributed to one of patternIDs, applying the restriction before limit.
type ScopedSimilaritySearcher interface {
	FindSimilarIn(ctx context.Context, text, company string, patternIDs []string, limit int) ([]ScoredObservation, error)
}

// PatternCreatedSink is notified once per pattern minted by clustering.
type PatternCreatedSink interface {
	PatternCreated(ctx context.Context, p Pattern) error
}

// GraduationEvent describes a completed level transition.
type GraduationEvent struct {
	PatternID   string    `json:"pattern_id"`
	PatternName string    `json:"pattern_name"`
	Company     string    `json:"company"`
	FromLevel   Level     `json:"from_level"`
	ToLevel     Level     `json:"to_level"`
	Anonymized  bool      `json:"anonymized"`
	ApprovedBy  string    `json:"approved_by,omitempty"`
	GraduatedAt time.Time `json:"graduated_at"`
}

// GraduationNotifier is notified after every successful graduation.
type GraduationNotifier interface {
	PatternGraduated(ctx context.Context, e GraduationEvent) error
}

// KeyLocker serializes work per key. Lock blocks until the key is free and
// returns the matching unlock function.
type KeyLocker interface {
	Lock(key string) (unlock func())
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
