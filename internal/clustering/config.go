// Package clustering groups orphan observations into clusters of similar,
// well-received outcomes and mints new patterns from them.
package clustering

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Config controls orphan clustering.
type Config struct {
	// FallbackPatternIDs are placeholder attributions marking an observation
	// as an orphan.
	FallbackPatternIDs []string `koanf:"fallback_pattern_ids" json:"fallback_pattern_ids"`

	// MinObservations is the minimum cluster size.
	MinObservations int `koanf:"min_observations" json:"min_observations"`

	// SimilarityThreshold is the minimum cosine similarity for membership.
	SimilarityThreshold float64 `koanf:"similarity_threshold" json:"similarity_threshold"`

	// MinAcceptanceRate is the minimum accepted/size ratio for a cluster.
	MinAcceptanceRate float64 `koanf:"min_acceptance_rate" json:"min_acceptance_rate"`

	// SearchLimit caps results per similarity search.
	SearchLimit int `koanf:"search_limit" json:"search_limit"`

	// SearchRate limits similarity searches per second. Zero disables limiting.
	SearchRate float64 `koanf:"search_rate" json:"search_rate"`

	// SearchBurst is the limiter burst size.
	SearchBurst int `koanf:"search_burst" json:"search_burst"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FallbackPatternIDs:  []string{"custom", "feature", "unknown", "fallback", "generic", "other"},
		MinObservations:     3,
		SimilarityThreshold: 0.75,
		MinAcceptanceRate:   0.6,
		SearchLimit:         50,
		SearchRate:          20,
		SearchBurst:         5,
	}
}

// Validate reports the first malformed field as a *pattern.ConfigError.
func (c Config) Validate() error {
	switch {
	case len(c.FallbackPatternIDs) == 0:
		return &pattern.ConfigError{Field: "clustering.fallback_pattern_ids", Reason: "at least one fallback id is required"}
	case c.MinObservations < 2:
		return &pattern.ConfigError{Field: "clustering.min_observations", Reason: "must be at least 2"}
	case math.IsNaN(c.SimilarityThreshold) || c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1:
		return &pattern.ConfigError{Field: "clustering.similarity_threshold", Reason: "must be within (0,1]"}
	case math.IsNaN(c.MinAcceptanceRate) || c.MinAcceptanceRate < 0 || c.MinAcceptanceRate > 1:
		return &pattern.ConfigError{Field: "clustering.min_acceptance_rate", Reason: "must be within [0,1]"}
	case c.SearchLimit < c.MinObservations:
		return &pattern.ConfigError{Field: "clustering.search_limit", Reason: "must be at least min_observations"}
	case c.SearchRate < 0:
		return &pattern.ConfigError{Field: "clustering.search_rate", Reason: "must not be negative"}
	case c.SearchRate > 0 && c.SearchBurst < 1:
		return &pattern.ConfigError{Field: "clustering.search_burst", Reason: "must be at least 1 when rate limiting"}
	}
	seen := make(map[string]bool, len(c.FallbackPatternIDs))
	for _, id := range c.FallbackPatternIDs {
		if id == "" {
			return &pattern.ConfigError{Field: "clustering.fallback_pattern_ids", Reason: "ids must not be empty"}
		}
		if seen[id] {
			return &pattern.ConfigError{Field: "clustering.fallback_pattern_ids", Reason: fmt.Sprintf("duplicate id %q", id)}
		}
		seen[id] = true
	}
	return nil
}
