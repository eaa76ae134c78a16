package store

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
)

// ObservationBackend is an observation store that can also list everything,
// which reindexing needs.
type ObservationBackend interface {
	pattern.ObservationStore
	All(ctx context.Context) ([]pattern.Observation, error)
}

// Stores bundles the pattern and observation backends selected by Config.
type Stores struct {
	Patterns     pattern.PatternRegistry
	Observations ObservationBackend

	db *gorm.DB
}

// New builds the stores for cfg. The memory driver needs no database.
func New(cfg Config, logger *zap.Logger) (*Stores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Driver == "" || cfg.Driver == DriverMemory {
		return &Stores{
			Patterns:     registry.NewPatternStore(),
			Observations: registry.NewObservationStore(),
		}, nil
	}

	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Patterns:     NewPatternRepo(db, logger),
		Observations: NewObservationRepo(db, logger),
		db:           db,
	}, nil
}

// DB returns the underlying database, or nil for the memory driver.
func (s *Stores) DB() *gorm.DB { return s.db }

// Close releases the database, if any.
func (s *Stores) Close() error {
	return Close(s.db)
}
