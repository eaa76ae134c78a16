// Package config loads patternd configuration from a YAML file and
// PATTERND_* environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/clustering"
	"github.com/fyrsmithlabs/patternd/internal/embeddings"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/graduation"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/quality"
	"github.com/fyrsmithlabs/patternd/internal/store"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
	"github.com/fyrsmithlabs/patternd/internal/vectorstore"
)

// Config is the complete patternd configuration.
type Config struct {
	Server        ServerConfig              `koanf:"server"`
	Store         store.Config              `koanf:"store"`
	VectorStore   vectorstore.Config        `koanf:"vectorstore"`
	Embeddings    embeddings.ProviderConfig `koanf:"embeddings"`
	Events        EventsConfig              `koanf:"events"`
	Scheduler     lifecycle.Config          `koanf:"scheduler"`
	Clustering    clustering.Config         `koanf:"clustering"`
	Decay         quality.DecayConfig       `koanf:"decay"`
	Graduation    graduation.Criteria       `koanf:"graduation"`
	Logging       logging.Config            `koanf:"logging"`
	Observability telemetry.Config          `koanf:"observability"`
}

// ServerConfig holds admin API server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EventsConfig controls lifecycle event delivery. NATS publishing is on
// when NATS.URL is set.
type EventsConfig struct {
	// BufferSize is the in-process event bus capacity.
	BufferSize int               `koanf:"buffer_size"`
	NATS       events.NATSConfig `koanf:"nats"`
}

// NATSEnabled reports whether events are also published to NATS.
func (e EventsConfig) NATSEnabled() bool {
	return e.NATS.URL != ""
}

// Default returns the configuration used when nothing is overridden:
// in-memory storage, an embedded chromem index with the hashing embedder,
// and the standard lifecycle thresholds.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: store.Config{
			Driver:        store.DriverMemory,
			SlowThreshold: 500 * time.Millisecond,
		},
		VectorStore: vectorstore.Config{
			Provider: "chromem",
			Chromem: vectorstore.ChromemConfig{
				CollectionPrefix: "observations:",
			},
			Qdrant: vectorstore.QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				CollectionName: "patternd_observations",
				VectorSize:     384,
			},
		},
		Embeddings: embeddings.ProviderConfig{
			Provider:  "hashing",
			Model:     embeddings.DefaultFastEmbedModel,
			Dimension: 384,
		},
		Events: EventsConfig{
			BufferSize: 256,
		},
		Scheduler:     lifecycle.DefaultConfig(),
		Clustering:    clustering.DefaultConfig(),
		Decay:         quality.DefaultDecayConfig(),
		Graduation:    graduation.DefaultCriteria(),
		Logging:       *logging.NewDefaultConfig(),
		Observability: *telemetry.NewDefaultConfig(),
	}
}

// Validate checks every section and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := c.VectorStore.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vectorstore: %w", err))
	}
	if err := c.Embeddings.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("embeddings: %w", err))
	}

	if c.Events.BufferSize < 0 {
		errs = append(errs, errors.New("events.buffer_size must not be negative"))
	}
	if c.Events.NATS.Timeout < 0 || c.Events.NATS.MaxReconnects < -1 {
		errs = append(errs, errors.New("events.nats: timeout must not be negative and max_reconnects must be >= -1"))
	}

	s := c.Scheduler
	if s.ClusteringInterval < 0 || s.DecayInterval < 0 || s.GraduationInterval < 0 || s.RunTimeout < 0 {
		errs = append(errs, errors.New("scheduler intervals must not be negative"))
	}

	if err := c.Clustering.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Decay.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Graduation.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	return errors.Join(errs...)
}
