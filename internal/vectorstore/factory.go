package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures the index backend.
type Config struct {
	// Provider is "chromem" (default) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// Validate checks the provider name and the selected backend's settings.
func (c Config) Validate() error {
	switch c.Provider {
	case "", backendChromem:
		return nil
	case backendQdrant:
		q := c.Qdrant
		q.ApplyDefaults()
		return q.Validate()
	default:
		return fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, c.Provider)
	}
}

// NewIndex creates the configured index backend.
func NewIndex(ctx context.Context, cfg Config, embedder Embedder, logger *zap.Logger) (Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case backendQdrant:
		return NewQdrantIndex(ctx, cfg.Qdrant, embedder, logger)
	default:
		return NewChromemIndex(cfg.Chromem, embedder, logger)
	}
}
