package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/clustering"
	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/embeddings"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/graduation"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/quality"
	"github.com/fyrsmithlabs/patternd/internal/registry"
	"github.com/fyrsmithlabs/patternd/internal/store"
	"github.com/fyrsmithlabs/patternd/internal/vectorstore"
)

// app holds every component of a running engine.
type app struct {
	stores       *store.Stores
	embedder     embeddings.Provider
	index        vectorstore.Index
	observations *vectorstore.IndexedObservationStore
	bus          *events.Bus
	publisher    *events.NATSPublisher

	clustering *clustering.Engine
	quality    *quality.Service
	graduation *graduation.Engine
	scheduler  *lifecycle.Scheduler

	logger    *logging.Logger
	drained   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// newApp wires the engines in dependency order:
//  1. Stores (memory, sqlite or postgres)
//  2. Embedding provider and similarity index
//  3. Event bus, plus the NATS publisher when configured
//  4. Clustering, quality and graduation engines sharing one pattern locker
//  5. Lifecycle scheduler
//
// On error every component built so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	zl := logger.Underlying()
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.stores, err = store.New(cfg.Store, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	vsCfg := cfg.VectorStore
	if dim := a.embedder.Dimension(); dim > 0 && vsCfg.Qdrant.VectorSize != uint64(dim) {
		if vsCfg.Provider == "qdrant" {
			logger.Warn(ctx, "qdrant vector size does not match embedder, using embedder dimension",
				zap.Uint64("configured", vsCfg.Qdrant.VectorSize),
				zap.Int("dimension", dim))
		}
		vsCfg.Qdrant.VectorSize = uint64(dim)
	}
	a.index, err = vectorstore.NewIndex(ctx, vsCfg, a.embedder, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create similarity index: %w", err)
	}
	a.observations = vectorstore.NewIndexedObservationStore(a.stores.Observations, a.index, zl)

	a.bus = events.NewBus(cfg.Events.BufferSize, pattern.SystemClock{})
	sinks := events.Fanout{a.bus}
	if cfg.Events.NATSEnabled() {
		a.publisher, err = events.NewNATSPublisher(cfg.Events.NATS, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		sinks = append(sinks, a.publisher)
	}
	a.drained.Add(1)
	go a.drain(ctx)

	locker := registry.NewLocker()

	a.clustering, err = clustering.NewEngine(cfg.Clustering, a.observations, a.observations, a.stores.Patterns,
		clustering.WithSink(sinks),
		clustering.WithLogger(zl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clustering engine: %w", err)
	}

	scorer, err := quality.NewScorer(cfg.Decay, pattern.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("failed to create quality scorer: %w", err)
	}
	a.quality, err = quality.NewService(scorer, a.stores.Patterns, zl, quality.WithLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("failed to create quality service: %w", err)
	}

	a.graduation, err = graduation.NewEngine(cfg.Graduation, a.stores.Patterns, a.observations,
		graduation.WithLocker(locker),
		graduation.WithNotifier(sinks),
		graduation.WithLogger(zl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graduation engine: %w", err)
	}

	a.scheduler, err = lifecycle.NewScheduler(cfg.Scheduler, zl,
		lifecycle.WithClusterer(a.clustering),
		lifecycle.WithDecayer(a.quality),
		lifecycle.WithGraduator(a.graduation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	logger.Info(ctx, "engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("vectorstore", vsCfg.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("nats", a.publisher != nil))
	return a, nil
}

// drain logs bus events until the bus is closed.
func (a *app) drain(ctx context.Context) {
	defer a.drained.Done()
	for e := range a.bus.Events() {
		a.logger.Debug(ctx, "lifecycle event",
			zap.String("type", string(e.Type)),
			zap.String("company", e.Company),
			zap.String("pattern_id", e.PatternID))
	}
}

// Close stops the scheduler and releases every resource. Later calls return
// the first result.
func (a *app) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.close() })
	return a.closeErr
}

func (a *app) close() error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop())
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
		a.drained.Wait()
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	return errors.Join(errs...)
}
