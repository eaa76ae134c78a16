// Package lifecycle runs the clustering, decay and graduation sweeps in the
// background on independent intervals.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/clustering"
	"github.com/fyrsmithlabs/patternd/internal/graduation"
	"github.com/fyrsmithlabs/patternd/internal/quality"
)

// Clusterer mints patterns from orphan observations.
type Clusterer interface {
	CheckAllCompanies(ctx context.Context) ([]clustering.CreationResult, error)
	CheckAndCreatePatterns(ctx context.Context, company string) (*clustering.CreationResult, error)
}

// Decayer applies time decay to every stored pattern.
type Decayer interface {
	RunDecaySweep(ctx context.Context) (*quality.DecayJobResult, error)
}

// Graduator promotes eligible patterns.
type Graduator interface {
	CheckAllGraduations(ctx context.Context) (*graduation.SweepResult, error)
}

// Config controls sweep cadence. A zero interval disables that sweep.
type Config struct {
	ClusteringInterval time.Duration `koanf:"clustering_interval"`
	DecayInterval      time.Duration `koanf:"decay_interval"`
	GraduationInterval time.Duration `koanf:"graduation_interval"`

	// RunTimeout bounds a single sweep.
	RunTimeout time.Duration `koanf:"run_timeout"`

	// Companies restricts clustering. Empty means every company known to
	// the observation store.
	Companies []string `koanf:"companies"`

	// RunOnStart runs each sweep once immediately after Start.
	RunOnStart bool `koanf:"run_on_start"`
}

// DefaultConfig returns hourly clustering and graduation with a daily decay.
func DefaultConfig() Config {
	return Config{
		ClusteringInterval: time.Hour,
		DecayInterval:      24 * time.Hour,
		GraduationInterval: time.Hour,
		RunTimeout:         10 * time.Minute,
	}
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Scheduler owns the background sweep goroutines.
//
// Start and Stop are safe for concurrent use. Stop waits for in-flight
// sweeps to observe cancellation before returning.
type Scheduler struct {
	cfg       Config
	clusterer Clusterer
	decayer   Decayer
	graduator Graduator
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClusterer enables the clustering sweep.
func WithClusterer(c Clusterer) Option {
	return func(s *Scheduler) { s.clusterer = c }
}

// WithDecayer enables the decay sweep.
func WithDecayer(d Decayer) Option {
	return func(s *Scheduler) { s.decayer = d }
}

// WithGraduator enables the graduation sweep.
func WithGraduator(g Graduator) Option {
	return func(s *Scheduler) { s.graduator = g }
}

// NewScheduler creates a scheduler. It does not start until Start is called.
func NewScheduler(cfg Config, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.ClusteringInterval < 0 || cfg.DecayInterval < 0 || cfg.GraduationInterval < 0 {
		return nil, fmt.Errorf("scheduler intervals cannot be negative")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}
	s := &Scheduler{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) jobs() []job {
	var jobs []job
	if s.clusterer != nil && s.cfg.ClusteringInterval > 0 {
		jobs = append(jobs, job{name: "clustering", interval: s.cfg.ClusteringInterval, run: s.runClustering})
	}
	if s.decayer != nil && s.cfg.DecayInterval > 0 {
		jobs = append(jobs, job{name: "decay", interval: s.cfg.DecayInterval, run: s.runDecay})
	}
	if s.graduator != nil && s.cfg.GraduationInterval > 0 {
		jobs = append(jobs, job{name: "graduation", interval: s.cfg.GraduationInterval, run: s.runGraduation})
	}
	return jobs
}

// Start launches one goroutine per enabled sweep.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	jobs := s.jobs()
	ctx, cancel := context.WithCancel(context.Background())
	s.stopCh = make(chan struct{})
	s.cancel = cancel
	s.running = true

	for _, j := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, j, s.stopCh)
	}

	s.logger.Info("lifecycle scheduler started",
		zap.Int("jobs", len(jobs)),
		zap.Duration("clustering_interval", s.cfg.ClusteringInterval),
		zap.Duration("decay_interval", s.cfg.DecayInterval),
		zap.Duration("graduation_interval", s.cfg.GraduationInterval),
	)
	return nil
}

// Stop signals every sweep goroutine and waits for them to exit. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("scheduler stop called but not running")
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("lifecycle scheduler stopped")
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, j job, stopCh <-chan struct{}) {
	defer s.wg.Done()

	if s.cfg.RunOnStart {
		s.safeRun(ctx, j)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRun(ctx, j)
		case <-stopCh:
			s.logger.Debug("sweep loop received stop signal", zap.String("job", j.name))
			return
		}
	}
}

// safeRun executes one sweep with a timeout. A panic is logged and the
// loop continues with the next tick.
func (s *Scheduler) safeRun(parent context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			runsTotal.WithLabelValues(j.name, "panic").Inc()
			s.logger.Error("sweep panicked, continuing scheduler",
				zap.String("job", j.name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	err := j.run(ctx)
	runDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
	if err != nil {
		runsTotal.WithLabelValues(j.name, "error").Inc()
		s.logger.Error("sweep failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	runsTotal.WithLabelValues(j.name, "ok").Inc()
}

// RunReport collects the results of RunOnce.
type RunReport struct {
	Clustering []clustering.CreationResult `json:"clustering,omitempty"`
	Decay      *quality.DecayJobResult     `json:"decay,omitempty"`
	Graduation *graduation.SweepResult     `json:"graduation,omitempty"`
}

// RunOnce runs every configured sweep synchronously in the order
// clustering, decay, graduation, ignoring intervals. A failing sweep does
// not prevent the later ones; all errors are joined.
func (s *Scheduler) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}
	var errs []error

	if s.clusterer != nil {
		res, err := s.cluster(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("clustering: %w", err))
		}
		report.Clustering = res
	}
	if s.decayer != nil {
		res, err := s.decayer.RunDecaySweep(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("decay: %w", err))
		}
		report.Decay = res
	}
	if s.graduator != nil {
		res, err := s.graduator.CheckAllGraduations(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("graduation: %w", err))
		}
		report.Graduation = res
	}
	return report, errors.Join(errs...)
}

func (s *Scheduler) cluster(ctx context.Context) ([]clustering.CreationResult, error) {
	if len(s.cfg.Companies) == 0 {
		return s.clusterer.CheckAllCompanies(ctx)
	}
	results := make([]clustering.CreationResult, 0, len(s.cfg.Companies))
	var errs []error
	for _, company := range s.cfg.Companies {
		res, err := s.clusterer.CheckAndCreatePatterns(ctx, company)
		if err != nil {
			errs = append(errs, fmt.Errorf("company %s: %w", company, err))
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

func (s *Scheduler) runClustering(ctx context.Context) error {
	results, err := s.cluster(ctx)
	created := 0
	for _, r := range results {
		created += len(r.Created)
	}
	s.logger.Info("scheduled clustering completed",
		zap.Int("companies", len(results)),
		zap.Int("patterns_created", created),
	)
	return err
}

func (s *Scheduler) runDecay(ctx context.Context) error {
	res, err := s.decayer.RunDecaySweep(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled decay completed",
		zap.Int("processed", res.ProcessedCount),
		zap.Int("decayed", res.DecayedCount),
		zap.Int("below_threshold", len(res.DroppedBelowThreshold)),
	)
	return nil
}

func (s *Scheduler) runGraduation(ctx context.Context) error {
	res, err := s.graduator.CheckAllGraduations(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled graduation completed",
		zap.Int("checked", res.Checked),
		zap.Int("graduated", len(res.Graduated)),
		zap.Int("pending_approval", len(res.PendingApproval)),
	)
	return nil
}
