package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/clustering"
	"github.com/fyrsmithlabs/patternd/internal/graduation"
	"github.com/fyrsmithlabs/patternd/internal/quality"
)

type fakeClusterer struct {
	mu        sync.Mutex
	all       int
	companies []string
	err       error
	order     *[]string
}

func (f *fakeClusterer) CheckAllCompanies(ctx context.Context) ([]clustering.CreationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
	if f.order != nil {
		*f.order = append(*f.order, "clustering")
	}
	return []clustering.CreationResult{{Company: "acme"}}, f.err
}

func (f *fakeClusterer) CheckAndCreatePatterns(ctx context.Context, company string) (*clustering.CreationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies = append(f.companies, company)
	if company == "broken" {
		return nil, errors.New("store offline")
	}
	return &clustering.CreationResult{Company: company}, nil
}

func (f *fakeClusterer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all
}

type fakeDecayer struct {
	calls atomic.Int32
	panic bool
	err   error
	order *[]string
}

func (f *fakeDecayer) RunDecaySweep(ctx context.Context) (*quality.DecayJobResult, error) {
	n := f.calls.Add(1)
	if f.order != nil {
		*f.order = append(*f.order, "decay")
	}
	if f.panic && n == 1 {
		panic("corrupt pattern")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &quality.DecayJobResult{ProcessedCount: 2, DecayedCount: 1}, nil
}

type fakeGraduator struct {
	calls atomic.Int32
	order *[]string
}

func (f *fakeGraduator) CheckAllGraduations(ctx context.Context) (*graduation.SweepResult, error) {
	f.calls.Add(1)
	if f.order != nil {
		*f.order = append(*f.order, "graduation")
	}
	return &graduation.SweepResult{Checked: 4}, nil
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(DefaultConfig(), nil)
	assert.ErrorContains(t, err, "logger cannot be nil")

	cfg := DefaultConfig()
	cfg.DecayInterval = -time.Second
	_, err = NewScheduler(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.RunTimeout = 0
	s, err := NewScheduler(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, s.cfg.RunTimeout)
}

func TestRunOnce_Order(t *testing.T) {
	var order []string
	c := &fakeClusterer{order: &order}
	d := &fakeDecayer{order: &order}
	g := &fakeGraduator{order: &order}

	s, err := NewScheduler(DefaultConfig(), zap.NewNop(), WithClusterer(c), WithDecayer(d), WithGraduator(g))
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"clustering", "decay", "graduation"}, order)
	require.Len(t, report.Clustering, 1)
	assert.Equal(t, 2, report.Decay.ProcessedCount)
	assert.Equal(t, 4, report.Graduation.Checked)
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	d := &fakeDecayer{err: errors.New("registry unavailable")}
	g := &fakeGraduator{}

	s, err := NewScheduler(DefaultConfig(), zap.NewNop(), WithDecayer(d), WithGraduator(g))
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decay: registry unavailable")
	assert.Nil(t, report.Decay)
	assert.Equal(t, int32(1), g.calls.Load())
	assert.NotNil(t, report.Graduation)
}

func TestRunOnce_ConfiguredCompanies(t *testing.T) {
	c := &fakeClusterer{}
	cfg := DefaultConfig()
	cfg.Companies = []string{"acme", "broken", "globex"}

	s, err := NewScheduler(cfg, zap.NewNop(), WithClusterer(c))
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company broken")
	assert.Equal(t, []string{"acme", "broken", "globex"}, c.companies)
	require.Len(t, report.Clustering, 2)
	assert.Equal(t, 0, c.calls())
}

func TestScheduler_StartStop(t *testing.T) {
	c := &fakeClusterer{}
	d := &fakeDecayer{}
	g := &fakeGraduator{}
	cfg := Config{
		ClusteringInterval: 5 * time.Millisecond,
		DecayInterval:      5 * time.Millisecond,
		GraduationInterval: 5 * time.Millisecond,
		RunTimeout:         time.Second,
	}

	s, err := NewScheduler(cfg, zap.NewNop(), WithClusterer(c), WithDecayer(d), WithGraduator(g))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.Running())
	assert.Error(t, s.Start(), "second Start must fail")

	assert.Eventually(t, func() bool {
		return c.calls() >= 2 && d.calls.Load() >= 2 && g.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	require.NoError(t, s.Stop())

	after := g.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, g.calls.Load(), "no sweeps after Stop returns")
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	d := &fakeDecayer{panic: true}
	cfg := Config{DecayInterval: 5 * time.Millisecond, RunTimeout: time.Second}

	s, err := NewScheduler(cfg, zap.NewNop(), WithDecayer(d))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return d.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())
}

func TestScheduler_ZeroIntervalDisables(t *testing.T) {
	d := &fakeDecayer{}
	g := &fakeGraduator{}
	cfg := Config{GraduationInterval: 5 * time.Millisecond, RunTimeout: time.Second}

	s, err := NewScheduler(cfg, zap.NewNop(), WithDecayer(d), WithGraduator(g))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return g.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestScheduler_RunOnStart(t *testing.T) {
	g := &fakeGraduator{}
	cfg := Config{GraduationInterval: time.Hour, RunTimeout: time.Second, RunOnStart: true}

	s, err := NewScheduler(cfg, zap.NewNop(), WithGraduator(g))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return g.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestScheduler_Restart(t *testing.T) {
	g := &fakeGraduator{}
	cfg := Config{GraduationInterval: 5 * time.Millisecond, RunTimeout: time.Second}

	s, err := NewScheduler(cfg, zap.NewNop(), WithGraduator(g))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	before := g.calls.Load()

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return g.calls.Load() > before }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}
