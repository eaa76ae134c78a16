package graduation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/registry"
)

var tracer = otel.Tracer("patternd.graduation")

// ErrApproverRequired is returned when an approval carries no admin id.
var ErrApproverRequired = errors.New("admin user id is required")

// ResultKind classifies a graduation outcome.
type ResultKind string

const (
	KindEligible          ResultKind = "eligible"
	KindGraduated         ResultKind = "graduated"
	KindNotFound          ResultKind = "not_found"
	KindMaximumLevel      ResultKind = "maximum_level"
	KindNoCriteria        ResultKind = "no_criteria"
	KindCriteriaNotMet    ResultKind = "criteria_not_met"
	KindInvalidTransition ResultKind = "invalid_transition"
	KindNotPending        ResultKind = "not_pending"
)

const (
	reasonNotFound     = "pattern not found"
	reasonMaximumLevel = "maximum level"
	reasonNoCriteria   = "no graduation criteria configured"
	reasonNotPending   = "no pending approval for pattern"
)

// CheckResult is the eligibility of one pattern for its next level.
type CheckResult struct {
	PatternID        string        `json:"pattern_id"`
	CanGraduate      bool          `json:"can_graduate"`
	FromLevel        pattern.Level `json:"from_level"`
	ToLevel          pattern.Level `json:"to_level,omitempty"`
	RequiresApproval bool          `json:"requires_approval"`
	Reason           string        `json:"reason"`
	Kind             ResultKind    `json:"kind"`
	Stats            *Stats        `json:"stats,omitempty"`
}

// GraduationResult is the outcome of a level transition attempt.
type GraduationResult struct {
	PatternID   string        `json:"pattern_id"`
	Success     bool          `json:"success"`
	FromLevel   pattern.Level `json:"from_level"`
	ToLevel     pattern.Level `json:"to_level"`
	Anonymized  bool          `json:"anonymized"`
	Reason      string        `json:"reason,omitempty"`
	Kind        ResultKind    `json:"kind"`
	GraduatedAt *time.Time    `json:"graduated_at,omitempty"`
}

// ApprovalResult is the outcome of an admin approval.
type ApprovalResult struct {
	GraduationResult
	ApprovedBy string `json:"approved_by"`
	Comment    string `json:"comment,omitempty"`
	Stats      *Stats `json:"stats,omitempty"`
}

// PendingApproval is a pattern eligible for a transition that needs an admin.
type PendingApproval struct {
	PatternID   string        `json:"pattern_id"`
	PatternName string        `json:"pattern_name"`
	Company     string        `json:"company"`
	FromLevel   pattern.Level `json:"from_level"`
	ToLevel     pattern.Level `json:"to_level"`
	Stats       Stats         `json:"stats"`
	RequestedAt time.Time     `json:"requested_at"`
}

// SweepError records a pattern a sweep could not evaluate.
type SweepError struct {
	PatternID string `json:"pattern_id"`
	Error     string `json:"error"`
}

// SweepResult summarizes CheckAllGraduations.
type SweepResult struct {
	Checked         int                `json:"checked"`
	Graduated       []GraduationResult `json:"graduated"`
	PendingApproval []PendingApproval  `json:"pending_approval"`
	Errors          []SweepError       `json:"errors,omitempty"`
}

// Engine evaluates and performs graduations. Mutations of a pattern run
// under that pattern's lock; the lock must be shared with every other
// component that writes patterns.
type Engine struct {
	criteria     Criteria
	patterns     pattern.PatternRegistry
	observations pattern.ObservationStore
	locker       pattern.KeyLocker
	notifier     pattern.GraduationNotifier
	clock        pattern.Clock
	logger       *zap.Logger

	pendingMu sync.RWMutex
	pending   map[string]PendingApproval
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker shares a per-pattern locker with other engines.
func WithLocker(l pattern.KeyLocker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithNotifier registers a collaborator told about every graduation.
func WithNotifier(n pattern.GraduationNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the wall clock.
func WithClock(c pattern.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a graduation engine.
func NewEngine(criteria Criteria, patterns pattern.PatternRegistry, observations pattern.ObservationStore, opts ...Option) (*Engine, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if patterns == nil {
		return nil, fmt.Errorf("pattern registry cannot be nil")
	}
	if observations == nil {
		return nil, fmt.Errorf("observation store cannot be nil")
	}
	e := &Engine{
		criteria:     criteria,
		patterns:     patterns,
		observations: observations,
		locker:       registry.NewLocker(),
		clock:        pattern.SystemClock{},
		logger:       zap.NewNop(),
		pending:      make(map[string]PendingApproval),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Criteria returns the configured criteria.
func (e *Engine) Criteria() Criteria { return e.criteria }

// getPattern returns nil, nil when the pattern does not exist.
func (e *Engine) getPattern(ctx context.Context, id string) (*pattern.Pattern, error) {
	p, err := e.patterns.Get(ctx, id)
	if errors.Is(err, pattern.ErrPatternNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pattern %s: %w", id, err)
	}
	return p, nil
}

func (e *Engine) stats(ctx context.Context, id string) (Stats, error) {
	obs, err := e.observations.GetByPattern(ctx, id, "")
	if err != nil {
		return Stats{}, fmt.Errorf("reading observations for %s: %w", id, err)
	}
	return ComputeStats(obs), nil
}

// CheckGraduation evaluates whether a pattern may move to its next level.
func (e *Engine) CheckGraduation(ctx context.Context, id string) (*CheckResult, error) {
	ctx, span := tracer.Start(ctx, "graduation.CheckGraduation")
	defer span.End()
	span.SetAttributes(attribute.String("pattern_id", id))

	p, err := e.getPattern(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if p == nil {
		return &CheckResult{PatternID: id, Reason: reasonNotFound, Kind: KindNotFound}, nil
	}
	return e.check(ctx, *p)
}

func (e *Engine) check(ctx context.Context, p pattern.Pattern) (*CheckResult, error) {
	res := &CheckResult{PatternID: p.ID, FromLevel: p.Level}
	if p.Level >= pattern.LevelGlobal {
		res.Reason = reasonMaximumLevel
		res.Kind = KindMaximumLevel
		return res, nil
	}

	stats, err := e.stats(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	res.Stats = &stats

	r, ok := e.criteria.ruleFor(p.Level)
	if !ok {
		res.Reason = reasonNoCriteria
		res.Kind = KindNoCriteria
		return res, nil
	}
	res.ToLevel = r.to
	res.RequiresApproval = r.criteria.RequiresApproval

	if reason := r.unmet(stats); reason != "" {
		res.Reason = reason
		res.Kind = KindCriteriaNotMet
		return res, nil
	}
	res.CanGraduate = true
	res.Kind = KindEligible
	res.Reason = fmt.Sprintf("eligible for graduation to %s", r.to)
	return res, nil
}

// validateTransition enforces single-step promotion, allowing only the
// PROJECT to GLOBAL skip.
func validateTransition(from, to pattern.Level) string {
	switch {
	case !to.Valid():
		return fmt.Sprintf("unknown target level %d", int(to))
	case to <= from:
		return fmt.Sprintf("cannot graduate from %s to %s: level must increase", from, to)
	case to > from+1 && !(from == pattern.LevelProject && to == pattern.LevelGlobal):
		return fmt.Sprintf("cannot skip levels from %s to %s", from, to)
	}
	return ""
}

// Graduate moves a pattern to level to. It does not re-check criteria;
// callers wanting the approval gate use ApproveGraduation.
func (e *Engine) Graduate(ctx context.Context, id string, to pattern.Level) (*GraduationResult, error) {
	unlock := e.locker.Lock(id)
	defer unlock()
	return e.graduateLocked(ctx, id, to, "")
}

func (e *Engine) graduateLocked(ctx context.Context, id string, to pattern.Level, approvedBy string) (*GraduationResult, error) {
	ctx, span := tracer.Start(ctx, "graduation.Graduate")
	defer span.End()
	span.SetAttributes(
		attribute.String("pattern_id", id),
		attribute.String("to_level", to.String()),
	)

	p, err := e.getPattern(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if p == nil {
		return &GraduationResult{PatternID: id, ToLevel: to, Reason: reasonNotFound, Kind: KindNotFound}, nil
	}

	res := &GraduationResult{PatternID: id, FromLevel: p.Level, ToLevel: to}
	if reason := validateTransition(p.Level, to); reason != "" {
		res.Reason = reason
		res.Kind = KindInvalidTransition
		graduationsRejected.WithLabelValues(string(KindInvalidTransition)).Inc()
		return res, nil
	}

	now := e.clock.Now()
	updated := p.Clone()
	if to == pattern.LevelGlobal {
		if updated.Structure != nil {
			anon := Anonymize(*updated.Structure)
			updated.Structure = &anon
		}
		updated.Company = pattern.GlobalCompany
		res.Anonymized = true
	}
	updated.Level = to
	updated.GraduatedAt = &now

	if err := e.patterns.Put(ctx, updated); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("saving graduated pattern %s: %w", id, err)
	}
	e.clearPending(id)

	res.Success = true
	res.Kind = KindGraduated
	res.GraduatedAt = &now
	graduationsTotal.WithLabelValues(p.Level.String(), to.String()).Inc()

	e.logger.Info("pattern graduated",
		zap.String("pattern_id", id),
		zap.String("pattern_name", p.Name),
		zap.String("company", p.Company),
		zap.Stringer("from_level", p.Level),
		zap.Stringer("to_level", to),
		zap.Bool("anonymized", res.Anonymized),
		zap.String("approved_by", approvedBy),
	)

	if e.notifier != nil {
		evt := pattern.GraduationEvent{
			PatternID:   id,
			PatternName: updated.Name,
			Company:     p.Company,
			FromLevel:   p.Level,
			ToLevel:     to,
			Anonymized:  res.Anonymized,
			ApprovedBy:  approvedBy,
			GraduatedAt: now,
		}
		if err := e.notifier.PatternGraduated(ctx, evt); err != nil {
			e.logger.Warn("graduation notifier failed",
				zap.String("pattern_id", id),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

// ApproveGraduation performs an admin-approved PROJECT to GLOBAL promotion.
// Eligibility is re-checked under the pattern lock before graduating.
func (e *Engine) ApproveGraduation(ctx context.Context, id, adminUserID, comment string) (*ApprovalResult, error) {
	if adminUserID == "" {
		return nil, ErrApproverRequired
	}

	unlock := e.locker.Lock(id)
	defer unlock()

	p, err := e.getPattern(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &ApprovalResult{ApprovedBy: adminUserID, Comment: comment}
	res.PatternID = id
	res.ToLevel = pattern.LevelGlobal
	if p == nil {
		res.Reason = reasonNotFound
		res.Kind = KindNotFound
		return res, nil
	}
	res.FromLevel = p.Level
	if p.Level != pattern.LevelProject {
		res.Reason = fmt.Sprintf("approval only applies to %s patterns, pattern is %s", pattern.LevelProject, p.Level)
		res.Kind = KindInvalidTransition
		return res, nil
	}

	return e.approveLocked(ctx, *p, res)
}

// GraduatePending performs the transition queued for a pattern by a sweep,
// whatever its levels. Eligibility is re-checked under the pattern lock; a
// request that no longer holds is dropped from the queue.
func (e *Engine) GraduatePending(ctx context.Context, id, adminUserID, comment string) (*ApprovalResult, error) {
	if adminUserID == "" {
		return nil, ErrApproverRequired
	}

	unlock := e.locker.Lock(id)
	defer unlock()

	res := &ApprovalResult{ApprovedBy: adminUserID, Comment: comment}
	res.PatternID = id
	pa, ok := e.pendingEntry(id)
	if !ok {
		res.Reason = reasonNotPending
		res.Kind = KindNotPending
		return res, nil
	}
	res.FromLevel = pa.FromLevel
	res.ToLevel = pa.ToLevel

	p, err := e.getPattern(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		e.clearPending(id)
		res.Reason = reasonNotFound
		res.Kind = KindNotFound
		return res, nil
	}
	if p.Level != pa.FromLevel {
		e.clearPending(id)
		res.FromLevel = p.Level
		res.Reason = fmt.Sprintf("pending request was for %s but pattern is now %s", pa.FromLevel, p.Level)
		res.Kind = KindInvalidTransition
		return res, nil
	}
	return e.approveLocked(ctx, *p, res)
}

// approveLocked re-checks p and graduates it to res.ToLevel. A check that
// no longer passes, or now points at another level, clears any pending entry.
func (e *Engine) approveLocked(ctx context.Context, p pattern.Pattern, res *ApprovalResult) (*ApprovalResult, error) {
	check, err := e.check(ctx, p)
	if err != nil {
		return nil, err
	}
	res.Stats = check.Stats
	if !check.CanGraduate || check.ToLevel != res.ToLevel {
		e.clearPending(p.ID)
		res.Reason = check.Reason
		res.Kind = check.Kind
		if check.CanGraduate {
			res.Reason = fmt.Sprintf("pattern is now eligible for %s, not %s", check.ToLevel, res.ToLevel)
			res.Kind = KindInvalidTransition
		}
		graduationsRejected.WithLabelValues(string(res.Kind)).Inc()
		return res, nil
	}

	g, err := e.graduateLocked(ctx, p.ID, res.ToLevel, res.ApprovedBy)
	if err != nil {
		return nil, err
	}
	res.GraduationResult = *g

	e.logger.Info("graduation approved",
		zap.String("pattern_id", p.ID),
		zap.String("admin_user_id", res.ApprovedBy),
		zap.Stringer("to_level", res.ToLevel),
		zap.String("comment", res.Comment),
	)
	return res, nil
}

// CheckAllGraduations sweeps every pattern below GLOBAL. Eligible patterns
// whose transition needs no approval are graduated; the rest are queued as
// pending approvals. Patterns are read from a snapshot and each one is
// re-read and handled under its own lock.
func (e *Engine) CheckAllGraduations(ctx context.Context) (*SweepResult, error) {
	ctx, span := tracer.Start(ctx, "graduation.CheckAllGraduations")
	defer span.End()

	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	snapshot, err := e.patterns.All(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing patterns: %w", err)
	}

	res := &SweepResult{Graduated: []GraduationResult{}, PendingApproval: []PendingApproval{}}
	for _, snap := range snapshot {
		if snap.Level >= pattern.LevelGlobal {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.sweepOne(ctx, snap.ID, res); err != nil {
			e.logger.Error("graduation check failed",
				zap.String("pattern_id", snap.ID),
				zap.Error(err),
			)
			res.Errors = append(res.Errors, SweepError{PatternID: snap.ID, Error: err.Error()})
		}
	}

	span.SetAttributes(
		attribute.Int("checked", res.Checked),
		attribute.Int("graduated", len(res.Graduated)),
		attribute.Int("pending", len(res.PendingApproval)),
	)
	e.logger.Info("graduation sweep completed",
		zap.Int("checked", res.Checked),
		zap.Int("graduated", len(res.Graduated)),
		zap.Int("pending_approval", len(res.PendingApproval)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (e *Engine) sweepOne(ctx context.Context, id string, res *SweepResult) error {
	unlock := e.locker.Lock(id)
	defer unlock()

	p, err := e.getPattern(ctx, id)
	if err != nil {
		return err
	}
	if p == nil || p.Level >= pattern.LevelGlobal {
		return nil
	}
	res.Checked++

	check, err := e.check(ctx, *p)
	if err != nil {
		return err
	}
	if !check.CanGraduate {
		e.clearPending(id)
		return nil
	}

	if check.RequiresApproval {
		pa := PendingApproval{
			PatternID:   p.ID,
			PatternName: p.Name,
			Company:     p.Company,
			FromLevel:   p.Level,
			ToLevel:     check.ToLevel,
			Stats:       *check.Stats,
			RequestedAt: e.clock.Now(),
		}
		e.setPending(pa)
		res.PendingApproval = append(res.PendingApproval, pa)
		return nil
	}

	g, err := e.graduateLocked(ctx, id, check.ToLevel, "")
	if err != nil {
		return err
	}
	if g.Success {
		res.Graduated = append(res.Graduated, *g)
	}
	return nil
}

func (e *Engine) setPending(pa PendingApproval) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[pa.PatternID] = pa
	pendingApprovals.Set(float64(len(e.pending)))
}

func (e *Engine) clearPending(id string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pending, id)
	pendingApprovals.Set(float64(len(e.pending)))
}

func (e *Engine) pendingEntry(id string) (PendingApproval, bool) {
	e.pendingMu.RLock()
	defer e.pendingMu.RUnlock()
	pa, ok := e.pending[id]
	return pa, ok
}

func (e *Engine) isPending(id string) bool {
	e.pendingMu.RLock()
	defer e.pendingMu.RUnlock()
	_, ok := e.pending[id]
	return ok
}

// PendingApprovals returns the approval queue, oldest request first.
func (e *Engine) PendingApprovals() []PendingApproval {
	e.pendingMu.RLock()
	out := make([]PendingApproval, 0, len(e.pending))
	for _, pa := range e.pending {
		out = append(out, pa)
	}
	e.pendingMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out
}
