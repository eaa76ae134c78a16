package graduation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// Status is a read-only view of a pattern's progress toward its next level.
type Status struct {
	PatternID        string         `json:"pattern_id"`
	PatternName      string         `json:"pattern_name,omitempty"`
	Company          string         `json:"company,omitempty"`
	CurrentLevel     pattern.Level  `json:"current_level"`
	NextLevel        *pattern.Level `json:"next_level,omitempty"`
	CanGraduate      bool           `json:"can_graduate"`
	RequiresApproval bool           `json:"requires_approval"`
	PendingApproval  bool           `json:"pending_approval"`
	Progress         float64        `json:"progress"`
	MissingCriteria  []string       `json:"missing_criteria"`
	Reason           string         `json:"reason"`
	Kind             ResultKind     `json:"kind"`
	Stats            *Stats         `json:"stats,omitempty"`
	GraduatedAt      *time.Time     `json:"graduated_at,omitempty"`
}

// GraduationStatus reports progress toward the next level for one pattern.
func (e *Engine) GraduationStatus(ctx context.Context, id string) (*Status, error) {
	p, err := e.getPattern(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &Status{PatternID: id, MissingCriteria: []string{}, Reason: reasonNotFound, Kind: KindNotFound}, nil
	}
	return e.status(ctx, *p)
}

func (e *Engine) status(ctx context.Context, p pattern.Pattern) (*Status, error) {
	st := &Status{
		PatternID:       p.ID,
		PatternName:     p.Name,
		Company:         p.Company,
		CurrentLevel:    p.Level,
		MissingCriteria: []string{},
		GraduatedAt:     p.GraduatedAt,
		PendingApproval: e.isPending(p.ID),
	}
	if p.Level >= pattern.LevelGlobal {
		st.Progress = 1
		st.Reason = reasonMaximumLevel
		st.Kind = KindMaximumLevel
		return st, nil
	}

	check, err := e.check(ctx, p)
	if err != nil {
		return nil, err
	}
	st.Stats = check.Stats
	st.CanGraduate = check.CanGraduate
	st.RequiresApproval = check.RequiresApproval
	st.Reason = check.Reason
	st.Kind = check.Kind

	r, ok := e.criteria.ruleFor(p.Level)
	if !ok {
		st.MissingCriteria = append(st.MissingCriteria, fmt.Sprintf("no automatic graduation from %s", p.Level))
		return st, nil
	}
	next := r.to
	st.NextLevel = &next
	st.Progress, st.MissingCriteria = r.progress(*check.Stats)
	return st, nil
}

// GraduationCandidates returns patterns below GLOBAL with automatic criteria
// whose progress is at least minProgress, most advanced first.
func (e *Engine) GraduationCandidates(ctx context.Context, minProgress float64) ([]Status, error) {
	snapshot, err := e.patterns.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}

	out := []Status{}
	for _, p := range snapshot {
		if _, ok := e.criteria.ruleFor(p.Level); !ok {
			continue
		}
		st, err := e.status(ctx, p)
		if err != nil {
			return nil, err
		}
		if st.Progress >= minProgress {
			out = append(out, *st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Progress != out[j].Progress {
			return out[i].Progress > out[j].Progress
		}
		return out[i].PatternID < out[j].PatternID
	})
	return out, nil
}
