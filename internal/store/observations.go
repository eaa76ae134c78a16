package store

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// ObservationRepo is a gorm-backed pattern.ObservationStore.
type ObservationRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewObservationRepo creates an observation repository on db.
func NewObservationRepo(db *gorm.DB, logger *zap.Logger) *ObservationRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservationRepo{db: db, log: logger.Named("ObservationRepo")}
}

// Get returns the observation with the given id.
func (r *ObservationRepo) Get(ctx context.Context, id string) (*pattern.Observation, error) {
	var row observationRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", pattern.ErrObservationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading observation %s: %w", id, err)
	}
	o, err := row.toObservation()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByPattern returns observations attributed to patternID, oldest first.
func (r *ObservationRepo) GetByPattern(ctx context.Context, patternID, company string) ([]pattern.Observation, error) {
	return r.GetByPatterns(ctx, []string{patternID}, company)
}

// GetByPatterns returns observations attributed to any of patternIDs, oldest first.
func (r *ObservationRepo) GetByPatterns(ctx context.Context, patternIDs []string, company string) ([]pattern.Observation, error) {
	ctx, span := tracer.Start(ctx, "ObservationRepo.GetByPatterns")
	defer span.End()
	span.SetAttributes(
		attribute.Int("pattern_ids.count", len(patternIDs)),
		attribute.String("company", company),
	)

	if len(patternIDs) == 0 {
		return []pattern.Observation{}, nil
	}
	q := r.db.WithContext(ctx).Where("pattern_id IN ?", patternIDs)
	if company != "" {
		q = q.Where("company = ?", company)
	}
	var rows []observationRow
	if err := q.Order("observed_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	return r.decode(rows), nil
}

// Persist inserts or replaces an observation.
func (r *ObservationRepo) Persist(ctx context.Context, o pattern.Observation) error {
	if err := o.Validate(); err != nil {
		return err
	}
	row, err := observationToRow(o)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error; err != nil {
		return fmt.Errorf("saving observation %s: %w", o.ID, err)
	}
	return nil
}

// Relink changes the pattern attribution of one observation.
func (r *ObservationRepo) Relink(ctx context.Context, observationID, patternID, patternName string) error {
	res := r.db.WithContext(ctx).
		Model(&observationRow{}).
		Where("id = ?", observationID).
		Updates(map[string]any{
			"pattern_id":   patternID,
			"pattern_name": patternName,
		})
	if res.Error != nil {
		return fmt.Errorf("relinking observation %s: %w", observationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", pattern.ErrObservationNotFound, observationID)
	}
	return nil
}

// Companies lists every company with at least one observation, sorted.
func (r *ObservationRepo) Companies(ctx context.Context) ([]string, error) {
	var companies []string
	if err := r.db.WithContext(ctx).
		Model(&observationRow{}).
		Distinct("company").
		Order("company ASC").
		Pluck("company", &companies).Error; err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	if companies == nil {
		companies = []string{}
	}
	return companies, nil
}

// All returns every observation, oldest first.
func (r *ObservationRepo) All(ctx context.Context) ([]pattern.Observation, error) {
	var rows []observationRow
	if err := r.db.WithContext(ctx).Order("observed_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	return r.decode(rows), nil
}

func (r *ObservationRepo) decode(rows []observationRow) []pattern.Observation {
	out := make([]pattern.Observation, 0, len(rows))
	for _, row := range rows {
		o, err := row.toObservation()
		if err != nil {
			r.log.Warn("skipping undecodable observation", zap.String("observation_id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	return out
}

var _ pattern.ObservationStore = (*ObservationRepo)(nil)
