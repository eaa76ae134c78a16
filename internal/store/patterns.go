package store

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

var tracer = otel.Tracer("patternd.store")

// PatternRepo is a gorm-backed pattern.PatternRegistry.
type PatternRepo struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPatternRepo creates a pattern repository on db.
func NewPatternRepo(db *gorm.DB, logger *zap.Logger) *PatternRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternRepo{db: db, log: logger.Named("PatternRepo")}
}

// Get returns the pattern with the given id.
func (r *PatternRepo) Get(ctx context.Context, id string) (*pattern.Pattern, error) {
	var row patternRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", pattern.ErrPatternNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading pattern %s: %w", id, err)
	}
	p, err := row.toPattern()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Put inserts or replaces a pattern.
func (r *PatternRepo) Put(ctx context.Context, p pattern.Pattern) error {
	ctx, span := tracer.Start(ctx, "PatternRepo.Put")
	defer span.End()
	span.SetAttributes(
		attribute.String("pattern.id", p.ID),
		attribute.Int("pattern.level", int(p.Level)),
	)

	if p.ID == "" {
		return fmt.Errorf("%w: id is required", pattern.ErrInvalidPattern)
	}
	row, err := patternToRow(p)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return fmt.Errorf("saving pattern %s: %w", p.ID, err)
	}
	return nil
}

// All returns every decodable pattern ordered by id.
func (r *PatternRepo) All(ctx context.Context) ([]pattern.Pattern, error) {
	out, _, err := r.AllWithSkipped(ctx)
	return out, err
}

// AllWithSkipped is All plus the rows that failed to decode.
func (r *PatternRepo) AllWithSkipped(ctx context.Context) ([]pattern.Pattern, []pattern.SkippedRecord, error) {
	var rows []patternRow
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("listing patterns: %w", err)
	}
	out := make([]pattern.Pattern, 0, len(rows))
	var skipped []pattern.SkippedRecord
	for _, row := range rows {
		p, err := row.toPattern()
		if err != nil {
			r.log.Warn("skipping undecodable pattern", zap.String("pattern_id", row.ID), zap.Error(err))
			skipped = append(skipped, pattern.SkippedRecord{ID: row.ID, Reason: err.Error()})
			continue
		}
		out = append(out, p)
	}
	return out, skipped, nil
}

// Count returns the number of stored patterns.
func (r *PatternRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&patternRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting patterns: %w", err)
	}
	return n, nil
}

var _ pattern.SkipReportingRegistry = (*PatternRepo)(nil)
