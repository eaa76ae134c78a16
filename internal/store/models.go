package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

type patternRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	Company     string `gorm:"index;not null"`
	Name        string `gorm:"not null"`
	Category    string
	Description string `gorm:"type:text"`
	Level       int    `gorm:"index;not null"`

	Structure          datatypes.JSON
	ApplicabilityRules datatypes.JSON
	Confidence         datatypes.JSON
	QualityScore       *int

	UsageCount  int     `gorm:"not null"`
	SuccessRate float64 `gorm:"not null"`

	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
	GraduatedAt *time.Time
}

func (patternRow) TableName() string { return "patterns" }

type observationRow struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	SessionID   string `gorm:"index"`
	Company     string `gorm:"index:idx_observations_company_pattern,priority:1;not null"`
	Project     string
	UserName    string `gorm:"column:user_name"`
	PatternID   string `gorm:"index:idx_observations_company_pattern,priority:2;index;not null"`
	PatternName string

	Outcome          string `gorm:"not null"`
	Modifications    datatypes.JSON
	Confidence       float64
	ProcessingTimeMs int64
	Input            string    `gorm:"type:text"`
	Feedback         string    `gorm:"type:text"`
	Timestamp        time.Time `gorm:"column:observed_at;index;not null"`
	Source           string
}

func (observationRow) TableName() string { return "observations" }

func marshalJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSON(raw datatypes.JSON, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func patternToRow(p pattern.Pattern) (patternRow, error) {
	row := patternRow{
		ID:          p.ID,
		Company:     p.Company,
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		Level:       int(p.Level),
		UsageCount:  p.Metadata.UsageCount,
		SuccessRate: p.Metadata.SuccessRate,
		CreatedAt:   p.Metadata.CreatedAt.UTC(),
		UpdatedAt:   p.Metadata.UpdatedAt.UTC(),
	}
	if p.QualityScore != nil {
		v := *p.QualityScore
		row.QualityScore = &v
	}
	if p.GraduatedAt != nil {
		t := p.GraduatedAt.UTC()
		row.GraduatedAt = &t
	}

	var err error
	if p.Structure != nil {
		if row.Structure, err = marshalJSON(p.Structure); err != nil {
			return patternRow{}, fmt.Errorf("encoding structure: %w", err)
		}
	}
	if p.ApplicabilityRules != nil {
		if row.ApplicabilityRules, err = marshalJSON(p.ApplicabilityRules); err != nil {
			return patternRow{}, fmt.Errorf("encoding applicability rules: %w", err)
		}
	}
	if p.Confidence != nil {
		if row.Confidence, err = marshalJSON(p.Confidence); err != nil {
			return patternRow{}, fmt.Errorf("encoding confidence: %w", err)
		}
	}
	return row, nil
}

func (r patternRow) toPattern() (pattern.Pattern, error) {
	p := pattern.Pattern{
		ID:          r.ID,
		Company:     r.Company,
		Name:        r.Name,
		Category:    r.Category,
		Description: r.Description,
		Level:       pattern.Level(r.Level),
		Metadata: pattern.Metadata{
			UsageCount:  r.UsageCount,
			SuccessRate: r.SuccessRate,
			CreatedAt:   r.CreatedAt.UTC(),
			UpdatedAt:   r.UpdatedAt.UTC(),
		},
	}
	if r.QualityScore != nil {
		v := *r.QualityScore
		p.QualityScore = &v
	}
	if r.GraduatedAt != nil {
		t := r.GraduatedAt.UTC()
		p.GraduatedAt = &t
	}

	if len(r.Structure) > 0 && string(r.Structure) != "null" {
		var s pattern.Structure
		if err := unmarshalJSON(r.Structure, &s); err != nil {
			return pattern.Pattern{}, fmt.Errorf("decoding structure of %s: %w", r.ID, err)
		}
		p.Structure = &s
	}
	if err := unmarshalJSON(r.ApplicabilityRules, &p.ApplicabilityRules); err != nil {
		return pattern.Pattern{}, fmt.Errorf("decoding applicability rules of %s: %w", r.ID, err)
	}
	if len(r.Confidence) > 0 && string(r.Confidence) != "null" {
		var c pattern.Confidence
		if err := unmarshalJSON(r.Confidence, &c); err != nil {
			return pattern.Pattern{}, fmt.Errorf("decoding confidence of %s: %w", r.ID, err)
		}
		p.Confidence = &c
	}
	return p, nil
}

func observationToRow(o pattern.Observation) (observationRow, error) {
	row := observationRow{
		ID:               o.ID,
		SessionID:        o.SessionID,
		Company:          o.Company,
		Project:          o.Project,
		UserName:         o.User,
		PatternID:        o.PatternID,
		PatternName:      o.PatternName,
		Outcome:          string(o.Outcome),
		Confidence:       o.Confidence,
		ProcessingTimeMs: o.ProcessingTime.Milliseconds(),
		Input:            o.Input,
		Feedback:         o.Feedback,
		Timestamp:        o.Timestamp.UTC(),
		Source:           string(o.Source),
	}
	if len(o.Modifications) > 0 {
		mods, err := marshalJSON(o.Modifications)
		if err != nil {
			return observationRow{}, fmt.Errorf("encoding modifications: %w", err)
		}
		row.Modifications = mods
	}
	return row, nil
}

func (r observationRow) toObservation() (pattern.Observation, error) {
	o := pattern.Observation{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Company:        r.Company,
		Project:        r.Project,
		User:           r.UserName,
		PatternID:      r.PatternID,
		PatternName:    r.PatternName,
		Outcome:        pattern.Outcome(r.Outcome),
		Confidence:     r.Confidence,
		ProcessingTime: time.Duration(r.ProcessingTimeMs) * time.Millisecond,
		Input:          r.Input,
		Feedback:       r.Feedback,
		Timestamp:      r.Timestamp.UTC(),
		Source:         pattern.Source(r.Source),
	}
	if err := unmarshalJSON(r.Modifications, &o.Modifications); err != nil {
		return pattern.Observation{}, fmt.Errorf("decoding modifications of %s: %w", r.ID, err)
	}
	return o, nil
}
