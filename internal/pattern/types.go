// Package pattern defines the Pattern and Observation entities shared by the
// lifecycle engines, together with the collaborator interfaces they consume.
package pattern

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	// ErrPatternNotFound indicates the requested pattern does not exist.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrObservationNotFound indicates the requested observation does not exist.
	ErrObservationNotFound = errors.New("observation not found")

	// ErrInvalidPattern indicates pattern data failed validation.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidObservation indicates observation data failed validation.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrInvalidConfig indicates malformed engine configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyCluster indicates a pattern was requested from a cluster without members.
	ErrEmptyCluster = errors.New("cluster has no observations")
)

// GlobalCompany is the company value carried by patterns graduated to LevelGlobal.
const GlobalCompany = "*"

// Level is the tenant scope a pattern is shared at. Levels only ever increase.
type Level int

const (
	LevelObservation Level = iota
	LevelUser
	LevelProject
	LevelOrg
	LevelCrossOrg
	LevelGlobal
)

var levelNames = [...]string{"OBSERVATION", "USER", "PROJECT", "ORG", "CROSS_ORG", "GLOBAL"}

// String returns the upper-case level name.
func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the six defined levels.
func (l Level) Valid() bool {
	return l >= LevelObservation && l <= LevelGlobal
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name (case-insensitive).
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name such as "project" or "CROSS_ORG" into a Level.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Outcome is the user's response to an offered pattern.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeModified Outcome = "modified"
	OutcomeRejected Outcome = "rejected"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAccepted, OutcomeModified, OutcomeRejected:
		return true
	}
	return false
}

// Source records how an observation entered the system.
type Source string

const (
	// SourceLive marks observations captured from a running session.
	SourceLive Source = "live"
	// SourceDirect marks observations created directly (imports, seeding).
	SourceDirect Source = "direct"
)

// ModificationType is the kind of structural diff a user applied.
type ModificationType string

const (
	ModificationAdd    ModificationType = "add"
	ModificationRemove ModificationType = "remove"
	ModificationChange ModificationType = "change"
)

// Modification is one structural diff between the offered and final structure.
type Modification struct {
	Type   ModificationType `json:"type"`
	Path   string           `json:"path"`
	Before any              `json:"before,omitempty"`
	After  any              `json:"after,omitempty"`
}

// Section is a named part of a pattern structure.
type Section struct {
	Name          string   `json:"name"`
	FieldTypes    []string `json:"field_types"`
	RequiredSteps []string `json:"required_steps"`
}

// Structure is the template body of a pattern.
type Structure struct {
	Sections []Section `json:"sections"`
}

// Clone returns a deep copy of the structure.
func (s Structure) Clone() Structure {
	out := Structure{}
	if s.Sections != nil {
		out.Sections = make([]Section, len(s.Sections))
		for i, sec := range s.Sections {
			out.Sections[i] = Section{
				Name:          sec.Name,
				FieldTypes:    cloneStrings(sec.FieldTypes),
				RequiredSteps: cloneStrings(sec.RequiredSteps),
			}
		}
	}
	return out
}

// HasWorkflowStep reports whether any section declares a required step.
func (s Structure) HasWorkflowStep() bool {
	for _, sec := range s.Sections {
		if len(sec.RequiredSteps) > 0 {
			return true
		}
	}
	return false
}

// ApplicabilityRule is a weighted predicate used to match input to a pattern.
type ApplicabilityRule struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    string  `json:"value"`
	Weight   float64 `json:"weight"`
}

// Confidence holds reinforcement bookkeeping for a pattern.
type Confidence struct {
	// Base is the prior confidence in [0,1].
	Base float64 `json:"base"`

	// LastGrounded is when the pattern was last used successfully.
	LastGrounded time.Time `json:"last_grounded,omitempty"`

	// GroundingCount is how many times the pattern has been reinforced.
	GroundingCount int `json:"grounding_count"`

	// DecayRate is carried for consumers that model confidence decay.
	DecayRate float64 `json:"decay_rate"`
}

// Metadata holds usage statistics for a pattern.
type Metadata struct {
	UsageCount  int       `json:"usage_count"`
	SuccessRate float64   `json:"success_rate"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Pattern is a reusable structural template scoped to a tenant level.
//
// Values returned by registries are copies. State transitions read a pattern,
// Clone it, modify the clone and write it back.
type Pattern struct {
	ID          string `json:"id"`
	Company     string `json:"company"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Level       Level  `json:"level"`

	Structure          *Structure          `json:"structure,omitempty"`
	ApplicabilityRules []ApplicabilityRule `json:"applicability_rules,omitempty"`

	// QualityScore is the cached 0-100 score; nil means not yet computed.
	QualityScore *int `json:"quality_score,omitempty"`

	Confidence  *Confidence `json:"confidence,omitempty"`
	Metadata    Metadata    `json:"metadata"`
	GraduatedAt *time.Time  `json:"graduated_at,omitempty"`
}

// Clone returns a deep copy of the pattern.
func (p Pattern) Clone() Pattern {
	out := p
	if p.Structure != nil {
		s := p.Structure.Clone()
		out.Structure = &s
	}
	if p.ApplicabilityRules != nil {
		out.ApplicabilityRules = make([]ApplicabilityRule, len(p.ApplicabilityRules))
		copy(out.ApplicabilityRules, p.ApplicabilityRules)
	}
	if p.QualityScore != nil {
		v := *p.QualityScore
		out.QualityScore = &v
	}
	if p.Confidence != nil {
		c := *p.Confidence
		out.Confidence = &c
	}
	if p.GraduatedAt != nil {
		t := *p.GraduatedAt
		out.GraduatedAt = &t
	}
	return out
}

// IsGlobal reports whether the pattern is shared across all tenants.
func (p Pattern) IsGlobal() bool {
	return p.Level == LevelGlobal
}

// Validate checks the fields the lifecycle engines rely on.
func (p Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPattern)
	}
	if !p.Level.Valid() {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidPattern, int(p.Level))
	}
	if p.QualityScore != nil && (*p.QualityScore < 0 || *p.QualityScore > 100) {
		return fmt.Errorf("%w: quality score %d out of range", ErrInvalidPattern, *p.QualityScore)
	}
	if p.Metadata.UsageCount < 0 {
		return fmt.Errorf("%w: negative usage count", ErrInvalidPattern)
	}
	if !finite(p.Metadata.SuccessRate) || p.Metadata.SuccessRate < 0 || p.Metadata.SuccessRate > 1 {
		return fmt.Errorf("%w: success rate %v out of range", ErrInvalidPattern, p.Metadata.SuccessRate)
	}
	if c := p.Confidence; c != nil {
		if !finite(c.Base) || c.Base < 0 || c.Base > 1 {
			return fmt.Errorf("%w: confidence base %v out of range", ErrInvalidPattern, c.Base)
		}
		if c.GroundingCount < 0 {
			return fmt.Errorf("%w: negative grounding count", ErrInvalidPattern)
		}
	}
	return nil
}

// Observation is one recorded outcome of a pattern being offered to a user.
type Observation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Company   string `json:"company"`
	Project   string `json:"project"`
	User      string `json:"user"`

	// PatternID and PatternName are the attribution at capture time. Only
	// clustering relinks them.
	PatternID   string `json:"pattern_id"`
	PatternName string `json:"pattern_name"`

	Outcome        Outcome        `json:"outcome"`
	Modifications  []Modification `json:"modifications,omitempty"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Input          string         `json:"input"`
	Feedback       string         `json:"feedback,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         Source         `json:"source"`
}

// Clone returns a deep copy of the observation.
func (o Observation) Clone() Observation {
	out := o
	if o.Modifications != nil {
		out.Modifications = make([]Modification, len(o.Modifications))
		copy(out.Modifications, o.Modifications)
	}
	return out
}

// Text returns the text used for similarity and keyword extraction.
func (o Observation) Text() string {
	if o.Feedback == "" {
		return o.Input
	}
	if o.Input == "" {
		return o.Feedback
	}
	return o.Input + " " + o.Feedback
}

// Validate checks required observation fields.
func (o Observation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidObservation)
	}
	if o.Company == "" {
		return fmt.Errorf("%w: company is required", ErrInvalidObservation)
	}
	if o.PatternID == "" {
		return fmt.Errorf("%w: pattern id is required", ErrInvalidObservation)
	}
	if !o.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidObservation, o.Outcome)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidObservation, o.Confidence)
	}
	for i, m := range o.Modifications {
		switch m.Type {
		case ModificationAdd, ModificationRemove, ModificationChange:
		default:
			return fmt.Errorf("%w: modification %d has unknown type %q", ErrInvalidObservation, i, m.Type)
		}
	}
	return nil
}

// NewObservation captures a live observation, assigning an id and timestamp.
func NewObservation(o Observation, now time.Time) (Observation, error) {
	return newObservation(o, SourceLive, now)
}

// NewDirectObservation creates an observation outside a live session
// (imports, seeding). Caller-supplied ids and timestamps are kept.
func NewDirectObservation(o Observation, now time.Time) (Observation, error) {
	return newObservation(o, SourceDirect, now)
}

func newObservation(o Observation, source Source, now time.Time) (Observation, error) {
	out := o.Clone()
	if out.ID == "" {
		out.ID = NewID()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	out.Source = source
	if err := out.Validate(); err != nil {
		return Observation{}, err
	}
	return out, nil
}

// ScoredObservation is a similarity search hit.
type ScoredObservation struct {
	Observation Observation `json:"observation"`
	Score       float64     `json:"score"`
}

// ObservationCluster is a group of similar orphan observations produced and
// consumed within a single clustering pass.
type ObservationCluster struct {
	Observations         []Observation `json:"observations"`
	Centroid             string        `json:"centroid"`
	AcceptanceRate       float64       `json:"acceptance_rate"`
	Company              string        `json:"company"`
	SuggestedPatternName string        `json:"suggested_pattern_name"`
}

// ConfigError reports a malformed configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidConfig).
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
