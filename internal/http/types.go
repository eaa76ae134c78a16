package http

import (
	"time"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// PatternListResponse is the response body for GET /api/v1/patterns.
type PatternListResponse struct {
	Patterns []pattern.Pattern `json:"patterns"`
	Count    int               `json:"count"`
}

// ApproveRequest is the request body for POST /api/v1/graduation/:id/approve
// and POST /api/v1/graduation/:id/graduate.
type ApproveRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Comment     string `json:"comment"`
}

// ScoreResponse is the response body for GET /api/v1/quality/:id/score.
type ScoreResponse struct {
	PatternID    string `json:"pattern_id"`
	QualityScore int    `json:"quality_score"`
}

// ObservationRequest is the request body for POST /api/v1/observations.
type ObservationRequest struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	Company       string                 `json:"company"`
	Project       string                 `json:"project"`
	User          string                 `json:"user"`
	PatternID     string                 `json:"pattern_id"`
	PatternName   string                 `json:"pattern_name"`
	Outcome       pattern.Outcome        `json:"outcome"`
	Modifications []pattern.Modification `json:"modifications"`
	Confidence    float64                `json:"confidence"`
	Input         string                 `json:"input"`
	Feedback      string                 `json:"feedback"`

	// ProcessingTime is in nanoseconds, as on pattern.Observation.
	ProcessingTime time.Duration `json:"processing_time"`

	// Direct marks imports and seeding; caller ids and timestamps are kept.
	// Timestamp is ignored for live captures.
	Direct    bool      `json:"direct"`
	Timestamp time.Time `json:"timestamp"`
}
