package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/graduation"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.deps.Version})
}

// handleListPatterns lists patterns, optionally filtered by company and level.
func (s *Server) handleListPatterns(c echo.Context) error {
	all, err := s.deps.Patterns.All(c.Request().Context())
	if err != nil {
		return s.internalError(c, "listing patterns", err)
	}

	company := c.QueryParam("company")
	var level *pattern.Level
	if raw := c.QueryParam("level"); raw != "" {
		l, err := pattern.ParseLevel(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		level = &l
	}

	out := make([]pattern.Pattern, 0, len(all))
	for _, p := range all {
		if company != "" && p.Company != company {
			continue
		}
		if level != nil && p.Level != *level {
			continue
		}
		out = append(out, p)
	}
	return c.JSON(http.StatusOK, PatternListResponse{Patterns: out, Count: len(out)})
}

func (s *Server) handleGetPattern(c echo.Context) error {
	p, err := s.deps.Patterns.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, "getting pattern", err)
	}
	return c.JSON(http.StatusOK, p)
}

// handleCaptureObservation records one observation. Live captures get a
// fresh id and timestamp; direct ones keep what the caller sent.
func (s *Server) handleCaptureObservation(c echo.Context) error {
	var req ObservationRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid observation request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.ProcessingTime < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "processing_time must not be negative")
	}

	in := pattern.Observation{
		ID:             req.ID,
		SessionID:      req.SessionID,
		Company:        req.Company,
		Project:        req.Project,
		User:           req.User,
		PatternID:      req.PatternID,
		PatternName:    req.PatternName,
		Outcome:        req.Outcome,
		Modifications:  req.Modifications,
		Confidence:     req.Confidence,
		ProcessingTime: req.ProcessingTime,
		Input:          req.Input,
		Feedback:       req.Feedback,
		Timestamp:      req.Timestamp,
	}
	now := s.deps.Clock.Now()
	var (
		obs pattern.Observation
		err error
	)
	if req.Direct {
		obs, err = pattern.NewDirectObservation(in, now)
	} else {
		in.ID = ""
		in.Timestamp = time.Time{}
		obs, err = pattern.NewObservation(in, now)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.deps.Observations.Persist(c.Request().Context(), obs); err != nil {
		return s.mapError(c, "persisting observation", err)
	}
	return c.JSON(http.StatusCreated, obs)
}

func (s *Server) handlePending(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Graduation.PendingApprovals())
}

func (s *Server) handleCandidates(c echo.Context) error {
	minProgress := 0.0
	if raw := c.QueryParam("min_progress"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "min_progress must be a number in [0,1]")
		}
		minProgress = v
	}
	out, err := s.deps.Graduation.GraduationCandidates(c.Request().Context(), minProgress)
	if err != nil {
		return s.internalError(c, "listing candidates", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.deps.Graduation.GraduationStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, "graduation status", err)
	}
	if st.Kind == graduation.KindNotFound {
		return c.JSON(http.StatusNotFound, st)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleCheck(c echo.Context) error {
	res, err := s.deps.Graduation.CheckGraduation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, "graduation check", err)
	}
	if res.Kind == graduation.KindNotFound {
		return c.JSON(http.StatusNotFound, res)
	}
	return c.JSON(http.StatusOK, res)
}

// handleApprove approves a pending PROJECT to GLOBAL graduation. A refusal
// is reported as 409 with the result body explaining why.
func (s *Server) handleApprove(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Graduation.ApproveGraduation(c.Request().Context(), c.Param("id"), req.AdminUserID, req.Comment)
	if err != nil {
		return s.mapError(c, "approving graduation", err)
	}
	switch {
	case res.Success:
		return c.JSON(http.StatusOK, res)
	case res.Kind == graduation.KindNotFound:
		return c.JSON(http.StatusNotFound, res)
	default:
		return c.JSON(http.StatusConflict, res)
	}
}

// handleGraduatePending performs whatever transition a sweep queued for
// the pattern. A pattern with nothing queued is reported as 404.
func (s *Server) handleGraduatePending(c echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Graduation.GraduatePending(c.Request().Context(), c.Param("id"), req.AdminUserID, req.Comment)
	if err != nil {
		return s.mapError(c, "graduating pending pattern", err)
	}
	switch {
	case res.Success:
		return c.JSON(http.StatusOK, res)
	case res.Kind == graduation.KindNotFound, res.Kind == graduation.KindNotPending:
		return c.JSON(http.StatusNotFound, res)
	default:
		return c.JSON(http.StatusConflict, res)
	}
}

func (s *Server) handleScore(c echo.Context) error {
	id := c.Param("id")
	score, err := s.deps.Quality.ScorePattern(c.Request().Context(), id)
	if err != nil {
		return s.mapError(c, "scoring pattern", err)
	}
	return c.JSON(http.StatusOK, ScoreResponse{PatternID: id, QualityScore: score})
}

func (s *Server) handleBreakdown(c echo.Context) error {
	b, err := s.deps.Quality.Breakdown(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, "score breakdown", err)
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) handleDecayPreview(c echo.Context) error {
	p, err := s.deps.Quality.DecayPreview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, "decay preview", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleDecaying(c echo.Context) error {
	out, err := s.deps.Quality.DecayingPatterns(c.Request().Context())
	if err != nil {
		return s.internalError(c, "listing decaying patterns", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleBoost(c echo.Context) error {
	p, err := s.deps.Quality.BoostUsage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, "boosting usage", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleRunOnce(c echo.Context) error {
	report, err := s.deps.Runner.RunOnce(c.Request().Context())
	if err != nil {
		s.logger.Warn("lifecycle run finished with errors", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"report": report,
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) mapError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, pattern.ErrPatternNotFound), errors.Is(err, pattern.ErrObservationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, graduation.ErrApproverRequired),
		errors.Is(err, pattern.ErrInvalidObservation),
		errors.Is(err, pattern.ErrInvalidPattern):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return s.internalError(c, op, err)
}

func (s *Server) internalError(c echo.Context, op string, err error) error {
	s.logger.Error(op+" failed",
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
}
