// Package http provides the patternd admin API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/graduation"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/quality"
)

// Graduator is the graduation surface exposed over HTTP.
type Graduator interface {
	CheckGraduation(ctx context.Context, id string) (*graduation.CheckResult, error)
	ApproveGraduation(ctx context.Context, id, adminUserID, comment string) (*graduation.ApprovalResult, error)
	GraduatePending(ctx context.Context, id, adminUserID, comment string) (*graduation.ApprovalResult, error)
	PendingApprovals() []graduation.PendingApproval
	GraduationStatus(ctx context.Context, id string) (*graduation.Status, error)
	GraduationCandidates(ctx context.Context, minProgress float64) ([]graduation.Status, error)
}

// QualityService is the quality surface exposed over HTTP.
type QualityService interface {
	ScorePattern(ctx context.Context, id string) (int, error)
	Breakdown(ctx context.Context, id string) (*quality.Breakdown, error)
	BoostUsage(ctx context.Context, id string) (*pattern.Pattern, error)
	DecayPreview(ctx context.Context, id string) (*quality.DecayPreview, error)
	DecayingPatterns(ctx context.Context) ([]quality.DecayPreview, error)
}

// Runner runs every lifecycle sweep once.
type Runner interface {
	RunOnce(ctx context.Context) (*lifecycle.RunReport, error)
}

// Deps are the services the admin API serves. Runner is optional.
type Deps struct {
	Patterns     pattern.PatternRegistry
	Observations pattern.ObservationStore
	Graduation   Graduator
	Quality      QualityService
	Runner       Runner
	Clock        pattern.Clock
	Version      string
}

// Server provides HTTP endpoints for patternd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Patterns == nil || deps.Graduation == nil || deps.Quality == nil {
		return nil, fmt.Errorf("patterns, graduation and quality services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if deps.Clock == nil {
		deps.Clock = pattern.SystemClock{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			ctx = logging.WithTenant(ctx, &logging.Tenant{Company: c.QueryParam("company")})
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request", append(logging.ContextFields(ctx),
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)...)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/patterns", s.handleListPatterns)
	v1.GET("/patterns/:id", s.handleGetPattern)
	if s.deps.Observations != nil {
		v1.POST("/observations", s.handleCaptureObservation)
	}

	grad := v1.Group("/graduation")
	grad.GET("/pending", s.handlePending)
	grad.GET("/candidates", s.handleCandidates)
	grad.GET("/:id/status", s.handleStatus)
	grad.GET("/:id/check", s.handleCheck)
	grad.POST("/:id/approve", s.handleApprove)
	grad.POST("/:id/graduate", s.handleGraduatePending)

	q := v1.Group("/quality")
	q.GET("/decaying", s.handleDecaying)
	q.GET("/:id/score", s.handleScore)
	q.GET("/:id/breakdown", s.handleBreakdown)
	q.GET("/:id/decay", s.handleDecayPreview)
	q.POST("/:id/boost", s.handleBoost)

	if s.deps.Runner != nil {
		v1.POST("/lifecycle/run", s.handleRunOnce)
	}
}

// ServeHTTP lets the server be mounted or driven directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
