// Package http provides the loomd HTTP API: task CRUD, pipeline
// submission and stop, build-log queries, queue status, recent events,
// and the recovery advisor surface.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/loomd/internal/events"
	"github.com/fyrsmithlabs/loomd/internal/logging"
	"github.com/fyrsmithlabs/loomd/internal/pipeline"
	"github.com/fyrsmithlabs/loomd/internal/recovery"
	"github.com/fyrsmithlabs/loomd/internal/task"
)

// Server provides HTTP endpoints for loomd.
type Server struct {
	echo     *echo.Echo
	store    *task.Store
	pipeline pipeline.Service
	recovery recovery.Service
	bus      *events.Bus
	logger   *logging.Logger
	config   *Config
	limiter  *rate.Limiter
}

// Config controls where the API listens and how fast it accepts
// pipeline submissions.
type Config struct {
	Host string
	Port int

	// SubmissionRate and SubmissionBurst bound how fast pipeline
	// submissions are accepted, in requests per second.
	SubmissionRate  float64
	SubmissionBurst int
}

// NewServer wires the API over the given store and services. A nil cfg
// selects the loopback defaults.
func NewServer(store *task.Store, pipe pipeline.Service, rec recovery.Service, bus *events.Bus, logger *logging.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if pipe == nil {
		return nil, fmt.Errorf("pipeline service cannot be nil")
	}
	if rec == nil {
		return nil, fmt.Errorf("recovery service cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{
			Host:            "127.0.0.1",
			Port:            9876,
			SubmissionRate:  5,
			SubmissionBurst: 10,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(metricsMiddleware(logger.Underlying()))

	s := &Server{
		echo:     e,
		store:    store,
		pipeline: pipe,
		recovery: rec,
		bus:      bus,
		logger:   logger,
		config:   cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.SubmissionRate), cfg.SubmissionBurst),
	}

	s.registerRoutes()

	return s, nil
}

// requestLogger tags the request context with Echo's request ID, so log
// lines written by handlers carry it, and emits one line per request on
// the way out.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.POST("/tasks/:id/pipeline", s.handleSubmitPipeline, s.submissionRateLimit)
	v1.POST("/tasks/:id/stop", s.handleStopPipeline)
	v1.GET("/tasks/:id/build-logs", s.handleBuildLogs)
	v1.GET("/tasks/:id/build-status", s.handleBuildStatus)
	v1.GET("/pipeline/queue", s.handleQueueStatus)
	v1.GET("/events", s.handleEvents)
	v1.POST("/recovery", s.handleRecoveryRecord)
	v1.GET("/recovery", s.handleRecoveryList)
	v1.GET("/recovery/suggest", s.handleRecoverySuggest)
	v1.POST("/recovery/:id/success", s.handleRecoverySuccess)
}

// submissionRateLimit rejects pipeline submissions past the configured
// rate with 429. Query routes are not limited.
func (s *Server) submissionRateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter.Allow() {
			return echo.NewHTTPError(http.StatusTooManyRequests, "submission rate limit exceeded")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "loomd"})
}

// Echo exposes the underlying router so the daemon can attach
// additional routes such as /metrics.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start listens on the configured address and blocks until the server
// stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "http server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "http server shutting down")
	return s.echo.Shutdown(ctx)
}
