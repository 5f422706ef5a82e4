// Package server provides the HTTP control surface for improvement loops:
// start, control signals, and status snapshots.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/promptloop/internal/config"
	"github.com/fyrsmithlabs/promptloop/internal/loop"
)

// LoopService is the surface the server bridges HTTP onto. Implemented by
// loop.Client in production and by fakes in tests.
type LoopService interface {
	Start(ctx context.Context, input loop.LoopInput) (*loop.Handle, error)
	Signal(ctx context.Context, loopID string, kind loop.CommandKind) error
	Status(ctx context.Context, loopID string) (*loop.LoopState, error)
}

// Server exposes the loop control surface over HTTP.
type Server struct {
	echo   *echo.Echo
	loops  LoopService
	logger *zap.Logger
	cfg    config.ServerConfig
	loopD  config.LoopConfig

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// New creates a control-surface server.
func New(loops LoopService, cfg config.ServerConfig, loopDefaults config.LoopConfig, logger *zap.Logger) (*Server, error) {
	if loops == nil {
		return nil, fmt.Errorf("loop service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		loops:       loops,
		logger:      logger,
		cfg:         cfg,
		loopD:       loopDefaults,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(s.rateLimit)

	e.GET("/health", s.handleHealth)
	v1 := e.Group("/api/v1")
	v1.POST("/loops", s.handleStart)
	v1.POST("/loops/:id/signals/:kind", s.handleSignal)
	v1.GET("/loops/:id/status", s.handleStatus)

	return s, nil
}

// Handler returns the http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// rateLimit throttles per client IP.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter(c.RealIP()).Allow() {
			s.logger.Warn("rate limit exceeded", zap.String("ip", c.RealIP()))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func (s *Server) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reset the map hourly to bound memory.
	if time.Since(s.lastCleanup) > time.Hour {
		s.limiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.Burst)
		s.limiters[ip] = l
	}
	return l
}

// StartResponse is the body returned from POST /api/v1/loops.
type StartResponse struct {
	LoopID string `json:"loopId"`
	RunID  string `json:"runId"`
}

// SignalResponse is the body returned from the signal endpoint.
type SignalResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the body returned from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStart(c echo.Context) error {
	var input loop.LoopInput
	if err := c.Bind(&input); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if input.ProjectID == "" || input.PromptID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "projectId and promptId are required")
	}
	s.applyDefaults(&input)

	handle, err := s.loops.Start(c.Request().Context(), input)
	if err != nil {
		s.logger.Error("failed to start loop", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start loop")
	}
	return c.JSON(http.StatusAccepted, StartResponse{LoopID: handle.LoopID, RunID: handle.RunID})
}

func (s *Server) handleSignal(c echo.Context) error {
	kind := loop.CommandKind(c.Param("kind"))
	if !loop.ValidCommand(kind) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown signal kind %q", kind))
	}
	if err := s.loops.Signal(c.Request().Context(), c.Param("id"), kind); err != nil {
		s.logger.Error("failed to signal loop",
			zap.String("loop_id", c.Param("id")),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusBadGateway, "failed to deliver signal")
	}
	return c.JSON(http.StatusAccepted, SignalResponse{Status: "accepted"})
}

func (s *Server) handleStatus(c echo.Context) error {
	state, err := s.loops.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		s.logger.Warn("failed to query loop status",
			zap.String("loop_id", c.Param("id")),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusNotFound, "loop not found")
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) applyDefaults(input *loop.LoopInput) {
	if input.MaxIterations == 0 {
		input.MaxIterations = s.loopD.MaxIterations
	}
	if input.ImprovementThreshold == 0 {
		input.ImprovementThreshold = s.loopD.ImprovementThreshold
	}
	if input.QualityFloor == 0 {
		input.QualityFloor = s.loopD.QualityFloor
	}
}
