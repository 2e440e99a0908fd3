// Package server wires the HTTP surface: health and metrics endpoints, the
// operational API, and the websocket feed.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-monitor/internal/config"
	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/scheduler"
)

// ReadinessChecker reports whether the service has completed at least one
// successful ingestion cycle.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// TriggerRunner executes an on-demand fetch+ingest cycle.
type TriggerRunner interface {
	Run(ctx context.Context, period, minMagnitude string) (domain.IngestionResult, error)
}

// JobLister exposes the scheduler's job descriptors.
type JobLister interface {
	Status() []scheduler.JobDescriptor
}

// WSHandler serves one websocket connection.
type WSHandler interface {
	Handle(c echo.Context) error
}

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *slog.Logger

	ready   ReadinessChecker
	trigger TriggerRunner
	jobs    JobLister
	ws      WSHandler
}

func New(cfg *config.Config, logger *slog.Logger, ready ReadinessChecker, trigger TriggerRunner, jobs JobLister, ws WSHandler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		cfg:     cfg,
		logger:  logger,
		ready:   ready,
		trigger: trigger,
		jobs:    jobs,
		ws:      ws,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/readyz", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/ws", s.ws.Handle)

	api := s.echo.Group("/api/v1")
	api.POST("/ingestion/trigger", s.handleTrigger)
	api.GET("/scheduler/jobs", s.handleJobs)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.HTTPAddr)
	return s.echo.Start(s.cfg.HTTPAddr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(c echo.Context) error {
	if err := s.ready.CheckReadiness(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// handleTrigger runs one ingestion cycle immediately, outside the schedule.
// The feed window defaults to an hourly sweep and can be overridden per
// request.
func (s *Server) handleTrigger(c echo.Context) error {
	period := c.QueryParam("period")
	if period == "" {
		period = "hour"
	}
	minMagnitude := c.QueryParam("min_magnitude")
	if minMagnitude == "" {
		minMagnitude = "2.5"
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.TickTimeout)
	defer cancel()

	result, err := s.trigger.Run(ctx, period, minMagnitude)
	if err != nil {
		s.logger.Error("manual ingestion failed", "period", period, "error", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "feed fetch failed"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"jobs": s.jobs.Status()})
}
