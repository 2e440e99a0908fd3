package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	kafkaadapter "github.com/couchcryptid/quake-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/quake-monitor/internal/adapter/memory"
	"github.com/couchcryptid/quake-monitor/internal/adapter/postgres"
	"github.com/couchcryptid/quake-monitor/internal/adapter/usgs"
	"github.com/couchcryptid/quake-monitor/internal/broadcast"
	"github.com/couchcryptid/quake-monitor/internal/config"
	"github.com/couchcryptid/quake-monitor/internal/eventbus"
	"github.com/couchcryptid/quake-monitor/internal/ingest"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/couchcryptid/quake-monitor/internal/scheduler"
	"github.com/couchcryptid/quake-monitor/internal/server"
	"github.com/couchcryptid/quake-monitor/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repository selection: Postgres when DATABASE_URL is set, otherwise
	// in-memory (dev mode, no durability across restarts).
	var repo ingest.Repository
	var pgRepo *postgres.Repository
	if cfg.DatabaseURL != "" {
		pgRepo, err = postgres.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			logger.Error("postgres schema setup failed", "error", err)
			os.Exit(1)
		}
		repo = pgRepo
		logger.Info("using postgres repository")
	} else {
		repo = memory.NewRepository()
		logger.Info("using in-memory repository")
	}

	bus := eventbus.New(logger, metrics, 256)

	manager := broadcast.NewManager(cfg.BroadcastMinInterval, logger, metrics)
	managerCtx, stopManager := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		manager.Run(managerCtx)
	}()
	bus.Subscribe(manager.HandleEvent)

	var alertWriter *kafkaadapter.AlertWriter
	if cfg.KafkaEnabled {
		alertWriter = kafkaadapter.NewAlertWriter(cfg, logger)
		bus.Subscribe(alertWriter.HandleEvent)
		logger.Info("kafka alert sink enabled", "topic", cfg.KafkaAlertsTopic)
	}

	feed := usgs.NewClient(cfg.USGSBaseURL, cfg.USGSTimeout, logger, metrics)
	service := ingest.New(repo, bus, logger, metrics, cfg.USGSMaxRecords)
	runner := ingest.NewRunner(feed, service, logger)

	jobs := make([]scheduler.JobConfig, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		jobs = append(jobs, scheduler.JobConfig{
			ID:           j.ID,
			Name:         j.Name,
			Interval:     j.Interval,
			Period:       j.Period,
			MinMagnitude: j.MinMagnitude,
			Enabled:      j.Enabled,
		})
	}
	sched := scheduler.New(jobs, runner, clockwork.NewRealClock(), cfg.TickTimeout, logger, metrics)
	if err := sched.Start(); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	ws := transport.NewWSHandler(manager, logger)
	srv := server.New(cfg, logger, service, runner, sched, ws)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// Scheduler first so no new ingestion starts, then the bus so queued
	// events drain to the manager and kafka before they stop.
	sched.Stop()
	bus.Close()
	stopManager()
	<-managerDone

	if alertWriter != nil {
		if err := alertWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if pgRepo != nil {
		pgRepo.Close()
	}

	logger.Info("shutdown complete")
}
