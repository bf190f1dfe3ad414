// Package main is the entry point for the bike-share loader.
// Its sole responsibility is wiring dependencies together and running one
// load. No business logic belongs here.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/pkordes/bikeshare-etl/internal/config"
	"github.com/pkordes/bikeshare-etl/internal/handler"
	"github.com/pkordes/bikeshare-etl/internal/ingest"
	"github.com/pkordes/bikeshare-etl/internal/metrics"
	"github.com/pkordes/bikeshare-etl/internal/notify"
	"github.com/pkordes/bikeshare-etl/internal/pipeline"
	"github.com/pkordes/bikeshare-etl/internal/provision"
	"github.com/pkordes/bikeshare-etl/internal/repo"
	"github.com/pkordes/bikeshare-etl/internal/snapshot"
	"github.com/pkordes/bikeshare-etl/internal/weather"
)

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		// Use plain stderr before the logger is configured.
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("load aborted", "error", err)
		os.Exit(1)
	}
}

// run wires the pipeline and executes one load. Deferred cleanup runs before
// main decides the exit status.
func run(cfg config.Config, logger *slog.Logger) error {
	// SIGINT/SIGTERM cancel the run between or inside chunks; every merge is
	// atomic, so a re-run picks up cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	// --- Database ---------------------------------------------------------
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	logger.Info("database connection established")

	// goose needs database/sql; share the pool rather than opening a second one.
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	// --- Pipeline ---------------------------------------------------------
	stages := pipeline.Stages{
		Provisioner: provision.New(sqlDB, logger),
		Trips: ingest.New(repo.NewTripRepo(pool), ingest.Options{
			Dirs:      cfg.TripDirs,
			ChunkSize: cfg.ChunkSize,
			Workers:   cfg.IngestWorkers,
		}, logger, collector),
		Snapshots: snapshot.New(repo.NewSnapshotRepo(pool), logger, collector),
		Weather:   weather.New(repo.NewSnapshotRepo(pool), logger, collector),
		Metrics:   collector,
	}

	if cfg.NATSURL != "" {
		pub, err := notify.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger, collector)
		if err != nil {
			logger.Warn("run notifications disabled", "error", err)
		} else {
			defer pub.Close()
			stages.Notifier = pub
		}
	}

	driver := pipeline.New(stages, logger)

	// --- Ops server -------------------------------------------------------
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      handler.NewServer(pool, driver, collector.Handler()).Routes(logger, cfg.CORSOrigins),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("ops server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("ops server shutdown error", "error", err)
			}
		}()
	}

	// --- Run --------------------------------------------------------------
	_, runErr := driver.Run(ctx, cfg.RawDir)

	if cfg.MetricsPushURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := collector.Push(pushCtx, cfg.MetricsPushURL); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}

	if cfg.MetricsAddr != "" && cfg.OpsLinger > 0 {
		logger.Info("ops server lingering", "addr", cfg.MetricsAddr, "for", cfg.OpsLinger)
		linger(ctx, cfg.OpsLinger)
	}
	return runErr
}

// linger blocks for d, or until ctx is cancelled, so the ops server can keep
// answering /status after the run.
func linger(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
