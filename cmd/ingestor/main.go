// Package main is the entry point for the AirSense ingestor.
//
// It runs the ingestion cycle on a fixed schedule: list the station
// registry, fetch each station's current reading from the upstream feed,
// sanitize and enrich it, and land the results in storage. With -once it
// executes a single cycle and exits, which is the mode used by cron-style
// deployments and smoke tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"airsense/internal/config"
	"airsense/internal/db"
	"airsense/internal/feed"
	"airsense/internal/ingest"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion cycle and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("airsense ingestor starting",
		"environment", cfg.Environment,
		"interval", cfg.Ingest.Interval.String(),
		"concurrency", cfg.Ingest.Concurrency,
		"once", once,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	stationRepo := db.NewStationRepository(pool)
	observationRepo := db.NewObservationRepository(pool)
	feedClient := feed.NewClient(cfg.Feed)

	runner := ingest.NewRunner(feedClient, stationRepo, observationRepo, cfg.Ingest, logger, nil)

	if once {
		result, err := runner.Run(context.Background())
		if err != nil {
			return fmt.Errorf("ingestion run: %w", err)
		}
		if result.Status == ingest.StatusPartialFailure {
			return fmt.Errorf("ingestion run %s completed with failures: %d failed, %d skipped",
				result.RunID, result.Failed, result.Skipped)
		}
		return nil
	}

	return runScheduled(runner, cfg.Ingest.Interval, logger)
}

// runScheduled executes ingestion cycles on a fixed interval until a
// shutdown signal arrives. Cycles do not overlap; a run still in progress
// when the next tick fires causes that tick to be skipped.
func runScheduled(runner *ingest.Runner, interval time.Duration, logger *slog.Logger) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Every(interval).Do(func() {
		if _, err := runner.Run(context.Background()); err != nil {
			logger.Error("ingestion run aborted", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling ingestion job: %w", err)
	}

	scheduler.StartAsync()
	logger.Info("ingestion schedule started", "interval", interval.String())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown

	logger.Info("shutdown signal received", "signal", sig.String())
	scheduler.Stop()
	logger.Info("ingestor stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
