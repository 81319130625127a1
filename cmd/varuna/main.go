package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/varunahq/varuna/internal/config"
	"github.com/varunahq/varuna/internal/engine"
	"github.com/varunahq/varuna/internal/history"
	"github.com/varunahq/varuna/internal/incident"
	"github.com/varunahq/varuna/internal/maintenance"
	"github.com/varunahq/varuna/internal/metrics"
	"github.com/varunahq/varuna/internal/ops"
	"github.com/varunahq/varuna/internal/probe"
	"github.com/varunahq/varuna/internal/queue"
	"github.com/varunahq/varuna/internal/runner"
	"github.com/varunahq/varuna/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run every monitor once, print results, and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("varuna %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)

	if *once {
		os.Exit(runOnce(cfg, logger))
	}

	logger.Info("starting varuna", "version", version, "monitors", len(cfg.Monitors))

	store, err := storage.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	registry := probe.DefaultRegistry(cfg.Engine.AllowPrivate())
	checkRunner := runner.New(registry, cfg.Engine.RunnerConcurrency, logger)
	oracle := maintenance.NewOracle(store)
	detector := incident.NewDetector(store, oracle, cfg.Engine.FailureThreshold, logger)
	jobQueue := queue.New(store, cfg.Engine.MaxJobRetries, logger)

	eng := engine.New(store, jobQueue, checkRunner, detector, oracle, m, engine.Options{
		Workers:         cfg.Engine.Workers,
		ClaimsPerSecond: cfg.Engine.ClaimsPerSecond,
		LeaseTimeout:    cfg.Engine.LeaseTimeout,
		DrainTimeout:    cfg.Engine.DrainTimeout,
	}, logger)

	if err := eng.Reload(ctx, engine.SetFromConfig(cfg)); err != nil {
		logger.Error("apply configuration", "error", err)
		os.Exit(1)
	}

	aggregator := history.NewAggregator(store, m, cfg.Database.RetentionDays, cfg.Database.HistoryRetentionDays, logger)
	if err := aggregator.Backfill(ctx); err != nil {
		logger.Warn("history backfill", "error", err)
	}
	if err := aggregator.Start(ctx); err != nil {
		logger.Error("start history aggregator", "error", err)
		os.Exit(1)
	}
	defer aggregator.Stop()

	opsServer := ops.NewServer(cfg.Ops.Listen, store, eng, m, logger)
	opsServer.Start(func(err error) {
		logger.Error("ops server error", "error", err)
		cancel()
	})

	go logEvents(ctx, eng, logger)
	go watchConfig(ctx, *configPath, eng, logger)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	cancel()
	<-engineDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// logEvents is the in-process consumer of incident lifecycle events.
// Delivery to external channels is out of scope; operators tail the
// log or scrape the counters.
func logEvents(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eng.Events():
			logger.Info("incident event",
				slog.String("kind", event.Kind),
				slog.Int64("monitor_id", event.MonitorID),
				slog.String("monitor", event.MonitorName),
				slog.Int64("incident_id", event.IncidentID),
				slog.String("severity", event.Severity),
				slog.String("title", event.Title))
		}
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
