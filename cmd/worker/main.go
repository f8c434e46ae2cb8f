// preflight-worker drains the durable evaluation queue. It shares the
// scoring pipeline with the API process but runs it as retryable
// activities, surviving restarts between queue pop and result store.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/cache"
	"github.com/clearproof/preflight/internal/config"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/lsh"
	"github.com/clearproof/preflight/internal/match"
	"github.com/clearproof/preflight/internal/metrics"
	"github.com/clearproof/preflight/internal/workflow"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	redis, err := cache.New(cfg.RedisURL, cfg.RedisPass, logger)
	if err != nil {
		logger.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer redis.Close()

	m := metrics.New()
	auditLog := audit.NewLogger(store, logger)
	index := lsh.NewIndex(redis, logger)
	matcher := match.NewMatcher(index, logger)

	worker := workflow.NewWorker(store, redis, matcher, auditLog, m,
		core.SystemClock{}, logger, cfg.WorkflowTaskQueue, cfg.WorkflowWorkerParallel)

	// Run blocks until the signal context cancels, then drains in-flight
	// tasks before returning.
	worker.Run(ctx)
	logger.Info("worker exited")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
