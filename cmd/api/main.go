// preflight-api is the HTTP front end: evaluation, template management,
// the admin control plane and dashboard auth.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clearproof/preflight/internal/admin"
	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/auth"
	"github.com/clearproof/preflight/internal/cache"
	"github.com/clearproof/preflight/internal/config"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/evaluate"
	"github.com/clearproof/preflight/internal/httpapi"
	"github.com/clearproof/preflight/internal/lsh"
	"github.com/clearproof/preflight/internal/match"
	"github.com/clearproof/preflight/internal/metrics"
	"github.com/clearproof/preflight/internal/ratelimit"
	"github.com/clearproof/preflight/internal/workflow"
)

func main() {
	// .env is for local development; absence is not an error.
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
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	redis, err := cache.New(cfg.RedisURL, cfg.RedisPass, logger)
	if err != nil {
		logger.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer redis.Close()

	m := metrics.New()
	clock := core.SystemClock{}
	auditLog := audit.NewLogger(store, logger)
	authenticator := auth.NewAuthenticator(store, auditLog, cfg.APIKeySalt, logger)
	blocklist := auth.NewBlocklist(redis, logger)
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpireMinutes, blocklist)
	users := auth.NewUserService(store, auditLog, jwtMgr)
	breaker := ratelimit.NewBreaker(5, 30*time.Second)
	limiter := ratelimit.NewLimiter(redis, breaker, logger)
	index := lsh.NewIndex(redis, logger)
	matcher := match.NewMatcher(index, logger)
	orchestrator := evaluate.New(store, matcher, auditLog, m, clock, logger)
	wfClient := workflow.NewClient(redis, cfg.WorkflowTaskQueue)
	adminSvc := admin.NewService(store, auditLog, cfg.APIKeySalt, clock, logger)

	server := httpapi.NewServer(httpapi.Deps{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Cache:         redis,
		Authenticator: authenticator,
		Users:         users,
		JWT:           jwtMgr,
		Limiter:       limiter,
		Audit:         auditLog,
		Metrics:       m,
		Orchestrator:  orchestrator,
		Matcher:       matcher,
		Workflow:      wfClient,
		Admin:         adminSvc,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
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
