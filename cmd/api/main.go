package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmellak/aistudio/internal/app/migrate"
	httpx "github.com/hmellak/aistudio/internal/http"
	"github.com/hmellak/aistudio/internal/repository/postgres"
	"github.com/hmellak/aistudio/internal/service/auth"
	"github.com/hmellak/aistudio/internal/service/project"
	"github.com/hmellak/aistudio/internal/service/run"
	"github.com/hmellak/aistudio/internal/service/usage"
	"github.com/hmellak/aistudio/internal/ws"
	"github.com/hmellak/aistudio/pkg/config"
	"github.com/hmellak/aistudio/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.LoadAPIConfig()

	level := slog.LevelInfo
	if cfg.Environment == "development" {
		level = slog.LevelDebug
	}
	log := logger.New("aistudio-api", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database pool init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrator, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("migration runner init failed", "error", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migrator.Ping(ctx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	if err := migrator.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	store := postgres.New(pool)
	hub := ws.NewHub(cfg.WSRunBuffer)

	authSvc := auth.New(store, log, cfg)
	projectSvc := project.New(store, log)
	runSvc := run.New(store, hub, log)
	usageSvc := usage.New(store, log)

	var limiter httpx.RateLimiter
	if cfg.RateLimitRedisAddr != "" {
		limiter, err = httpx.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Error("redis rate limiter init failed", "error", err)
			os.Exit(1)
		}
		log.Info("rate limiting backed by redis", "addr", cfg.RateLimitRedisAddr)
	} else {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, authSvc, projectSvc, runSvc, usageSvc, hub, limiter, cfg.RunnerAuthToken, pool.Ping)
	defer router.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.Addr, "environment", cfg.Environment)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
