package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hmellak/aistudio/internal/app/migrate"
	"github.com/hmellak/aistudio/pkg/config"
	"github.com/hmellak/aistudio/pkg/logger"
)

func main() {
	var (
		command = flag.String("command", "up", "migration command: up, status, down")
		target  = flag.Int64("to", 0, "target version for down")
	)
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("aistudio-migrate", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database pool init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("migration runner init failed", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Ping(ctx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		log.Error("unknown command", "command", *command)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", *command)
}
