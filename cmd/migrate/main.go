package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"leadgen-platform/internal/config"
	"leadgen-platform/internal/migrations"
	"leadgen-platform/pkg/logger"
	"leadgen-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := migrations.Up(ctx, db, log)
	if err != nil {
		log.Error("migrations failed", "err", err, "applied", applied)
		os.Exit(1)
	}
	log.Info("migrations complete", "applied", len(applied))
}
