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
	_ "time/tzdata"

	"leadgen-platform/internal/accounts"
	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/config"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/telephony"
	"leadgen-platform/internal/worker"
	"leadgen-platform/pkg/logger"
	"leadgen-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	slots, err := utils.NewConcurrencyCap(rdb, worker.SlotKeyPrefix, cfg.Worker.PerUserConcurrentCalls, cfg.Worker.CapTTL)
	if err != nil {
		log.Error("call cap init failed", "err", err)
		os.Exit(1)
	}

	var placer telephony.CallPlacer = telephony.DryRunPlacer{Log: log}
	if cfg.Twilio.Enabled() {
		placer, err = telephony.NewTwilioClient(cfg.Twilio, &http.Client{Timeout: 15 * time.Second})
		if err != nil {
			log.Error("twilio init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("twilio not configured, calls will not be placed")
	}

	d, err := worker.NewDispatcher(worker.Deps{
		Queue:   dispatch.NewPostgresQueue(db),
		Placer:  placer,
		Calls:   calls.NewPostgresRepo(db),
		Slots:   slots,
		Numbers: accounts.NewPostgresRepo(db),
	}, cfg.Worker, cfg.Twilio, log)
	if err != nil {
		log.Error("dispatcher init failed", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := utils.HealthCheck(r.Context(), db, 2*time.Second); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := d.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stopErr := d.Stop(shutdownCtx)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown failed", "err", err)
		}
		return stopErr
	})

	if err := g.Wait(); err != nil {
		log.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}
