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
	"leadgen-platform/internal/audit"
	"leadgen-platform/internal/auth"
	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/campaign"
	"leadgen-platform/internal/config"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/httpapi"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/metrics"
	"leadgen-platform/internal/notify"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/reporting"
	"leadgen-platform/internal/routing"
	"leadgen-platform/internal/telephony"
	"leadgen-platform/internal/worker"
	"leadgen-platform/pkg/logger"
	"leadgen-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

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

	// Services
	prices := pricing.NewService(pricing.NewCachedRepo(pricing.NewPostgresRepo(db), rdb, cfg.Pricing.CacheTTL, log))
	ledgerSvc := ledger.NewService(db, prices, log, cfg.Ledger)
	accts := accounts.NewPostgresRepo(db)
	queue := dispatch.NewPostgresQueue(db)
	callLog := calls.NewPostgresRepo(db)
	campaignRepo := campaign.NewPostgresRepo(db)
	campaigns := campaign.NewService(campaignRepo)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db), log)

	var sender notify.Sender = notify.LogSender{Log: log}
	if cfg.SendGrid.APIKey != "" {
		sender = notify.NewSendGridClient(cfg.SendGrid, &http.Client{Timeout: 15 * time.Second})
	}

	h := httpapi.Handlers{
		Auth:      authManager,
		Accounts:  accts,
		Ledger:    ledgerSvc,
		Prices:    prices,
		Campaigns: campaigns,
		Launcher:  campaign.NewLauncher(db, ledgerSvc, queue, log),
		Queue:     queue,
		Reports:   reporting.NewService(reporting.NewPostgresRepo(db), campaigns, queue, callLog),
		Calls:     callLog,
		Mailer:    notify.NewMailer(ledgerSvc, sender, log),
		Audit:     auditSvc,
	}

	webhooks := telephony.WebhookHandler{
		Router:         routing.NewEngine(accts, ledgerSvc, callLog, cfg.Twilio.MediaStreamURL, log),
		Sink:           worker.NewStatusRecorder(queue, callLog, slots, log),
		MediaStreamURL: cfg.Twilio.MediaStreamURL,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.GinMiddleware())
	r.Use(httpapi.ClientIP())

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		handlers:  h,
		webhooks:  webhooks,
		authMW:    auth.RequireAccessToken(authManager),
		estimator: ledgerSvc,
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "twilio", cfg.Twilio.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
