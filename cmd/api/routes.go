package main

import (
	"context"
	"net/http"
	"time"

	"leadgen-platform/internal/config"
	"leadgen-platform/internal/httpapi"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/rbac"
	"leadgen-platform/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	cfg       config.Config
	handlers  httpapi.Handlers
	webhooks  telephony.WebhookHandler
	authMW    gin.HandlerFunc
	estimator ledger.Estimator
	ready     func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := d.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public, signed by Twilio).
	twilio := r.Group("/webhooks/twilio")
	twilio.Use(telephony.SignatureMiddleware(d.cfg.Twilio.AuthToken, d.cfg.Twilio.ValidateSignatures))
	{
		twilio.POST("/voice", d.webhooks.HandleInboundCall)
		twilio.POST("/answer", d.webhooks.HandleOutboundAnswer)
		twilio.POST("/status", d.webhooks.HandleStatusCallback)
	}

	v1 := r.Group("/v1")

	// AUTH routes (token issuance). Login is a development helper.
	authGroup := v1.Group("/auth")
	{
		if !d.cfg.IsProduction() {
			authGroup.POST("/login", h.Login)
		}
		authGroup.POST("/refresh", h.Refresh)
	}

	protected := v1.Group("")
	protected.Use(d.authMW, rbac.RequireUser())

	subscriber := protected.Group("")
	subscriber.Use(rbac.RequireAnyRole(rbac.RoleSubscriber, rbac.RoleAdmin))
	{
		tokens := subscriber.Group("/tokens")
		tokens.GET("/balance", h.GetBalance)
		tokens.GET("/cost/:action_type", h.GetCost)
		tokens.GET("/usage", h.ListUsage)
		tokens.GET("/pricing", h.ListPricing)

		subscriber.POST("/email/send", ledger.RequireTokens(d.estimator, pricing.ActionEmailSend), h.SendEmail)

		campaigns := subscriber.Group("/campaigns")
		campaigns.POST("", h.CreateCampaign)
		campaigns.GET("", h.ListCampaigns)
		campaigns.GET("/:campaign_id", h.GetCampaign)
		campaigns.DELETE("/:campaign_id", h.DeleteCampaign)
		campaigns.POST("/:campaign_id/launch", ledger.RequireTokens(d.estimator, pricing.ActionOutboundCall), h.LaunchCampaign)
		campaigns.POST("/:campaign_id/pause", h.PauseCampaign)
		campaigns.POST("/:campaign_id/resume", h.ResumeCampaign)
		campaigns.POST("/:campaign_id/complete", h.CompleteCampaign)
		campaigns.GET("/:campaign_id/items", h.ListCampaignItems)
		campaigns.GET("/:campaign_id/summary", h.CampaignSummary)

		subscriber.POST("/queue/:queue_id/do-not-call", h.MarkDoNotCall)
		subscriber.GET("/reports/usage", h.UsageReport)
		subscriber.GET("/calls", h.ListCalls)
	}

	// LEDGER routes for internal callers (voice agent, payment webhooks).
	service := protected.Group("/ledger")
	service.Use(rbac.RequireAnyRole(rbac.RoleService))
	{
		service.POST("/debit", h.Debit)
		service.POST("/usage/:log_id/resource", h.AttachResource)
	}

	// ADMIN routes
	admin := protected.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.PUT("/pricing/:action_type", h.UpdatePrice)
		admin.POST("/credits", h.AdminCredit)
		admin.GET("/users/:user_id/balance", h.AdminGetBalance)
		admin.GET("/audit", h.ListAudit)
	}
}
