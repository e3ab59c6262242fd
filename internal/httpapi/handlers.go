package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"leadgen-platform/internal/accounts"
	"leadgen-platform/internal/audit"
	"leadgen-platform/internal/auth"
	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/campaign"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/notify"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/rbac"
	"leadgen-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Accounts accounts.Repository

	Ledger    Ledger
	Prices    Prices
	Campaigns *campaign.Service
	Launcher  Launcher
	Queue     dispatch.Queue
	Reports   *reporting.Service
	Calls     CallHistory
	Mailer    Mailer
	Audit     *audit.Service
}

// Ledger is implemented by *ledger.Service.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (ledger.Balance, error)
	Estimate(ctx context.Context, userID string, actionType pricing.ActionType, quantity int64) (ledger.Estimate, error)
	ListUsage(ctx context.Context, userID string, f ledger.UsageFilter) ([]ledger.UsageLogEntry, error)
	Debit(ctx context.Context, req ledger.DebitRequest) (ledger.DebitResult, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (ledger.CreditResult, error)
	AttachResource(ctx context.Context, logID, resourceID string) error
}

// Prices is implemented by *pricing.Service.
type Prices interface {
	List(ctx context.Context) ([]pricing.ActionPrice, error)
	UpdatePrice(ctx context.Context, actionType pricing.ActionType, unitCost int64, description string) (pricing.ActionPrice, error)
}

// Launcher is implemented by *campaign.Launcher.
type Launcher interface {
	Launch(ctx context.Context, userID, campaignID string, leads []dispatch.Lead, idempotencyKey string) (campaign.LaunchResult, error)
}

type CallHistory interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]calls.Call, error)
}

// Mailer is implemented by *notify.Mailer.
type Mailer interface {
	Send(ctx context.Context, userID string, msg notify.Message, idempotencyKey string) (notify.SendResult, error)
}

const idempotencyHeader = "Idempotency-Key"

// ClientIP copies the caller address into the request context for audit events.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: development helper only. Credentials are not checked.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a known role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken, time.Now(), accounts.RoleOf(h.Accounts))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- helpers ---

// caller returns the authenticated identity. RequireAccessToken has already
// run, so a missing identity is a wiring bug.
func caller(c *gin.Context) (audit.Actor, bool) {
	uid, role, err := auth.Identity(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return audit.Actor{}, false
	}
	return audit.Actor{UserID: uid, Role: role}, true
}

func idempotencyKey(c *gin.Context, fromBody string) string {
	if k := strings.TrimSpace(c.GetHeader(idempotencyHeader)); k != "" {
		return k
	}
	return strings.TrimSpace(fromBody)
}
