package httpapi

import (
	"errors"
	"net/http"

	"leadgen-platform/internal/accounts"
	"leadgen-platform/internal/campaign"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/notify"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/reporting"
	"leadgen-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	if e, ok := ledger.AsInsufficientTokens(err); ok {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":    "insufficient tokens",
			"required": e.Required,
			"balance":  e.Balance,
		})
		return
	}
	if ledger.IsConfigurationError(err) {
		logger.FromGin(c).Error("pricing misconfigured", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pricing not configured for this action"})
		return
	}

	var verr *notify.ValidationError
	if errors.As(err, &verr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": verr.Fields})
		return
	}

	switch {
	case isAny(err, ledger.ErrInvalidArgument, campaign.ErrInvalidArgument, dispatch.ErrInvalidArgument,
		pricing.ErrInvalidPricingReq, pricing.ErrInvalidPrice, reporting.ErrInvalidRequest, notify.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case isAny(err, ledger.ErrNotFound, campaign.ErrNotFound, dispatch.ErrNotFound, accounts.ErrNotFound,
		pricing.ErrPricingNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case isAny(err, campaign.ErrInvalidTransition, ledger.ErrIdempotencyConflict, ledger.ErrResourceAlreadyAttached,
		dispatch.ErrTerminal, dispatch.ErrNotProcessing):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func invalid(c *gin.Context, fields map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
}
