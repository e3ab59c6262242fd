package ledger

import (
	"context"
	"errors"
	"net/http"

	"leadgen-platform/internal/auth"
	"leadgen-platform/internal/pricing"

	"github.com/gin-gonic/gin"
)

// Estimator is the minimal ledger interface needed by middleware.
type Estimator interface {
	Estimate(ctx context.Context, userID string, actionType pricing.ActionType, quantity int64) (Estimate, error)
}

// RequireTokens blocks the request when the caller cannot afford a single
// unit of actionType. It reserves nothing; the handler's Debit stays the
// authoritative check.
func RequireTokens(est Estimator, actionType pricing.ActionType) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := auth.UserID(c.Request.Context())
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		e, err := est.Estimate(c.Request.Context(), userID, actionType, 1)
		switch {
		case err == nil:
		case IsConfigurationError(err):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pricing not configured for this action"})
			return
		case errors.Is(err, ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}

		if !e.Sufficient {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":    "insufficient tokens",
				"required": e.Total,
				"balance":  e.Balance,
			})
			return
		}
		c.Next()
	}
}
