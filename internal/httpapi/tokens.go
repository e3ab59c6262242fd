package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"leadgen-platform/internal/audit"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/notify"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/pkg/validate"

	"github.com/gin-gonic/gin"
)

// --- Subscriber ---

func (h Handlers) GetBalance(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	bal, err := h.Ledger.GetBalance(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// GetCost prices an action for the caller without charging.
func (h Handlers) GetCost(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	actionType := c.Param("action_type")
	if !validate.IsActionType(actionType) {
		badRequest(c, "invalid action_type")
		return
	}
	qty := int64(1)
	if raw := c.Query("quantity"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			badRequest(c, "quantity must be a positive integer")
			return
		}
		qty = n
	}

	est, err := h.Ledger.Estimate(c.Request.Context(), who.UserID, pricing.ActionType(actionType), qty)
	if err != nil {
		if ledger.IsConfigurationError(err) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown action type"})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, est)
}

func (h Handlers) ListUsage(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	f := ledger.UsageFilter{ActionType: pricing.ActionType(c.Query("action_type"))}
	if f.ActionType != "" && !validate.IsActionType(string(f.ActionType)) {
		badRequest(c, "invalid action_type")
		return
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		badRequest(c, "from must be RFC3339")
		return
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		badRequest(c, "to must be RFC3339")
		return
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	entries, err := h.Ledger.ListUsage(c.Request.Context(), who.UserID, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": entries})
}

func (h Handlers) ListPricing(c *gin.Context) {
	prices, err := h.Prices.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pricing": prices})
}

type sendEmailRequest struct {
	notify.Message
	IdempotencyKey string `json:"idempotency_key"`
}

func (h Handlers) SendEmail(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	res, err := h.Mailer.Send(c.Request.Context(), who.UserID, req.Message, idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Service ---

type debitRequest struct {
	UserID         string          `json:"user_id" validate:"required"`
	ActionType     string          `json:"action_type" validate:"required,action_type"`
	Quantity       int64           `json:"quantity" validate:"gte=0"`
	Metadata       json.RawMessage `json:"metadata"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=255"`
}

// Debit charges a user on behalf of an internal caller.
func (h Handlers) Debit(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		invalid(c, errs)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	meta, err := decodeUsageMetadata(req.ActionType, req.Metadata)
	if err != nil {
		badRequest(c, "invalid metadata")
		return
	}

	res, err := h.Ledger.Debit(c.Request.Context(), ledger.DebitRequest{
		UserID:         req.UserID,
		ActionType:     pricing.ActionType(req.ActionType),
		Quantity:       req.Quantity,
		Metadata:       meta,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type attachResourceRequest struct {
	ResourceID string `json:"resource_id" validate:"required,max=255"`
}

func (h Handlers) AttachResource(c *gin.Context) {
	var req attachResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		invalid(c, errs)
		return
	}
	if err := h.Ledger.AttachResource(c.Request.Context(), c.Param("log_id"), req.ResourceID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// decodeUsageMetadata reads a metadata object for actionType. The "kind"
// discriminator may be omitted; it defaults to the debited action.
func decodeUsageMetadata(actionType string, raw json.RawMessage) (ledger.UsageMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["kind"]; !ok {
		kind, err := json.Marshal(actionType)
		if err != nil {
			return nil, err
		}
		fields["kind"] = kind
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var m ledger.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m.V, nil
}

// --- Admin ---

type updatePriceRequest struct {
	UnitCost    int64  `json:"unit_cost" validate:"required,gte=1"`
	Description string `json:"description" validate:"max=500"`
}

func (h Handlers) UpdatePrice(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		invalid(c, errs)
		return
	}

	actionType := pricing.ActionType(c.Param("action_type"))
	p, err := h.Prices.UpdatePrice(c.Request.Context(), actionType, req.UnitCost, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), who, audit.EventTypePricingUpdate, string(actionType),
		"pricing updated", gin.H{"unit_cost": p.UnitCost})
	c.JSON(http.StatusOK, p)
}

type adminCreditRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"required,gte=1"`
	Reason         string `json:"reason" validate:"omitempty,oneof=purchase refund admin_grant subscription"`
	Reference      string `json:"reference" validate:"max=255"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=255"`
}

// AdminCredit adds tokens to a user's balance.
// RBAC: admin or super_admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		invalid(c, errs)
		return
	}
	reason := ledger.CreditReason(req.Reason)
	if reason == "" {
		reason = ledger.CreditAdminGrant
	}

	res, err := h.Ledger.Credit(c.Request.Context(), ledger.CreditRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Reason:         reason,
		Reference:      req.Reference,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		GrantedBy:      who.UserID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Replayed {
		h.Audit.Record(c.Request.Context(), who, audit.EventTypeAdminCredit, req.UserID, "tokens credited",
			gin.H{"amount": req.Amount, "reason": reason, "credit_id": res.CreditID})
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AdminGetBalance(c *gin.Context) {
	bal, err := h.Ledger.GetBalance(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (h Handlers) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
