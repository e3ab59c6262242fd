package ledger

import (
	"time"

	"leadgen-platform/internal/pricing"
)

// Balance is the spendable token balance of one account.
// Invariant: Tokens >= 0, enforced by the users.token_balance CHECK constraint
// and by Debit refusing to overdraw.
type Balance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Tokens    int64     `json:"balance" db:"token_balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UsageLogEntry is an append-only record of one successful debit.
// The only mutation ever applied is attaching ResourceID once.
type UsageLogEntry struct {
	LogID          string             `json:"log_id" db:"log_id"`
	UserID         string             `json:"user_id" db:"user_id"`
	ActionType     pricing.ActionType `json:"action_type" db:"action_type"`
	TokensDeducted int64              `json:"tokens_deducted" db:"tokens_deducted"`
	Quantity       int64              `json:"quantity" db:"quantity"`
	UnitCost       int64              `json:"unit_cost" db:"unit_cost"`
	Metadata       Metadata           `json:"metadata" db:"metadata"`
	ResourceID     *string            `json:"resource_id,omitempty" db:"resource_id"`
	IdempotencyKey *string            `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
}

type CreditReason string

const (
	CreditPurchase     CreditReason = "purchase"
	CreditRefund       CreditReason = "refund"
	CreditAdminGrant   CreditReason = "admin_grant"
	CreditSubscription CreditReason = "subscription"
)

func (r CreditReason) Valid() bool {
	switch r {
	case CreditPurchase, CreditRefund, CreditAdminGrant, CreditSubscription:
		return true
	default:
		return false
	}
}

// CreditEntry is an append-only record of tokens added to an account.
type CreditEntry struct {
	CreditID       string       `json:"credit_id" db:"credit_id"`
	UserID         string       `json:"user_id" db:"user_id"`
	Amount         int64        `json:"amount" db:"amount"`
	Reason         CreditReason `json:"reason" db:"reason"`
	Reference      string       `json:"reference,omitempty" db:"reference"`
	GrantedBy      *string      `json:"granted_by,omitempty" db:"granted_by"`
	IdempotencyKey *string      `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// Quote is the priced cost of an action.
type Quote struct {
	ActionType  pricing.ActionType `json:"action_type"`
	Quantity    int64              `json:"quantity"`
	UnitCost    int64              `json:"unit_cost"`
	Total       int64              `json:"total_cost"`
	Description string             `json:"description,omitempty"`
}

// Estimate is a Quote checked against an account balance. Nothing is reserved.
type Estimate struct {
	Quote
	Balance    int64 `json:"user_balance"`
	Sufficient bool  `json:"sufficient_balance"`
}

type DebitRequest struct {
	UserID     string
	ActionType pricing.ActionType
	Quantity   int64
	Metadata   UsageMetadata

	// IdempotencyKey is optional. A retried debit with the same key returns
	// the original log entry instead of charging again.
	IdempotencyKey string
}

type DebitResult struct {
	LogID    string `json:"log_id,omitempty"`
	Deducted int64  `json:"deducted"`
	Balance  int64  `json:"balance"`
	Replayed bool   `json:"replayed,omitempty"`
}

type CreditRequest struct {
	UserID         string
	Amount         int64
	Reason         CreditReason
	Reference      string
	IdempotencyKey string
	GrantedBy      string
}

type CreditResult struct {
	CreditID string `json:"credit_id"`
	Credited int64  `json:"credited"`
	Balance  int64  `json:"balance"`
	Replayed bool   `json:"replayed,omitempty"`
}

type UsageFilter struct {
	ActionType pricing.ActionType
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

func (f UsageFilter) normalized() UsageFilter {
	if f.Limit <= 0 {
		f.Limit = defaultUsageLimit
	}
	if f.Limit > maxUsageLimit {
		f.Limit = maxUsageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
