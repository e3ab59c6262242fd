package reporting

import (
	"time"

	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ActionUsage aggregates usage log rows of one action type.
type ActionUsage struct {
	ActionType pricing.ActionType `json:"action_type" db:"action_type"`
	Count      int64              `json:"count" db:"entries"`
	Quantity   int64              `json:"quantity" db:"quantity"`
	Tokens     int64              `json:"tokens" db:"tokens"`
}

type CreditTotal struct {
	Reason ledger.CreditReason `json:"reason" db:"reason"`
	Amount int64               `json:"amount" db:"amount"`
}

// UsageSummary is derived from the immutable usage and credit logs.
type UsageSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	Actions    []ActionUsage                 `json:"actions"`
	TokensUsed int64                         `json:"tokens_used"`
	Credited   int64                         `json:"tokens_credited"`
	ByReason   map[ledger.CreditReason]int64 `json:"credited_by_reason"`
	NetDelta   int64                         `json:"net_delta"`
}

type CampaignProgress struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`

	Counts dispatch.StatusCounts `json:"counts"`
	Total  int                   `json:"total"`
	// Settled counts items that will not be dialed again.
	Settled        int     `json:"settled"`
	CompletionRate float64 `json:"completion_rate"`
	ConnectRate    float64 `json:"connect_rate"`

	CallsPlaced    int   `json:"calls_placed"`
	CallsConnected int   `json:"calls_connected"`
	TalkSeconds    int64 `json:"talk_seconds"`
}
