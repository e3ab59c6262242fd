package pricing

import "time"

// ActionType names a metered, billable action. The set of valid action
// types is whatever the pricing table holds; these are the ones the
// platform itself charges for.
type ActionType string

const (
	ActionOutboundCall   ActionType = "ai_outbound_call"
	ActionInboundCall    ActionType = "ai_inbound_call"
	ActionSkipTrace      ActionType = "skip_trace"
	ActionEmailSend      ActionType = "email_send"
	ActionMarketplaceBid ActionType = "marketplace_bid"
)

func (a ActionType) String() string { return string(a) }

// ActionPrice is one row of the pricing table.
// Invariant: UnitCost > 0. A missing row is a configuration error, never a free action.
type ActionPrice struct {
	ActionType  ActionType `json:"action_type" db:"action_type"`
	UnitCost    int64      `json:"unit_cost" db:"token_cost"`
	Description string     `json:"description" db:"description"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
