package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`
	ActorRole   string `json:"actor_role" db:"actor_role"`

	// IPAddress is the resolved client IP (gin's ClientIP), when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// TargetID identifies the affected row: an action type, user, campaign or queue item.
	TargetID string `json:"target_id,omitempty" db:"target_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypePricingUpdate   EventType = "pricing_update"
	EventTypeAdminCredit     EventType = "admin_credit"
	EventTypeCampaignDeleted EventType = "campaign_deleted"
	EventTypeDoNotCall       EventType = "do_not_call"
)

// Actor is the authenticated user behind an event.
type Actor struct {
	UserID string
	Role   string
}
