package dispatch

import (
	"errors"
	"time"

	"leadgen-platform/internal/schedule"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusDoNotCall  Status = "do_not_call"
	// StatusExhausted is set when a failed or unanswered attempt uses up the
	// campaign's max_attempts_per_lead.
	StatusExhausted Status = "exhausted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed,
		StatusNoAnswer, StatusDoNotCall, StatusExhausted:
		return true
	}
	return false
}

// Terminal statuses are never claimed again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDoNotCall || s == StatusExhausted
}

// Reportable statuses are the ones a worker or callback may report.
func (s Status) Reportable() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusDoNotCall:
		return true
	}
	return false
}

const (
	DefaultLeadName = "Valued Homeowner"

	OutcomeLeaseExpired     = "lease_expired"
	OutcomeInitiationFailed = "initiation_failed"

	// MaxClaimBatch bounds a single ClaimBatch call.
	MaxClaimBatch = 100
)

var (
	ErrNotFound        = errors.New("dispatch: queue item not found")
	ErrInvalidArgument = errors.New("dispatch: invalid argument")
	ErrNotProcessing   = errors.New("dispatch: queue item is not processing")
	ErrTerminal        = errors.New("dispatch: queue item is in a terminal state")
)

// Lead is one call target supplied at enqueue time.
type Lead struct {
	Phone string `json:"phone" validate:"required,phone"`
	Name  string `json:"name" validate:"max=120"`
	ID    string `json:"id" validate:"max=128"`
}

// Item is one lead scheduled for outbound dialing within a campaign.
type Item struct {
	QueueID          string     `json:"queue_id" db:"queue_id"`
	CampaignID       string     `json:"campaign_id" db:"campaign_id"`
	UserID           string     `json:"user_id" db:"user_id"`
	LeadPhoneNumber  string     `json:"lead_phone_number" db:"lead_phone_number"`
	LeadName         string     `json:"lead_name" db:"lead_name"`
	LeadID           string     `json:"lead_id,omitempty" db:"lead_id"`
	Status           Status     `json:"status" db:"status"`
	AttemptCount     int        `json:"attempt_count" db:"attempt_count"`
	NextAttemptAfter *time.Time `json:"next_attempt_after,omitempty" db:"next_attempt_after"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CallSID          string     `json:"call_sid,omitempty" db:"call_sid"`
	CallOutcome      string     `json:"call_outcome,omitempty" db:"call_outcome"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	ClaimedBy        string     `json:"claimed_by,omitempty" db:"claimed_by"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`

	// ScriptRef comes from the owning campaign.
	ScriptRef string `json:"script_ref,omitempty" db:"script_ref"`
}

// Report is the result of one dial attempt.
type Report struct {
	Status  Status
	CallSID string
	Outcome string
}

// CampaignState is the part of a campaign the queue needs to decide claims
// and retries.
type CampaignState struct {
	UserID    string
	Active    bool
	Policy    schedule.RetryPolicy
	Window    schedule.CallWindow
	ScriptRef string
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// StatusCounts maps each status to the number of items in it.
type StatusCounts map[Status]int

func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
