package campaign

import (
	"errors"
	"time"

	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/schedule"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

var (
	ErrNotFound          = errors.New("campaign: not found")
	ErrInvalidArgument   = errors.New("campaign: invalid argument")
	ErrInvalidTransition = errors.New("campaign: invalid status transition")
)

// Campaign owns a set of queue items and the policy they are dialed under.
type Campaign struct {
	CampaignID           string               `json:"campaign_id" db:"campaign_id"`
	UserID               string               `json:"user_id" db:"user_id"`
	Name                 string               `json:"name" db:"name"`
	Status               Status               `json:"status" db:"status"`
	MaxAttemptsPerLead   int                  `json:"max_attempts_per_lead" db:"max_attempts_per_lead"`
	RetryIntervalSeconds int                  `json:"retry_interval_seconds" db:"retry_interval_seconds"`
	RetryBackoff         schedule.BackoffKind `json:"retry_backoff" db:"retry_backoff"`
	CallWindowStart      string               `json:"call_window_start,omitempty" db:"call_window_start"`
	CallWindowEnd        string               `json:"call_window_end,omitempty" db:"call_window_end"`
	Timezone             string               `json:"timezone" db:"timezone"`
	ScriptRef            string               `json:"script_ref,omitempty" db:"script_ref"`
	CreatedAt            time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at" db:"updated_at"`
}

func (c Campaign) Policy() schedule.RetryPolicy {
	return schedule.RetryPolicy{
		MaxAttempts: c.MaxAttemptsPerLead,
		Interval:    time.Duration(c.RetryIntervalSeconds) * time.Second,
		Backoff:     c.RetryBackoff,
	}
}

func (c Campaign) Window() schedule.CallWindow {
	return schedule.CallWindow{Start: c.CallWindowStart, End: c.CallWindowEnd, Timezone: c.Timezone}
}

// DispatchState is the view of the campaign the queue claims against.
func (c Campaign) DispatchState() dispatch.CampaignState {
	return dispatch.CampaignState{
		UserID:    c.UserID,
		Active:    c.Status == StatusActive,
		Policy:    c.Policy(),
		Window:    c.Window(),
		ScriptRef: c.ScriptRef,
	}
}

type CreateRequest struct {
	Name                 string `json:"name" validate:"required,max=200"`
	MaxAttemptsPerLead   int    `json:"max_attempts_per_lead" validate:"omitempty,min=1,max=10"`
	RetryIntervalMinutes int    `json:"retry_interval_minutes" validate:"omitempty,min=1,max=10080"`
	RetryBackoff         string `json:"retry_backoff" validate:"omitempty,oneof=constant linear exponential"`
	CallWindowStart      string `json:"call_window_start" validate:"clock"`
	CallWindowEnd        string `json:"call_window_end" validate:"clock"`
	Timezone             string `json:"timezone" validate:"max=64"`
	ScriptRef            string `json:"script_ref" validate:"max=200"`
}

// LaunchResult describes a committed launch.
type LaunchResult struct {
	Campaign   Campaign `json:"campaign"`
	Enqueued   int      `json:"enqueued"`
	TokensUsed int64    `json:"tokens_used"`
	Balance    int64    `json:"balance"`
	UsageLogID string   `json:"usage_log_id,omitempty"`
	Replayed   bool     `json:"replayed,omitempty"`
}
