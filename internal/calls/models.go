// Package calls stores one call log row per placed or received call.
package calls

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the provider call status, normalized to snake_case.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// NormalizeStatus maps Twilio's "no-answer" style to "no_answer".
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusQueued
	}
	return Status(strings.ReplaceAll(s, "-", "_"))
}

func (s Status) Final() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

type Call struct {
	CallSID    string    `json:"call_sid" db:"call_sid"`
	UserID     string    `json:"user_id" db:"user_id"`
	QueueID    string    `json:"queue_id,omitempty" db:"queue_id"`
	CampaignID string    `json:"campaign_id,omitempty" db:"campaign_id"`
	Direction  Direction `json:"direction" db:"direction"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status          Status `json:"status" db:"status"`
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`

	// UsageLogID links an inbound call to the ledger entry that paid for it.
	UsageLogID string `json:"usage_log_id,omitempty" db:"usage_log_id"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

func (c Call) validate() error {
	if c.CallSID == "" || c.UserID == "" {
		return ErrInvalidArgument
	}
	if c.Direction != DirectionInbound && c.Direction != DirectionOutbound {
		return ErrInvalidArgument
	}
	return nil
}

// StatusUpdate is a provider status event applied to an existing call.
type StatusUpdate struct {
	Status          Status
	DurationSeconds int
	At              time.Time
}

// Stats aggregates the call logs of one campaign.
type Stats struct {
	Placed      int   `json:"calls_placed" db:"calls_placed"`
	Connected   int   `json:"calls_connected" db:"calls_connected"`
	TalkSeconds int64 `json:"talk_seconds" db:"talk_seconds"`
}
