// Package campaign manages outbound dialing campaigns and launches them into
// the dispatch queue.
package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadgen-platform/internal/schedule"
	"leadgen-platform/pkg/validate"

	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Create stores a draft campaign, filling in the default retry policy and time zone.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Campaign, error) {
	if userID == "" {
		return Campaign{}, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	req.Name = strings.TrimSpace(req.Name)
	if errs := validate.Struct(req); errs != nil {
		return Campaign{}, fmt.Errorf("%w: %v", ErrInvalidArgument, errs)
	}

	policy := schedule.DefaultRetryPolicy()
	if req.MaxAttemptsPerLead > 0 {
		policy.MaxAttempts = req.MaxAttemptsPerLead
	}
	if req.RetryIntervalMinutes > 0 {
		policy.Interval = time.Duration(req.RetryIntervalMinutes) * time.Minute
	}
	if req.RetryBackoff != "" {
		policy.Backoff = schedule.BackoffKind(req.RetryBackoff)
	}
	if err := policy.Validate(); err != nil {
		return Campaign{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	window := schedule.CallWindow{Start: req.CallWindowStart, End: req.CallWindowEnd, Timezone: req.Timezone}
	if window.Timezone == "" {
		window.Timezone = schedule.DefaultTimezone
	}
	if err := window.Validate(); err != nil {
		return Campaign{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	now := s.clock().UTC()
	c := Campaign{
		CampaignID:           uuid.NewString(),
		UserID:               userID,
		Name:                 req.Name,
		Status:               StatusDraft,
		MaxAttemptsPerLead:   policy.MaxAttempts,
		RetryIntervalSeconds: int(policy.Interval / time.Second),
		RetryBackoff:         policy.Backoff,
		CallWindowStart:      window.Start,
		CallWindowEnd:        window.End,
		Timezone:             window.Timezone,
		ScriptRef:            strings.TrimSpace(req.ScriptRef),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, userID, campaignID string) (Campaign, error) {
	return s.repo.Get(ctx, userID, campaignID)
}

func (s *Service) List(ctx context.Context, userID string) ([]Campaign, error) {
	return s.repo.List(ctx, userID)
}

// Activate starts dialing a draft campaign.
func (s *Service) Activate(ctx context.Context, userID, campaignID string) (Campaign, error) {
	return s.transition(ctx, userID, campaignID, StatusActive, StatusDraft)
}

// Pause stops new claims. Items already processing finish normally.
func (s *Service) Pause(ctx context.Context, userID, campaignID string) (Campaign, error) {
	return s.transition(ctx, userID, campaignID, StatusPaused, StatusActive)
}

func (s *Service) Resume(ctx context.Context, userID, campaignID string) (Campaign, error) {
	return s.transition(ctx, userID, campaignID, StatusActive, StatusPaused)
}

func (s *Service) Complete(ctx context.Context, userID, campaignID string) (Campaign, error) {
	return s.transition(ctx, userID, campaignID, StatusCompleted, StatusActive, StatusPaused)
}

// Delete removes the campaign and, by cascade, its queue items.
func (s *Service) Delete(ctx context.Context, userID, campaignID string) error {
	return s.repo.Delete(ctx, userID, campaignID)
}

func (s *Service) transition(ctx context.Context, userID, campaignID string, to Status, from ...Status) (Campaign, error) {
	return s.repo.Transition(ctx, userID, campaignID, s.clock().UTC(), func(c Campaign) (Status, error) {
		for _, f := range from {
			if c.Status == f {
				return to, nil
			}
		}
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	})
}
