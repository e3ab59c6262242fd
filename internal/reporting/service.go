// Package reporting summarizes token usage and campaign progress for subscribers.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/campaign"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/ledger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// DefaultRange is used when a usage summary is requested without dates.
const DefaultRange = 30 * 24 * time.Hour

// MaxRange bounds a single usage summary.
const MaxRange = 366 * 24 * time.Hour

type CampaignGetter interface {
	Get(ctx context.Context, userID, campaignID string) (campaign.Campaign, error)
}

type QueueCounter interface {
	CountByStatus(ctx context.Context, campaignID string) (dispatch.StatusCounts, error)
}

type CallStats interface {
	CampaignStats(ctx context.Context, campaignID string) (calls.Stats, error)
}

type Service struct {
	repo      Repository
	campaigns CampaignGetter
	queue     QueueCounter
	calls     CallStats
	clock     func() time.Time
}

func NewService(repo Repository, campaigns CampaignGetter, queue QueueCounter, callStats CallStats) *Service {
	return &Service{repo: repo, campaigns: campaigns, queue: queue, calls: callStats, clock: time.Now}
}

// normalizeRange fills a missing range with the last DefaultRange.
func (s *Service) normalizeRange(r TimeRange) (TimeRange, error) {
	if r.To.IsZero() {
		r.To = s.clock().UTC()
	}
	if r.From.IsZero() {
		r.From = r.To.Add(-DefaultRange)
	}
	if !r.To.After(r.From) || r.To.Sub(r.From) > MaxRange {
		return TimeRange{}, ErrInvalidRequest
	}
	return r, nil
}

func (s *Service) UsageSummary(ctx context.Context, userID string, r TimeRange) (UsageSummary, error) {
	if userID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	r, err := s.normalizeRange(r)
	if err != nil {
		return UsageSummary{}, err
	}
	if s.repo == nil {
		return UsageSummary{}, errors.New("reporting: repository not configured")
	}

	actions, err := s.repo.UsageByAction(ctx, userID, r.From, r.To)
	if err != nil {
		return UsageSummary{}, err
	}
	credits, err := s.repo.CreditsByReason(ctx, userID, r.From, r.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{UserID: userID, Range: r, Actions: actions, ByReason: map[ledger.CreditReason]int64{}}
	if out.Actions == nil {
		out.Actions = []ActionUsage{}
	}
	for _, a := range actions {
		out.TokensUsed += a.Tokens
	}
	for _, c := range credits {
		out.Credited += c.Amount
		out.ByReason[c.Reason] += c.Amount
	}
	out.NetDelta = out.Credited - out.TokensUsed
	return out, nil
}

// CampaignProgress reports queue status counts and call totals for a campaign
// owned by userID.
func (s *Service) CampaignProgress(ctx context.Context, userID, campaignID string) (CampaignProgress, error) {
	if userID == "" || campaignID == "" {
		return CampaignProgress{}, ErrInvalidRequest
	}
	c, err := s.campaigns.Get(ctx, userID, campaignID)
	if err != nil {
		return CampaignProgress{}, err
	}

	counts, err := s.queue.CountByStatus(ctx, campaignID)
	if err != nil {
		return CampaignProgress{}, fmt.Errorf("count queue items: %w", err)
	}

	out := CampaignProgress{
		CampaignID: c.CampaignID,
		Name:       c.Name,
		Status:     string(c.Status),
		Counts:     counts,
		Total:      counts.Total(),
	}
	for st, n := range counts {
		if st.Terminal() {
			out.Settled += n
		}
	}
	if out.Total > 0 {
		out.CompletionRate = float64(out.Settled) / float64(out.Total)
		out.ConnectRate = float64(counts[dispatch.StatusCompleted]) / float64(out.Total)
	}

	if s.calls != nil {
		stats, err := s.calls.CampaignStats(ctx, campaignID)
		if err != nil {
			return CampaignProgress{}, fmt.Errorf("call stats: %w", err)
		}
		out.CallsPlaced = stats.Placed
		out.CallsConnected = stats.Connected
		out.TalkSeconds = stats.TalkSeconds
	}
	return out, nil
}
