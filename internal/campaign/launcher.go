package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/pkg/utils"

	"github.com/jmoiron/sqlx"
)

// MaxLaunchLeads bounds one launch request.
const MaxLaunchLeads = 10_000

// TxDebiter is implemented by *ledger.Service.
type TxDebiter interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, req ledger.DebitRequest) (ledger.DebitResult, error)
}

// TxEnqueuer is implemented by *dispatch.PostgresQueue.
type TxEnqueuer interface {
	EnqueueTx(ctx context.Context, tx *sqlx.Tx, campaignID, userID string, leads []dispatch.Lead) (int, error)
}

// Launcher pre-pays for a campaign's calls and enqueues its leads.
//
// Invariants:
// - The debit, the queue rows and the draft->active change commit together or not at all
// - A retried launch with the same idempotency key neither charges nor enqueues again
type Launcher struct {
	db     *sqlx.DB
	ledger TxDebiter
	queue  TxEnqueuer
	log    *slog.Logger
	clock  func() time.Time
}

func NewLauncher(db *sqlx.DB, debiter TxDebiter, queue TxEnqueuer, log *slog.Logger) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{
		db:     db,
		ledger: debiter,
		queue:  queue,
		log:    log.With("component", "campaign_launcher"),
		clock:  time.Now,
	}
}

func (l *Launcher) Launch(ctx context.Context, userID, campaignID string, leads []dispatch.Lead, idempotencyKey string) (LaunchResult, error) {
	if len(leads) == 0 || len(leads) > MaxLaunchLeads {
		return LaunchResult{}, fmt.Errorf("%w: between 1 and %d leads required", ErrInvalidArgument, MaxLaunchLeads)
	}
	if idempotencyKey != "" {
		idempotencyKey = "launch:" + campaignID + ":" + idempotencyKey
	}

	var out LaunchResult
	err := utils.WithTx(ctx, l.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		c, err := lockCampaign(ctx, tx, userID, campaignID)
		if err != nil {
			return err
		}
		if c.Status == StatusCompleted {
			return fmt.Errorf("%w: campaign is completed", ErrInvalidTransition)
		}

		debit, err := l.ledger.DebitTx(ctx, tx, ledger.DebitRequest{
			UserID:     userID,
			ActionType: pricing.ActionOutboundCall,
			Quantity:   int64(len(leads)),
			Metadata: ledger.OutboundCallMetadata{
				CampaignID: campaignID,
				LeadCount:  len(leads),
			},
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			return err
		}
		if debit.Replayed {
			out = LaunchResult{Campaign: c, TokensUsed: debit.Deducted, Balance: debit.Balance, UsageLogID: debit.LogID, Replayed: true}
			return nil
		}

		n, err := l.queue.EnqueueTx(ctx, tx, campaignID, userID, leads)
		if err != nil {
			return err
		}

		if c.Status == StatusDraft {
			now := l.clock().UTC()
			if err := setStatus(ctx, tx, campaignID, StatusActive, now); err != nil {
				return err
			}
			c.Status = StatusActive
			c.UpdatedAt = now
		}

		out = LaunchResult{
			Campaign:   c,
			Enqueued:   n,
			TokensUsed: debit.Deducted,
			Balance:    debit.Balance,
			UsageLogID: debit.LogID,
		}
		return nil
	})
	if err != nil {
		return LaunchResult{}, err
	}

	if !out.Replayed {
		l.log.Info("campaign launched",
			"campaign_id", campaignID,
			"user_id", userID,
			"enqueued", out.Enqueued,
			"tokens_used", out.TokensUsed,
		)
	}
	return out, nil
}
