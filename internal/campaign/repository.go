package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadgen-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TransitionFunc returns the status a campaign should move to.
type TransitionFunc func(c Campaign) (Status, error)

type Repository interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, userID, campaignID string) (Campaign, error)
	List(ctx context.Context, userID string) ([]Campaign, error)
	// Transition applies fn to the current row under a lock and stores the result.
	Transition(ctx context.Context, userID, campaignID string, now time.Time, fn TransitionFunc) (Campaign, error)
	Delete(ctx context.Context, userID, campaignID string) error
}

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectCampaign = `
SELECT campaign_id, user_id, name, status, max_attempts_per_lead, retry_interval_seconds, retry_backoff,
       COALESCE(call_window_start, '') AS call_window_start, COALESCE(call_window_end, '') AS call_window_end,
       timezone, script_ref, created_at, updated_at
FROM campaigns
`

func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	const q = `
INSERT INTO campaigns (
	campaign_id, user_id, name, status, max_attempts_per_lead, retry_interval_seconds, retry_backoff,
	call_window_start, call_window_end, timezone, script_ref, created_at, updated_at
) VALUES (
	:campaign_id, :user_id, :name, :status, :max_attempts_per_lead, :retry_interval_seconds, :retry_backoff,
	NULLIF(:call_window_start, ''), NULLIF(:call_window_end, ''), :timezone, :script_ref, :created_at, :updated_at
)`
	if _, err := r.db.NamedExecContext(ctx, q, c); err != nil {
		if utils.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: unknown user", ErrInvalidArgument)
		}
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, userID, campaignID string) (Campaign, error) {
	return getCampaign(ctx, r.db, userID, campaignID, "")
}

func getCampaign(ctx context.Context, db sqlx.QueryerContext, userID, campaignID, suffix string) (Campaign, error) {
	if _, err := uuid.Parse(campaignID); err != nil {
		return Campaign{}, ErrNotFound
	}
	var c Campaign
	if err := sqlx.GetContext(ctx, db, &c, selectCampaign+`WHERE campaign_id = $1 AND user_id = $2 `+suffix, campaignID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// lockCampaign reads a campaign row FOR UPDATE inside tx.
func lockCampaign(ctx context.Context, tx *sqlx.Tx, userID, campaignID string) (Campaign, error) {
	return getCampaign(ctx, tx, userID, campaignID, "FOR UPDATE")
}

func setStatus(ctx context.Context, tx *sqlx.Tx, campaignID string, status Status, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = $3 WHERE campaign_id = $1`,
		campaignID, string(status), now); err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, userID string) ([]Campaign, error) {
	out := []Campaign{}
	if err := r.db.SelectContext(ctx, &out, selectCampaign+`WHERE user_id = $1 ORDER BY created_at DESC`, userID); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, userID, campaignID string, now time.Time, fn TransitionFunc) (Campaign, error) {
	var out Campaign
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		c, err := lockCampaign(ctx, tx, userID, campaignID)
		if err != nil {
			return err
		}
		next, err := fn(c)
		if err != nil {
			return err
		}
		if err := setStatus(ctx, tx, campaignID, next, now); err != nil {
			return err
		}
		c.Status = next
		c.UpdatedAt = now
		out = c
		return nil
	})
	return out, err
}

func (r *PostgresRepo) Delete(ctx context.Context, userID, campaignID string) error {
	if _, err := uuid.Parse(campaignID); err != nil {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE campaign_id = $1 AND user_id = $2`, campaignID, userID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{campaigns: map[string]Campaign{}}
}

func (r *MemoryRepo) Create(_ context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[c.CampaignID]; ok {
		return fmt.Errorf("%w: duplicate campaign id", ErrInvalidArgument)
	}
	r.campaigns[c.CampaignID] = c
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, userID, campaignID string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.UserID != userID {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) List(_ context.Context, userID string) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Campaign{}
	for _, c := range r.campaigns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) Transition(_ context.Context, userID, campaignID string, now time.Time, fn TransitionFunc) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.UserID != userID {
		return Campaign{}, ErrNotFound
	}
	next, err := fn(c)
	if err != nil {
		return Campaign{}, err
	}
	c.Status = next
	c.UpdatedAt = now
	r.campaigns[campaignID] = c
	return c, nil
}

func (r *MemoryRepo) Delete(_ context.Context, userID, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(r.campaigns, campaignID)
	return nil
}
