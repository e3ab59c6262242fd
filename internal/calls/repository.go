package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	// Create inserts a call log. A second insert for the same call SID is a no-op,
	// since webhooks are retried.
	Create(ctx context.Context, c Call) error
	// UpdateStatus records a provider status. ended_at is set once the status is final.
	UpdateStatus(ctx context.Context, callSID string, u StatusUpdate) (Call, error)
	Get(ctx context.Context, callSID string) (Call, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Call, error)
	CampaignStats(ctx context.Context, campaignID string) (Stats, error)
}

const defaultListLimit = 50

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectCall = `
SELECT call_sid, user_id, COALESCE(queue_id::text, '') AS queue_id, COALESCE(campaign_id::text, '') AS campaign_id,
       direction, from_number, to_number, status, duration_seconds,
       COALESCE(usage_log_id::text, '') AS usage_log_id, created_at, ended_at
FROM call_logs
`

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusQueued
	}
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO call_logs (call_sid, user_id, queue_id, campaign_id, direction, from_number, to_number,
                       status, duration_seconds, usage_log_id, created_at)
VALUES (:call_sid, :user_id, NULLIF(:queue_id, '')::uuid, NULLIF(:campaign_id, '')::uuid, :direction,
        :from_number, :to_number, :status, :duration_seconds, NULLIF(:usage_log_id, '')::uuid, :created_at)
ON CONFLICT (call_sid) DO NOTHING
`, c)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, callSID string, u StatusUpdate) (Call, error) {
	var endedAt *time.Time
	if u.Status.Final() {
		at := u.At
		endedAt = &at
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE call_logs
SET status = $2,
    duration_seconds = GREATEST(duration_seconds, $3),
    ended_at = COALESCE(ended_at, $4)
WHERE call_sid = $1
`, callSID, u.Status, u.DurationSeconds, endedAt)
	if err != nil {
		return Call{}, fmt.Errorf("update call status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Call{}, ErrNotFound
	}
	return r.Get(ctx, callSID)
}

func (r *PostgresRepo) Get(ctx context.Context, callSID string) (Call, error) {
	var c Call
	if err := r.db.GetContext(ctx, &c, selectCall+`WHERE call_sid = $1`, callSID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, fmt.Errorf("get call log: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Call, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	var out []Call
	if err := r.db.SelectContext(ctx, &out, selectCall+`WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit); err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) CampaignStats(ctx context.Context, campaignID string) (Stats, error) {
	var s Stats
	err := r.db.GetContext(ctx, &s, `
SELECT COUNT(*) AS calls_placed,
       COUNT(*) FILTER (WHERE status = 'completed' AND duration_seconds > 0) AS calls_connected,
       COALESCE(SUM(duration_seconds), 0) AS talk_seconds
FROM call_logs
WHERE campaign_id = $1
`, campaignID)
	if err != nil {
		return Stats{}, fmt.Errorf("campaign call stats: %w", err)
	}
	return s, nil
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}}
}

func (r *MemoryRepo) Create(_ context.Context, c Call) error {
	if err := c.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.CallSID]; ok {
		return nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusQueued
	}
	r.calls[c.CallSID] = c
	return nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, callSID string, u StatusUpdate) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callSID]
	if !ok {
		return Call{}, ErrNotFound
	}
	c.Status = u.Status
	if u.DurationSeconds > c.DurationSeconds {
		c.DurationSeconds = u.DurationSeconds
	}
	if u.Status.Final() && c.EndedAt == nil {
		at := u.At
		c.EndedAt = &at
	}
	r.calls[callSID] = c
	return c, nil
}

func (r *MemoryRepo) Get(_ context.Context, callSID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callSID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string, limit int) ([]Call, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CampaignStats(_ context.Context, campaignID string) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Stats
	for _, c := range r.calls {
		if c.CampaignID != campaignID {
			continue
		}
		s.Placed++
		if c.Status == StatusCompleted && c.DurationSeconds > 0 {
			s.Connected++
		}
		s.TalkSeconds += int64(c.DurationSeconds)
	}
	return s, nil
}
