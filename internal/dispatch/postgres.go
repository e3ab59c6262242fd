package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadgen-platform/internal/metrics"
	"leadgen-platform/internal/schedule"
	"leadgen-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresQueue stores items in campaign_call_queue. All mutual exclusion
// between workers comes from row locks taken by its statements.
type PostgresQueue struct {
	db    *sqlx.DB
	clock func() time.Time
}

func NewPostgresQueue(db *sqlx.DB) *PostgresQueue {
	return &PostgresQueue{db: db, clock: time.Now}
}

var _ Queue = (*PostgresQueue)(nil)

const itemColumns = `
q.queue_id, q.campaign_id, q.user_id, q.lead_phone_number, q.lead_name,
COALESCE(q.lead_id, '') AS lead_id, q.status, q.attempt_count,
q.next_attempt_after, q.last_attempt_at,
COALESCE(q.call_sid, '') AS call_sid, COALESCE(q.call_outcome, '') AS call_outcome,
q.claimed_at, COALESCE(q.claimed_by, '') AS claimed_by,
q.created_at, q.updated_at, c.script_ref`

const selectItems = `SELECT` + itemColumns + `
FROM campaign_call_queue q
JOIN campaigns c ON c.campaign_id = q.campaign_id
`

// enqueueChunk keeps a bulk insert well under the Postgres bind parameter limit.
const enqueueChunk = 1000

type enqueueRow struct {
	QueueID          string    `db:"queue_id"`
	CampaignID       string    `db:"campaign_id"`
	UserID           string    `db:"user_id"`
	LeadPhoneNumber  string    `db:"lead_phone_number"`
	LeadName         string    `db:"lead_name"`
	LeadID           *string   `db:"lead_id"`
	NextAttemptAfter time.Time `db:"next_attempt_after"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (q *PostgresQueue) Enqueue(ctx context.Context, campaignID, userID string, leads []Lead) (int, error) {
	var n int
	err := utils.WithTx(ctx, q.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		n, err = q.EnqueueTx(ctx, tx, campaignID, userID, leads)
		return err
	})
	return n, err
}

// EnqueueTx inserts leads inside the caller's transaction.
func (q *PostgresQueue) EnqueueTx(ctx context.Context, tx *sqlx.Tx, campaignID, userID string, leads []Lead) (int, error) {
	leads, err := normalizeLeads(leads)
	if err != nil {
		return 0, err
	}
	if !validID(campaignID) {
		return 0, ErrNotFound
	}

	var owner string
	if err := tx.GetContext(ctx, &owner, `SELECT user_id FROM campaigns WHERE campaign_id = $1`, campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("enqueue: load campaign: %w", err)
	}
	if owner != userID {
		return 0, ErrNotFound
	}

	now := q.clock().UTC()
	rows := make([]enqueueRow, len(leads))
	for i, l := range leads {
		rows[i] = enqueueRow{
			QueueID:          uuid.NewString(),
			CampaignID:       campaignID,
			UserID:           userID,
			LeadPhoneNumber:  l.Phone,
			LeadName:         l.Name,
			LeadID:           nullable(l.ID),
			NextAttemptAfter: now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	const insertQ = `
INSERT INTO campaign_call_queue (
	queue_id, campaign_id, user_id, lead_phone_number, lead_name, lead_id,
	status, attempt_count, next_attempt_after, created_at, updated_at
) VALUES (
	:queue_id, :campaign_id, :user_id, :lead_phone_number, :lead_name, :lead_id,
	'pending', 0, :next_attempt_after, :created_at, :updated_at
)`
	for start := 0; start < len(rows); start += enqueueChunk {
		end := min(start+enqueueChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, insertQ, rows[start:end]); err != nil {
			return 0, fmt.Errorf("enqueue: insert items: %w", err)
		}
	}
	return len(rows), nil
}

const claimQuery = `
WITH claimed AS (
	UPDATE campaign_call_queue AS q
	SET status = 'processing', claimed_at = $1::timestamptz, claimed_by = $2, updated_at = $1::timestamptz
	FROM campaigns c
	WHERE c.campaign_id = q.campaign_id
	  AND q.queue_id IN (
		SELECT q2.queue_id
		FROM campaign_call_queue q2
		JOIN campaigns c2 ON c2.campaign_id = q2.campaign_id
		WHERE c2.status = 'active'
		  AND (q2.status = 'pending'
		       OR (q2.status IN ('failed', 'no_answer') AND q2.attempt_count < c2.max_attempts_per_lead))
		  AND q2.next_attempt_after <= $1::timestamptz
		  AND (c2.call_window_start IS NULL OR CASE
			WHEN c2.call_window_start <= c2.call_window_end THEN
				($1::timestamptz AT TIME ZONE c2.timezone)::time >= c2.call_window_start::time
				AND ($1::timestamptz AT TIME ZONE c2.timezone)::time < c2.call_window_end::time
			ELSE
				($1::timestamptz AT TIME ZONE c2.timezone)::time >= c2.call_window_start::time
				OR ($1::timestamptz AT TIME ZONE c2.timezone)::time < c2.call_window_end::time
			END)
		ORDER BY q2.next_attempt_after ASC, q2.created_at ASC
		LIMIT $3
		FOR UPDATE OF q2 SKIP LOCKED
	  )
	RETURNING` + itemColumns + `
)
SELECT * FROM claimed ORDER BY next_attempt_after ASC, created_at ASC`

func (q *PostgresQueue) ClaimBatch(ctx context.Context, workerID string, limit int) ([]Item, error) {
	limit, err := checkLimit(limit)
	if err != nil {
		return nil, err
	}
	out := []Item{}
	if err := q.db.SelectContext(ctx, &out, claimQuery, q.clock().UTC(), workerID, limit); err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	metrics.DispatchClaimed.Add(float64(len(out)))
	return out, nil
}

// itemWithPolicy is an item joined with its campaign's retry columns.
type itemWithPolicy struct {
	Item
	MaxAttempts          int    `db:"max_attempts_per_lead"`
	RetryIntervalSeconds int    `db:"retry_interval_seconds"`
	RetryBackoff         string `db:"retry_backoff"`
}

func (r itemWithPolicy) policy() schedule.RetryPolicy {
	return schedule.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Interval:    time.Duration(r.RetryIntervalSeconds) * time.Second,
		Backoff:     schedule.BackoffKind(r.RetryBackoff),
	}
}

const selectItemsWithPolicy = `SELECT` + itemColumns + `,
c.max_attempts_per_lead, c.retry_interval_seconds, c.retry_backoff
FROM campaign_call_queue q
JOIN campaigns c ON c.campaign_id = q.campaign_id
`

func (q *PostgresQueue) ReportOutcome(ctx context.Context, queueID string, r Report) (Item, error) {
	if !r.Status.Reportable() {
		return Item{}, fmt.Errorf("%w: cannot report status %q", ErrInvalidArgument, r.Status)
	}
	if !validID(queueID) {
		return Item{}, ErrNotFound
	}

	var out Item
	err := utils.WithTx(ctx, q.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var row itemWithPolicy
		if err := tx.GetContext(ctx, &row, selectItemsWithPolicy+`WHERE q.queue_id = $1 FOR UPDATE OF q`, queueID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("report outcome: lock item: %w", err)
		}
		next, err := applyOutcome(row.Item, r, row.policy(), q.clock().UTC())
		if err != nil {
			return err
		}
		if err := saveOutcome(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	metrics.DispatchOutcomes.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

func saveOutcome(ctx context.Context, tx *sqlx.Tx, it Item) error {
	const q = `
UPDATE campaign_call_queue
SET status = $2,
    attempt_count = $3,
    next_attempt_after = $4,
    last_attempt_at = $5,
    call_sid = NULLIF($6, ''),
    call_outcome = NULLIF($7, ''),
    updated_at = $8
WHERE queue_id = $1
`
	if _, err := tx.ExecContext(ctx, q,
		it.QueueID,
		string(it.Status),
		it.AttemptCount,
		it.NextAttemptAfter,
		it.LastAttemptAt,
		it.CallSID,
		it.CallOutcome,
		it.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

func (q *PostgresQueue) AttachCallSID(ctx context.Context, queueID, callSID string) error {
	if callSID == "" {
		return fmt.Errorf("%w: call sid required", ErrInvalidArgument)
	}
	if !validID(queueID) {
		return ErrNotFound
	}
	res, err := q.db.ExecContext(ctx, `
UPDATE campaign_call_queue
SET call_sid = $2, updated_at = $3
WHERE queue_id = $1 AND status = 'processing'
`, queueID, callSID, q.clock().UTC())
	if err != nil {
		return fmt.Errorf("attach call sid: %w", err)
	}
	return q.explainMiss(ctx, res, queueID)
}

func (q *PostgresQueue) Defer(ctx context.Context, queueID string, until time.Time) error {
	if !validID(queueID) {
		return ErrNotFound
	}
	res, err := q.db.ExecContext(ctx, `
UPDATE campaign_call_queue
SET status = 'pending', next_attempt_after = $2, claimed_at = NULL, claimed_by = NULL, updated_at = $3
WHERE queue_id = $1 AND status = 'processing'
`, queueID, until.UTC(), q.clock().UTC())
	if err != nil {
		return fmt.Errorf("defer item: %w", err)
	}
	return q.explainMiss(ctx, res, queueID)
}

// explainMiss turns a zero-row conditional update into ErrNotFound or ErrNotProcessing.
func (q *PostgresQueue) explainMiss(ctx context.Context, res sql.Result, queueID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	if err := q.db.GetContext(ctx, &status, `SELECT status FROM campaign_call_queue WHERE queue_id = $1`, queueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return ErrNotProcessing
}

// reapBatch bounds the rows one reap pass locks.
const reapBatch = 500

func (q *PostgresQueue) ReapStale(ctx context.Context, cutoff time.Time) ([]Item, error) {
	var reaped []Item
	err := utils.WithTx(ctx, q.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		rows := []itemWithPolicy{}
		if err := tx.SelectContext(ctx, &rows, selectItemsWithPolicy+`
WHERE q.status = 'processing' AND q.claimed_at < $1
ORDER BY q.claimed_at
LIMIT $2
FOR UPDATE OF q SKIP LOCKED`, cutoff.UTC(), reapBatch); err != nil {
			return fmt.Errorf("reap stale: select: %w", err)
		}

		now := q.clock().UTC()
		for _, row := range rows {
			next, err := applyOutcome(row.Item, Report{Status: StatusFailed, Outcome: OutcomeLeaseExpired}, row.policy(), now)
			if err != nil {
				return err
			}
			if err := saveOutcome(ctx, tx, next); err != nil {
				return err
			}
			reaped = append(reaped, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, it := range reaped {
		metrics.DispatchOutcomes.WithLabelValues(string(it.Status)).Inc()
	}
	return reaped, nil
}

func (q *PostgresQueue) MarkDoNotCall(ctx context.Context, queueID string) (Item, error) {
	if !validID(queueID) {
		return Item{}, ErrNotFound
	}
	var out Item
	err := utils.WithTx(ctx, q.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var it Item
		if err := tx.GetContext(ctx, &it, selectItems+`WHERE q.queue_id = $1 FOR UPDATE OF q`, queueID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("mark do not call: lock item: %w", err)
		}
		if it.Status.Terminal() {
			return ErrTerminal
		}
		now := q.clock().UTC()
		if _, err := tx.ExecContext(ctx, `
UPDATE campaign_call_queue
SET status = 'do_not_call', next_attempt_after = NULL, updated_at = $2
WHERE queue_id = $1
`, queueID, now); err != nil {
			return fmt.Errorf("mark do not call: %w", err)
		}
		it.Status = StatusDoNotCall
		it.NextAttemptAfter = nil
		it.UpdatedAt = now
		out = it
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	metrics.DispatchOutcomes.WithLabelValues(string(StatusDoNotCall)).Inc()
	return out, nil
}

func (q *PostgresQueue) Get(ctx context.Context, queueID string) (Item, error) {
	if !validID(queueID) {
		return Item{}, ErrNotFound
	}
	var it Item
	if err := q.db.GetContext(ctx, &it, selectItems+`WHERE q.queue_id = $1`, queueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (q *PostgresQueue) FindByCallSID(ctx context.Context, callSID string) (Item, error) {
	if callSID == "" {
		return Item{}, ErrNotFound
	}
	var it Item
	if err := q.db.GetContext(ctx, &it, selectItems+`WHERE q.call_sid = $1 ORDER BY q.updated_at DESC LIMIT 1`, callSID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("find item by call sid: %w", err)
	}
	return it, nil
}

func (q *PostgresQueue) List(ctx context.Context, campaignID string, f ListFilter) ([]Item, error) {
	if !validID(campaignID) {
		return nil, ErrNotFound
	}
	f = f.normalized()
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidArgument, f.Status)
	}

	query := selectItems + `WHERE q.campaign_id = $1`
	args := []any{campaignID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND q.status = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY q.created_at, q.queue_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	out := []Item{}
	if err := q.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

func (q *PostgresQueue) CountByStatus(ctx context.Context, campaignID string) (StatusCounts, error) {
	if !validID(campaignID) {
		return nil, ErrNotFound
	}
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"n"`
	}
	if err := q.db.SelectContext(ctx, &rows, `
SELECT status, COUNT(*) AS n
FROM campaign_call_queue
WHERE campaign_id = $1
GROUP BY status
`, campaignID); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	out := StatusCounts{}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
