//go:build integration

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadgen-platform/internal/testutil/pgtest"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newPGQueue(t *testing.T) (*PostgresQueue, *sqlx.DB, *time.Time) {
	t.Helper()
	db := pgtest.Open(t)
	now := fixedNow
	q := NewPostgresQueue(db)
	q.clock = func() time.Time { return now }
	return q, db, &now
}

func insertCampaign(t *testing.T, db *sqlx.DB, userID, status string, maxAttempts int, windowStart, windowEnd *string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.ExecContext(context.Background(), `
INSERT INTO campaigns (campaign_id, user_id, name, status, max_attempts_per_lead, retry_interval_seconds,
                       call_window_start, call_window_end, timezone, script_ref)
VALUES ($1, $2, 'Spring sellers', $3, $4, 3600, $5, $6, 'America/New_York', 'seller-v1')`,
		id, userID, status, maxAttempts, windowStart, windowEnd)
	require.NoError(t, err)
	return id
}

func setCampaignStatus(t *testing.T, db *sqlx.DB, campaignID, status string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `UPDATE campaigns SET status = $2 WHERE campaign_id = $1`, campaignID, status)
	require.NoError(t, err)
}

func TestPostgresQueue_ClaimsDoNotOverlap(t *testing.T) {
	q, db, _ := newPGQueue(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, db, 0)
	camp := insertCampaign(t, db, user, "active", 3, nil, nil)

	n, err := q.Enqueue(ctx, camp, user, leads(5))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	first, err := q.ClaimBatch(ctx, "w-1", 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, it := range first {
		require.Equal(t, StatusProcessing, it.Status)
		require.Equal(t, "seller-v1", it.ScriptRef)
		require.Equal(t, DefaultLeadName, it.LeadName)
	}

	second, err := q.ClaimBatch(ctx, "w-2", 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for id := range ids(second) {
		require.False(t, ids(first)[id])
	}
}

func TestPostgresQueue_ExhaustedNeverReclaimed(t *testing.T) {
	q, db, now := newPGQueue(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, db, 0)
	camp := insertCampaign(t, db, user, "active", 3, nil, nil)
	_, err := q.Enqueue(ctx, camp, user, leads(1))
	require.NoError(t, err)

	var last Item
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.ClaimBatch(ctx, "w-1", 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)

		prevNext := claimed[0].NextAttemptAfter
		last, err = q.ReportOutcome(ctx, claimed[0].QueueID, Report{Status: StatusFailed})
		require.NoError(t, err)
		require.Equal(t, attempt, last.AttemptCount)
		if last.NextAttemptAfter != nil {
			require.True(t, last.NextAttemptAfter.After(*prevNext))
		}
		*now = now.Add(2 * time.Hour)
	}
	require.Equal(t, StatusExhausted, last.Status)

	*now = now.Add(72 * time.Hour)
	claimed, err := q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Empty(t, claimed)

	stored, err := q.Get(ctx, last.QueueID)
	require.NoError(t, err)
	require.Equal(t, StatusExhausted, stored.Status)
	require.NotNil(t, stored.LastAttemptAt)
}

func TestPostgresQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	q, db, _ := newPGQueue(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, db, 0)
	camp := insertCampaign(t, db, user, "active", 3, nil, nil)
	_, err := q.Enqueue(ctx, camp, user, leads(60))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
		errs []error
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.ClaimBatch(ctx, uuid.NewString(), 4)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				}
				for _, it := range batch {
					seen[it.QueueID]++
				}
				mu.Unlock()
				if err != nil || len(batch) == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, seen, 60)
	for id, n := range seen {
		require.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func TestPostgresQueue_PauseAndWindow(t *testing.T) {
	q, db, now := newPGQueue(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, db, 0)

	paused := insertCampaign(t, db, user, "active", 3, nil, nil)
	_, err := q.Enqueue(ctx, paused, user, leads(2))
	require.NoError(t, err)
	setCampaignStatus(t, db, paused, "paused")

	start, end := "20:00", "08:00"
	night := insertCampaign(t, db, user, "active", 3, &start, &end)
	_, err = q.Enqueue(ctx, night, user, leads(1))
	require.NoError(t, err)

	got, err := q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Empty(t, got)

	// 21:00 in New York.
	*now = now.Add(10 * time.Hour)
	got, err = q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, night, got[0].CampaignID)

	setCampaignStatus(t, db, paused, "active")
	got, err = q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestPostgresQueue_ReportRequiresProcessing(t *testing.T) {
	q, db, now := newPGQueue(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, db, 0)
	camp := insertCampaign(t, db, user, "active", 3, nil, nil)
	_, err := q.Enqueue(ctx, camp, user, leads(2))
	require.NoError(t, err)

	items, err := q.List(ctx, camp, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	_, err = q.ReportOutcome(ctx, items[0].QueueID, Report{Status: StatusCompleted})
	require.ErrorIs(t, err, ErrNotProcessing)
	_, err = q.ReportOutcome(ctx, uuid.NewString(), Report{Status: StatusCompleted})
	require.ErrorIs(t, err, ErrNotFound)

	claimed, err := q.ClaimBatch(ctx, "w-1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	require.NoError(t, q.AttachCallSID(ctx, claimed[0].QueueID, "CA-pg-1"))
	byCall, err := q.FindByCallSID(ctx, "CA-pg-1")
	require.NoError(t, err)
	require.Equal(t, claimed[0].QueueID, byCall.QueueID)

	done, err := q.ReportOutcome(ctx, claimed[0].QueueID, Report{Status: StatusCompleted, Outcome: "completed"})
	require.NoError(t, err)
	require.Equal(t, "CA-pg-1", done.CallSID)
	require.Nil(t, done.NextAttemptAfter)

	*now = now.Add(3 * time.Hour)
	reaped, err := q.ReapStale(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	require.Equal(t, claimed[1].QueueID, reaped[0].QueueID)
	require.Equal(t, OutcomeLeaseExpired, reaped[0].CallOutcome)

	counts, err := q.CountByStatus(ctx, camp)
	require.NoError(t, err)
	require.Equal(t, StatusCounts{StatusCompleted: 1, StatusFailed: 1}, counts)
}

func TestPostgresQueue_EnqueueIsAllOrNothing(t *testing.T) {
	q, db, _ := newPGQueue(t)
	ctx := context.Background()
	owner := pgtest.CreateUser(t, db, 0)
	other := pgtest.CreateUser(t, db, 0)
	camp := insertCampaign(t, db, owner, "draft", 3, nil, nil)

	_, err := q.Enqueue(ctx, camp, other, leads(2))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = q.Enqueue(ctx, camp, owner, []Lead{{Phone: "+15550001111"}, {Phone: "nope"}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	counts, err := q.CountByStatus(ctx, camp)
	require.NoError(t, err)
	require.Zero(t, counts.Total())

	_, err = db.ExecContext(ctx, `DELETE FROM campaigns WHERE campaign_id = $1`, camp)
	require.NoError(t, err)
}
