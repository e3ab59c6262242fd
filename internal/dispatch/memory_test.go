package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadgen-platform/internal/schedule"

	"github.com/stretchr/testify/require"
)

// 15:00 UTC is 11:00 in New York on this date.
var fixedNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type memFixture struct {
	q   *MemoryQueue
	now time.Time
}

func newMemFixture(t *testing.T) *memFixture {
	t.Helper()
	f := &memFixture{q: NewMemoryQueue(), now: fixedNow}
	f.q.SetClock(func() time.Time { return f.now })
	return f
}

func (f *memFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func activeCampaign(user string) CampaignState {
	return CampaignState{UserID: user, Active: true, Policy: schedule.DefaultRetryPolicy(), ScriptRef: "seller-v1"}
}

func leads(n int) []Lead {
	out := make([]Lead, n)
	for i := range out {
		out[i] = Lead{Phone: fmt.Sprintf("+1555000%04d", i), ID: fmt.Sprintf("L%d", i)}
	}
	return out
}

func ids(items []Item) map[string]bool {
	out := map[string]bool{}
	for _, it := range items {
		out[it.QueueID] = true
	}
	return out
}

func TestMemoryQueue_ClaimsDoNotOverlap(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))

	n, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(5))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	first, err := f.q.ClaimBatch(ctx, "w-1", 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, it := range first {
		require.Equal(t, StatusProcessing, it.Status)
		require.Equal(t, "w-1", it.ClaimedBy)
		require.Equal(t, "seller-v1", it.ScriptRef)
	}

	second, err := f.q.ClaimBatch(ctx, "w-2", 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	for id := range ids(second) {
		require.False(t, ids(first)[id], "item %s claimed twice", id)
	}

	empty, err := f.q.ClaimBatch(ctx, "w-3", 3)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryQueue_ExhaustedNeverReclaimed(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))
	_, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(1))
	require.NoError(t, err)

	var last Item
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := f.q.ClaimBatch(ctx, "w-1", 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)

		last, err = f.q.ReportOutcome(ctx, claimed[0].QueueID, Report{Status: StatusFailed, Outcome: "provider_error"})
		require.NoError(t, err)
		require.Equal(t, attempt, last.AttemptCount)

		f.advance(2 * time.Hour)
	}
	require.Equal(t, StatusExhausted, last.Status)

	f.advance(48 * time.Hour)
	claimed, err := f.q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestMemoryQueue_RetryWaitsForBackoff(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))
	_, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(1))
	require.NoError(t, err)

	claimed, err := f.q.ClaimBatch(ctx, "w-1", 1)
	require.NoError(t, err)
	_, err = f.q.ReportOutcome(ctx, claimed[0].QueueID, Report{Status: StatusNoAnswer})
	require.NoError(t, err)

	f.advance(59 * time.Minute)
	none, err := f.q.ClaimBatch(ctx, "w-1", 1)
	require.NoError(t, err)
	require.Empty(t, none)

	f.advance(time.Minute)
	again, err := f.q.ClaimBatch(ctx, "w-1", 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].AttemptCount)
}

func TestMemoryQueue_PausedCampaignIsNotClaimed(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))
	_, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(3))
	require.NoError(t, err)

	inflight, err := f.q.ClaimBatch(ctx, "w-1", 1)
	require.NoError(t, err)
	require.Len(t, inflight, 1)

	paused := activeCampaign("u-1")
	paused.Active = false
	f.q.SetCampaign("camp-x", paused)

	none, err := f.q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Empty(t, none)

	// In-flight work still reports normally.
	done, err := f.q.ReportOutcome(ctx, inflight[0].QueueID, Report{Status: StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
}

func TestMemoryQueue_CallWindow(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	night := activeCampaign("u-1")
	night.Window = schedule.CallWindow{Start: "20:00", End: "08:00", Timezone: "America/New_York"}
	f.q.SetCampaign("camp-night", night)
	_, err := f.q.Enqueue(ctx, "camp-night", "u-1", leads(1))
	require.NoError(t, err)

	none, err := f.q.ClaimBatch(ctx, "w-1", 5)
	require.NoError(t, err)
	require.Empty(t, none)

	// 15:00 UTC + 10h is 21:00 in New York.
	f.advance(10 * time.Hour)
	got, err := f.q.ClaimBatch(ctx, "w-1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMemoryQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))
	_, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(50))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				batch, err := f.q.ClaimBatch(ctx, fmt.Sprintf("w-%d", worker), 3)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, it := range batch {
					seen[it.QueueID]++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for id, n := range seen {
		require.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func TestMemoryQueue_DeferAndReap(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))
	_, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(2))
	require.NoError(t, err)

	claimed, err := f.q.ClaimBatch(ctx, "w-1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	require.NoError(t, f.q.Defer(ctx, claimed[0].QueueID, f.now.Add(time.Minute)))
	deferred, err := f.q.Get(ctx, claimed[0].QueueID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, deferred.Status)
	require.Zero(t, deferred.AttemptCount)
	require.ErrorIs(t, f.q.Defer(ctx, claimed[0].QueueID, f.now), ErrNotProcessing)

	require.NoError(t, f.q.AttachCallSID(ctx, claimed[1].QueueID, "CA-1"))

	f.advance(3 * time.Hour)
	reaped, err := f.q.ReapStale(ctx, f.now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	require.Equal(t, StatusFailed, reaped[0].Status)
	require.Equal(t, OutcomeLeaseExpired, reaped[0].CallOutcome)
	require.Equal(t, "CA-1", reaped[0].CallSID)
	require.Equal(t, 1, reaped[0].AttemptCount)

	_, err = f.q.ReportOutcome(ctx, claimed[1].QueueID, Report{Status: StatusCompleted})
	require.ErrorIs(t, err, ErrNotProcessing)
}

func TestMemoryQueue_DoNotCallListAndCount(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))
	_, err := f.q.Enqueue(ctx, "camp-x", "u-1", leads(3))
	require.NoError(t, err)

	all, err := f.q.List(ctx, "camp-x", ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "L0", all[0].LeadID)

	dnc, err := f.q.MarkDoNotCall(ctx, all[0].QueueID)
	require.NoError(t, err)
	require.Equal(t, StatusDoNotCall, dnc.Status)
	_, err = f.q.MarkDoNotCall(ctx, all[0].QueueID)
	require.ErrorIs(t, err, ErrTerminal)

	claimed, err := f.q.ClaimBatch(ctx, "w-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.NoError(t, f.q.AttachCallSID(ctx, claimed[0].QueueID, "CA-77"))

	byCall, err := f.q.FindByCallSID(ctx, "CA-77")
	require.NoError(t, err)
	require.Equal(t, claimed[0].QueueID, byCall.QueueID)

	counts, err := f.q.CountByStatus(ctx, "camp-x")
	require.NoError(t, err)
	require.Equal(t, 1, counts[StatusDoNotCall])
	require.Equal(t, 2, counts[StatusProcessing])
	require.Equal(t, 3, counts.Total())

	pending, err := f.q.List(ctx, "camp-x", ListFilter{Status: StatusProcessing, Limit: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestMemoryQueue_EnqueueChecksOwnership(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	f.q.SetCampaign("camp-x", activeCampaign("u-1"))

	_, err := f.q.Enqueue(ctx, "camp-x", "u-2", leads(1))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.q.Enqueue(ctx, "missing", "u-1", leads(1))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.q.Enqueue(ctx, "camp-x", "u-1", []Lead{{Phone: "+15550001111"}, {Phone: "bad"}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	counts, err := f.q.CountByStatus(ctx, "camp-x")
	require.NoError(t, err)
	require.Zero(t, counts.Total())
}
