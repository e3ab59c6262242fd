// Package dispatch is the campaign call queue: durable call targets handed
// out to workers in exclusive batches, with retry bookkeeping.
package dispatch

import (
	"context"
	"time"
)

// Queue is implemented by PostgresQueue and MemoryQueue.
type Queue interface {
	// Enqueue inserts every lead as a pending item, all or nothing.
	Enqueue(ctx context.Context, campaignID, userID string, leads []Lead) (int, error)

	// ClaimBatch moves up to limit due items to processing and returns them.
	// It never waits on items held by another worker.
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]Item, error)

	ReportOutcome(ctx context.Context, queueID string, r Report) (Item, error)
	AttachCallSID(ctx context.Context, queueID, callSID string) error

	// Defer hands a claimed item back without counting an attempt.
	Defer(ctx context.Context, queueID string, until time.Time) error

	// ReapStale fails items stuck in processing since before cutoff.
	ReapStale(ctx context.Context, cutoff time.Time) ([]Item, error)

	MarkDoNotCall(ctx context.Context, queueID string) (Item, error)

	Get(ctx context.Context, queueID string) (Item, error)
	FindByCallSID(ctx context.Context, callSID string) (Item, error)
	List(ctx context.Context, campaignID string, f ListFilter) ([]Item, error)
	CountByStatus(ctx context.Context, campaignID string) (StatusCounts, error)
}
