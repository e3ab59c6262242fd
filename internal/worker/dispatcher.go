// Package worker drives the campaign call queue: it claims due items, places
// calls, and applies the provider's status callbacks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"leadgen-platform/internal/accounts"
	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/config"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/metrics"
	"leadgen-platform/internal/telephony"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Slots bounds concurrent calls per user. *utils.ConcurrencyCap implements it;
// a nil cap never limits.
type Slots interface {
	Acquire(ctx context.Context, owner string) (bool, error)
	Release(ctx context.Context, owner string) error
}

type unlimited struct{}

func (unlimited) Acquire(context.Context, string) (bool, error) { return true, nil }
func (unlimited) Release(context.Context, string) error         { return nil }

// CapRetryDelay is how long an item waits when its owner has no free call slot.
const CapRetryDelay = time.Minute

// SlotKeyPrefix namespaces the per-user call counters in Redis. Status
// callbacks in the api process release the slots the worker takes.
const SlotKeyPrefix = "leadgen:calls_in_flight"

// Placement failure reasons for worker_placement_failures_total.
const (
	reasonProvider = "provider"
	reasonPanic    = "panic"
	reasonError    = "error"
	reasonCapFull  = "cap_full"
)

type Dispatcher struct {
	queue  dispatch.Queue
	placer telephony.CallPlacer
	calls  calls.Repository
	slots  Slots
	// numbers resolves a user's own caller ID; optional.
	numbers accounts.Repository

	cfg    config.WorkerConfig
	twilio config.TwilioConfig

	limiter  *rate.Limiter
	workerID string
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type Deps struct {
	Queue   dispatch.Queue
	Placer  telephony.CallPlacer
	Calls   calls.Repository
	Slots   Slots
	Numbers accounts.Repository
}

func NewDispatcher(deps Deps, cfg config.WorkerConfig, twilio config.TwilioConfig, log *slog.Logger) (*Dispatcher, error) {
	if deps.Queue == nil || deps.Placer == nil {
		return nil, errors.New("worker: queue and placer are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Slots == nil {
		deps.Slots = unlimited{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}

	limit := rate.Inf
	if cfg.CallsPerSecond > 0 {
		limit = rate.Limit(cfg.CallsPerSecond)
	}

	host, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])

	return &Dispatcher{
		queue:    deps.Queue,
		placer:   deps.Placer,
		calls:    deps.Calls,
		slots:    deps.Slots,
		numbers:  deps.Numbers,
		cfg:      cfg,
		twilio:   twilio,
		limiter:  rate.NewLimiter(limit, 1),
		workerID: workerID,
		log:      log.With(slog.String("worker_id", workerID)),
		now:      time.Now,
	}, nil
}

// Start runs the polling loop in the background. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	d.log.Info("dispatcher starting",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Int("batch_size", d.cfg.BatchSize),
		slog.Int("concurrency", d.cfg.Concurrency),
		slog.String("placer", d.placer.Name()),
	)

	go d.loop(context.WithoutCancel(ctx))
	return nil
}

// Stop signals the loop and waits for the in-flight tick, or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	done := d.doneCh
	d.mu.Unlock()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher shutdown timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	// Run once immediately on startup.
	d.runTick(ctx)

	for {
		select {
		case <-ticker.C:
			d.runTick(ctx)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) runTick(ctx context.Context) {
	// A tick never outlives two poll intervals, so a hung provider cannot wedge the loop.
	ctx, cancel := context.WithTimeout(ctx, 2*d.cfg.PollInterval+30*time.Second)
	defer cancel()

	if _, err := d.Tick(ctx); err != nil {
		d.log.Error("dispatch tick failed", "err", err)
	}
}

// TickSummary describes one loop iteration.
type TickSummary struct {
	Reaped   int
	Claimed  int
	Placed   int
	Deferred int
	Failed   int
}

// Tick reaps stale items, claims a batch and processes it. An empty claim is not an error.
func (d *Dispatcher) Tick(ctx context.Context) (TickSummary, error) {
	start := time.Now()
	metrics.WorkerTicks.Inc()
	defer func() { metrics.WorkerTickDuration.Observe(time.Since(start).Seconds()) }()

	var sum TickSummary

	if d.cfg.StaleAfter > 0 {
		reaped, err := d.queue.ReapStale(ctx, d.now().Add(-d.cfg.StaleAfter))
		if err != nil {
			d.log.Error("reap stale items failed", "err", err)
		}
		sum.Reaped = len(reaped)
		d.afterReap(ctx, reaped)
	}

	items, err := d.queue.ClaimBatch(ctx, d.workerID, d.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("claim batch: %w", err)
	}
	sum.Claimed = len(items)
	if len(items) == 0 {
		return sum, nil
	}
	d.log.Info("claimed queue items", "count", len(items))

	results := make([]result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, it := range items {
		g.Go(func() error {
			results[i] = d.handle(gctx, it)
			// Items are isolated: one failure never cancels the rest of the batch.
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r {
		case resultPlaced:
			sum.Placed++
		case resultDeferred:
			sum.Deferred++
		case resultFailed:
			sum.Failed++
		}
	}
	return sum, nil
}

type result int

const (
	resultFailed result = iota
	resultPlaced
	resultDeferred
)

// handle always ends in a placed call, a defer, or a failed report.
func (d *Dispatcher) handle(ctx context.Context, it dispatch.Item) result {
	log := d.log.With("queue_id", it.QueueID, "campaign_id", it.CampaignID, "attempt", it.AttemptCount+1)

	res, err := d.process(ctx, log, it)
	if err == nil {
		return res
	}

	metrics.WorkerPlacementFailures.WithLabelValues(failureReason(err)).Inc()
	log.Warn("call initiation failed", "err", err)

	// Bookkeeping must land even when the tick is shutting down.
	bctx := context.WithoutCancel(ctx)
	if _, rerr := d.queue.ReportOutcome(bctx, it.QueueID, dispatch.Report{
		Status:  dispatch.StatusFailed,
		Outcome: dispatch.OutcomeInitiationFailed,
	}); rerr != nil {
		log.Error("report initiation failure", "err", rerr)
	}
	return resultFailed
}

type panicError struct {
	value any
}

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (d *Dispatcher) process(ctx context.Context, log *slog.Logger, it dispatch.Item) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("call placement panicked", "panic", r, "stack", string(debug.Stack()))
			err = panicError{value: r}
		}
	}()

	ok, err := d.slots.Acquire(ctx, it.UserID)
	if err != nil || !ok {
		if err != nil {
			log.Warn("concurrency cap unavailable", "err", err)
		}
		metrics.WorkerPlacementFailures.WithLabelValues(reasonCapFull).Inc()
		if derr := d.queue.Defer(context.WithoutCancel(ctx), it.QueueID, d.now().Add(CapRetryDelay)); derr != nil {
			return resultFailed, fmt.Errorf("defer item: %w", derr)
		}
		return resultDeferred, nil
	}

	placed := false
	defer func() {
		if !placed {
			if rerr := d.slots.Release(context.WithoutCancel(ctx), it.UserID); rerr != nil {
				log.Warn("release call slot failed", "err", rerr)
			}
		}
	}()

	if err := d.limiter.Wait(ctx); err != nil {
		return resultFailed, fmt.Errorf("rate limiter: %w", err)
	}

	from := d.fromNumber(ctx, it.UserID)
	call, err := d.placer.PlaceCall(ctx, telephony.OutboundCallRequest{
		To:                it.LeadPhoneNumber,
		From:              from,
		AnswerURL:         d.twilio.AnswerURL,
		StatusCallbackURL: d.twilio.StatusCallbackURL,
		QueueID:           it.QueueID,
		CampaignID:        it.CampaignID,
		ScriptRef:         it.ScriptRef,
	})
	if err != nil {
		return resultFailed, err
	}
	placed = true
	log = log.With("call_sid", call.CallSID)

	// The call is live from here. Failures are logged; the status callback or
	// the reaper settles the item.
	bctx := context.WithoutCancel(ctx)
	if err := d.queue.AttachCallSID(bctx, it.QueueID, call.CallSID); err != nil {
		log.Error("attach call sid failed", "err", err)
	}
	if d.calls != nil {
		if err := d.calls.Create(bctx, calls.Call{
			CallSID:    call.CallSID,
			UserID:     it.UserID,
			QueueID:    it.QueueID,
			CampaignID: it.CampaignID,
			Direction:  calls.DirectionOutbound,
			From:       from,
			To:         it.LeadPhoneNumber,
			Status:     calls.NormalizeStatus(call.Status),
			CreatedAt:  d.now().UTC(),
		}); err != nil {
			log.Warn("outbound call log failed", "err", err)
		}
	}

	log.Info("call placed", "lead", it.LeadName)
	return resultPlaced, nil
}

func (d *Dispatcher) fromNumber(ctx context.Context, userID string) string {
	if d.numbers != nil {
		if a, err := d.numbers.Get(ctx, userID); err == nil && a.TwilioPhoneNumber != "" {
			return a.TwilioPhoneNumber
		}
	}
	return d.twilio.FromNumber
}

// afterReap frees the call slot of reaped items that reached the provider and
// closes their call logs.
func (d *Dispatcher) afterReap(ctx context.Context, reaped []dispatch.Item) {
	for _, it := range reaped {
		d.log.Warn("reaped stale queue item", "queue_id", it.QueueID, "call_sid", it.CallSID, "status", it.Status)
		if it.CallSID == "" {
			continue
		}
		if err := d.slots.Release(ctx, it.UserID); err != nil {
			d.log.Warn("release call slot failed", "user_id", it.UserID, "err", err)
		}
		if d.calls != nil {
			_, err := d.calls.UpdateStatus(ctx, it.CallSID, calls.StatusUpdate{Status: calls.StatusFailed, At: d.now().UTC()})
			if err != nil && !errors.Is(err, calls.ErrNotFound) {
				d.log.Warn("close reaped call log failed", "call_sid", it.CallSID, "err", err)
			}
		}
	}
}

func failureReason(err error) string {
	var apiErr *telephony.TwilioAPIError
	var pe panicError
	switch {
	case errors.As(err, &pe):
		return reasonPanic
	case errors.As(err, &apiErr):
		return reasonProvider
	default:
		return reasonError
	}
}
