package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/telephony"
)

// StatusRecorder applies Twilio status callbacks to the queue and call log.
// It runs in the api process; the dispatcher only places calls.
type StatusRecorder struct {
	queue dispatch.Queue
	calls calls.Repository
	slots Slots
	log   *slog.Logger
	now   func() time.Time
}

func NewStatusRecorder(queue dispatch.Queue, callLog calls.Repository, slots Slots, log *slog.Logger) *StatusRecorder {
	if log == nil {
		log = slog.Default()
	}
	if slots == nil {
		slots = unlimited{}
	}
	return &StatusRecorder{queue: queue, calls: callLog, slots: slots, log: log, now: time.Now}
}

// RecordCallStatus updates the call log and, for final statuses of dispatched
// calls, reports the queue outcome and frees the owner's call slot.
// Unknown call SIDs and items already settled are not errors.
func (r *StatusRecorder) RecordCallStatus(ctx context.Context, cb telephony.StatusCallback) error {
	log := r.log.With("call_sid", cb.CallSID, "call_status", cb.CallStatus)

	if r.calls != nil {
		_, err := r.calls.UpdateStatus(ctx, cb.CallSID, calls.StatusUpdate{
			Status:          calls.NormalizeStatus(cb.CallStatus),
			DurationSeconds: cb.DurationSeconds,
			At:              r.now().UTC(),
		})
		if err != nil && !errors.Is(err, calls.ErrNotFound) {
			log.Warn("call log update failed", "err", err)
		}
	}

	status, final := telephony.MapCallStatus(cb.CallStatus, cb.AnsweredBy)
	if !final {
		return nil
	}

	it, err := r.queue.FindByCallSID(ctx, cb.CallSID)
	if errors.Is(err, dispatch.ErrNotFound) {
		// Inbound calls and items deleted with their campaign land here.
		log.Info("status callback for call without queue item")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find queue item: %w", err)
	}
	if it.Status != dispatch.StatusProcessing {
		log.Info("status callback for settled item", "queue_id", it.QueueID, "status", it.Status)
		return nil
	}

	next, err := r.queue.ReportOutcome(ctx, it.QueueID, dispatch.Report{
		Status:  status,
		CallSID: cb.CallSID,
		Outcome: callOutcome(cb),
	})
	if errors.Is(err, dispatch.ErrNotProcessing) || errors.Is(err, dispatch.ErrNotFound) {
		// Lost the race with the reaper, which already freed the slot.
		log.Info("queue item settled concurrently", "queue_id", it.QueueID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("report outcome: %w", err)
	}

	if err := r.slots.Release(ctx, it.UserID); err != nil {
		log.Warn("release call slot failed", "user_id", it.UserID, "err", err)
	}
	log.Info("call outcome recorded", "queue_id", it.QueueID, "status", next.Status, "attempts", next.AttemptCount)
	return nil
}

func callOutcome(cb telephony.StatusCallback) string {
	if strings.HasPrefix(cb.AnsweredBy, "machine") || cb.AnsweredBy == "fax" {
		return "answering_machine"
	}
	return cb.CallStatus
}
