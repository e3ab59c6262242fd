package dispatch

import (
	"fmt"
	"strings"
	"time"

	"leadgen-platform/internal/schedule"
	"leadgen-platform/pkg/validate"
)

// applyOutcome computes the state of a processing item after a report.
//
//	completed     attempts unchanged, next cleared
//	failed        attempts+1, next = now+backoff, exhausted at max
//	no_answer     attempts+1, next = now+backoff, exhausted at max
//	do_not_call   attempts unchanged, next cleared
//
// last_attempt_at is always stamped. Empty CallSID/Outcome keep the stored values.
func applyOutcome(it Item, r Report, policy schedule.RetryPolicy, now time.Time) (Item, error) {
	if !r.Status.Reportable() {
		return Item{}, fmt.Errorf("%w: cannot report status %q", ErrInvalidArgument, r.Status)
	}
	if it.Status != StatusProcessing {
		return Item{}, ErrNotProcessing
	}
	policy = policyWithDefaults(policy)

	out := it
	out.Status = r.Status
	switch r.Status {
	case StatusCompleted, StatusDoNotCall:
		out.NextAttemptAfter = nil
	case StatusFailed, StatusNoAnswer:
		out.AttemptCount++
		if policy.Exhausted(out.AttemptCount) {
			out.Status = StatusExhausted
			out.NextAttemptAfter = nil
		} else {
			next := policy.NextAttempt(out.AttemptCount, now)
			out.NextAttemptAfter = &next
		}
	}

	out.LastAttemptAt = &now
	if r.CallSID != "" {
		out.CallSID = r.CallSID
	}
	if r.Outcome != "" {
		out.CallOutcome = r.Outcome
	}
	out.UpdatedAt = now
	return out, nil
}

func policyWithDefaults(p schedule.RetryPolicy) schedule.RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = schedule.DefaultMaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = schedule.DefaultRetryInterval
	}
	return p
}

// normalizeLeads validates leads and fills in the default name.
func normalizeLeads(leads []Lead) ([]Lead, error) {
	if len(leads) == 0 {
		return nil, fmt.Errorf("%w: no leads", ErrInvalidArgument)
	}
	out := make([]Lead, len(leads))
	for i, l := range leads {
		l.Phone = strings.TrimSpace(l.Phone)
		l.Name = strings.TrimSpace(l.Name)
		l.ID = strings.TrimSpace(l.ID)
		if l.Name == "" {
			l.Name = DefaultLeadName
		}
		if errs := validate.Struct(l); errs != nil {
			return nil, fmt.Errorf("%w: lead %d: %v", ErrInvalidArgument, i, errs)
		}
		out[i] = l
	}
	return out, nil
}

func checkLimit(limit int) (int, error) {
	if limit < 1 {
		return 0, fmt.Errorf("%w: limit must be positive", ErrInvalidArgument)
	}
	if limit > MaxClaimBatch {
		limit = MaxClaimBatch
	}
	return limit, nil
}
