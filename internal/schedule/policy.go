package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = time.Hour
	DefaultTimezone      = "America/New_York"
)

// RetryPolicy decides when a lead is called again and when it is given up on.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Backoff     BackoffKind
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultRetryInterval,
		Backoff:     BackoffConstant,
	}
}

func (p RetryPolicy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.Interval < time.Second {
		errs = append(errs, fmt.Errorf("retry interval must be at least 1s, got %v", p.Interval))
	}
	if p.Backoff != "" && !p.Backoff.Valid() {
		errs = append(errs, fmt.Errorf("unknown backoff %q", p.Backoff))
	}
	return errors.Join(errs...)
}

// Exhausted reports whether attempts has used up the policy.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// NextAttempt returns when the lead becomes eligible again after its
// attempts-th failed attempt. The result is strictly after now.
func (p RetryPolicy) NextAttempt(attempts int, now time.Time) time.Time {
	s, err := StrategyFor(p.Backoff, p.Interval)
	if err != nil {
		s = Constant{Interval: DefaultRetryInterval}
	}
	d := s.Delay(attempts)
	if d <= 0 {
		d = time.Second
	}
	return now.Add(d)
}
