// Package schedule holds the retry and calling-hours policy shared by
// campaigns, the dispatch queue and the worker.
// All strategies are stateless and safe for concurrent use.
package schedule

import (
	"fmt"
	"time"
)

// MaxDelay caps every strategy so a long-running campaign is retried at
// least once a day.
const MaxDelay = 24 * time.Hour

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// BackoffKind is the persisted name of a strategy.
type BackoffKind string

const (
	BackoffConstant    BackoffKind = "constant"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

func (k BackoffKind) Valid() bool {
	switch k {
	case BackoffConstant, BackoffLinear, BackoffExponential:
		return true
	default:
		return false
	}
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration {
	return capDelay(c.Interval)
}

// Linear grows the delay with the attempt number.
// Delay = min(Interval * attempt, MaxDelay).
type Linear struct {
	Interval time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if l.Interval > 0 && time.Duration(attempt) > MaxDelay/l.Interval {
		return MaxDelay
	}
	return capDelay(l.Interval * time.Duration(attempt))
}

// Exponential doubles the delay each attempt.
// Delay = min(Interval * 2^(attempt-1), MaxDelay).
type Exponential struct {
	Interval time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Interval
	for i := 1; i < attempt; i++ {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d *= 2
	}
	return capDelay(d)
}

func capDelay(d time.Duration) time.Duration {
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// StrategyFor builds the strategy named by kind.
func StrategyFor(kind BackoffKind, interval time.Duration) (Strategy, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("retry interval must be positive, got %v", interval)
	}
	switch kind {
	case BackoffConstant, "":
		return Constant{Interval: interval}, nil
	case BackoffLinear:
		return Linear{Interval: interval}, nil
	case BackoffExponential:
		return Exponential{Interval: interval}, nil
	default:
		return nil, fmt.Errorf("unknown backoff %q", kind)
	}
}
