package ledger

import (
	"errors"
	"fmt"

	"leadgen-platform/internal/pricing"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrIdempotencyConflict     = errors.New("idempotency key reused for a different request")
	ErrResourceAlreadyAttached = errors.New("usage log already has a different resource attached")
)

// InsufficientTokensError is the expected, user-facing refusal of a debit.
// Nothing was mutated when it is returned.
type InsufficientTokensError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: required %d, balance %d", e.Required, e.Balance)
}

// ConfigurationError means an action type has no pricing row.
// It is an operator fault and must abort the action.
type ConfigurationError struct {
	ActionType pricing.ActionType
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no pricing configured for action %q", e.ActionType)
}

// AsInsufficientTokens unwraps err into an *InsufficientTokensError.
func AsInsufficientTokens(err error) (*InsufficientTokensError, bool) {
	var e *InsufficientTokensError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsConfigurationError reports whether err is (or wraps) a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}
