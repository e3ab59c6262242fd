package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"leadgen-platform/internal/config"
	"leadgen-platform/internal/pricing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// These tests cover pricing and input validation without a database.
// Balance mutations, locking and idempotency run against Postgres in
// service_integration_test.go.

const unitUser = "0b5e2f4a-9d31-4c7e-8f0a-3c6d1e2b7a90"

func newUnitService(prices ...pricing.ActionPrice) *Service {
	return NewService(nil, pricing.NewService(pricing.NewMemoryRepo(prices...)), nil, config.LedgerConfig{})
}

func TestPriceAction(t *testing.T) {
	svc := newUnitService(pricing.ActionPrice{ActionType: pricing.ActionSkipTrace, UnitCost: 2})
	ctx := context.Background()

	q, err := svc.PriceAction(ctx, pricing.ActionSkipTrace, 3)
	require.NoError(t, err)
	require.Equal(t, int64(6), q.Total)
	require.Equal(t, int64(2), q.UnitCost)

	again, err := svc.PriceAction(ctx, pricing.ActionSkipTrace, 3)
	require.NoError(t, err)
	require.Equal(t, q.Total, again.Total)

	zero, err := svc.PriceAction(ctx, pricing.ActionSkipTrace, 0)
	require.NoError(t, err)
	require.Zero(t, zero.Total)

	// No pricing lookup happens for a non-positive quantity, even for unknown actions.
	neg, err := svc.PriceAction(ctx, "nonexistent_action", -4)
	require.NoError(t, err)
	require.Zero(t, neg.Total)
}

func TestPriceAction_MissingPricingIsConfigurationError(t *testing.T) {
	svc := newUnitService()

	_, err := svc.PriceAction(context.Background(), "nonexistent_action", 1)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, pricing.ActionType("nonexistent_action"), cfgErr.ActionType)
}

func TestPriceAction_Overflow(t *testing.T) {
	svc := newUnitService(pricing.ActionPrice{ActionType: pricing.ActionEmailSend, UnitCost: 1 << 40})
	_, err := svc.PriceAction(context.Background(), pricing.ActionEmailSend, 1<<40)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDebit_ConfigurationErrorBeforeTouchingStore(t *testing.T) {
	// A nil db fails any transaction; the pricing check must fail first.
	svc := newUnitService()
	_, err := svc.Debit(context.Background(), DebitRequest{UserID: unitUser, ActionType: "nonexistent_action", Quantity: 1})
	require.True(t, IsConfigurationError(err), "expected configuration error, got %v", err)
}

func TestDebit_ZeroQuantityIsNoCharge(t *testing.T) {
	svc := newUnitService()
	res, err := svc.Debit(context.Background(), DebitRequest{UserID: unitUser, ActionType: pricing.ActionSkipTrace, Quantity: 0})
	require.NoError(t, err)
	require.Zero(t, res.Deducted)
	require.Empty(t, res.LogID)
	// The account is not read, so no balance is reported.
	require.Zero(t, res.Balance)
}

func TestDebit_RejectsInvalidArgs(t *testing.T) {
	svc := newUnitService()
	ctx := context.Background()

	_, err := svc.Debit(ctx, DebitRequest{ActionType: pricing.ActionSkipTrace, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Debit(ctx, DebitRequest{UserID: unitUser, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Debit(ctx, DebitRequest{
		UserID:     unitUser,
		ActionType: pricing.ActionSkipTrace,
		Quantity:   1,
		Metadata:   EmailSendMetadata{Recipients: 1},
	})
	require.ErrorIs(t, err, ErrInvalidArgument)

	// Malformed ids never reach the uuid column.
	_, err = svc.Debit(ctx, DebitRequest{UserID: "abc", ActionType: pricing.ActionSkipTrace, Quantity: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMalformedUserIDIsNotFound(t *testing.T) {
	svc := newUnitService(pricing.ActionPrice{ActionType: pricing.ActionSkipTrace, UnitCost: 2})
	ctx := context.Background()

	_, err := svc.Credit(ctx, CreditRequest{UserID: "abc", Amount: 10, Reason: CreditPurchase})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetBalance(ctx, "abc")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Estimate(ctx, "abc", pricing.ActionSkipTrace, 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ListUsage(ctx, "abc", UsageFilter{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetBalance(ctx, "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInsertErrMapsDuplicateKey(t *testing.T) {
	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "token_usage_logs_user_id_idempotency_key_key"})
	require.ErrorIs(t, insertErr("insert usage log", dup), ErrIdempotencyConflict)

	other := insertErr("insert credit", &pgconn.PgError{Code: "23503"})
	require.NotErrorIs(t, other, ErrIdempotencyConflict)
	require.Contains(t, other.Error(), "insert credit")
}

func TestCredit_RejectsInvalidArgs(t *testing.T) {
	svc := newUnitService()
	ctx := context.Background()

	_, err := svc.Credit(ctx, CreditRequest{UserID: unitUser, Amount: 0, Reason: CreditPurchase})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Credit(ctx, CreditRequest{UserID: unitUser, Amount: 10_000_001, Reason: CreditPurchase})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Credit(ctx, CreditRequest{UserID: unitUser, Amount: 10, Reason: "gift"})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Credit(ctx, CreditRequest{UserID: unitUser, Amount: 10, Reason: CreditAdminGrant, GrantedBy: "not-a-uuid"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAttachResource_RejectsInvalidArgs(t *testing.T) {
	svc := newUnitService()
	require.ErrorIs(t, svc.AttachResource(context.Background(), "nope", "CA1"), ErrInvalidArgument)
	require.ErrorIs(t, svc.AttachResource(context.Background(), "6f1c7f4e-4e0c-4a39-9a53-2a4f58f0b6a1", " "), ErrInvalidArgument)
}
