package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadgen-platform/pkg/utils"

	"github.com/jmoiron/sqlx"
)

// NOTE: These helpers assume the following tables exist (see internal/migrations):
// - users (token_balance bigint CHECK >= 0)
// - token_usage_logs (append-only, UNIQUE (user_id, idempotency_key))
// - token_credits (append-only, UNIQUE (user_id, idempotency_key))

const usageColumns = `log_id, user_id, action_type, tokens_deducted, quantity, unit_cost,
       metadata, resource_id, idempotency_key, created_at`

func lockBalance(ctx context.Context, tx *sqlx.Tx, userID string) (Balance, error) {
	// Lock the account row to serialize concurrent balance mutations per user.
	const q = `
SELECT user_id, token_balance, updated_at
FROM users
WHERE user_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.GetContext(ctx, &b, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, fmt.Errorf("lock balance: %w", err)
	}
	return b, nil
}

func getBalance(ctx context.Context, db sqlx.QueryerContext, userID string) (Balance, error) {
	const q = `
SELECT user_id, token_balance, updated_at
FROM users
WHERE user_id = $1
`
	var b Balance
	if err := sqlx.GetContext(ctx, db, &b, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// applyBalanceDelta adds delta (negative for debits) and returns the new balance.
func applyBalanceDelta(ctx context.Context, tx *sqlx.Tx, userID string, delta int64, now time.Time) (int64, error) {
	const q = `
UPDATE users
SET token_balance = token_balance + $2,
    updated_at = $3
WHERE user_id = $1
RETURNING token_balance
`
	var out int64
	if err := tx.QueryRowxContext(ctx, q, userID, delta, now).Scan(&out); err != nil {
		return 0, fmt.Errorf("apply balance delta: %w", err)
	}
	return out, nil
}

func findUsageByIdempotency(ctx context.Context, tx *sqlx.Tx, userID, key string) (UsageLogEntry, bool, error) {
	q := `SELECT ` + usageColumns + `
FROM token_usage_logs
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e UsageLogEntry
	if err := tx.GetContext(ctx, &e, q, userID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageLogEntry{}, false, nil
		}
		return UsageLogEntry{}, false, fmt.Errorf("find usage by idempotency key: %w", err)
	}
	return e, true, nil
}

func insertUsage(ctx context.Context, tx *sqlx.Tx, e UsageLogEntry) error {
	const q = `
INSERT INTO token_usage_logs (
  log_id, user_id, action_type, tokens_deducted, quantity, unit_cost,
  metadata, resource_id, idempotency_key, created_at
) VALUES (
  :log_id, :user_id, :action_type, :tokens_deducted, :quantity, :unit_cost,
  :metadata, :resource_id, :idempotency_key, :created_at
)
`
	if _, err := tx.NamedExecContext(ctx, q, e); err != nil {
		return insertErr("insert usage log", err)
	}
	return nil
}

func findCreditByIdempotency(ctx context.Context, tx *sqlx.Tx, userID, key string) (CreditEntry, bool, error) {
	const q = `
SELECT credit_id, user_id, amount, reason, COALESCE(reference, '') AS reference,
       granted_by, idempotency_key, created_at
FROM token_credits
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var c CreditEntry
	if err := tx.GetContext(ctx, &c, q, userID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CreditEntry{}, false, nil
		}
		return CreditEntry{}, false, fmt.Errorf("find credit by idempotency key: %w", err)
	}
	return c, true, nil
}

func insertCredit(ctx context.Context, tx *sqlx.Tx, c CreditEntry) error {
	const q = `
INSERT INTO token_credits (
  credit_id, user_id, amount, reason, reference, granted_by, idempotency_key, created_at
) VALUES (
  :credit_id, :user_id, :amount, :reason, NULLIF(:reference, ''), :granted_by, :idempotency_key, :created_at
)
`
	if _, err := tx.NamedExecContext(ctx, q, c); err != nil {
		return insertErr("insert credit", err)
	}
	return nil
}

// insertErr maps a duplicate (user_id, idempotency_key) to ErrIdempotencyConflict.
// The row lock normally catches a reused key first.
func insertErr(op string, err error) error {
	if utils.IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func listUsage(ctx context.Context, db sqlx.QueryerContext, userID string, f UsageFilter) ([]UsageLogEntry, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if f.ActionType != "" {
		args = append(args, string(f.ActionType))
		where = append(where, fmt.Sprintf("action_type = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, f.Limit, f.Offset)

	q := `SELECT ` + usageColumns + `
FROM token_usage_logs
WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
ORDER BY created_at DESC, log_id
LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	out := []UsageLogEntry{}
	if err := sqlx.SelectContext(ctx, db, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return out, nil
}

// attachResource sets resource_id once. It reports the stored value when the
// row already had one.
func attachResource(ctx context.Context, db sqlx.ExtContext, logID, resourceID string) (current string, attached bool, err error) {
	const upd = `
UPDATE token_usage_logs
SET resource_id = $2
WHERE log_id = $1 AND resource_id IS NULL
`
	res, err := db.ExecContext(ctx, upd, logID, resourceID)
	if err != nil {
		return "", false, fmt.Errorf("attach resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return resourceID, true, nil
	}

	const sel = `SELECT COALESCE(resource_id, '') FROM token_usage_logs WHERE log_id = $1`
	if err := sqlx.GetContext(ctx, db, &current, sel, logID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, fmt.Errorf("read resource: %w", err)
	}
	return current, false, nil
}
