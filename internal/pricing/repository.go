package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leadgen-platform/pkg/utils"

	"github.com/jmoiron/sqlx"
)

// Repository abstracts pricing persistence.
// Implementations: PostgresRepo, MemoryRepo, and CachedRepo wrapping either.
type Repository interface {
	// FindPrice returns ok=false when no row exists for actionType.
	FindPrice(ctx context.Context, actionType ActionType) (ActionPrice, bool, error)
	ListPrices(ctx context.Context) ([]ActionPrice, error)
	UpsertPrice(ctx context.Context, p ActionPrice) (ActionPrice, error)
}

type PostgresRepo struct {
	db sqlx.QueryerContext
}

// NewPostgresRepo accepts a *sqlx.DB or a *sqlx.Tx so price reads can join
// a caller's transaction.
func NewPostgresRepo(db sqlx.QueryerContext) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindPrice(ctx context.Context, actionType ActionType) (ActionPrice, bool, error) {
	const q = `
SELECT action_type, token_cost, COALESCE(description, '') AS description, updated_at
FROM token_pricing
WHERE action_type = $1
`
	var p ActionPrice
	if err := sqlx.GetContext(ctx, r.db, &p, q, string(actionType)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ActionPrice{}, false, nil
		}
		return ActionPrice{}, false, fmt.Errorf("find price %s: %w", actionType, err)
	}
	return p, true, nil
}

func (r *PostgresRepo) ListPrices(ctx context.Context) ([]ActionPrice, error) {
	const q = `
SELECT action_type, token_cost, COALESCE(description, '') AS description, updated_at
FROM token_pricing
ORDER BY action_type
`
	out := []ActionPrice{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q); err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) UpsertPrice(ctx context.Context, p ActionPrice) (ActionPrice, error) {
	const q = `
INSERT INTO token_pricing (action_type, token_cost, description, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (action_type)
DO UPDATE SET token_cost = EXCLUDED.token_cost,
              description = COALESCE(EXCLUDED.description, token_pricing.description),
              updated_at = EXCLUDED.updated_at
RETURNING action_type, token_cost, COALESCE(description, '') AS description, updated_at
`
	var out ActionPrice
	if err := sqlx.GetContext(ctx, r.db, &out, q, string(p.ActionType), p.UnitCost, p.Description, p.UpdatedAt); err != nil {
		if utils.IsCheckViolation(err, "") {
			return ActionPrice{}, ErrInvalidPrice
		}
		return ActionPrice{}, fmt.Errorf("upsert price %s: %w", p.ActionType, err)
	}
	return out, nil
}
