package reporting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadgen-platform/internal/ledger"

	"github.com/jmoiron/sqlx"
)

// Repository reads the immutable ledger tables. Every query is scoped to one user.
type Repository interface {
	UsageByAction(ctx context.Context, userID string, from, to time.Time) ([]ActionUsage, error)
	CreditsByReason(ctx context.Context, userID string, from, to time.Time) ([]CreditTotal, error)
}

type PostgresRepo struct {
	db sqlx.QueryerContext
}

func NewPostgresRepo(db sqlx.QueryerContext) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) UsageByAction(ctx context.Context, userID string, from, to time.Time) ([]ActionUsage, error) {
	var out []ActionUsage
	err := sqlx.SelectContext(ctx, r.db, &out, `
SELECT action_type, COUNT(*) AS entries, SUM(quantity) AS quantity, SUM(tokens_deducted) AS tokens
FROM token_usage_logs
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
GROUP BY action_type
ORDER BY tokens DESC, action_type
`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("usage by action: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) CreditsByReason(ctx context.Context, userID string, from, to time.Time) ([]CreditTotal, error) {
	var out []CreditTotal
	err := sqlx.SelectContext(ctx, r.db, &out, `
SELECT reason, SUM(amount) AS amount
FROM token_credits
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
GROUP BY reason
ORDER BY reason
`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("credits by reason: %w", err)
	}
	return out, nil
}

// MemoryRepo aggregates raw ledger rows in memory. For tests.
type MemoryRepo struct {
	mu      sync.Mutex
	Usage   []ledger.UsageLogEntry
	Credits []ledger.CreditEntry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *MemoryRepo) UsageByAction(_ context.Context, userID string, from, to time.Time) ([]ActionUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := map[string]int{}
	var out []ActionUsage
	for _, e := range r.Usage {
		if e.UserID != userID || !inRange(e.CreatedAt, from, to) {
			continue
		}
		i, ok := idx[string(e.ActionType)]
		if !ok {
			i = len(out)
			idx[string(e.ActionType)] = i
			out = append(out, ActionUsage{ActionType: e.ActionType})
		}
		out[i].Count++
		out[i].Quantity += e.Quantity
		out[i].Tokens += e.TokensDeducted
	}
	return out, nil
}

func (r *MemoryRepo) CreditsByReason(_ context.Context, userID string, from, to time.Time) ([]CreditTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := map[ledger.CreditReason]int{}
	var out []CreditTotal
	for _, c := range r.Credits {
		if c.UserID != userID || !inRange(c.CreatedAt, from, to) {
			continue
		}
		i, ok := idx[c.Reason]
		if !ok {
			i = len(out)
			idx[c.Reason] = i
			out = append(out, CreditTotal{Reason: c.Reason})
		}
		out[i].Amount += c.Amount
	}
	return out, nil
}
