package pricing

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and early development.
//
// NOTE: This is not intended for production; use PostgresRepo.
type MemoryRepo struct {
	mu     sync.RWMutex
	prices map[ActionType]ActionPrice
}

func NewMemoryRepo(prices ...ActionPrice) *MemoryRepo {
	r := &MemoryRepo{prices: make(map[ActionType]ActionPrice, len(prices))}
	for _, p := range prices {
		r.prices[p.ActionType] = p
	}
	return r
}

func (r *MemoryRepo) FindPrice(ctx context.Context, actionType ActionType) (ActionPrice, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prices[actionType]
	return p, ok, nil
}

func (r *MemoryRepo) ListPrices(ctx context.Context) ([]ActionPrice, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActionPrice, 0, len(r.prices))
	for _, p := range r.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out, nil
}

func (r *MemoryRepo) UpsertPrice(ctx context.Context, p ActionPrice) (ActionPrice, error) {
	_ = ctx
	if p.UnitCost <= 0 {
		return ActionPrice{}, ErrInvalidPrice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Description == "" {
		p.Description = r.prices[p.ActionType].Description
	}
	r.prices[p.ActionType] = p
	return p, nil
}

// Delete removes a price row. Tests use it to simulate a missing configuration.
func (r *MemoryRepo) Delete(actionType ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.prices, actionType)
}
