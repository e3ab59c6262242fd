package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadgen-platform/pkg/validate"
)

// Service resolves and maintains token prices per action type.
//
// Contract:
// - Lookup never invents a price; a missing row is ErrPricingNotFound
// - Prices are positive integers of tokens per unit
// - Pure repository lookups; no caching policy lives here (see CachedRepo)
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
	ErrInvalidPrice      = errors.New("unit cost must be positive")
)

// Lookup returns the current price of actionType.
func (s *Service) Lookup(ctx context.Context, actionType ActionType) (ActionPrice, error) {
	if !validate.IsActionType(string(actionType)) {
		return ActionPrice{}, ErrInvalidPricingReq
	}
	p, ok, err := s.repo.FindPrice(ctx, actionType)
	if err != nil {
		return ActionPrice{}, err
	}
	if !ok {
		return ActionPrice{}, ErrPricingNotFound
	}
	if p.UnitCost <= 0 {
		// A stored non-positive price is treated as missing configuration.
		return ActionPrice{}, ErrPricingNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]ActionPrice, error) {
	return s.repo.ListPrices(ctx)
}

// UpdatePrice creates or replaces the price of actionType.
// An empty description keeps the stored one.
func (s *Service) UpdatePrice(ctx context.Context, actionType ActionType, unitCost int64, description string) (ActionPrice, error) {
	if !validate.IsActionType(string(actionType)) {
		return ActionPrice{}, fmt.Errorf("%w: action_type %q", ErrInvalidPricingReq, actionType)
	}
	if unitCost <= 0 {
		return ActionPrice{}, ErrInvalidPrice
	}
	return s.repo.UpsertPrice(ctx, ActionPrice{
		ActionType:  actionType,
		UnitCost:    unitCost,
		Description: strings.TrimSpace(description),
		UpdatedAt:   s.clock().UTC(),
	})
}
