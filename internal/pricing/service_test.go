package pricing

import (
	"context"
	"errors"
	"testing"
)

func seeded() *MemoryRepo {
	return NewMemoryRepo(
		ActionPrice{ActionType: ActionOutboundCall, UnitCost: 20, Description: "AI outbound call"},
		ActionPrice{ActionType: ActionSkipTrace, UnitCost: 150, Description: "Skip trace lookup"},
	)
}

func TestLookup(t *testing.T) {
	svc := NewService(seeded())

	p, err := svc.Lookup(context.Background(), ActionSkipTrace)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.UnitCost != 150 {
		t.Fatalf("expected 150, got %d", p.UnitCost)
	}

	if _, err := svc.Lookup(context.Background(), ActionMarketplaceBid); !errors.Is(err, ErrPricingNotFound) {
		t.Fatalf("expected ErrPricingNotFound, got %v", err)
	}
	if _, err := svc.Lookup(context.Background(), "Not Valid"); !errors.Is(err, ErrInvalidPricingReq) {
		t.Fatalf("expected ErrInvalidPricingReq, got %v", err)
	}
}

func TestUpdatePrice(t *testing.T) {
	repo := seeded()
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.UpdatePrice(ctx, ActionSkipTrace, 0, ""); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero cost, got %v", err)
	}
	if _, err := svc.UpdatePrice(ctx, ActionSkipTrace, -5, ""); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative cost, got %v", err)
	}

	p, err := svc.UpdatePrice(ctx, ActionSkipTrace, 175, "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.UnitCost != 175 || p.Description != "Skip trace lookup" {
		t.Fatalf("expected cost update with kept description, got %+v", p)
	}

	p, err = svc.UpdatePrice(ctx, ActionMarketplaceBid, 50, "Marketplace bid")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.UpdatedAt.IsZero() {
		t.Fatalf("expected updated_at to be stamped")
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ActionType != ActionOutboundCall {
		t.Fatalf("expected 3 sorted prices, got %+v", all)
	}
}
