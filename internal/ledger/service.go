package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"leadgen-platform/internal/config"
	"leadgen-platform/internal/metrics"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PriceLookup resolves the current unit cost of an action type.
// *pricing.Service implements it.
type PriceLookup interface {
	Lookup(ctx context.Context, actionType pricing.ActionType) (pricing.ActionPrice, error)
}

// Service is the token ledger.
//
// Money invariants:
// - Balance never goes negative
// - Every balance change writes exactly one usage log row (debit) or credit row (credit)
//   in the same transaction
// - Usage logs and credits are append-only
//
// Concurrency:
// - The users row is locked FOR UPDATE; debits for one user serialize,
//   debits for different users never share a lock
type Service struct {
	db        *sqlx.DB
	prices    PriceLookup
	log       *slog.Logger
	maxCredit int64
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sqlx.DB, prices PriceLookup, log *slog.Logger, cfg config.LedgerConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	maxCredit := cfg.MaxCreditPerTx
	if maxCredit <= 0 {
		maxCredit = 10_000_000
	}
	return &Service{
		db:        db,
		prices:    prices,
		log:       log.With("component", "ledger"),
		maxCredit: maxCredit,
		clock:     time.Now,
	}
}

const maxIdempotencyKeyLen = 200

// PriceAction computes unit_cost * quantity. quantity <= 0 is no charge.
func (s *Service) PriceAction(ctx context.Context, actionType pricing.ActionType, quantity int64) (Quote, error) {
	if strings.TrimSpace(string(actionType)) == "" {
		return Quote{}, fmt.Errorf("%w: action_type required", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return Quote{ActionType: actionType, Quantity: quantity}, nil
	}

	p, err := s.prices.Lookup(ctx, actionType)
	switch {
	case errors.Is(err, pricing.ErrPricingNotFound):
		s.log.Error("no pricing configured for action; refusing to charge", "action_type", actionType)
		return Quote{}, &ConfigurationError{ActionType: actionType}
	case errors.Is(err, pricing.ErrInvalidPricingReq):
		return Quote{}, fmt.Errorf("%w: action_type %q", ErrInvalidArgument, actionType)
	case err != nil:
		return Quote{}, fmt.Errorf("price lookup: %w", err)
	}

	if p.UnitCost > math.MaxInt64/quantity {
		return Quote{}, fmt.Errorf("%w: quantity %d overflows cost", ErrInvalidArgument, quantity)
	}
	return Quote{
		ActionType:  actionType,
		Quantity:    quantity,
		UnitCost:    p.UnitCost,
		Total:       p.UnitCost * quantity,
		Description: p.Description,
	}, nil
}

// Estimate prices an action and compares it with the user's balance.
// It takes no locks and reserves nothing.
func (s *Service) Estimate(ctx context.Context, userID string, actionType pricing.ActionType, quantity int64) (Estimate, error) {
	if err := checkUserID(userID); err != nil {
		return Estimate{}, err
	}
	if quantity < 1 {
		return Estimate{}, ErrInvalidArgument
	}
	q, err := s.PriceAction(ctx, actionType, quantity)
	if err != nil {
		return Estimate{}, err
	}
	b, err := getBalance(ctx, s.db, userID)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Quote: q, Balance: b.Tokens, Sufficient: b.Tokens >= q.Total}, nil
}

// Debit atomically checks the balance and charges for an action.
// The price is resolved before any transaction is opened. A quantity <= 0
// charges nothing and returns a zero result without reading the account.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	if err := validateDebit(req); err != nil {
		return DebitResult{}, err
	}
	quote, err := s.quoteDebit(ctx, req)
	if err != nil || quote.Total == 0 {
		return DebitResult{}, err
	}

	var out DebitResult
	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		r, err := s.debitQuoted(ctx, tx, req, quote)
		out = r
		return err
	})
	if err != nil {
		return DebitResult{}, err
	}
	return out, nil
}

// DebitTx runs a debit inside the caller's transaction so the charge commits
// or rolls back together with the caller's own writes.
func (s *Service) DebitTx(ctx context.Context, tx *sqlx.Tx, req DebitRequest) (DebitResult, error) {
	if err := validateDebit(req); err != nil {
		return DebitResult{}, err
	}
	quote, err := s.quoteDebit(ctx, req)
	if err != nil || quote.Total == 0 {
		return DebitResult{}, err
	}
	return s.debitQuoted(ctx, tx, req, quote)
}

func (s *Service) quoteDebit(ctx context.Context, req DebitRequest) (Quote, error) {
	quote, err := s.PriceAction(ctx, req.ActionType, req.Quantity)
	if err != nil {
		result := metrics.ResultError
		if IsConfigurationError(err) {
			result = metrics.ResultMisconfig
		}
		metrics.LedgerDebits.WithLabelValues(string(req.ActionType), result).Inc()
		return Quote{}, err
	}
	return quote, nil
}

func (s *Service) debitQuoted(ctx context.Context, tx *sqlx.Tx, req DebitRequest, quote Quote) (DebitResult, error) {
	action := string(req.ActionType)

	bal, err := lockBalance(ctx, tx, req.UserID)
	if err != nil {
		return DebitResult{}, err
	}

	if req.IdempotencyKey != "" {
		existing, ok, err := findUsageByIdempotency(ctx, tx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return DebitResult{}, err
		}
		if ok {
			if existing.ActionType != req.ActionType || existing.Quantity != req.Quantity {
				return DebitResult{}, ErrIdempotencyConflict
			}
			metrics.LedgerDebits.WithLabelValues(action, metrics.ResultReplayed).Inc()
			return DebitResult{
				LogID:    existing.LogID,
				Deducted: existing.TokensDeducted,
				Balance:  bal.Tokens,
				Replayed: true,
			}, nil
		}
	}

	if bal.Tokens < quote.Total {
		metrics.LedgerDebits.WithLabelValues(action, metrics.ResultInsufficient).Inc()
		s.log.Info("debit refused: insufficient tokens",
			"user_id", req.UserID,
			"action_type", action,
			"required", quote.Total,
			"balance", bal.Tokens,
		)
		return DebitResult{}, &InsufficientTokensError{Required: quote.Total, Balance: bal.Tokens}
	}

	now := s.clock().UTC()
	newBal, err := applyBalanceDelta(ctx, tx, req.UserID, -quote.Total, now)
	if err != nil {
		return DebitResult{}, err
	}

	entry := UsageLogEntry{
		LogID:          uuid.NewString(),
		UserID:         req.UserID,
		ActionType:     req.ActionType,
		TokensDeducted: quote.Total,
		Quantity:       req.Quantity,
		UnitCost:       quote.UnitCost,
		Metadata:       Metadata{V: req.Metadata},
		IdempotencyKey: optional(req.IdempotencyKey),
		CreatedAt:      now,
	}
	if err := insertUsage(ctx, tx, entry); err != nil {
		return DebitResult{}, err
	}

	metrics.LedgerDebits.WithLabelValues(action, metrics.ResultOK).Inc()
	metrics.LedgerTokensDeducted.WithLabelValues(action).Add(float64(quote.Total))
	s.log.Debug("debited tokens",
		"user_id", req.UserID,
		"action_type", action,
		"deducted", quote.Total,
		"balance", newBal,
		"log_id", entry.LogID,
	)

	return DebitResult{LogID: entry.LogID, Deducted: quote.Total, Balance: newBal}, nil
}

// Credit adds tokens to an account.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if err := checkUserID(req.UserID); err != nil {
		return CreditResult{}, err
	}
	if !req.Reason.Valid() {
		return CreditResult{}, ErrInvalidArgument
	}
	if req.Amount <= 0 || req.Amount > s.maxCredit {
		return CreditResult{}, fmt.Errorf("%w: amount must be between 1 and %d", ErrInvalidArgument, s.maxCredit)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return CreditResult{}, fmt.Errorf("%w: idempotency key too long", ErrInvalidArgument)
	}
	if req.GrantedBy != "" {
		if _, err := uuid.Parse(req.GrantedBy); err != nil {
			return CreditResult{}, fmt.Errorf("%w: granted_by", ErrInvalidArgument)
		}
	}

	var out CreditResult
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		bal, err := lockBalance(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			existing, ok, err := findCreditByIdempotency(ctx, tx, req.UserID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if ok {
				if existing.Amount != req.Amount || existing.Reason != req.Reason {
					return ErrIdempotencyConflict
				}
				out = CreditResult{CreditID: existing.CreditID, Credited: existing.Amount, Balance: bal.Tokens, Replayed: true}
				return nil
			}
		}

		now := s.clock().UTC()
		newBal, err := applyBalanceDelta(ctx, tx, req.UserID, req.Amount, now)
		if err != nil {
			return err
		}

		entry := CreditEntry{
			CreditID:       uuid.NewString(),
			UserID:         req.UserID,
			Amount:         req.Amount,
			Reason:         req.Reason,
			Reference:      req.Reference,
			GrantedBy:      optional(req.GrantedBy),
			IdempotencyKey: optional(req.IdempotencyKey),
			CreatedAt:      now,
		}
		if err := insertCredit(ctx, tx, entry); err != nil {
			return err
		}

		out = CreditResult{CreditID: entry.CreditID, Credited: req.Amount, Balance: newBal}
		return nil
	})
	if err != nil {
		return CreditResult{}, err
	}

	if !out.Replayed {
		metrics.LedgerCredits.WithLabelValues(string(req.Reason)).Add(float64(req.Amount))
		s.log.Info("credited tokens", "user_id", req.UserID, "amount", req.Amount, "reason", req.Reason)
	}
	return out, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if err := checkUserID(userID); err != nil {
		return Balance{}, err
	}
	return getBalance(ctx, s.db, userID)
}

func (s *Service) ListUsage(ctx context.Context, userID string, f UsageFilter) ([]UsageLogEntry, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidArgument)
	}
	return listUsage(ctx, s.db, userID, f.normalized())
}

// AttachResource records the downstream resource (e.g. a call SID) produced
// by a metered action. It may be applied once; repeating the same value is a no-op.
func (s *Service) AttachResource(ctx context.Context, logID, resourceID string) error {
	if _, err := uuid.Parse(logID); err != nil {
		return fmt.Errorf("%w: log_id", ErrInvalidArgument)
	}
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return fmt.Errorf("%w: resource_id required", ErrInvalidArgument)
	}

	current, attached, err := attachResource(ctx, s.db, logID, resourceID)
	if err != nil {
		return err
	}
	if attached || current == resourceID {
		return nil
	}
	return ErrResourceAlreadyAttached
}

// checkUserID rejects an empty id and reports a malformed one as an unknown
// account; user ids are UUIDs, so such an account cannot exist.
func checkUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return ErrNotFound
	}
	return nil
}

func validateDebit(req DebitRequest) error {
	if err := checkUserID(req.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(string(req.ActionType)) == "" {
		return fmt.Errorf("%w: action_type required", ErrInvalidArgument)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key too long", ErrInvalidArgument)
	}
	if req.Metadata != nil && req.Metadata.ActionType() != req.ActionType {
		return fmt.Errorf("%w: %s metadata on %s debit", ErrInvalidArgument, req.Metadata.ActionType(), req.ActionType)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
