// Package routing decides what happens to an inbound call on a subscriber number.
//
// The engine charges for the call before connecting it. Provider adapters only
// see the telephony.InboundDecision it returns.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadgen-platform/internal/accounts"
	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/metrics"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/telephony"
)

// Debiter is the subset of *ledger.Service the engine charges through.
type Debiter interface {
	Debit(ctx context.Context, req ledger.DebitRequest) (ledger.DebitResult, error)
	AttachResource(ctx context.Context, logID, resourceID string) error
}

type CallLog interface {
	Create(ctx context.Context, c calls.Call) error
}

type Engine struct {
	accounts accounts.Repository
	ledger   Debiter
	calls    CallLog
	log      *slog.Logger

	// streamURL is the voice agent media stream.
	streamURL string
	now       func() time.Time
}

func NewEngine(accts accounts.Repository, debiter Debiter, callLog CallLog, streamURL string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		accounts:  accts,
		ledger:    debiter,
		calls:     callLog,
		log:       log,
		streamURL: streamURL,
		now:       time.Now,
	}
}

// RouteInboundCall resolves the subscriber owning the dialed number, charges one
// ai_inbound_call and connects the caller to the voice agent.
//
// Priority:
//  1. Number owner with voice AI enabled, else "not configured".
//  2. Token debit (idempotent on the call SID), else "insufficient tokens".
//  3. Connect the media stream.
//
// A returned error means the decision could not be made; the adapter speaks a
// generic message.
func (e *Engine) RouteInboundCall(ctx context.Context, call telephony.InboundCall) (telephony.InboundDecision, error) {
	if call.CallSID == "" || call.To == "" {
		return telephony.InboundDecision{}, errors.New("routing: call_sid and to required")
	}
	log := e.log.With("call_sid", call.CallSID, "to", call.To)

	acct, err := e.accounts.FindByPhoneNumber(ctx, call.To)
	if errors.Is(err, accounts.ErrNotFound) || (err == nil && !acct.VoiceAIEnabled) {
		log.Info("inbound call to unconfigured number")
		return e.decided(hangup(MessageNotConfigured, ReasonNotConfigured)), nil
	}
	if err != nil {
		return telephony.InboundDecision{}, fmt.Errorf("routing: resolve number owner: %w", err)
	}
	log = log.With("user_id", acct.UserID)

	res, err := e.ledger.Debit(ctx, ledger.DebitRequest{
		UserID:         acct.UserID,
		ActionType:     pricing.ActionInboundCall,
		Quantity:       1,
		Metadata:       ledger.InboundCallMetadata{CallSID: call.CallSID, From: call.From, To: call.To},
		IdempotencyKey: call.CallSID,
	})
	if err != nil {
		if insufficient, ok := ledger.AsInsufficientTokens(err); ok {
			log.Info("inbound call refused", "required", insufficient.Required, "balance", insufficient.Balance)
			return e.decided(hangup(MessageInsufficientTokens, ReasonInsufficient)), nil
		}
		if ledger.IsConfigurationError(err) {
			log.Error("inbound call pricing missing", "err", err)
			return e.decided(hangup(MessageError, ReasonMisconfigured)), nil
		}
		return telephony.InboundDecision{}, fmt.Errorf("routing: debit inbound call: %w", err)
	}

	// Paid for. Bookkeeping failures below are logged and do not drop the caller.
	if res.LogID != "" {
		if err := e.ledger.AttachResource(ctx, res.LogID, call.CallSID); err != nil {
			log.Warn("attach call sid to usage log failed", "log_id", res.LogID, "err", err)
		}
	}
	if e.calls != nil {
		err := e.calls.Create(ctx, calls.Call{
			CallSID:    call.CallSID,
			UserID:     acct.UserID,
			Direction:  calls.DirectionInbound,
			From:       call.From,
			To:         call.To,
			Status:     calls.StatusInProgress,
			UsageLogID: res.LogID,
			CreatedAt:  e.now().UTC(),
		})
		if err != nil {
			log.Warn("inbound call log failed", "err", err)
		}
	}

	log.Info("inbound call connected", "deducted", res.Deducted, "balance", res.Balance, "replayed", res.Replayed)
	return e.decided(telephony.InboundDecision{
		Action:    telephony.InboundActionConnect,
		StreamURL: e.streamURL,
		StreamParams: map[string]string{
			"direction":    "inbound",
			"user_id":      acct.UserID,
			"call_sid":     call.CallSID,
			"from":         call.From,
			"usage_log_id": res.LogID,
		},
		Reason: ReasonConnected,
	}), nil
}

func (e *Engine) decided(d telephony.InboundDecision) telephony.InboundDecision {
	metrics.InboundCalls.WithLabelValues(d.Reason).Inc()
	return d
}
