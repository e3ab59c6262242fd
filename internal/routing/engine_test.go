package routing

import (
	"context"
	"errors"
	"testing"

	"leadgen-platform/internal/accounts"
	"leadgen-platform/internal/calls"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/telephony"

	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	balance  int64
	cost     int64
	misprice bool
	fail     error

	debits   []ledger.DebitRequest
	attached map[string]string
	seen     map[string]bool
}

func (f *fakeLedger) Debit(_ context.Context, req ledger.DebitRequest) (ledger.DebitResult, error) {
	f.debits = append(f.debits, req)
	if f.fail != nil {
		return ledger.DebitResult{}, f.fail
	}
	if f.misprice {
		return ledger.DebitResult{}, &ledger.ConfigurationError{ActionType: req.ActionType}
	}
	if f.seen[req.IdempotencyKey] {
		return ledger.DebitResult{LogID: "log-" + req.IdempotencyKey, Deducted: f.cost, Balance: f.balance, Replayed: true}, nil
	}
	if f.balance < f.cost {
		return ledger.DebitResult{}, &ledger.InsufficientTokensError{Required: f.cost, Balance: f.balance}
	}
	f.balance -= f.cost
	f.seen[req.IdempotencyKey] = true
	return ledger.DebitResult{LogID: "log-" + req.IdempotencyKey, Deducted: f.cost, Balance: f.balance}, nil
}

func (f *fakeLedger) AttachResource(_ context.Context, logID, resourceID string) error {
	f.attached[logID] = resourceID
	return nil
}

func newFakeLedger(balance int64) *fakeLedger {
	return &fakeLedger{balance: balance, cost: 500, attached: map[string]string{}, seen: map[string]bool{}}
}

const subscriberNumber = "+15550002222"

func newEngine(t *testing.T, led *fakeLedger, acct accounts.Account) (*Engine, *calls.MemoryRepo) {
	t.Helper()
	callLog := calls.NewMemoryRepo()
	e := NewEngine(accounts.NewMemoryRepo(acct), led, callLog, "wss://voice.example.com/stream", nil)
	return e, callLog
}

func inbound(sid string) telephony.InboundCall {
	return telephony.InboundCall{CallSID: sid, From: "+15550001111", To: subscriberNumber}
}

func TestRouteInboundCall_ConnectsAndCharges(t *testing.T) {
	led := newFakeLedger(1200)
	e, callLog := newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: subscriberNumber, VoiceAIEnabled: true})

	d, err := e.RouteInboundCall(context.Background(), inbound("CA1"))
	require.NoError(t, err)
	require.Equal(t, telephony.InboundActionConnect, d.Action)
	require.Equal(t, "wss://voice.example.com/stream", d.StreamURL)
	require.Equal(t, "u1", d.StreamParams["user_id"])

	require.Len(t, led.debits, 1)
	req := led.debits[0]
	require.Equal(t, pricing.ActionInboundCall, req.ActionType)
	require.EqualValues(t, 1, req.Quantity)
	require.Equal(t, "CA1", req.IdempotencyKey)
	require.Equal(t, ledger.InboundCallMetadata{CallSID: "CA1", From: "+15550001111", To: subscriberNumber}, req.Metadata)
	require.EqualValues(t, 700, led.balance)
	require.Equal(t, "CA1", led.attached["log-CA1"])

	c, err := callLog.Get(context.Background(), "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.DirectionInbound, c.Direction)
	require.Equal(t, "log-CA1", c.UsageLogID)
}

func TestRouteInboundCall_RetriedWebhookChargesOnce(t *testing.T) {
	led := newFakeLedger(1200)
	e, _ := newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: subscriberNumber, VoiceAIEnabled: true})

	for i := 0; i < 2; i++ {
		d, err := e.RouteInboundCall(context.Background(), inbound("CA1"))
		require.NoError(t, err)
		require.Equal(t, telephony.InboundActionConnect, d.Action)
	}
	require.EqualValues(t, 700, led.balance)
}

func TestRouteInboundCall_UnconfiguredNumber(t *testing.T) {
	led := newFakeLedger(1200)

	e, _ := newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: "+15559999999", VoiceAIEnabled: true})
	d, err := e.RouteInboundCall(context.Background(), inbound("CA1"))
	require.NoError(t, err)
	require.Equal(t, telephony.InboundActionHangup, d.Action)
	require.Equal(t, MessageNotConfigured, d.Message)

	e, _ = newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: subscriberNumber, VoiceAIEnabled: false})
	d, err = e.RouteInboundCall(context.Background(), inbound("CA2"))
	require.NoError(t, err)
	require.Equal(t, MessageNotConfigured, d.Message)

	require.Empty(t, led.debits, "no charge for unconfigured numbers")
}

func TestRouteInboundCall_InsufficientTokens(t *testing.T) {
	led := newFakeLedger(499)
	e, callLog := newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: subscriberNumber, VoiceAIEnabled: true})

	d, err := e.RouteInboundCall(context.Background(), inbound("CA1"))
	require.NoError(t, err)
	require.Equal(t, telephony.InboundActionHangup, d.Action)
	require.Equal(t, MessageInsufficientTokens, d.Message)
	require.EqualValues(t, 499, led.balance)

	_, err = callLog.Get(context.Background(), "CA1")
	require.ErrorIs(t, err, calls.ErrNotFound)
}

func TestRouteInboundCall_MissingPriceSpeaksGenericMessage(t *testing.T) {
	led := newFakeLedger(1200)
	led.misprice = true
	e, _ := newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: subscriberNumber, VoiceAIEnabled: true})

	d, err := e.RouteInboundCall(context.Background(), inbound("CA1"))
	require.NoError(t, err)
	require.Equal(t, MessageError, d.Message)
	require.Equal(t, ReasonMisconfigured, d.Reason)
}

func TestRouteInboundCall_LedgerFailureIsReturned(t *testing.T) {
	led := newFakeLedger(1200)
	led.fail = errors.New("connection reset")
	e, _ := newEngine(t, led, accounts.Account{UserID: "u1", TwilioPhoneNumber: subscriberNumber, VoiceAIEnabled: true})

	_, err := e.RouteInboundCall(context.Background(), inbound("CA1"))
	require.Error(t, err)
}
