package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"leadgen-platform/internal/config"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"

	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	balance int64
	debits  []ledger.DebitRequest
	credits []ledger.CreditRequest
	replay  bool
}

func (f *fakeLedger) Debit(_ context.Context, req ledger.DebitRequest) (ledger.DebitResult, error) {
	f.debits = append(f.debits, req)
	cost := req.Quantity * 100
	if f.replay {
		return ledger.DebitResult{LogID: "log-1", Deducted: cost, Balance: f.balance, Replayed: true}, nil
	}
	if cost > f.balance {
		return ledger.DebitResult{}, &ledger.InsufficientTokensError{Required: cost, Balance: f.balance}
	}
	f.balance -= cost
	return ledger.DebitResult{LogID: "log-1", Deducted: cost, Balance: f.balance}, nil
}

func (f *fakeLedger) Credit(_ context.Context, req ledger.CreditRequest) (ledger.CreditResult, error) {
	f.credits = append(f.credits, req)
	f.balance += req.Amount
	return ledger.CreditResult{CreditID: "c-1", Credited: req.Amount, Balance: f.balance}, nil
}

type fakeSender struct {
	err  error
	sent []Message
}

func (s *fakeSender) Send(_ context.Context, msg Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return "msg-1", nil
}

func message(n int) Message {
	m := Message{Subject: "New listing near you", HTML: "<p>Hi {{name}}</p>"}
	for i := 0; i < n; i++ {
		m.Recipients = append(m.Recipients, Recipient{Email: "lead@example.com", Vars: map[string]string{"name": "Pat"}})
	}
	return m
}

func TestMailer_ChargesPerRecipient(t *testing.T) {
	l := &fakeLedger{balance: 1000}
	s := &fakeSender{}
	m := NewMailer(l, s, nil)

	res, err := m.Send(context.Background(), "u1", message(3), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 300, res.TokensUsed)
	require.EqualValues(t, 700, res.Balance)
	require.Equal(t, "msg-1", res.MessageID)

	require.Len(t, l.debits, 1)
	require.Equal(t, pricing.ActionEmailSend, l.debits[0].ActionType)
	require.EqualValues(t, 3, l.debits[0].Quantity)
	require.Equal(t, ledger.EmailSendMetadata{Recipients: 3, Subject: "New listing near you"}, l.debits[0].Metadata)
	require.Equal(t, "log-1", s.sent[0].CustomArgs["usage_log_id"])
}

func TestMailer_InsufficientTokensSendsNothing(t *testing.T) {
	l := &fakeLedger{balance: 250}
	s := &fakeSender{}

	_, err := NewMailer(l, s, nil).Send(context.Background(), "u1", message(3), "")
	_, ok := ledger.AsInsufficientTokens(err)
	require.True(t, ok)
	require.Empty(t, s.sent)
}

func TestMailer_RefundsFailedSend(t *testing.T) {
	l := &fakeLedger{balance: 1000}
	s := &fakeSender{err: errors.New("sendgrid down")}

	_, err := NewMailer(l, s, nil).Send(context.Background(), "u1", message(2), "")
	require.Error(t, err)
	require.Len(t, l.credits, 1)
	require.Equal(t, ledger.CreditRefund, l.credits[0].Reason)
	require.Equal(t, "refund:log-1", l.credits[0].IdempotencyKey)
	require.EqualValues(t, 1000, l.balance)
}

func TestMailer_ReplayDoesNotResend(t *testing.T) {
	l := &fakeLedger{balance: 1000, replay: true}
	s := &fakeSender{}

	res, err := NewMailer(l, s, nil).Send(context.Background(), "u1", message(1), "k1")
	require.NoError(t, err)
	require.True(t, res.Replayed)
	require.Empty(t, s.sent)
}

func TestMailer_ValidatesMessage(t *testing.T) {
	l := &fakeLedger{balance: 1000}
	_, err := NewMailer(l, &fakeSender{}, nil).Send(context.Background(), "u1", Message{Subject: "x", HTML: "y", Recipients: []Recipient{{Email: "not-an-email"}}}, "")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, l.debits)
}

func TestSendGridClient_Send(t *testing.T) {
	var got sgRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/mail/send", r.URL.Path)
		require.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewSendGridClient(config.SendGridConfig{APIKey: "sg-key", FromEmail: "noreply@example.com"}, srv.Client())
	c.baseURL = srv.URL

	msg := message(2)
	msg.Text = "Hi {{name}}"
	id, err := c.Send(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, "sg-123", id)
	require.Len(t, got.Personalizations, 2)
	require.Equal(t, "Pat", got.Personalizations[0].Substitutions["{{name}}"])
	require.Equal(t, "text/plain", got.Content[0].Type)
	require.Equal(t, "text/html", got.Content[1].Type)
}

func TestSendGridClient_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	c := NewSendGridClient(config.SendGridConfig{APIKey: "bad"}, srv.Client())
	c.baseURL = srv.URL

	_, err := c.Send(context.Background(), message(1))
	var sgErr *SendGridError
	require.ErrorAs(t, err, &sgErr)
	require.Equal(t, http.StatusUnauthorized, sgErr.Status)

	_, err = NewSendGridClient(config.SendGridConfig{}, nil).Send(context.Background(), message(1))
	require.Error(t, err)
}
