// Package notify sends metered subscriber email through SendGrid.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/pkg/validate"
)

var ErrInvalidArgument = errors.New("notify: invalid argument")

type Recipient struct {
	Email string            `json:"email" validate:"required,email"`
	Name  string            `json:"name,omitempty" validate:"max=120"`
	Vars  map[string]string `json:"vars,omitempty"`
}

// Message bodies may use {{var}} placeholders filled from each Recipient's Vars.
// SendGrid accepts at most 1000 personalizations per request.
type Message struct {
	Subject      string            `json:"subject" validate:"required,max=200"`
	HTML         string            `json:"html_body" validate:"required_without=Text"`
	Text         string            `json:"text_body"`
	CampaignName string            `json:"campaign_name,omitempty" validate:"max=200"`
	Recipients   []Recipient       `json:"recipients" validate:"required,min=1,max=1000,dive"`
	CustomArgs   map[string]string `json:"-"`
}

// Ledger is the subset of *ledger.Service the mailer charges through.
type Ledger interface {
	Debit(ctx context.Context, req ledger.DebitRequest) (ledger.DebitResult, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (ledger.CreditResult, error)
}

type Mailer struct {
	ledger Ledger
	sender Sender
	log    *slog.Logger
}

func NewMailer(l Ledger, sender Sender, log *slog.Logger) *Mailer {
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{ledger: l, sender: sender, log: log}
}

type SendResult struct {
	MessageID  string `json:"message_id,omitempty"`
	Recipients int    `json:"recipients"`
	TokensUsed int64  `json:"tokens_used"`
	Balance    int64  `json:"balance"`
	Replayed   bool   `json:"replayed,omitempty"`
}

// Send charges email_send per recipient, then sends. A failed send is
// refunded in full. A replayed idempotency key is not sent again.
func (m *Mailer) Send(ctx context.Context, userID string, msg Message, idempotencyKey string) (SendResult, error) {
	if errs := validate.Struct(msg); errs != nil {
		return SendResult{}, &ValidationError{Fields: errs}
	}

	debit, err := m.ledger.Debit(ctx, ledger.DebitRequest{
		UserID:     userID,
		ActionType: pricing.ActionEmailSend,
		Quantity:   int64(len(msg.Recipients)),
		Metadata: ledger.EmailSendMetadata{
			CampaignName: msg.CampaignName,
			Recipients:   len(msg.Recipients),
			Subject:      msg.Subject,
		},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return SendResult{}, err
	}

	res := SendResult{Recipients: len(msg.Recipients), TokensUsed: debit.Deducted, Balance: debit.Balance, Replayed: debit.Replayed}
	if debit.Replayed {
		return res, nil
	}

	if msg.CustomArgs == nil {
		msg.CustomArgs = map[string]string{}
	}
	msg.CustomArgs["user_id"] = userID
	msg.CustomArgs["usage_log_id"] = debit.LogID

	id, sendErr := m.sender.Send(ctx, msg)
	if sendErr == nil {
		res.MessageID = id
		m.log.Info("email sent", "user_id", userID, "recipients", res.Recipients, "message_id", id)
		return res, nil
	}

	m.log.Error("email send failed, refunding", "user_id", userID, "log_id", debit.LogID, "err", sendErr)
	if debit.Deducted > 0 {
		_, err := m.ledger.Credit(context.WithoutCancel(ctx), ledger.CreditRequest{
			UserID:         userID,
			Amount:         debit.Deducted,
			Reason:         ledger.CreditRefund,
			Reference:      debit.LogID,
			IdempotencyKey: "refund:" + debit.LogID,
		})
		if err != nil {
			m.log.Error("email refund failed", "user_id", userID, "log_id", debit.LogID, "err", err)
			return SendResult{}, fmt.Errorf("send email: %w (refund failed: %v)", sendErr, err)
		}
	}
	return SendResult{}, fmt.Errorf("send email: %w", sendErr)
}

// ValidationError carries per-field messages keyed by JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("notify: invalid message (%d fields)", len(e.Fields))
}
