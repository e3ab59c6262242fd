package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"leadgen-platform/internal/config"

	"github.com/google/uuid"
)

// Sender delivers one message to all of its recipients and returns the
// provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SendGridClient sends mail through the SendGrid v3 API.
type SendGridClient struct {
	cfg     config.SendGridConfig
	baseURL string
	http    *http.Client
}

func NewSendGridClient(cfg config.SendGridConfig, httpClient *http.Client) *SendGridClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SendGridClient{cfg: cfg, baseURL: "https://api.sendgrid.com", http: httpClient}
}

type sgRequest struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgEmail             `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	CustomArgs       map[string]string   `json:"custom_args,omitempty"`
}

type sgPersonalization struct {
	To            []sgEmail         `json:"to"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
}

type sgEmail struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SendGridError is a non-2xx response from the mail send endpoint.
type SendGridError struct {
	Status int
	Body   string
}

func (e *SendGridError) Error() string {
	return fmt.Sprintf("sendgrid returned status %d: %s", e.Status, e.Body)
}

func (c *SendGridClient) Send(ctx context.Context, msg Message) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("sendgrid: api key not configured")
	}

	req := sgRequest{
		From:       sgEmail{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		Subject:    msg.Subject,
		CustomArgs: msg.CustomArgs,
	}
	// One personalization per recipient so {{vars}} resolve per lead.
	for _, r := range msg.Recipients {
		p := sgPersonalization{To: []sgEmail{{Email: r.Email, Name: r.Name}}}
		if len(r.Vars) > 0 {
			p.Substitutions = make(map[string]string, len(r.Vars))
			for k, v := range r.Vars {
				p.Substitutions["{{"+k+"}}"] = v
			}
		}
		req.Personalizations = append(req.Personalizations, p)
	}
	// SendGrid requires text/plain before text/html.
	if msg.Text != "" {
		req.Content = append(req.Content, sgContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		req.Content = append(req.Content, sgContent{Type: "text/html", Value: msg.HTML})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sendgrid: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sendgrid: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &SendGridError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp.Header.Get("X-Message-Id"), nil
}

// LogSender logs messages instead of sending them. Used when SendGrid is not configured.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	if s.Log != nil {
		s.Log.Info("email not sent (sendgrid disabled)", "message_id", id, "recipients", len(msg.Recipients), "subject", msg.Subject)
	}
	return id, nil
}
