package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadgen-platform/internal/config"
)

// TwilioClient places calls through the Twilio REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

func NewTwilioClient(cfg config.TwilioConfig, httpClient *http.Client) (*TwilioClient, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telephony: twilio credentials not configured")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    base,
		http:       httpClient,
	}, nil
}

func (c *TwilioClient) Name() string { return "twilio" }

// TwilioAPIError is the error body Twilio returns for non-2xx responses.
type TwilioAPIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *TwilioAPIError) Error() string {
	return fmt.Sprintf("twilio: http %d code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

// Retryable reports whether the request may succeed if sent again later.
func (e *TwilioAPIError) Retryable() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= 500
}

func (c *TwilioClient) PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if err := req.Validate(); err != nil {
		return OutboundCallResult{}, err
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", withQuery(req.AnswerURL, req))
	form.Set("Method", http.MethodPost)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		form.Add("StatusCallbackEvent", "completed")
	}
	form.Set("MachineDetection", "Enable")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(c.accountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return OutboundCallResult{}, err
	}
	httpReq.SetBasicAuth(c.accountSID, c.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return OutboundCallResult{}, fmt.Errorf("twilio: create call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OutboundCallResult{}, fmt.Errorf("twilio: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &TwilioAPIError{HTTPStatus: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return OutboundCallResult{}, apiErr
	}

	var created struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return OutboundCallResult{}, fmt.Errorf("twilio: decode call: %w", err)
	}
	if created.SID == "" {
		return OutboundCallResult{}, errors.New("twilio: response missing call sid")
	}
	return OutboundCallResult{CallSID: created.SID, Status: created.Status}, nil
}

// withQuery adds the queue and campaign ids to the answer URL so the voice
// webhook can load the right script.
func withQuery(raw string, req OutboundCallRequest) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if req.QueueID != "" {
		q.Set("queue_id", req.QueueID)
	}
	if req.CampaignID != "" {
		q.Set("campaign_id", req.CampaignID)
	}
	if req.ScriptRef != "" {
		q.Set("script_ref", req.ScriptRef)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
