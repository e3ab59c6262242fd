package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"leadgen-platform/internal/config"
)

func TestTwilioClient_PlaceCall(t *testing.T) {
	var gotForm url.Values
	var gotPath, gotUser, gotPass string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA0001","status":"queued"}`))
	}))
	defer srv.Close()

	c, err := NewTwilioClient(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	res, err := c.PlaceCall(context.Background(), OutboundCallRequest{
		To:                "+15551230000",
		From:              "+15559990000",
		AnswerURL:         "https://api.example.com/webhooks/twilio/answer",
		StatusCallbackURL: "https://api.example.com/webhooks/twilio/status",
		QueueID:           "q-1",
		CampaignID:        "c-1",
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if res.CallSID != "CA0001" || res.Status != "queued" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" || gotPass != "tok" {
		t.Fatalf("expected basic auth with account credentials")
	}
	if gotForm.Get("To") != "+15551230000" || gotForm.Get("StatusCallbackEvent") != "completed" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
	answer, err := url.Parse(gotForm.Get("Url"))
	if err != nil {
		t.Fatalf("answer url: %v", err)
	}
	if answer.Query().Get("queue_id") != "q-1" || answer.Query().Get("campaign_id") != "c-1" {
		t.Fatalf("expected ids on answer url, got %s", answer)
	}
}

func TestTwilioClient_DecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","more_info":"https://www.twilio.com/docs/errors/21211"}`))
	}))
	defer srv.Close()

	c, _ := NewTwilioClient(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", APIBaseURL: srv.URL}, srv.Client())
	_, err := c.PlaceCall(context.Background(), OutboundCallRequest{To: "+1", From: "+15559990000", AnswerURL: "https://x"})

	var apiErr *TwilioAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected TwilioAPIError, got %v", err)
	}
	if apiErr.Code != 21211 || apiErr.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if apiErr.Retryable() {
		t.Fatalf("400 should not be retryable")
	}
}

func TestTwilioClient_RequiresCredentials(t *testing.T) {
	if _, err := NewTwilioClient(config.TwilioConfig{}, nil); err == nil {
		t.Fatalf("expected error without credentials")
	}
}

func TestDryRunPlacer(t *testing.T) {
	res, err := DryRunPlacer{}.PlaceCall(context.Background(), OutboundCallRequest{To: "+15551230000"})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.HasPrefix(res.CallSID, "DR") || len(res.CallSID) != 34 {
		t.Fatalf("unexpected sid %q", res.CallSID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (DryRunPlacer{}).PlaceCall(ctx, OutboundCallRequest{To: "+15551230000"}); err == nil {
		t.Fatalf("expected context error")
	}
}
