package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"leadgen-platform/internal/dispatch"
)

func formRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseInboundCall(t *testing.T) {
	r := formRequest("/webhooks/twilio/voice", url.Values{
		"CallSid":    {"CA123"},
		"From":       {"+15551234567"},
		"To":         {" +15557654321 "},
		"CallStatus": {"ringing"},
	})

	call, err := ParseInboundCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if call.CallSID != "CA123" || call.From != "+15551234567" || call.To != "+15557654321" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestParseStatusCallback(t *testing.T) {
	r := formRequest("/webhooks/twilio/status", url.Values{
		"CallSid":      {"CA9"},
		"CallStatus":   {"Completed"},
		"CallDuration": {"75"},
		"AnsweredBy":   {"human"},
		"Direction":    {"outbound-api"},
	})

	cb, err := ParseStatusCallback(r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cb.CallStatus != "completed" || cb.DurationSeconds != 75 || cb.AnsweredBy != "human" {
		t.Fatalf("unexpected callback: %+v", cb)
	}

	r = formRequest("/webhooks/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"ringing"}, "CallDuration": {"abc"}})
	cb, _ = ParseStatusCallback(r)
	if cb.DurationSeconds != 0 {
		t.Fatalf("expected zero duration for garbled value")
	}
}

func TestMapCallStatus(t *testing.T) {
	cases := []struct {
		status, answeredBy string
		want               dispatch.Status
		final              bool
	}{
		{"completed", "human", dispatch.StatusCompleted, true},
		{"completed", "", dispatch.StatusCompleted, true},
		{"completed", "machine_end_beep", dispatch.StatusNoAnswer, true},
		{"busy", "", dispatch.StatusNoAnswer, true},
		{"no-answer", "", dispatch.StatusNoAnswer, true},
		{"failed", "", dispatch.StatusFailed, true},
		{"canceled", "", dispatch.StatusFailed, true},
		{"ringing", "", "", false},
		{"in-progress", "", "", false},
	}
	for _, tc := range cases {
		got, final := MapCallStatus(tc.status, tc.answeredBy)
		if got != tc.want || final != tc.final {
			t.Fatalf("MapCallStatus(%q, %q) = %q, %v", tc.status, tc.answeredBy, got, final)
		}
	}
}

func TestValidateSignature(t *testing.T) {
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	u := "https://example.com/webhooks/twilio/voice"
	sig := computeSignature("12345", u, params)

	if !ValidateSignature("12345", u, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidateSignature("other", u, params, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	if ValidateSignature("12345", u+"?x=1", params, sig) {
		t.Fatalf("expected different url to fail")
	}

	tampered := url.Values{"CallSid": {"CA1234567890ABCDE"}, "From": {"+19999999999"}, "To": {"+18005551212"}}
	if ValidateSignature("12345", u, tampered, sig) {
		t.Fatalf("expected tampered params to fail")
	}
	if ValidateSignature("12345", u, params, "") {
		t.Fatalf("expected empty signature to fail")
	}
}
