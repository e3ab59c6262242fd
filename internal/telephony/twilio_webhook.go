package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"leadgen-platform/internal/dispatch"
)

// Twilio sends voice webhooks as application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/usage/webhooks/voice-webhooks
//
// Parsing only. Routing and queue decisions are made by the callers.

// ParseInboundCall reads the voice webhook Twilio sends when a subscriber
// number is dialed.
func ParseInboundCall(r *http.Request) (InboundCall, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCall{}, err
	}
	return InboundCall{
		CallSID: strings.TrimSpace(r.PostFormValue("CallSid")),
		From:    strings.TrimSpace(r.PostFormValue("From")),
		To:      strings.TrimSpace(r.PostFormValue("To")),
		Status:  r.PostFormValue("CallStatus"),
	}, nil
}

// StatusCallback is the status webhook for a call placed by the dispatcher.
type StatusCallback struct {
	CallSID    string
	CallStatus string
	// DurationSeconds is only sent with the completed event.
	DurationSeconds int
	AnsweredBy      string
	Direction       string
	From            string
	To              string
}

func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	cb := StatusCallback{
		CallSID:    strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus: strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy: strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
		Direction:  r.PostFormValue("Direction"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
	}
	// Twilio omits CallDuration on non-final events; a garbled value is treated as zero.
	if d, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("CallDuration"))); err == nil && d > 0 {
		cb.DurationSeconds = d
	}
	return cb, nil
}

// MapCallStatus maps a Twilio call status to the queue status it reports.
// ok is false for non-final statuses (queued, ringing, in-progress).
func MapCallStatus(status, answeredBy string) (dispatch.Status, bool) {
	switch strings.ToLower(status) {
	case "completed":
		if isMachine(answeredBy) {
			return dispatch.StatusNoAnswer, true
		}
		return dispatch.StatusCompleted, true
	case "busy", "no-answer":
		return dispatch.StatusNoAnswer, true
	case "failed", "canceled":
		return dispatch.StatusFailed, true
	default:
		return "", false
	}
}

func isMachine(answeredBy string) bool {
	a := strings.ToLower(answeredBy)
	return strings.HasPrefix(a, "machine") || a == "fax"
}

// ValidateSignature checks the X-Twilio-Signature header.
// The signed payload is the full request URL followed by every POST
// parameter name and value, sorted by name.
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := computeSignature(authToken, fullURL, params)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func computeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
