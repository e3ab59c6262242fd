package telephony

import (
	"context"
	"fmt"
)

// CallPlacer starts outbound calls at a provider.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - PlaceCall only initiates the call. The final outcome arrives later via the status callback.
type CallPlacer interface {
	Name() string
	PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

type OutboundCallRequest struct {
	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	AnswerURL         string `json:"answer_url"`
	StatusCallbackURL string `json:"status_callback_url"`

	QueueID    string `json:"queue_id"`
	CampaignID string `json:"campaign_id"`
	ScriptRef  string `json:"script_ref,omitempty"`
}

func (r OutboundCallRequest) Validate() error {
	if r.To == "" || r.From == "" {
		return fmt.Errorf("telephony: to and from are required")
	}
	if r.AnswerURL == "" {
		return fmt.Errorf("telephony: answer url is required")
	}
	return nil
}

type OutboundCallResult struct {
	CallSID string `json:"call_sid"`
	// Status is the provider's initial call status, e.g. "queued".
	Status string `json:"status"`
}

// InboundCall is a provider-agnostic inbound call event.
type InboundCall struct {
	CallSID string `json:"call_sid"`
	From    string `json:"from"`
	To      string `json:"to"`
	Status  string `json:"status,omitempty"`
}

// InboundRouter decides what to do with an inbound call.
// *routing.Engine implements it.
type InboundRouter interface {
	RouteInboundCall(ctx context.Context, call InboundCall) (InboundDecision, error)
}

type InboundAction string

const (
	InboundActionReject  InboundAction = "reject"
	InboundActionHangup  InboundAction = "hangup"
	InboundActionConnect InboundAction = "connect"
)

// InboundDecision is what the provider boundary executes for an inbound call.
type InboundDecision struct {
	Action InboundAction `json:"action"`

	// Message is spoken before the action, if set.
	Message string `json:"message,omitempty"`

	// StreamURL is the media stream endpoint used by InboundActionConnect.
	StreamURL string `json:"stream_url,omitempty"`

	// StreamParams are passed to the media stream as custom parameters.
	StreamParams map[string]string `json:"stream_params,omitempty"`

	// Reason is for logs and metrics only.
	Reason string `json:"reason,omitempty"`
}
