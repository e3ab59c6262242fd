package routing

import "leadgen-platform/internal/telephony"

// Caller-facing messages. They are spoken before hanging up.
const (
	MessageNotConfigured      = "This number is not currently configured. Please contact support."
	MessageInsufficientTokens = "Your account has insufficient tokens to handle this call. Please add more tokens and try again."
	MessageError              = "An error occurred. Please try again later."
)

// Reasons are for logs and the inbound_calls_total metric only.
const (
	ReasonConnected     = "connected"
	ReasonNotConfigured = "not_configured"
	ReasonInsufficient  = "insufficient_tokens"
	ReasonMisconfigured = "pricing_misconfigured"
)

func hangup(message, reason string) telephony.InboundDecision {
	return telephony.InboundDecision{Action: telephony.InboundActionHangup, Message: message, Reason: reason}
}
