package telephony

import (
	"context"
	"net/http"
	"strings"

	"leadgen-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusSink applies a final call status to the queue and call log.
// *worker.StatusRecorder implements it.
type StatusSink interface {
	RecordCallStatus(ctx context.Context, cb StatusCallback) error
}

const genericErrorMessage = "An error occurred. Please try again later."

// WebhookHandler converts Twilio webhooks to internal types, delegates the
// decision, and writes TwiML. No business logic here.
type WebhookHandler struct {
	Router InboundRouter
	Sink   StatusSink

	// MediaStreamURL is where answered outbound calls are connected.
	MediaStreamURL string
}

// HandleInboundCall answers POST /webhooks/twilio/voice.
// Twilio always gets TwiML back so the caller hears something.
func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	call, err := ParseInboundCall(c.Request)
	if err != nil || call.CallSID == "" || call.To == "" {
		log.Warn("twilio inbound parse failed", "err", err)
		writeTwiML(c, InboundDecision{Action: InboundActionHangup, Message: genericErrorMessage})
		return
	}
	log = log.With("call_sid", call.CallSID)

	if h.Router == nil {
		log.Error("inbound router not configured")
		writeTwiML(c, InboundDecision{Action: InboundActionHangup, Message: genericErrorMessage})
		return
	}

	decision, err := h.Router.RouteInboundCall(c.Request.Context(), call)
	if err != nil {
		log.Error("inbound call routing failed", "err", err)
		decision = InboundDecision{Action: InboundActionHangup, Message: genericErrorMessage}
	}
	log.Info("inbound call routed", "action", decision.Action, "reason", decision.Reason)
	writeTwiML(c, decision)
}

// HandleOutboundAnswer answers the AnswerURL request for a placed call by
// connecting it to the voice agent stream.
func (h WebhookHandler) HandleOutboundAnswer(c *gin.Context) {
	log := logger.FromGin(c)

	if strings.TrimSpace(h.MediaStreamURL) == "" {
		log.Error("media stream url not configured")
		writeTwiML(c, InboundDecision{Action: InboundActionHangup, Message: genericErrorMessage})
		return
	}

	params := map[string]string{"direction": "outbound"}
	for _, k := range []string{"queue_id", "campaign_id", "script_ref"} {
		if v := c.Query(k); v != "" {
			params[k] = v
		}
	}
	if sid := c.PostForm("CallSid"); sid != "" {
		params["call_sid"] = sid
	}

	writeTwiML(c, InboundDecision{
		Action:       InboundActionConnect,
		StreamURL:    h.MediaStreamURL,
		StreamParams: params,
		Reason:       "outbound_answered",
	})
}

// HandleStatusCallback answers POST /webhooks/twilio/status.
// Always 200: a non-2xx makes Twilio retry and the outcome is already logged.
func (h WebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	cb, err := ParseStatusCallback(c.Request)
	if err != nil || cb.CallSID == "" {
		log.Warn("twilio status parse failed", "err", err)
		c.String(http.StatusOK, "OK")
		return
	}
	log = log.With("call_sid", cb.CallSID, "call_status", cb.CallStatus)

	if h.Sink == nil {
		log.Error("status sink not configured")
		c.String(http.StatusOK, "OK")
		return
	}
	if err := h.Sink.RecordCallStatus(c.Request.Context(), cb); err != nil {
		log.Error("call status not recorded", "err", err)
	}
	c.String(http.StatusOK, "OK")
}

func writeTwiML(c *gin.Context, d InboundDecision) {
	doc, err := RenderTwiML(d)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		doc, _ = RenderTwiML(InboundDecision{Action: InboundActionHangup})
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(doc))
}

// SignatureMiddleware rejects webhook requests whose X-Twilio-Signature does
// not match. Disabled when enabled is false (local development).
func SignatureMiddleware(authToken string, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		sig := c.GetHeader("X-Twilio-Signature")
		if !ValidateSignature(authToken, requestURL(c.Request), c.Request.PostForm, sig) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.FullPath())
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// requestURL rebuilds the public URL Twilio signed. TLS is usually
// terminated at the load balancer, so X-Forwarded-Proto wins.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
