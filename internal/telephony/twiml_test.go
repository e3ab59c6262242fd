package telephony

import (
	"strings"
	"testing"
)

func TestRenderTwiML_SayThenHangup(t *testing.T) {
	xml, err := RenderTwiML(InboundDecision{Action: InboundActionHangup, Message: "This number is not currently configured."})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	say := strings.Index(xml, "<Say")
	hangup := strings.Index(xml, "<Hangup")
	if say < 0 || hangup < 0 || say > hangup {
		t.Fatalf("expected Say before Hangup: %s", xml)
	}
}

func TestRenderTwiML_Reject(t *testing.T) {
	xml, err := RenderTwiML(InboundDecision{Action: InboundActionReject})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, `<Reject reason="busy">`) {
		t.Fatalf("expected reject verb: %s", xml)
	}
}

func TestRenderTwiML_ConnectStream(t *testing.T) {
	xml, err := RenderTwiML(InboundDecision{
		Action:       InboundActionConnect,
		StreamURL:    "wss://voice.example.com/stream",
		StreamParams: map[string]string{"user_id": "u1", "direction": "inbound"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`<Stream url="wss://voice.example.com/stream">`,
		`<Parameter name="direction" value="inbound">`,
		`<Parameter name="user_id" value="u1">`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
}

func TestRenderTwiML_ConnectRequiresStream(t *testing.T) {
	if _, err := RenderTwiML(InboundDecision{Action: InboundActionConnect}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := RenderTwiML(InboundDecision{Action: "transfer"}); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}
