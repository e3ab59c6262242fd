package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// Minimal TwiML builder. Only the verbs the voice webhooks return.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string           `xml:"url,attr"`
	Params []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

const sayVoice = "Polly.Joanna"

// RenderTwiML maps an InboundDecision to a TwiML document.
func RenderTwiML(d InboundDecision) (string, error) {
	var r twimlResponse

	if msg := strings.TrimSpace(d.Message); msg != "" {
		r.Verbs = append(r.Verbs, twimlSay{Voice: sayVoice, Text: msg})
	}

	switch d.Action {
	case InboundActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case InboundActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case InboundActionConnect:
		if strings.TrimSpace(d.StreamURL) == "" {
			return "", errors.New("telephony: stream_url required for connect action")
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{URL: d.StreamURL, Params: streamParams(d.StreamParams)}})
	default:
		return "", errors.New("telephony: unknown inbound action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func streamParams(m map[string]string) []twimlParameter {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]twimlParameter, 0, len(keys))
	for _, k := range keys {
		out = append(out, twimlParameter{Name: k, Value: m[k]})
	}
	return out
}
