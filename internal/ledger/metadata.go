package ledger

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"leadgen-platform/internal/pricing"
)

// UsageMetadata is the closed set of per-action payloads stored with a usage
// log entry. Each variant belongs to exactly one action type.
type UsageMetadata interface {
	ActionType() pricing.ActionType
	isUsageMetadata()
}

type OutboundCallMetadata struct {
	CampaignID string `json:"campaign_id"`
	LeadCount  int    `json:"lead_count"`
}

type InboundCallMetadata struct {
	CallSID string `json:"call_sid"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type SkipTraceMetadata struct {
	PropertyID string `json:"property_id,omitempty"`
	OwnerName  string `json:"owner_name,omitempty"`
}

type EmailSendMetadata struct {
	CampaignName string `json:"campaign_name,omitempty"`
	Recipients   int    `json:"recipients"`
	Subject      string `json:"subject,omitempty"`
}

type MarketplaceBidMetadata struct {
	ListingID      string `json:"listing_id"`
	BidAmountCents int64  `json:"bid_amount_cents"`
}

func (OutboundCallMetadata) ActionType() pricing.ActionType   { return pricing.ActionOutboundCall }
func (InboundCallMetadata) ActionType() pricing.ActionType    { return pricing.ActionInboundCall }
func (SkipTraceMetadata) ActionType() pricing.ActionType      { return pricing.ActionSkipTrace }
func (EmailSendMetadata) ActionType() pricing.ActionType      { return pricing.ActionEmailSend }
func (MarketplaceBidMetadata) ActionType() pricing.ActionType { return pricing.ActionMarketplaceBid }

func (OutboundCallMetadata) isUsageMetadata()   {}
func (InboundCallMetadata) isUsageMetadata()    {}
func (SkipTraceMetadata) isUsageMetadata()      {}
func (EmailSendMetadata) isUsageMetadata()      {}
func (MarketplaceBidMetadata) isUsageMetadata() {}

// Metadata carries a UsageMetadata variant through JSON and the jsonb column.
// The encoded form is the variant's fields plus a "kind" discriminator.
// A nil V encodes as {}.
type Metadata struct {
	V UsageMetadata
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return encodeMetadata(m.V)
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	v, err := decodeMetadata(b)
	if err != nil {
		return err
	}
	m.V = v
	return nil
}

func (m Metadata) Value() (driver.Value, error) {
	b, err := encodeMetadata(m.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		m.V = nil
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("ledger: cannot scan %T into Metadata", src)
	}
}

func encodeMetadata(v UsageMetadata) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(string(v.ActionType()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeMetadata(b []byte) (UsageMetadata, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}

	var head struct {
		Kind pricing.ActionType `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("ledger: decode metadata: %w", err)
	}

	var v UsageMetadata
	switch head.Kind {
	case "":
		return nil, nil
	case pricing.ActionOutboundCall:
		var m OutboundCallMetadata
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		v = m
	case pricing.ActionInboundCall:
		var m InboundCallMetadata
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		v = m
	case pricing.ActionSkipTrace:
		var m SkipTraceMetadata
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		v = m
	case pricing.ActionEmailSend:
		var m EmailSendMetadata
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		v = m
	case pricing.ActionMarketplaceBid:
		var m MarketplaceBidMetadata
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		v = m
	default:
		return nil, fmt.Errorf("ledger: unknown metadata kind %q", head.Kind)
	}
	return v, nil
}
