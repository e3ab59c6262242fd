package telephony

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// DryRunPlacer logs calls instead of placing them. It is used when no
// provider credentials are configured, so the queue can be exercised locally.
type DryRunPlacer struct {
	Log *slog.Logger
}

func (p DryRunPlacer) Name() string { return "dry_run" }

func (p DryRunPlacer) PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if err := ctx.Err(); err != nil {
		return OutboundCallResult{}, err
	}
	if req.To == "" {
		return OutboundCallResult{}, OutboundCallRequest{}.Validate()
	}
	sid := "DR" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if p.Log != nil {
		p.Log.Info("dry run call", "call_sid", sid, "to", req.To, "queue_id", req.QueueID, "campaign_id", req.CampaignID)
	}
	return OutboundCallResult{CallSID: sid, Status: "queued"}, nil
}
