package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"leadgen-platform/internal/audit"
	"leadgen-platform/internal/campaign"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/reporting"
	"leadgen-platform/pkg/validate"

	"github.com/gin-gonic/gin"
)

func (h Handlers) CreateCampaign(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req campaign.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		invalid(c, errs)
		return
	}
	out, err := h.Campaigns.Create(c.Request.Context(), who.UserID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.Campaigns.List(c.Request.Context(), who.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": list})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	out, err := h.Campaigns.Get(c.Request.Context(), who.UserID, c.Param("campaign_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type launchRequest struct {
	Leads          []dispatch.Lead `json:"leads" validate:"required,min=1,max=10000,dive"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=200"`
}

// LaunchCampaign pre-pays one outbound call per lead and queues the leads.
func (h Handlers) LaunchCampaign(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		invalid(c, errs)
		return
	}
	res, err := h.Launcher.Launch(c.Request.Context(), who.UserID, c.Param("campaign_id"), req.Leads,
		idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) PauseCampaign(c *gin.Context)    { h.transition(c, h.Campaigns.Pause) }
func (h Handlers) ResumeCampaign(c *gin.Context)   { h.transition(c, h.Campaigns.Resume) }
func (h Handlers) CompleteCampaign(c *gin.Context) { h.transition(c, h.Campaigns.Complete) }

type transitionFunc func(ctx context.Context, userID, campaignID string) (campaign.Campaign, error)

func (h Handlers) transition(c *gin.Context, fn transitionFunc) {
	who, ok := caller(c)
	if !ok {
		return
	}
	out, err := fn(c.Request.Context(), who.UserID, c.Param("campaign_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DeleteCampaign(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id := c.Param("campaign_id")
	if err := h.Campaigns.Delete(c.Request.Context(), who.UserID, id); err != nil {
		respondError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), who, audit.EventTypeCampaignDeleted, id, "campaign deleted", nil)
	c.Status(http.StatusNoContent)
}

func (h Handlers) ListCampaignItems(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id := c.Param("campaign_id")
	if _, err := h.Campaigns.Get(c.Request.Context(), who.UserID, id); err != nil {
		respondError(c, err)
		return
	}

	f := dispatch.ListFilter{Status: dispatch.Status(c.Query("status"))}
	if f.Status != "" && !f.Status.Valid() {
		badRequest(c, "invalid status")
		return
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	items, err := h.Queue.List(c.Request.Context(), id, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h Handlers) CampaignSummary(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	out, err := h.Reports.CampaignProgress(c.Request.Context(), who.UserID, c.Param("campaign_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// MarkDoNotCall stops any further dialing of one queued lead.
func (h Handlers) MarkDoNotCall(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	queueID := c.Param("queue_id")

	item, err := h.Queue.Get(ctx, queueID)
	if err != nil {
		respondError(c, err)
		return
	}
	if item.UserID != who.UserID {
		respondError(c, dispatch.ErrNotFound)
		return
	}
	item, err = h.Queue.MarkDoNotCall(ctx, queueID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Audit.Record(ctx, who, audit.EventTypeDoNotCall, queueID, "lead marked do not call",
		gin.H{"campaign_id": item.CampaignID})
	c.JSON(http.StatusOK, item)
}

func (h Handlers) UsageReport(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var r reporting.TimeRange
	var err error
	if r.From, err = queryTime(c, "from"); err != nil {
		badRequest(c, "from must be RFC3339")
		return
	}
	if r.To, err = queryTime(c, "to"); err != nil {
		badRequest(c, "to must be RFC3339")
		return
	}
	out, err := h.Reports.UsageSummary(c.Request.Context(), who.UserID, r)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ListCalls(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	out, err := h.Calls.ListByUser(c.Request.Context(), who.UserID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}
