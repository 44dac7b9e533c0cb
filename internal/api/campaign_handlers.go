package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsepost/delivery-engine/internal/pkg/httputil"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	result := h.campaigns.Create(r.Context(), TenantID(r), input)
	writeResult(w, result, http.StatusCreated)
}

// GetCampaign returns a single campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Get(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// ListCampaigns returns the tenant's campaigns, filterable by status.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	f := campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		f.Offset = offset
	}
	result := h.campaigns.List(r.Context(), TenantID(r), f)
	writeResult(w, result, http.StatusOK)
}

// UpdateCampaign applies partial updates to a campaign.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	result := h.campaigns.Update(r.Context(), TenantID(r), chi.URLParam(r, "id"), u)
	writeResult(w, result, http.StatusOK)
}

// DeleteCampaign removes a campaign.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Delete(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// CampaignStats returns the campaign's analytics snapshot.
func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Stats(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// CampaignDeliveryStatus classifies a campaign's delivery jobs as
// completed, in-progress, or failed-partial.
func (h *Handlers) CampaignDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The tenant-scoped lookup doubles as the access check; job rows are
	// keyed by campaign alone.
	if result := h.campaigns.Get(r.Context(), TenantID(r), id); !result.Success {
		writeResult(w, result, http.StatusOK)
		return
	}

	jobs, err := h.queue.JobsByCampaign(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	status, err := h.processor.GetBatchStatus(r.Context(), ids)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"campaign_id": id,
		"status":      status,
		"jobs":        len(jobs),
	})
}

// SubmitCampaignForReview moves a draft into review.
func (h *Handlers) SubmitCampaignForReview(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.SubmitForReview(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// ScheduleCampaign schedules a reviewed campaign for a future send.
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	result := h.campaigns.Schedule(r.Context(), TenantID(r), chi.URLParam(r, "id"), body.ScheduledAt)
	writeResult(w, result, http.StatusOK)
}

// UnscheduleCampaign returns a scheduled campaign to draft.
func (h *Handlers) UnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Unschedule(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// SendCampaign starts immediate delivery.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.SendNow(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// PauseCampaign pauses a sending campaign.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Pause(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// ResumeCampaign resumes a paused campaign.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Resume(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// CancelCampaign cancels a scheduled, sending, or paused campaign.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Cancel(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// RetryCampaign re-sends a sent campaign to its undelivered recipients.
func (h *Handlers) RetryCampaign(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.Retry(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}

// RetryEligibility reports whether a campaign qualifies for a retry.
func (h *Handlers) RetryEligibility(w http.ResponseWriter, r *http.Request) {
	result := h.campaigns.CheckRetryEligibility(r.Context(), TenantID(r), chi.URLParam(r, "id"))
	writeResult(w, result, http.StatusOK)
}
