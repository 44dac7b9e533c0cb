package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsepost/delivery-engine/internal/pkg/httputil"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
)

// parseRange reads start/end query params (YYYY-MM-DD), defaulting to the
// trailing 30 days.
func parseRange(r *http.Request) (time.Time, time.Time, bool) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -29)

	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, false
		}
		start = t
	}
	if e := r.URL.Query().Get("end"); e != "" {
		t, err := time.Parse("2006-01-02", e)
		if err != nil {
			return start, end, false
		}
		end = t
	}
	return start, end, !end.Before(start)
}

// GetDashboard returns the tenant dashboard for a date range.
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRange(r)
	if !ok {
		httputil.BadRequest(w, "Invalid date range: use start/end as YYYY-MM-DD with start <= end")
		return
	}
	data, err := h.reports.GetOptimizedDashboardData(r.Context(), TenantID(r), start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, data)
}

// GetPerformanceChart returns the daily performance series plus which data
// source served it.
func (h *Handlers) GetPerformanceChart(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRange(r)
	if !ok {
		httputil.BadRequest(w, "Invalid date range: use start/end as YYYY-MM-DD with start <= end")
		return
	}
	series, source, err := h.reports.GetPerformanceChartData(r.Context(), TenantID(r), start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"series": series, "source": source})
}

// GetCampaignReport returns the detailed engagement report for a campaign.
func (h *Handlers) GetCampaignReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GetOptimizedCampaignReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			httputil.NotFound(w, "Campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, report)
}
