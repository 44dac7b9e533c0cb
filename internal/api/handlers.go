package api

import (
	"context"
	"net/http"
	"time"

	"github.com/pulsepost/delivery-engine/internal/batch"
	"github.com/pulsepost/delivery-engine/internal/cache"
	"github.com/pulsepost/delivery-engine/internal/pkg/httputil"
	"github.com/pulsepost/delivery-engine/internal/queue"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
	"github.com/pulsepost/delivery-engine/internal/service/campaign"
	"github.com/pulsepost/delivery-engine/internal/service/reports"
	"github.com/pulsepost/delivery-engine/internal/transport"
)

// Handlers bundles the HTTP handlers and their service dependencies.
type Handlers struct {
	campaigns  *campaign.Service
	reports    *reports.Service
	aggregator *analytics.Aggregator
	queue      *queue.Queue
	cache      *cache.Cache
	sender     transport.BatchSender
	processor  *batch.Processor
	startTime  time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(campaigns *campaign.Service, rpts *reports.Service, aggregator *analytics.Aggregator,
	q *queue.Queue, c *cache.Cache, sender transport.BatchSender, processor *batch.Processor) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		reports:    rpts,
		aggregator: aggregator,
		queue:      q,
		cache:      c,
		sender:     sender,
		processor:  processor,
		startTime:  time.Now(),
	}
}

// writeResult translates a service ActionResult into an HTTP response.
// The envelope goes out as-is; only the status code is derived from it.
func writeResult(w http.ResponseWriter, result campaign.ActionResult, successStatus int) {
	switch {
	case result.Success:
		httputil.JSON(w, successStatus, result)
	case result.Error != "":
		httputil.JSON(w, http.StatusInternalServerError, result)
	case result.Message == "Campaign not found":
		httputil.JSON(w, http.StatusNotFound, result)
	default:
		httputil.JSON(w, http.StatusBadRequest, result)
	}
}

// HealthCheck aggregates store, cache, and transport reachability.
// Any failing check turns the overall status degraded with a 503.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"store":     "ok",
		"cache":     "ok",
		"transport": "ok",
	}
	healthy := true

	if !h.queue.HealthCheck(ctx) {
		checks["store"] = "unreachable"
		healthy = false
	}
	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = "unreachable"
		healthy = false
	}
	if err := h.sender.Ping(ctx); err != nil {
		checks["transport"] = "unreachable"
		healthy = false
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	body := map[string]any{
		"status": status,
		"checks": checks,
		"uptime": time.Since(h.startTime).String(),
	}
	if !healthy {
		httputil.ServiceUnavailable(w, body)
		return
	}
	httputil.OK(w, body)
}
