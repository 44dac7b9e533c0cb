package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/pkg/httputil"
	"github.com/pulsepost/delivery-engine/internal/pkg/logger"
	"github.com/pulsepost/delivery-engine/internal/service/analytics"
)

// HandleProviderWebhook ingests delivery events pushed by the transport
// provider. Accepts a single event object or an array of them. Events that
// can't be mapped (unknown type, no tenant, no recipient) are dropped
// silently; the provider sees a 200 either way so it never retries
// traffic we deliberately don't track.
func (h *Handlers) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		httputil.BadRequest(w, "Failed to read request body")
		return
	}

	var provider []analytics.ProviderEvent
	if err := json.Unmarshal(body, &provider); err != nil {
		var single analytics.ProviderEvent
		if err := json.Unmarshal(body, &single); err != nil {
			httputil.BadRequest(w, "Invalid webhook payload")
			return
		}
		provider = []analytics.ProviderEvent{single}
	}

	events := make([]domain.EmailEvent, 0, len(provider))
	for _, p := range provider {
		if e := analytics.MapProviderEvent(p); e != nil {
			events = append(events, *e)
		}
	}

	if err := h.aggregator.BatchProcessEmailEvents(r.Context(), events); err != nil {
		logger.Error("webhook ingest failed", "events", len(events), "error", err.Error())
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"received":  len(provider),
		"processed": len(events),
	})
}
