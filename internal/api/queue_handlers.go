package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsepost/delivery-engine/internal/domain"
	"github.com/pulsepost/delivery-engine/internal/pkg/httputil"
	"github.com/pulsepost/delivery-engine/internal/queue"
)

func queueKind(r *http.Request) (domain.JobKind, bool) {
	kind := domain.JobKind(chi.URLParam(r, "kind"))
	for _, k := range queue.Queues {
		if k == kind {
			return kind, true
		}
	}
	return "", false
}

// GetQueueStats returns counters for every queue.
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]*queue.Stats, len(queue.Queues))
	for _, kind := range queue.Queues {
		s, err := h.queue.GetStats(r.Context(), kind)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		stats[string(kind)] = s
	}
	httputil.OK(w, stats)
}

// PauseQueue stops workers from claiming jobs of the given kind.
func (h *Handlers) PauseQueue(w http.ResponseWriter, r *http.Request) {
	kind, ok := queueKind(r)
	if !ok {
		httputil.BadRequest(w, "Unknown queue")
		return
	}
	if err := h.queue.Pause(r.Context(), kind); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"queue": kind, "paused": true})
}

// ResumeQueue clears the pause flag for the given kind.
func (h *Handlers) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	kind, ok := queueKind(r)
	if !ok {
		httputil.BadRequest(w, "Unknown queue")
		return
	}
	if err := h.queue.Resume(r.Context(), kind); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"queue": kind, "paused": false})
}

// CleanQueues deletes terminal jobs older than the grace period (hours,
// default 24).
func (h *Handlers) CleanQueues(w http.ResponseWriter, r *http.Request) {
	grace := 24 * time.Hour
	if hrs, err := strconv.Atoi(r.URL.Query().Get("grace_hours")); err == nil && hrs > 0 {
		grace = time.Duration(hrs) * time.Hour
	}
	removed, err := h.queue.Clean(r.Context(), grace)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"removed": removed})
}

// GetFailedJobs lists recently failed jobs for inspection.
func (h *Handlers) GetFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	jobs, err := h.queue.GetFailedJobs(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// RetryFailedJob re-queues one failed job.
func (h *Handlers) RetryFailedJob(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.RetryJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"retried": true})
}
