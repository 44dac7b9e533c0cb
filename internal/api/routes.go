package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the HTTP surface: campaign actions, reports,
// webhook ingestion, queue administration, and health.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		MaxAge:         300,
	}))

	// Health and webhooks are unauthenticated and tenant-less: the
	// provider resolves tenants from event tags, not headers.
	r.Get("/health", h.HealthCheck)
	r.Post("/webhooks/events", h.HandleProviderWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Put("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Get("/stats", h.CampaignStats)
				r.Get("/delivery-status", h.CampaignDeliveryStatus)

				r.Post("/review", h.SubmitCampaignForReview)
				r.Post("/schedule", h.ScheduleCampaign)
				r.Post("/unschedule", h.UnscheduleCampaign)
				r.Post("/send", h.SendCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Post("/cancel", h.CancelCampaign)
				r.Post("/retry", h.RetryCampaign)
				r.Get("/retry-eligibility", h.RetryEligibility)
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/dashboard", h.GetDashboard)
			r.Get("/performance", h.GetPerformanceChart)
			r.Get("/campaign/{id}", h.GetCampaignReport)
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/stats", h.GetQueueStats)
			r.Post("/clean", h.CleanQueues)
			r.Get("/failed", h.GetFailedJobs)
			r.Post("/failed/{id}/retry", h.RetryFailedJob)
			r.Post("/{kind}/pause", h.PauseQueue)
			r.Post("/{kind}/resume", h.ResumeQueue)
		})
	})

	return r
}
