package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router maps the HTTP surface onto h. Access logging is added by the caller.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("message-oven"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/scheduler/status", h.SchedulerStatus)
		r.Post("/scheduler/start", h.SchedulerStart)
		r.Post("/scheduler/stop", h.SchedulerStop)

		r.Post("/accounts", h.CreateAccount)
		r.Get("/accounts", h.ListAccounts)

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Delete("/", h.DeleteAccount)

			r.Patch("/credentials", h.UpdateCredentials)
			r.Patch("/schedule", h.UpdateSchedule)
			r.Post("/pause", h.Pause)
			r.Post("/resume", h.Resume)
			r.Post("/clear", h.ClearQueue)
			r.Post("/bake", h.Bake)

			r.Post("/queue", h.Enqueue)
			r.Post("/queue/batch", h.EnqueueBatch)
			r.Post("/campaigns", h.Campaign)

			r.Post("/suppression", h.Suppress)
			r.Delete("/suppression", h.Unsuppress)

			r.Post("/inbound", h.ReceiveInbound)
			r.Get("/inbound", h.ListInbound)

			r.Get("/logs/sent", h.SentLog)
			r.Get("/logs/failed", h.FailedLog)

			r.Get("/templates", h.Templates)
			r.Get("/info", h.BusinessInfo)
		})
	})

	return r
}
