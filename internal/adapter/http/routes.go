package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. Tenant and
// telemetry middleware are applied by the caller.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api", func(r chi.Router) {
		// Decision engine
		r.Post("/route", h.RouteTask)
		r.Get("/route/stats", h.RouterStats)

		// Runs
		r.Post("/runs", h.CreateRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Post("/runs/{id}/start", h.StartRun)
		r.Post("/runs/{id}/cancel", h.CancelRun)
		r.Get("/runs/{id}/events", h.GetRunEvents)
		r.Get("/runs/{id}/replay", h.ReplayRun)

		// Sagas
		r.Post("/sagas", h.StartSaga)
		r.Get("/sagas/{id}", h.GetSagaStatus)
	})

	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
