package api

import (
	"github.com/go-chi/chi/v5"
)

func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/db", h.DBHealth)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/conversions", h.SubmitConversion)
			r.Post("/conversions/reconcile", h.ReconcileMedia)
			r.Get("/conversions/{taskID}", h.GetConversionStatus)

			r.Post("/items/{itemID}/media", h.AttachMedia)
			r.Get("/items/{itemID}/media", h.ListMedia)
		})
	})

	return r
}
