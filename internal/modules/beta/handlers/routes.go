package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the beta routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/beta", func(r chi.Router) {
		r.Post("/calculate", h.HandleCalculate)
	})
}
