package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all price history routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/symbols", h.HandleGetSymbols)

		r.Route("/{symbol}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetBars(w, r, chi.URLParam(r, "symbol"))
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDelete(w, r, chi.URLParam(r, "symbol"))
			})
			r.Post("/import", func(w http.ResponseWriter, r *http.Request) {
				h.HandleImport(w, r, chi.URLParam(r, "symbol"))
			})
		})
	})
}
