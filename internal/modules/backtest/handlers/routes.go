package handlers

import (
	"net/http"

	"github.com/aristath/dcabacktest/internal/services"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all backtest routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/backtest", func(r chi.Router) {
		r.Post("/dca", h.HandleRunSingle)
		r.Post("/portfolio", h.HandleRunPortfolio)
		r.Get("/portfolios", h.HandleListPortfolios)
		r.Post("/batch", h.HandleRunBatch)
		r.Get("/batch/stream", h.HandleBatchStream)
		r.Post("/compare", h.HandleCompare)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.HandleListRuns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					h.HandleGetRun(w, r, chi.URLParam(r, "id"))
				})
				r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
					h.HandleDeleteRun(w, r, chi.URLParam(r, "id"))
				})
				for _, format := range []string{services.ExportTransactions, services.ExportEquity, services.ExportRejected} {
					format := format
					r.Get("/"+format+".csv", func(w http.ResponseWriter, r *http.Request) {
						h.HandleExportRun(w, r, chi.URLParam(r, "id"), format)
					})
				}
			})
		})
	})
}
