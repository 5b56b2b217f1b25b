// Package handlers provides HTTP handlers for backtest runs.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/history"
	"github.com/aristath/dcabacktest/internal/modules/parameters"
	"github.com/aristath/dcabacktest/internal/modules/results"
	"github.com/aristath/dcabacktest/internal/services"
	"github.com/rs/zerolog"
)

// maxRequestBytes caps the size of a JSON request body
const maxRequestBytes = 1 << 20

// Handler handles backtest HTTP requests
type Handler struct {
	service        *services.BacktestService
	originPatterns []string
	log            zerolog.Logger
}

// NewHandler creates a new backtest handler. originPatterns lists the
// cross-origin hosts allowed to open the progress websocket.
func NewHandler(service *services.BacktestService, originPatterns []string, log zerolog.Logger) *Handler {
	return &Handler{
		service:        service,
		originPatterns: originPatterns,
		log:            log.With().Str("handler", "backtest").Logger(),
	}
}

// HandleRunSingle handles POST /api/backtest/dca
func (h *Handler) HandleRunSingle(w http.ResponseWriter, r *http.Request) {
	var req services.SingleRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.RunSingle(r.Context(), req)
	if err != nil {
		h.handleError(w, err, "Failed to run backtest")
		return
	}
	h.writeData(w, http.StatusOK, resp)
}

// HandleRunPortfolio handles POST /api/backtest/portfolio
func (h *Handler) HandleRunPortfolio(w http.ResponseWriter, r *http.Request) {
	var req services.PortfolioRunRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.RunPortfolio(r.Context(), req)
	if err != nil {
		h.handleError(w, err, "Failed to run portfolio backtest")
		return
	}
	h.writeData(w, http.StatusOK, resp)
}

// HandleRunBatch handles POST /api/backtest/batch
func (h *Handler) HandleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req services.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.RunBatch(r.Context(), req, nil)
	if err != nil {
		h.handleError(w, err, "Failed to run batch backtest")
		return
	}
	h.writeData(w, http.StatusOK, resp)
}

// HandleCompare handles POST /api/backtest/compare
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	var req services.CompareRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Compare(r.Context(), req)
	if err != nil {
		h.handleError(w, err, "Failed to compare strategies")
		return
	}
	h.writeData(w, http.StatusOK, resp)
}

// HandleListPortfolios handles GET /api/backtest/portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.ListPortfolios()
	if err != nil {
		h.handleError(w, err, "Failed to list portfolios")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"portfolios": names,
		"count":      len(names),
	})
}

// HandleListRuns handles GET /api/backtest/runs?kind=dca&limit=20
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(r.Context(), results.Kind(r.URL.Query().Get("kind")), limit)
	if err != nil {
		h.handleError(w, err, "Failed to list runs")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleGetRun handles GET /api/backtest/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.handleError(w, err, "Failed to get run")
		return
	}
	payload, err := h.service.LoadRunPayload(r.Context(), run)
	if err != nil {
		h.handleError(w, err, "Failed to load run payload")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"run":    run,
		"result": payload,
	})
}

// HandleDeleteRun handles DELETE /api/backtest/runs/{id}
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.DeleteRun(r.Context(), id); err != nil {
		h.handleError(w, err, "Failed to delete run")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}

// HandleExportRun handles GET /api/backtest/runs/{id}/{format}.csv
func (h *Handler) HandleExportRun(w http.ResponseWriter, r *http.Request, id, format string) {
	var buf bytes.Buffer
	if err := h.service.ExportRun(r.Context(), id, format, &buf); err != nil {
		h.handleError(w, err, "Failed to export run")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+id+"-"+format+".csv\"")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Error().Err(err).Str("run_id", id).Str("format", format).Msg("Failed to write CSV export")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoPriceData),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, results.ErrNotFound),
		errors.Is(err, parameters.ErrPortfolioNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, msg string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, status, msg)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
