// Package handlers provides HTTP handlers for beta calculations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/beta"
	"github.com/aristath/dcabacktest/internal/modules/history"
	"github.com/rs/zerolog"
)

// Handler handles beta HTTP requests
type Handler struct {
	calc *beta.Calculator
	log  zerolog.Logger
}

// NewHandler creates a new beta handler
func NewHandler(calc *beta.Calculator, log zerolog.Logger) *Handler {
	return &Handler{
		calc: calc,
		log:  log.With().Str("handler", "beta").Logger(),
	}
}

// CalculateRequest is the body of POST /api/beta/calculate
type CalculateRequest struct {
	Symbol string `json:"symbol"`
	Period int    `json:"period"`
}

// HandleCalculate handles POST /api/beta/calculate
func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Period == 0 {
		req.Period = beta.DefaultPeriod
	}

	res, err := h.calc.Calculate(r.Context(), req.Symbol, req.Period)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidConfig):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNoPriceData), errors.Is(err, history.ErrNotFound):
			h.writeError(w, http.StatusNotFound, err.Error())
		default:
			h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Failed to calculate beta")
			h.writeError(w, http.StatusInternalServerError, "Failed to calculate beta")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": res,
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
