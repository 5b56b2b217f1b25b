// Package handlers provides HTTP handlers for price history operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/history"
	"github.com/rs/zerolog"
)

// maxImportBytes caps the size of an uploaded CSV
const maxImportBytes = 32 << 20

// Handler handles price history HTTP requests
type Handler struct {
	repo     *history.Repository
	onChange func()
	log      zerolog.Logger
}

// NewHandler creates a new price history handler
func NewHandler(repo *history.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "history").Logger(),
	}
}

// SetOnChange registers fn to run after bars are imported or deleted
func (h *Handler) SetOnChange(fn func()) {
	h.onChange = fn
}

func (h *Handler) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

// HandleImport handles POST /api/history/{symbol}/import
// The request body is the raw CSV file.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request, symbol string) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	report, err := h.repo.ImportCSV(r.Context(), symbol, body)
	if err != nil {
		h.handleError(w, err, symbol, "Failed to import price history")
		return
	}
	h.changed()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbol": symbol,
			"import": report,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetSymbols handles GET /api/history/symbols
func (h *Handler) HandleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.repo.ListSymbols(r.Context())
	if err != nil {
		h.handleError(w, err, "", "Failed to list symbols")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbols": symbols,
			"count":   len(symbols),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetBars handles GET /api/history/{symbol}?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) HandleGetBars(w http.ResponseWriter, r *http.Request, symbol string) {
	start, err := parseQueryDate(r, "start")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseQueryDate(r, "end")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := h.repo.GetBars(r.Context(), symbol, start, end)
	if err != nil {
		h.handleError(w, err, symbol, "Failed to get price history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbol": symbol,
			"bars":   bars,
			"count":  len(bars),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleDelete handles DELETE /api/history/{symbol}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, symbol string) {
	n, err := h.repo.Delete(r.Context(), symbol)
	if err != nil {
		h.handleError(w, err, symbol, "Failed to delete price history")
		return
	}
	h.changed()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":  symbol,
			"deleted": n,
		},
	})
}

func parseQueryDate(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(history.DateLayout, v)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + " date, expected YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) handleError(w http.ResponseWriter, err error, symbol, msg string) {
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, history.ErrNotFound), errors.Is(err, domain.ErrNoPriceData):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "CSV file too large")
			return
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, msg)
	}
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
