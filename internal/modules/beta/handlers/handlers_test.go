package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/dcabacktest/internal/modules/beta"
	testutil "github.com/aristath/dcabacktest/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCalculate(t *testing.T) {
	closes := testutil.RandomWalk(5, 300, 0.01, 300)
	prices := testutil.StaticPriceSource{
		"SPY":  testutil.BarsFromCloses(closes...),
		"COPY": testutil.BarsFromCloses(closes...),
	}
	logger := zerolog.Nop()
	handler := NewHandler(beta.NewCalculator(prices, "SPY", 0, logger), logger)

	router := chi.NewRouter()
	router.Route("/api", handler.RegisterRoutes)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		validate       func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:           "default period",
			body:           `{"symbol": "copy"}`,
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				var response struct {
					Data beta.Result `json:"data"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.InDelta(t, 1.0, response.Data.Beta, 1e-9)
				assert.Equal(t, beta.DefaultPeriod, response.Data.Period)
			},
		},
		{
			name:           "period out of range",
			body:           `{"symbol": "COPY", "period": 5000}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown symbol",
			body:           `{"symbol": "NOPE"}`,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "malformed body",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/beta/calculate", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.validate != nil {
				tt.validate(t, w)
			}
		})
	}
}
