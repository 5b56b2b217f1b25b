package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/dcabacktest/internal/config"
	"github.com/aristath/dcabacktest/internal/database"
	"github.com/aristath/dcabacktest/internal/di"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:          filepath.Join(dir, "data"),
		ConfigDir:        filepath.Join(dir, "configs"),
		Port:             8080,
		DevMode:          true,
		DBDriver:         database.DriverModernc,
		BatchWorkers:     2,
		BetaIndexSymbol:  "SPY",
		BetaLookbackDays: 252,
		AllowedOrigins:   []string{"*"},
		RequestTimeout:   time.Minute,
	}

	container, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	return New(Config{Log: zerolog.Nop(), Config: cfg, Container: container})
}

func TestServerRoutes(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		validate       func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:           "health",
			method:         "GET",
			path:           "/health",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				var response map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response["status"])
				assert.Equal(t, "dcabacktest", response["service"])
			},
		},
		{
			name:           "system status",
			method:         "GET",
			path:           "/api/system/status",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				var response SystemStatusResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response.Status)
				assert.Equal(t, map[string]string{"history": "ok", "results": "ok"}, response.Databases)
				assert.Equal(t, []string{"wal_checkpoint", "check_databases"}, response.Jobs)
				assert.Positive(t, response.Goroutines)
			},
		},
		{
			name:           "database stats",
			method:         "GET",
			path:           "/api/system/database",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				var response DatabaseStatsResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				require.Len(t, response.Databases, 2)
				assert.Equal(t, "history", response.Databases[0].Name)
				assert.Equal(t, "results", response.Databases[1].Name)
				assert.Positive(t, response.Databases[0].PageCount)
			},
		},
		{
			name:           "trigger job",
			method:         "POST",
			path:           "/api/system/jobs/check_databases",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "trigger unknown job",
			method:         "POST",
			path:           "/api/system/jobs/nope",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "history mounted",
			method:         "POST",
			path:           "/api/history/AAPL/import",
			body:           "date,close\n2024-01-02,185.6\n2024-01-03,184.2\n",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "backtest mounted",
			method:         "GET",
			path:           "/api/backtest/portfolios",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "beta mounted",
			method:         "POST",
			path:           "/api/beta/calculate",
			body:           "{",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown route",
			method:         "GET",
			path:           "/api/nothing",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.validate != nil {
				tt.validate(t, w)
			}
		})
	}
}

func TestServer_CORS(t *testing.T) {
	s := setupServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeoutMiddleware(t *testing.T) {
	s := &Server{log: zerolog.Nop()}
	var hadDeadline bool
	handler := s.timeoutMiddleware(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, upgrade := range []string{"", "websocket"} {
		hadDeadline = false
		req := httptest.NewRequest("GET", "/", nil)
		if upgrade != "" {
			req.Header.Set("Upgrade", upgrade)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.True(t, hadDeadline, "upgrade=%q", upgrade)
	}
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t,
		[]string{"*", "localhost:3000", "example.com"},
		originPatterns([]string{"*", "http://localhost:3000", "https://example.com"}),
	)
}
