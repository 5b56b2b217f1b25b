package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/dcabacktest/internal/database"
	"github.com/aristath/dcabacktest/internal/scheduler"
)

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	Goroutines    int               `json:"goroutines"`
	GoVersion     string            `json:"go_version"`
	DataDirMB     float64           `json:"data_dir_mb"`
	Databases     map[string]string `json:"databases"`
	Jobs          []string          `json:"jobs"`
	LastChecked   string            `json:"last_checked"`
}

// DatabaseStatsResponse is the body of GET /api/system/database
type DatabaseStatsResponse struct {
	Databases   []*database.Stats `json:"databases"`
	TotalSizeMB float64           `json:"total_size_mb"`
	LastChecked string            `json:"last_checked"`
}

// SystemHandlers serves process and storage diagnostics
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	scheduler *scheduler.Scheduler
	startedAt time.Time
	databases []*database.DB
}

// NewSystemHandlers creates the system handlers. Nil databases are ignored.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	sched *scheduler.Scheduler,
	startedAt time.Time,
	databases ...*database.DB,
) *SystemHandlers {
	var dbs []*database.DB
	for _, db := range databases {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		scheduler: sched,
		startedAt: startedAt,
		databases: dbs,
	}
}

// HandleSystemStatus handles GET /api/system/status
// Status is "degraded" when any database fails its health check.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	status := "healthy"
	databases := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			databases[db.Name()] = err.Error()
			status = "degraded"
			continue
		}
		databases[db.Name()] = "ok"
	}

	jobs := []string{}
	if h.scheduler != nil {
		jobs = h.scheduler.Jobs()
	}

	writeJSON(w, http.StatusOK, SystemStatusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		DataDirMB:     h.getDirSize(h.dataDir),
		Databases:     databases,
		Jobs:          jobs,
		LastChecked:   time.Now().Format(time.RFC3339),
	}, h.log)
}

// HandleDatabaseStats handles GET /api/system/database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting database stats")

	response := DatabaseStatsResponse{
		Databases:   []*database.Stats{},
		LastChecked: time.Now().Format(time.RFC3339),
	}
	for _, db := range h.databases {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get database stats"}, h.log)
			return
		}
		response.Databases = append(response.Databases, stats)
		response.TotalSizeMB += float64(stats.SizeBytes+stats.WALSizeBytes) / 1024 / 1024
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// HandleTriggerJob handles POST /api/system/jobs/{name}
// The job runs synchronously; its error is reported in the response.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Scheduler not available"}, h.log)
		return
	}

	err := h.scheduler.Trigger(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, h.log)
	case err != nil:
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()}, h.log)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "job": name}, h.log)
	}
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages over a 100ms sample
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
