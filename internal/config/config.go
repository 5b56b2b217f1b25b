// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/database"
	"github.com/aristath/dcabacktest/internal/modules/beta"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for all databases (always absolute)
	ConfigDir        string // Parameter defaults and portfolio files (always absolute)
	LogLevel         string
	Port             int
	DevMode          bool
	DBDriver         string // database.DriverModernc or database.DriverMattn
	BatchWorkers     int
	RiskFreeRate     float64 // Annual fraction used by Sharpe and Sortino
	BetaIndexSymbol  string
	BetaLookbackDays int
	AllowedOrigins   []string
	RequestTimeout   time.Duration // Upper bound for one API request, websocket streams included
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := absDir(getEnv("DCA_DATA_DIR", "./data"), true)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}
	configDir, err := absDir(getEnv("CONFIG_DIR", "./configs"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}

	cfg := &Config{
		DataDir:          dataDir,
		ConfigDir:        configDir,
		Port:             getEnvAsInt("GO_PORT", 8080),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DBDriver:         getEnv("DB_DRIVER", database.DriverModernc),
		BatchWorkers:     getEnvAsInt("BATCH_WORKERS", runtime.NumCPU()),
		RiskFreeRate:     getEnvAsFloat("RISK_FREE_RATE", 0),
		BetaIndexSymbol:  strings.ToUpper(getEnv("BETA_INDEX_SYMBOL", "SPY")),
		BetaLookbackDays: getEnvAsInt("BETA_LOOKBACK_DAYS", beta.DefaultPeriod),
		AllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RequestTimeout:   time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	if c.DBDriver != database.DriverModernc && c.DBDriver != database.DriverMattn {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", database.DriverModernc, database.DriverMattn, c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("GO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive, got %v", c.RequestTimeout)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if c.RiskFreeRate < 0 || c.RiskFreeRate >= 1 {
		return fmt.Errorf("RISK_FREE_RATE must be an annual fraction in [0, 1), got %v", c.RiskFreeRate)
	}
	if c.BetaIndexSymbol == "" {
		return fmt.Errorf("BETA_INDEX_SYMBOL must not be empty")
	}
	if c.BetaLookbackDays < beta.MinPeriod || c.BetaLookbackDays > beta.MaxPeriod {
		return fmt.Errorf("BETA_LOOKBACK_DAYS must be between %d and %d, got %d", beta.MinPeriod, beta.MaxPeriod, c.BetaLookbackDays)
	}
	return nil
}

// DatabasePath returns the file of the named database inside DataDir
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func absDir(dir string, create bool) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if create {
		if err := os.MkdirAll(abs, 0755); err != nil {
			return "", err
		}
	}
	return abs, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
