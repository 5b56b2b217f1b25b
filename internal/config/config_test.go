package config

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONFIG_DIR", "GO_PORT", "LOG_LEVEL", "DEV_MODE", "DB_DRIVER", "BATCH_WORKERS",
		"RISK_FREE_RATE", "BETA_INDEX_SYMBOL", "BETA_LOOKBACK_DAYS", "CORS_ALLOWED_ORIGINS",
		"REQUEST_TIMEOUT_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("DCA_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.DirExists(t, cfg.DataDir)
	defaultConfigDir, err := filepath.Abs("./configs")
	require.NoError(t, err)
	assert.Equal(t, defaultConfigDir, cfg.ConfigDir)
	assert.NoDirExists(t, cfg.ConfigDir)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, runtime.NumCPU(), cfg.BatchWorkers)
	assert.Equal(t, 0.0, cfg.RiskFreeRate)
	assert.Equal(t, "SPY", cfg.BetaIndexSymbol)
	assert.Equal(t, 252, cfg.BetaLookbackDays)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, filepath.Join(dir, "history.db"), cfg.DatabasePath("history"))
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("DCA_DATA_DIR", filepath.Join(dir, "store"))
	t.Setenv("CONFIG_DIR", filepath.Join(dir, "cfg"))
	t.Setenv("GO_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("BATCH_WORKERS", "3")
	t.Setenv("RISK_FREE_RATE", "0.04")
	t.Setenv("BETA_INDEX_SYMBOL", "qqq")
	t.Setenv("BETA_LOOKBACK_DAYS", "120")
	t.Setenv("CORS_ALLOWED_ORIGINS", "localhost:3000, example.com ,")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "store"), cfg.DataDir)
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "cfg"), cfg.ConfigDir)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, 3, cfg.BatchWorkers)
	assert.InDelta(t, 0.04, cfg.RiskFreeRate, 1e-12)
	assert.Equal(t, "QQQ", cfg.BetaIndexSymbol)
	assert.Equal(t, 120, cfg.BetaLookbackDays)
	assert.Equal(t, []string{"localhost:3000", "example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             8080,
			DBDriver:         "sqlite",
			BatchWorkers:     2,
			BetaIndexSymbol:  "SPY",
			BetaLookbackDays: 252,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.DBDriver = "postgres" }, true},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"zero workers", func(c *Config) { c.BatchWorkers = 0 }, true},
		{"negative risk free rate", func(c *Config) { c.RiskFreeRate = -0.01 }, true},
		{"empty index", func(c *Config) { c.BetaIndexSymbol = "" }, true},
		{"lookback too short", func(c *Config) { c.BetaLookbackDays = 10 }, true},
		{"lookback too long", func(c *Config) { c.BetaLookbackDays = 5000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
