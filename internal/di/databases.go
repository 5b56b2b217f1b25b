package di

import (
	"fmt"

	"github.com/aristath/dcabacktest/internal/config"
	"github.com/aristath/dcabacktest/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. history.db - Imported daily bars
	historyDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("history"),
		Driver:  cfg.DBDriver,
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	container.HistoryDB = historyDB

	// 2. results.db - Append-only run store
	resultsDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath("results"),
		Driver:  cfg.DBDriver,
		Profile: database.ProfileLedger, // Stored runs are never rewritten
		Name:    "results",
	})
	if err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to initialize results database: %w", err)
	}
	container.ResultsDB = resultsDB

	for _, db := range []*database.DB{historyDB, resultsDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("driver", cfg.DBDriver).
		Str("data_dir", cfg.DataDir).
		Msg("Databases initialized")

	return container, nil
}
