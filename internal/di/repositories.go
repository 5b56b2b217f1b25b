package di

import (
	"fmt"

	"github.com/aristath/dcabacktest/internal/modules/history"
	"github.com/aristath/dcabacktest/internal/modules/results"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories on top of the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.HistoryDB == nil || container.ResultsDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.HistoryRepo = history.NewRepository(container.HistoryDB.Conn(), log)
	container.ResultsRepo = results.NewRepository(container.ResultsDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
