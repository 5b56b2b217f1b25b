// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/dcabacktest/internal/database"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/beta"
	"github.com/aristath/dcabacktest/internal/modules/history"
	"github.com/aristath/dcabacktest/internal/modules/optimization"
	"github.com/aristath/dcabacktest/internal/modules/parameters"
	"github.com/aristath/dcabacktest/internal/modules/portfolio"
	"github.com/aristath/dcabacktest/internal/modules/results"
	"github.com/aristath/dcabacktest/internal/scheduler"
	"github.com/aristath/dcabacktest/internal/services"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	HistoryDB *database.DB // Daily bars per symbol
	ResultsDB *database.DB // Stored backtest runs

	// Repositories
	HistoryRepo *history.Repository
	ResultsRepo *results.Repository

	// Services
	Resolver        *parameters.Resolver
	BetaCalculator  *beta.Calculator
	BetaCache       *beta.Cached // Provider handed to the allocator
	Simulator       *backtest.Simulator
	Allocator       *portfolio.Allocator
	WorkerPool      *optimization.WorkerPool
	Optimizer       *optimization.Optimizer
	BacktestService *services.BacktestService

	// Maintenance
	Scheduler *scheduler.Scheduler
}

// Close stops the scheduler and closes every open database
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}

	var firstErr error
	for _, db := range []*database.DB{c.HistoryDB, c.ResultsDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
