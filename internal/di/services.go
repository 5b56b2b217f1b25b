package di

import (
	"fmt"

	"github.com/aristath/dcabacktest/internal/config"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/beta"
	"github.com/aristath/dcabacktest/internal/modules/optimization"
	"github.com/aristath/dcabacktest/internal/modules/parameters"
	"github.com/aristath/dcabacktest/internal/modules/portfolio"
	"github.com/aristath/dcabacktest/internal/scheduler"
	"github.com/aristath/dcabacktest/internal/services"
	"github.com/rs/zerolog"
)

// Maintenance schedules
const (
	checkpointSchedule = "@hourly"
	integritySchedule  = "0 0 4 * * *" // Daily at 4:00 AM
)

// InitializeServices builds the simulation services and the backtest service
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.HistoryRepo == nil || container.ResultsRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	container.Resolver = parameters.NewResolver(cfg.ConfigDir, log)

	container.BetaCalculator = beta.NewCalculator(container.HistoryRepo, cfg.BetaIndexSymbol, cfg.BetaLookbackDays, log)
	container.BetaCache = beta.NewCached(container.BetaCalculator)

	container.Simulator = backtest.NewSimulator(log, backtest.WithRiskFreeRate(cfg.RiskFreeRate))
	container.Allocator = portfolio.NewAllocator(container.BetaCache, log, portfolio.WithRiskFreeRate(cfg.RiskFreeRate))

	container.WorkerPool = optimization.NewWorkerPool(cfg.BatchWorkers)
	container.Optimizer = optimization.NewOptimizer(container.WorkerPool, container.Simulator, log)

	container.BacktestService = services.NewBacktestService(
		container.HistoryRepo,
		container.Resolver,
		container.Simulator,
		container.Allocator,
		container.Optimizer,
		container.ResultsRepo,
		log,
	)

	container.Scheduler = scheduler.New(log)
	if err := container.Scheduler.AddJob(checkpointSchedule, scheduler.NewCheckpointJob(log, container.HistoryDB, container.ResultsDB)); err != nil {
		return err
	}
	if err := container.Scheduler.AddJob(integritySchedule, scheduler.NewCheckDatabasesJob(log, container.HistoryDB, container.ResultsDB)); err != nil {
		return err
	}

	log.Debug().
		Int("batch_workers", container.WorkerPool.Size()).
		Str("beta_index", cfg.BetaIndexSymbol).
		Msg("Services initialized")
	return nil
}
