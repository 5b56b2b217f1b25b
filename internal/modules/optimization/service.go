package optimization

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/metrics"
	"github.com/rs/zerolog"
)

// Strategy comparison bounds
const (
	MinStrategies = 2
	MaxStrategies = 5
)

// Ranked is one sweep entry ordered by total return
type Ranked struct {
	Rank       int               `json:"rank"`
	Label      string            `json:"label"`
	Parameters domain.Parameters `json:"parameters"`
	Summary    metrics.Summary   `json:"summary"`
}

// Failure is a combination that could not be backtested
type Failure struct {
	Label string `json:"label"`
	Error string `json:"error"`
}

// SweepResult is the outcome of a parameter grid sweep
type SweepResult struct {
	Symbol       string    `json:"symbol"`
	Combinations int       `json:"combinations"`
	Results      []Ranked  `json:"results"`
	Best         *Ranked   `json:"best,omitempty"`
	Failures     []Failure `json:"failures"`
	Duration     string    `json:"duration"`
}

// Strategy is one named parameter set of a comparison
type Strategy struct {
	Name       string            `json:"name"`
	Parameters domain.Parameters `json:"parameters"`
}

// StrategyResult is one compared strategy
type StrategyResult struct {
	Name       string            `json:"name"`
	Parameters domain.Parameters `json:"parameters"`
	Summary    metrics.Summary   `json:"summary"`
	Error      string            `json:"error,omitempty"`
}

// Comparison is the outcome of a strategy comparison
type Comparison struct {
	Symbol     string           `json:"symbol"`
	Strategies []StrategyResult `json:"strategies"`
	Best       string           `json:"best"`
	Reason     string           `json:"reason"`
}

// Optimizer runs sweeps and comparisons for one symbol on the worker pool
type Optimizer struct {
	pool *WorkerPool
	sim  *backtest.Simulator
	log  zerolog.Logger
}

// NewOptimizer creates a new optimizer
func NewOptimizer(pool *WorkerPool, sim *backtest.Simulator, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		pool: pool,
		sim:  sim,
		log:  log.With().Str("component", "optimizer").Logger(),
	}
}

func (o *Optimizer) runner(bars []domain.Bar) RunFunc {
	return func(_ context.Context, job Job) (*backtest.Result, error) {
		return o.sim.Run(job.Symbol, bars, job.Parameters)
	}
}

// Sweep backtests every combination of grid over base and ranks them by
// total return, best first. Ties keep grid order.
func (o *Optimizer) Sweep(ctx context.Context, symbol string, bars []domain.Bar, base domain.Parameters, grid Grid, progress ProgressFunc) (*SweepResult, error) {
	jobs, err := grid.Jobs(symbol, base)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	outcomes, err := o.pool.RunBatch(ctx, jobs, o.runner(bars), progress)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{
		Symbol:       symbol,
		Combinations: len(jobs),
		Results:      make([]Ranked, 0, len(outcomes)),
		Failures:     []Failure{},
	}
	for _, out := range outcomes {
		if out.Result == nil {
			res.Failures = append(res.Failures, Failure{Label: out.Job.Label, Error: out.Error})
			continue
		}
		res.Results = append(res.Results, Ranked{
			Label:      out.Job.Label,
			Parameters: out.Job.Parameters,
			Summary:    out.Result.Summary,
		})
	}
	if len(res.Results) == 0 && len(res.Failures) > 0 {
		return nil, fmt.Errorf("all %d combinations failed, first: %s: %w", len(jobs), res.Failures[0].Error, domain.ErrNoPriceData)
	}

	sort.SliceStable(res.Results, func(i, j int) bool {
		return res.Results[i].Summary.TotalReturn > res.Results[j].Summary.TotalReturn
	})
	for i := range res.Results {
		res.Results[i].Rank = i + 1
	}
	if len(res.Results) > 0 {
		best := res.Results[0]
		res.Best = &best
	}
	res.Duration = time.Since(started).Round(time.Millisecond).String()

	o.log.Info().
		Str("symbol", symbol).
		Int("combinations", len(jobs)).
		Int("failures", len(res.Failures)).
		Str("duration", res.Duration).
		Msg("Parameter sweep completed")

	return res, nil
}

// Compare backtests 2 to 5 named strategies and picks the one with the
// highest Sharpe ratio. Ties go to the higher total return, then to the
// earlier strategy.
func (o *Optimizer) Compare(ctx context.Context, symbol string, bars []domain.Bar, strategies []Strategy) (*Comparison, error) {
	if len(strategies) < MinStrategies || len(strategies) > MaxStrategies {
		return nil, domain.NewConfigError("strategies", fmt.Sprintf("compare between %d and %d strategies, got %d", MinStrategies, MaxStrategies, len(strategies)))
	}

	seen := make(map[string]bool, len(strategies))
	jobs := make([]Job, len(strategies))
	for i, s := range strategies {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = fmt.Sprintf("strategy %d", i+1)
		}
		if seen[name] {
			return nil, domain.NewConfigError("strategies", fmt.Sprintf("duplicate strategy name %q", name))
		}
		seen[name] = true

		p := s.Parameters.Normalized()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		jobs[i] = Job{Label: name, Symbol: symbol, Parameters: p}
	}

	outcomes, err := o.pool.RunBatch(ctx, jobs, o.runner(bars), nil)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{Symbol: symbol, Strategies: make([]StrategyResult, len(outcomes))}
	bestIdx := -1
	for i, out := range outcomes {
		sr := StrategyResult{Name: out.Job.Label, Parameters: out.Job.Parameters, Error: out.Error}
		if out.Result != nil {
			sr.Summary = out.Result.Summary
			if bestIdx < 0 || better(sr.Summary, cmp.Strategies[bestIdx].Summary) {
				bestIdx = i
			}
		}
		cmp.Strategies[i] = sr
	}
	if bestIdx < 0 {
		return nil, fmt.Errorf("no strategy could be backtested, first: %s: %w", outcomes[0].Error, domain.ErrNoPriceData)
	}

	best := cmp.Strategies[bestIdx]
	cmp.Best = best.Name
	cmp.Reason = fmt.Sprintf("Highest Sharpe ratio (%.3f)", best.Summary.SharpeRatio)
	return cmp, nil
}

func better(a, b metrics.Summary) bool {
	if a.SharpeRatio != b.SharpeRatio {
		return a.SharpeRatio > b.SharpeRatio
	}
	return a.TotalReturn > b.TotalReturn
}
