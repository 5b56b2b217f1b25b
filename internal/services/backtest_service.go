// Package services provides core business services shared across multiple modules.
//
// This package contains BacktestService which orchestrates backtest runs
// across modules (history, parameters, backtest, portfolio, optimization,
// results, reporting).
package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/optimization"
	"github.com/aristath/dcabacktest/internal/modules/parameters"
	"github.com/aristath/dcabacktest/internal/modules/portfolio"
	"github.com/aristath/dcabacktest/internal/modules/reporting"
	"github.com/aristath/dcabacktest/internal/modules/results"
	"github.com/rs/zerolog"
)

// RunRepositoryInterface defines the interface for run persistence
type RunRepositoryInterface interface {
	Save(ctx context.Context, run results.Run, summary, payload interface{}) (results.Run, error)
	Get(ctx context.Context, id string) (*results.Run, error)
	LoadPayload(ctx context.Context, id string, v interface{}) error
	List(ctx context.Context, kind results.Kind, limit int) ([]results.Run, error)
	Delete(ctx context.Context, id string) error
}

// Export formats of a stored run
const (
	ExportTransactions = "transactions"
	ExportEquity       = "equity"
	ExportRejected     = "rejected"
)

// SingleRequest runs one instrument
type SingleRequest struct {
	Symbol     string               `json:"symbol"`
	Parameters parameters.Overrides `json:"parameters"`
	Label      string               `json:"label,omitempty"`
	Save       bool                 `json:"save,omitempty"`
}

// SingleResponse is the outcome of a single-instrument run
type SingleResponse struct {
	RunID  string           `json:"run_id,omitempty"`
	Result *backtest.Result `json:"result"`
}

// PortfolioRunRequest runs a portfolio. Config names a stored portfolio file
// that replaces the inline request.
type PortfolioRunRequest struct {
	parameters.PortfolioRequest
	Config string `json:"config,omitempty"`
	Label  string `json:"label,omitempty"`
	Save   bool   `json:"save,omitempty"`
}

// PortfolioResponse is the outcome of a portfolio run
type PortfolioResponse struct {
	RunID  string            `json:"run_id,omitempty"`
	Result *portfolio.Result `json:"result"`
}

// GridRequest is optimization.Grid in percent units
type GridRequest struct {
	GridIntervalPercent []float64 `json:"grid_interval_percent"`
	ProfitRequirement   []float64 `json:"profit_requirement"`
	MomentumSell        []bool    `json:"momentum_sell,omitempty"`
	MomentumBuy         []bool    `json:"momentum_buy,omitempty"`
	EnableTrailingBuy   []bool    `json:"enable_trailing_buy,omitempty"`
	EnableTrailingSell  []bool    `json:"enable_trailing_sell,omitempty"`
	StopLossPercent     []float64 `json:"stop_loss_percent,omitempty"`
	LotSelection        []string  `json:"lot_selection,omitempty"`
}

// Grid converts the request into fractions
func (g GridRequest) Grid() optimization.Grid {
	grid := optimization.Grid{
		GridIntervals:      percents(g.GridIntervalPercent),
		ProfitRequirements: percents(g.ProfitRequirement),
		MomentumSell:       g.MomentumSell,
		MomentumBuy:        g.MomentumBuy,
		TrailingBuy:        g.EnableTrailingBuy,
		TrailingSell:       g.EnableTrailingSell,
		StopLoss:           percents(g.StopLossPercent),
	}
	for _, s := range g.LotSelection {
		grid.LotSelection = append(grid.LotSelection, domain.LotSelection(strings.ToUpper(strings.TrimSpace(s))))
	}
	return grid
}

func percents(in []float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = parameters.PercentToFraction(v)
	}
	return out
}

// BatchRequest sweeps a parameter grid over one instrument
type BatchRequest struct {
	Symbol     string               `json:"symbol"`
	Parameters parameters.Overrides `json:"parameters"`
	Grid       GridRequest          `json:"grid"`
	Top        int                  `json:"top,omitempty"`
	Label      string               `json:"label,omitempty"`
	Save       bool                 `json:"save,omitempty"`
}

// BatchResponse is the outcome of a sweep
type BatchResponse struct {
	RunID  string                    `json:"run_id,omitempty"`
	Result *optimization.SweepResult `json:"result"`
}

// StrategyRequest is one named strategy layered over the shared parameters
type StrategyRequest struct {
	Name       string               `json:"name"`
	Parameters parameters.Overrides `json:"parameters"`
}

// CompareRequest compares 2 to 5 strategies on one instrument
type CompareRequest struct {
	Symbol     string               `json:"symbol"`
	Parameters parameters.Overrides `json:"parameters"`
	Strategies []StrategyRequest    `json:"strategies"`
	Label      string               `json:"label,omitempty"`
	Save       bool                 `json:"save,omitempty"`
}

// CompareResponse is the outcome of a comparison
type CompareResponse struct {
	RunID  string                   `json:"run_id,omitempty"`
	Result *optimization.Comparison `json:"result"`
}

// exportPayload is the subset of a stored run payload the CSV exports read
type exportPayload struct {
	Transactions   []domain.Transaction   `json:"transactions"`
	Snapshots      []domain.DailySnapshot `json:"snapshots"`
	RejectedOrders []domain.RejectedOrder `json:"rejected_orders"`
}

// BacktestService loads price history, resolves parameters, runs the
// simulation engines and optionally stores the outcome
type BacktestService struct {
	prices    domain.PriceSource
	resolver  *parameters.Resolver
	simulator *backtest.Simulator
	allocator *portfolio.Allocator
	optimizer *optimization.Optimizer
	runs      RunRepositoryInterface
	log       zerolog.Logger
}

// NewBacktestService creates a new backtest service. runs may be nil, in
// which case Save requests are rejected.
func NewBacktestService(
	prices domain.PriceSource,
	resolver *parameters.Resolver,
	simulator *backtest.Simulator,
	allocator *portfolio.Allocator,
	optimizer *optimization.Optimizer,
	runs RunRepositoryInterface,
	log zerolog.Logger,
) *BacktestService {
	return &BacktestService{
		prices:    prices,
		resolver:  resolver,
		simulator: simulator,
		allocator: allocator,
		optimizer: optimizer,
		runs:      runs,
		log:       log.With().Str("service", "backtest").Logger(),
	}
}

// RunSingle backtests one instrument with unconstrained capital
func (s *BacktestService) RunSingle(ctx context.Context, req SingleRequest) (*SingleResponse, error) {
	symbol, err := requireSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	params, err := s.resolver.Resolve(symbol, req.Parameters)
	if err != nil {
		return nil, err
	}
	if err := s.checkSave(req.Save); err != nil {
		return nil, err
	}

	bars, err := s.prices.GetBars(ctx, symbol, params.StartDate, params.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", symbol, err)
	}

	res, err := s.simulator.Run(symbol, bars, params)
	if err != nil {
		return nil, err
	}

	resp := &SingleResponse{Result: res}
	if req.Save {
		run, err := s.save(ctx, results.Run{
			Kind:        results.KindSingle,
			Label:       req.Label,
			Symbols:     []string{symbol},
			StartDate:   dateString(res.Window.Start),
			EndDate:     dateString(res.Window.End),
			TotalReturn: res.Summary.TotalReturn,
		}, res.Summary, res)
		if err != nil {
			return nil, err
		}
		resp.RunID = run.ID
	}
	return resp, nil
}

// RunPortfolio backtests several instruments against one capital pool
func (s *BacktestService) RunPortfolio(ctx context.Context, req PortfolioRunRequest) (*PortfolioResponse, error) {
	preq := req.PortfolioRequest
	if req.Config != "" {
		loaded, err := s.resolver.LoadPortfolio(req.Config)
		if err != nil {
			return nil, err
		}
		preq = loaded
	}
	cfg, err := s.resolver.BuildPortfolio(preq)
	if err != nil {
		return nil, err
	}
	if err := s.checkSave(req.Save); err != nil {
		return nil, err
	}

	symbols := cfg.Symbols()
	bars := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		b, err := s.prices.GetBars(ctx, symbol, cfg.StartDate, cfg.EndDate)
		if err != nil {
			return nil, fmt.Errorf("failed to load bars for %s: %w", symbol, err)
		}
		bars[symbol] = b
	}

	res, err := s.allocator.Run(ctx, cfg, bars)
	if err != nil {
		return nil, err
	}

	resp := &PortfolioResponse{Result: res}
	if req.Save {
		label := req.Label
		if label == "" {
			label = res.Name
		}
		run, err := s.save(ctx, results.Run{
			Kind:        results.KindPortfolio,
			Label:       label,
			Symbols:     symbols,
			StartDate:   dateString(res.Window.Start),
			EndDate:     dateString(res.Window.End),
			TotalReturn: res.Summary.TotalReturn,
		}, res.Summary, res)
		if err != nil {
			return nil, err
		}
		resp.RunID = run.ID
	}
	return resp, nil
}

// RunBatch sweeps the request grid over the resolved base parameters.
// progress may be nil.
func (s *BacktestService) RunBatch(ctx context.Context, req BatchRequest, progress optimization.ProgressFunc) (*BatchResponse, error) {
	symbol, err := requireSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	base, err := s.resolver.Resolve(symbol, req.Parameters)
	if err != nil {
		return nil, err
	}
	if req.Top < 0 {
		return nil, domain.NewConfigError("top", "must not be negative")
	}
	if err := s.checkSave(req.Save); err != nil {
		return nil, err
	}

	bars, err := s.prices.GetBars(ctx, symbol, base.StartDate, base.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", symbol, err)
	}

	sweep, err := s.optimizer.Sweep(ctx, symbol, bars, base, req.Grid.Grid(), progress)
	if err != nil {
		return nil, err
	}
	if req.Top > 0 && len(sweep.Results) > req.Top {
		sweep.Results = sweep.Results[:req.Top]
	}

	resp := &BatchResponse{Result: sweep}
	if req.Save {
		run := results.Run{
			Kind:      results.KindBatch,
			Label:     req.Label,
			Symbols:   []string{symbol},
			StartDate: dateString(base.StartDate),
			EndDate:   dateString(base.EndDate),
		}
		var summary interface{}
		if sweep.Best != nil {
			run.TotalReturn = sweep.Best.Summary.TotalReturn
			summary = sweep.Best
		}
		saved, err := s.save(ctx, run, summary, sweep)
		if err != nil {
			return nil, err
		}
		resp.RunID = saved.ID
	}
	return resp, nil
}

// Compare backtests named strategies over shared price data. Each strategy
// layers its parameters over the resolved shared parameters.
func (s *BacktestService) Compare(ctx context.Context, req CompareRequest) (*CompareResponse, error) {
	symbol, err := requireSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	base, err := s.resolver.Resolve(symbol, req.Parameters)
	if err != nil {
		return nil, err
	}
	if err := s.checkSave(req.Save); err != nil {
		return nil, err
	}

	strategies := make([]optimization.Strategy, len(req.Strategies))
	var start, end time.Time
	for i, sr := range req.Strategies {
		p, err := sr.Parameters.Apply(base)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", sr.Name, err)
		}
		strategies[i] = optimization.Strategy{Name: sr.Name, Parameters: p}
		if i == 0 {
			start, end = p.StartDate, p.EndDate
			continue
		}
		start = earliest(start, p.StartDate)
		end = latest(end, p.EndDate)
	}

	bars, err := s.prices.GetBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", symbol, err)
	}

	cmp, err := s.optimizer.Compare(ctx, symbol, bars, strategies)
	if err != nil {
		return nil, err
	}

	resp := &CompareResponse{Result: cmp}
	if req.Save {
		run := results.Run{
			Kind:      results.KindCompare,
			Label:     req.Label,
			Symbols:   []string{symbol},
			StartDate: dateString(start),
			EndDate:   dateString(end),
		}
		for _, st := range cmp.Strategies {
			if st.Name == cmp.Best {
				run.TotalReturn = st.Summary.TotalReturn
			}
		}
		saved, err := s.save(ctx, run, cmp.Strategies, cmp)
		if err != nil {
			return nil, err
		}
		resp.RunID = saved.ID
	}
	return resp, nil
}

// ListPortfolios returns the names of the stored portfolio configs
func (s *BacktestService) ListPortfolios() ([]string, error) {
	return s.resolver.ListPortfolios()
}

// ListRuns returns stored runs, newest first. An empty kind lists every kind.
func (s *BacktestService) ListRuns(ctx context.Context, kind results.Kind, limit int) ([]results.Run, error) {
	if s.runs == nil {
		return []results.Run{}, nil
	}
	return s.runs.List(ctx, kind, limit)
}

// GetRun returns the metadata of a stored run
func (s *BacktestService) GetRun(ctx context.Context, id string) (*results.Run, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("%s: %w", id, results.ErrNotFound)
	}
	return s.runs.Get(ctx, id)
}

// DeleteRun removes a stored run
func (s *BacktestService) DeleteRun(ctx context.Context, id string) error {
	if s.runs == nil {
		return fmt.Errorf("%s: %w", id, results.ErrNotFound)
	}
	return s.runs.Delete(ctx, id)
}

// ExportRun writes one table of a stored single or portfolio run as CSV
func (s *BacktestService) ExportRun(ctx context.Context, id, format string, w io.Writer) error {
	var payload exportPayload
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Kind != results.KindSingle && run.Kind != results.KindPortfolio {
		return domain.NewConfigError("format", fmt.Sprintf("%s runs have no transaction log", run.Kind))
	}
	if err := s.runs.LoadPayload(ctx, id, &payload); err != nil {
		return err
	}

	switch format {
	case ExportTransactions, "":
		return reporting.WriteTransactions(w, payload.Transactions)
	case ExportEquity:
		return reporting.WriteEquity(w, payload.Snapshots)
	case ExportRejected:
		return reporting.WriteRejected(w, payload.RejectedOrders)
	default:
		return domain.NewConfigError("format", fmt.Sprintf("unknown export %q", format))
	}
}

// LoadRunPayload decodes the payload of a stored run into the result type of
// its kind
func (s *BacktestService) LoadRunPayload(ctx context.Context, run *results.Run) (interface{}, error) {
	var payload interface{}
	switch run.Kind {
	case results.KindSingle:
		payload = &backtest.Result{}
	case results.KindPortfolio:
		payload = &portfolio.Result{}
	case results.KindBatch:
		payload = &optimization.SweepResult{}
	case results.KindCompare:
		payload = &optimization.Comparison{}
	default:
		return nil, fmt.Errorf("unknown run kind %q", run.Kind)
	}
	if err := s.runs.LoadPayload(ctx, run.ID, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *BacktestService) checkSave(save bool) error {
	if save && s.runs == nil {
		return domain.NewConfigError("save", "no result store configured")
	}
	return nil
}

func (s *BacktestService) save(ctx context.Context, run results.Run, summary, payload interface{}) (results.Run, error) {
	saved, err := s.runs.Save(ctx, run, summary, payload)
	if err != nil {
		return saved, fmt.Errorf("failed to save %s run: %w", run.Kind, err)
	}
	s.log.Info().
		Str("run_id", saved.ID).
		Str("kind", string(saved.Kind)).
		Strs("symbols", saved.Symbols).
		Msg("Stored backtest run")
	return saved, nil
}

func requireSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", domain.NewConfigError("symbol", "must not be empty")
	}
	return symbol, nil
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(parameters.DateLayout)
}

// earliest returns the earlier of a and b; a zero value is an open bound
func earliest(a, b time.Time) time.Time {
	if a.IsZero() || b.IsZero() {
		return time.Time{}
	}
	if b.Before(a) {
		return b
	}
	return a
}

// latest returns the later of a and b; a zero value is an open bound
func latest(a, b time.Time) time.Time {
	if a.IsZero() || b.IsZero() {
		return time.Time{}
	}
	if b.After(a) {
		return b
	}
	return a
}
