// Package backtest runs the single-instrument DCA grid simulation.
package backtest

import (
	"fmt"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/market_regime"
	"github.com/aristath/dcabacktest/internal/modules/metrics"
	"github.com/aristath/dcabacktest/internal/modules/signals"
	"github.com/rs/zerolog"
)

// Window is the date range actually simulated
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Bars  int       `json:"bars"`
}

// Result is the complete output of one single-instrument run
type Result struct {
	Symbol            string                       `json:"symbol"`
	Parameters        domain.Parameters            `json:"parameters"`
	Window            Window                       `json:"window"`
	Transactions      []domain.Transaction         `json:"transactions"`
	Snapshots         []domain.DailySnapshot       `json:"snapshots"`
	FinalPosition     domain.Position              `json:"final_position"`
	FinalPrice        float64                      `json:"final_price"`
	SkippedBars       int                          `json:"skipped_bars"`
	Advisories        []string                     `json:"advisories,omitempty"`
	RegimeChanges     []market_regime.RegimeChange `json:"regime_changes,omitempty"`
	TrailingEvents    []signals.TrailingEvent      `json:"trailing_events,omitempty"`
	BuysBlockedByPNL  int                          `json:"buys_blocked_by_pnl"`
	SellsBlockedByPNL int                          `json:"sells_blocked_by_pnl"`
	Summary           metrics.Summary              `json:"summary"`
}

// Simulator runs single-instrument backtests. Capital is unconstrained: every
// triggered buy executes.
type Simulator struct {
	riskFreeRate     float64
	volatilityPeriod int
	regimeOpts       []market_regime.SwitcherOption
	log              zerolog.Logger
}

// SimulatorOption customizes a Simulator
type SimulatorOption func(*Simulator)

// WithRiskFreeRate sets the annual risk-free rate used by Sharpe and Sortino
func WithRiskFreeRate(rate float64) SimulatorOption {
	return func(s *Simulator) { s.riskFreeRate = rate }
}

// WithVolatilityPeriod sets the ATR period of the dynamic grid
func WithVolatilityPeriod(period int) SimulatorOption {
	return func(s *Simulator) {
		if period > 1 {
			s.volatilityPeriod = period
		}
	}
}

// WithRegimeOptions customizes the adaptive-strategy switcher
func WithRegimeOptions(opts ...market_regime.SwitcherOption) SimulatorOption {
	return func(s *Simulator) { s.regimeOpts = append(s.regimeOpts, opts...) }
}

// NewSimulator creates a simulator
func NewSimulator(log zerolog.Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		volatilityPeriod: DefaultVolatilityPeriod,
		log:              log.With().Str("component", "simulator").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Budget is the capital a single run is measured against
func Budget(p domain.Parameters) float64 {
	return p.LotSizeUSD * float64(p.MaxLots)
}

// Run simulates one instrument over bars. Parameters are validated before any
// work; bad bars are skipped and reported as advisories; a broken invariant
// aborts the run.
func (s *Simulator) Run(symbol string, bars []domain.Bar, params domain.Parameters) (*Result, error) {
	params = params.Normalized()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	clean, skipped := PrepareBars(bars, params.StartDate, params.EndDate)
	if len(clean) == 0 {
		return nil, fmt.Errorf("%s between %s and %s: %w", symbol,
			formatDate(params.StartDate), formatDate(params.EndDate), domain.ErrNoPriceData)
	}

	log := s.log.With().Str("symbol", symbol).Logger()

	var opts []InstrumentOption
	if params.EnableDynamicGrid {
		opts = append(opts, WithVolatility(clean, s.volatilityPeriod))
	}
	if params.EnableAdaptiveStrategy {
		opts = append(opts, WithSwitcher(market_regime.NewSwitcher(params, log, s.regimeOpts...)))
	}
	inst := NewInstrument(symbol, params, log, opts...)

	budget := Budget(params)
	snapshots := make([]domain.DailySnapshot, 0, len(clean))

	for _, bar := range clean {
		tick := inst.Tick(bar)

		if _, err := inst.Sell(tick); err != nil {
			log.Error().Err(err).Time("date", bar.Date).Msg("Sell phase failed")
			return nil, err
		}

		if sig := inst.BuySignal(tick); sig.Kind == signals.Buy {
			if _, err := inst.Buy(tick, inst.Parameters().LotSizeUSD); err != nil {
				log.Error().Err(err).Time("date", bar.Date).Msg("Buy phase failed")
				return nil, err
			}
		}

		if err := inst.EndBar(tick); err != nil {
			log.Error().Err(err).Time("date", bar.Date).Msg("Invariant check failed")
			return nil, err
		}

		snapshots = append(snapshots, Snapshot(inst.Position(), bar, budget))
	}

	pos := inst.Position()
	last := clean[len(clean)-1]
	result := &Result{
		Symbol:            symbol,
		Parameters:        params,
		Window:            Window{Start: clean[0].Date, End: last.Date, Bars: len(clean)},
		Transactions:      inst.Transactions(),
		Snapshots:         snapshots,
		FinalPosition:     pos,
		FinalPrice:        last.Close,
		SkippedBars:       skipped,
		Advisories:        advisories(params, clean, skipped),
		RegimeChanges:     inst.RegimeChanges(),
		TrailingEvents:    inst.TrailingEvents(),
		BuysBlockedByPNL:  pos.BuysBlockedByPNL,
		SellsBlockedByPNL: pos.SellsBlockedByPNL,
	}
	if result.Transactions == nil {
		result.Transactions = []domain.Transaction{}
	}
	for _, msg := range result.Advisories {
		log.Debug().Msg(msg)
	}

	result.Summary = metrics.Compute(metrics.Input{
		Transactions:   result.Transactions,
		Snapshots:      snapshots,
		InitialCapital: budget,
		RiskFreeRate:   s.riskFreeRate,
	})

	log.Info().
		Int("bars", len(clean)).
		Int("skipped", skipped).
		Int("transactions", len(result.Transactions)).
		Int("open_lots", len(pos.Lots)).
		Float64("total_return", result.Summary.TotalReturn).
		Msg("Backtest completed")

	return result, nil
}

// Snapshot values the position at the bar close. Cash is the budget plus
// realized P&L minus capital still deployed in open lots.
func Snapshot(pos domain.Position, bar domain.Bar, budget float64) domain.DailySnapshot {
	deployed := pos.CostBasis()
	value := pos.MarketValue(bar.Close)
	cash := budget + pos.RealizedPNL - deployed
	util := 0.0
	if budget > 0 {
		util = deployed / budget
	}
	return domain.DailySnapshot{
		Date:          bar.Date,
		Cash:          cash,
		Deployed:      deployed,
		MarketValue:   value,
		Equity:        cash + value,
		Utilization:   util,
		RealizedPNL:   pos.RealizedPNL,
		UnrealizedPNL: value - deployed,
		OpenLots:      len(pos.Lots),
	}
}

func advisories(p domain.Parameters, clean []domain.Bar, skipped int) []string {
	var out []string
	if skipped > 0 {
		out = append(out, fmt.Sprintf("%d days skipped due to missing data", skipped))
	}
	if !p.StartDate.IsZero() && clean[0].Date.After(p.StartDate) {
		out = append(out, fmt.Sprintf("requested start %s but data begins %s",
			formatDate(p.StartDate), formatDate(clean[0].Date)))
	}
	last := clean[len(clean)-1].Date
	if !p.EndDate.IsZero() && last.Before(p.EndDate) {
		out = append(out, fmt.Sprintf("requested end %s but data ends %s",
			formatDate(p.EndDate), formatDate(last)))
	}
	return out
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format("2006-01-02")
}
