// Package portfolio runs several DCA instruments against one shared capital pool.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/market_regime"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/metrics"
	"github.com/aristath/dcabacktest/internal/modules/signals"
	"github.com/aristath/dcabacktest/pkg/formulas"
	"github.com/rs/zerolog"
)

// StockResult is the per-instrument slice of a portfolio run. TotalPNL is
// realized plus unrealized P&L at FinalPrice; ContributionPercent is TotalPNL as
// a fraction of the portfolio's total return (0 when the portfolio broke even).
type StockResult struct {
	Symbol              string                       `json:"symbol"`
	Parameters          domain.Parameters            `json:"parameters"`
	Beta                float64                      `json:"beta"`
	Window              backtest.Window              `json:"window"`
	FinalPosition       domain.Position              `json:"final_position"`
	FinalPrice          float64                      `json:"final_price"`
	SkippedBars         int                          `json:"skipped_bars"`
	RejectedOrders      int                          `json:"rejected_orders"`
	DeferredSells       int                          `json:"deferred_sells"`
	RegimeChanges       []market_regime.RegimeChange `json:"regime_changes,omitempty"`
	TotalPNL            float64                      `json:"total_pnl"`
	ContributionPercent float64                      `json:"contribution_percent"`
	Summary             metrics.Summary              `json:"summary"`
}

// Result is the complete output of a portfolio run
type Result struct {
	Name           string                 `json:"name,omitempty"`
	TotalCapital   float64                `json:"total_capital"`
	Window         backtest.Window        `json:"window"`
	Transactions   []domain.Transaction   `json:"transactions"`
	RejectedOrders []domain.RejectedOrder `json:"rejected_orders"`
	Snapshots      []domain.DailySnapshot `json:"snapshots"`
	Stocks         []StockResult          `json:"stocks"`
	Ledger         CapitalLedger          `json:"ledger"`
	DeferredSells  int                    `json:"deferred_sells"`
	Advisories     []string               `json:"advisories,omitempty"`
	Summary        metrics.Summary        `json:"summary"`
}

// Allocator orchestrates independent positions sharing one CapitalLedger.
// Each calendar day it executes every sell first, then buys in lexicographic
// symbol order while cash lasts, then advances trackers.
type Allocator struct {
	betas            domain.BetaProvider
	riskFreeRate     float64
	volatilityPeriod int
	log              zerolog.Logger
}

// AllocatorOption customizes an Allocator
type AllocatorOption func(*Allocator)

// WithRiskFreeRate sets the annual risk-free rate used by Sharpe and Sortino
func WithRiskFreeRate(rate float64) AllocatorOption {
	return func(a *Allocator) { a.riskFreeRate = rate }
}

// WithVolatilityPeriod sets the ATR period of the dynamic grid
func WithVolatilityPeriod(period int) AllocatorOption {
	return func(a *Allocator) {
		if period > 1 {
			a.volatilityPeriod = period
		}
	}
}

// NewAllocator creates an allocator. betas may be nil when beta scaling is
// never enabled.
func NewAllocator(betas domain.BetaProvider, log zerolog.Logger, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		betas:            betas,
		volatilityPeriod: backtest.DefaultVolatilityPeriod,
		log:              log.With().Str("component", "portfolio_allocator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// stock is the allocator's working state for one instrument
type stock struct {
	inst      *backtest.Instrument
	params    domain.Parameters
	beta      float64
	bars      map[int64]domain.Bar
	window    backtest.Window
	skipped   int
	rejected  int
	deferred  int
	lastPrice float64
	snapshots []domain.DailySnapshot
}

// Run simulates the portfolio over bars keyed by symbol
func (a *Allocator) Run(ctx context.Context, cfg Config, bars map[string][]domain.Bar) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		Name:           cfg.Name,
		TotalCapital:   cfg.TotalCapital,
		Transactions:   []domain.Transaction{},
		RejectedOrders: []domain.RejectedOrder{},
	}

	stocks, symbols, err := a.prepare(ctx, cfg, bars, result)
	if err != nil {
		return nil, err
	}

	calendar := unionCalendar(stocks, symbols)
	ledger := NewCapitalLedger(cfg.TotalCapital)
	var prev time.Time

	for _, date := range calendar {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if cfg.CashYield.Enabled && !prev.IsZero() {
			days := date.Sub(prev).Hours() / 24
			ledger.Accrue(ledger.Cash * cfg.CashYield.AnnualRate * days / 365)
		}
		prev = date

		active := make([]string, 0, len(symbols))
		ticks := make(map[string]signals.Tick, len(symbols))
		for _, symbol := range symbols {
			st := stocks[symbol]
			bar, ok := st.bars[date.Unix()]
			if !ok {
				continue
			}
			st.lastPrice = bar.Close
			active = append(active, symbol)
			ticks[symbol] = st.inst.Tick(bar)
		}

		if err := a.sellPhase(cfg, ledger, stocks, active, ticks, result); err != nil {
			return nil, err
		}
		if err := a.buyPhase(cfg, ledger, stocks, active, ticks, result); err != nil {
			return nil, err
		}

		for _, symbol := range active {
			st := stocks[symbol]
			if err := st.inst.EndBar(ticks[symbol]); err != nil {
				a.log.Error().Err(err).Str("symbol", symbol).Time("date", date).Msg("Invariant check failed")
				return nil, err
			}
			bar := st.bars[date.Unix()]
			st.snapshots = append(st.snapshots, backtest.Snapshot(st.inst.Position(), bar, backtest.Budget(st.params)))
		}

		if err := a.reconcile(ledger, stocks, symbols); err != nil {
			a.log.Error().Err(err).Time("date", date).Msg("Ledger check failed")
			return nil, err
		}
		result.Snapshots = append(result.Snapshots, portfolioSnapshot(date, ledger, stocks, symbols))
	}

	a.finish(cfg, ledger, stocks, symbols, calendar, result)
	return result, nil
}

// prepare resolves per-stock parameters (with beta scaling) and cleans bars
func (a *Allocator) prepare(ctx context.Context, cfg Config, bars map[string][]domain.Bar, result *Result) (map[string]*stock, []string, error) {
	stocks := make(map[string]*stock, len(cfg.Stocks))
	symbols := make([]string, 0, len(cfg.Stocks))

	for _, sc := range cfg.Stocks {
		symbol := strings.TrimSpace(sc.Symbol)
		params := cfg.StockParameters(sc)
		if err := params.Validate(); err != nil {
			return nil, nil, fmt.Errorf("stock %s: %w", symbol, err)
		}

		beta := 1.0
		if cfg.BetaScaling.Enabled {
			b, err := a.beta(ctx, symbol)
			if err != nil {
				a.log.Warn().Err(err).Str("symbol", symbol).Msg("Beta unavailable, using 1.0")
				result.Advisories = append(result.Advisories, fmt.Sprintf("beta unavailable for %s, scaling skipped", symbol))
			} else if scaled, err := params.WithBetaScaling(b, cfg.BetaScaling.Coefficient); err != nil {
				// zero or negative betas cannot scale the grid
				a.log.Warn().Err(err).Str("symbol", symbol).Float64("beta", b).Msg("Beta unusable for scaling, using 1.0")
				result.Advisories = append(result.Advisories, fmt.Sprintf("beta %.3f for %s cannot scale the grid, scaling skipped", b, symbol))
			} else {
				params, beta = scaled, b
			}
		}

		clean, skipped := backtest.PrepareBars(bars[symbol], params.StartDate, params.EndDate)
		if len(clean) == 0 {
			result.Advisories = append(result.Advisories, fmt.Sprintf("no price data for %s, excluded", symbol))
			continue
		}
		if skipped > 0 {
			result.Advisories = append(result.Advisories, fmt.Sprintf("%s: %d days skipped due to missing data", symbol, skipped))
		}

		log := a.log.With().Str("symbol", symbol).Logger()
		var opts []backtest.InstrumentOption
		if params.EnableDynamicGrid {
			opts = append(opts, backtest.WithVolatility(clean, a.volatilityPeriod))
		}
		if params.EnableAdaptiveStrategy {
			opts = append(opts, backtest.WithSwitcher(market_regime.NewSwitcher(params, log)))
		}

		byDate := make(map[int64]domain.Bar, len(clean))
		for _, bar := range clean {
			byDate[bar.Date.Unix()] = bar
		}
		stocks[symbol] = &stock{
			inst:    backtest.NewInstrument(symbol, params, a.log, opts...),
			params:  params,
			beta:    beta,
			bars:    byDate,
			window:  backtest.Window{Start: clean[0].Date, End: clean[len(clean)-1].Date, Bars: len(clean)},
			skipped: skipped,
		}
		symbols = append(symbols, symbol)
	}

	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("portfolio %q: %w", cfg.Name, domain.ErrNoPriceData)
	}
	return stocks, sortedCopy(symbols), nil
}

func (a *Allocator) beta(ctx context.Context, symbol string) (float64, error) {
	if a.betas == nil {
		return 0, fmt.Errorf("no beta provider configured")
	}
	return a.betas.GetBeta(ctx, symbol)
}

// sellPhase executes every sell-type signal of the day, crediting the ledger
func (a *Allocator) sellPhase(cfg Config, ledger *CapitalLedger, stocks map[string]*stock, active []string, ticks map[string]signals.Tick, result *Result) error {
	deferring := cfg.DeferredSelling.Enabled && ledger.IdleRatio() >= cfg.DeferredSelling.IdleCashThreshold

	for _, symbol := range active {
		st := stocks[symbol]
		tick := ticks[symbol]

		var (
			txs []domain.Transaction
			err error
		)
		if deferring {
			if st.inst.ProfitSellPending(tick) {
				st.deferred++
				result.DeferredSells++
			}
			txs, err = st.inst.ExitOnly(tick)
		} else {
			txs, err = st.inst.Sell(tick)
		}
		if err != nil {
			a.log.Error().Err(err).Str("symbol", symbol).Time("date", tick.Date).Msg("Sell phase failed")
			return err
		}

		for _, tx := range txs {
			if err := ledger.Credit(symbol, tx.CostBasis, tx.CashDelta); err != nil {
				return err
			}
			result.Transactions = append(result.Transactions, tx)
		}
	}
	return nil
}

// buyPhase funds buy signals in symbol order, recording a RejectedOrder when
// the pool cannot cover one. A rejected buy leaves its position untouched.
func (a *Allocator) buyPhase(cfg Config, ledger *CapitalLedger, stocks map[string]*stock, active []string, ticks map[string]signals.Tick, result *Result) error {
	for _, symbol := range active {
		st := stocks[symbol]
		tick := ticks[symbol]

		sig := st.inst.BuySignal(tick)
		if sig.Kind != signals.Buy {
			continue
		}

		lot := st.inst.Parameters().LotSizeUSD
		capital := lot
		if cfg.AdaptiveLotSizing.Enabled && ledger.IdleRatio() > cfg.AdaptiveLotSizing.IdleCashThreshold {
			capital = lot * cfg.AdaptiveLotSizing.Multiplier
			if !ledger.CanAfford(capital) {
				capital = lot
			}
		}

		if !ledger.CanAfford(capital) {
			rejection := domain.RejectedOrder{
				Date:             tick.Date,
				Symbol:           symbol,
				CapitalHolders:   ledger.Holders(),
				DesiredPrice:     tick.Price,
				DesiredCapital:   capital,
				AvailableCapital: ledger.Cash,
				Shortfall:        capital - ledger.Cash,
			}
			result.RejectedOrders = append(result.RejectedOrders, rejection)
			st.rejected++
			a.log.Debug().
				Str("symbol", symbol).
				Time("date", tick.Date).
				Float64("desired", capital).
				Float64("available", ledger.Cash).
				Msg("Buy rejected, insufficient capital")
			continue
		}

		tx, err := st.inst.Buy(tick, capital)
		if err != nil {
			a.log.Error().Err(err).Str("symbol", symbol).Time("date", tick.Date).Msg("Buy phase failed")
			return err
		}
		if err := ledger.Debit(symbol, tx.CostBasis); err != nil {
			return err
		}
		result.Transactions = append(result.Transactions, tx)
	}
	return nil
}

// reconcile checks the ledger identity and that its per-symbol deployed
// capital matches every position's cost basis
func (a *Allocator) reconcile(ledger *CapitalLedger, stocks map[string]*stock, symbols []string) error {
	if err := ledger.Check(); err != nil {
		return err
	}
	for _, symbol := range symbols {
		cost := stocks[symbol].inst.Position().CostBasis()
		if math.Abs(cost-ledger.DeployedIn(symbol)) > ledgerTolerance*math.Max(1, cost) {
			return domain.NewInvariantError("ledger_reconcile", "%s positions cost %.2f but ledger holds %.2f",
				symbol, cost, ledger.DeployedIn(symbol))
		}
	}
	return nil
}

func (a *Allocator) finish(cfg Config, ledger *CapitalLedger, stocks map[string]*stock, symbols []string, calendar []time.Time, result *Result) {
	result.Ledger = *ledger
	result.Window = backtest.Window{Start: calendar[0], End: calendar[len(calendar)-1], Bars: len(calendar)}

	result.Summary = metrics.Compute(metrics.Input{
		Transactions:   result.Transactions,
		Snapshots:      result.Snapshots,
		InitialCapital: cfg.TotalCapital,
		RiskFreeRate:   a.riskFreeRate,
		RejectedOrders: len(result.RejectedOrders),
	})

	for _, symbol := range symbols {
		st := stocks[symbol]
		pos := st.inst.Position()
		pnl := pos.RealizedPNL + pos.MarketValue(st.lastPrice) - pos.CostBasis()
		contribution := formulas.SafeDiv(pnl, result.Summary.TotalReturn)
		result.Stocks = append(result.Stocks, StockResult{
			Symbol:              symbol,
			Parameters:          st.params,
			Beta:                st.beta,
			Window:              st.window,
			FinalPosition:       pos,
			FinalPrice:          st.lastPrice,
			SkippedBars:         st.skipped,
			RejectedOrders:      st.rejected,
			DeferredSells:       st.deferred,
			RegimeChanges:       st.inst.RegimeChanges(),
			TotalPNL:            pnl,
			ContributionPercent: contribution,
			Summary: metrics.Compute(metrics.Input{
				Transactions:   st.inst.Transactions(),
				Snapshots:      st.snapshots,
				InitialCapital: backtest.Budget(st.params),
				RiskFreeRate:   a.riskFreeRate,
				RejectedOrders: st.rejected,
			}),
		})
	}

	a.log.Info().
		Str("portfolio", cfg.Name).
		Int("stocks", len(symbols)).
		Int("days", len(calendar)).
		Int("transactions", len(result.Transactions)).
		Int("rejected", len(result.RejectedOrders)).
		Float64("final_value", result.Summary.FinalValue).
		Msg("Portfolio backtest completed")
}

// portfolioSnapshot values the pool at each stock's latest known close
func portfolioSnapshot(date time.Time, ledger *CapitalLedger, stocks map[string]*stock, symbols []string) domain.DailySnapshot {
	value, lots := 0.0, 0
	for _, symbol := range symbols {
		st := stocks[symbol]
		pos := st.inst.Position()
		value += pos.MarketValue(st.lastPrice)
		lots += len(pos.Lots)
	}

	pool := ledger.Cash + ledger.Deployed
	util := 0.0
	if pool > 0 {
		util = ledger.Deployed / pool
	}
	return domain.DailySnapshot{
		Date:          date,
		Cash:          ledger.Cash,
		Deployed:      ledger.Deployed,
		MarketValue:   value,
		Equity:        ledger.Cash + value,
		Utilization:   util,
		RealizedPNL:   ledger.RealizedPNL,
		UnrealizedPNL: value - ledger.Deployed,
		OpenLots:      lots,
	}
}

// unionCalendar returns every date on which at least one stock has a bar
func unionCalendar(stocks map[string]*stock, symbols []string) []time.Time {
	seen := make(map[int64]time.Time)
	for _, symbol := range symbols {
		for key, bar := range stocks[symbol].bars {
			seen[key] = bar.Date
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
