package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/market_regime"
	"github.com/aristath/dcabacktest/internal/modules/signals"
	"github.com/aristath/dcabacktest/pkg/formulas"
	"github.com/rs/zerolog"
)

// DefaultVolatilityPeriod is the ATR period used by the dynamic grid
const DefaultVolatilityPeriod = 14

// quantityTolerance absorbs float noise when reconciling lot quantities
const quantityTolerance = 1e-6

// Instrument drives one Position through the per-bar phases. The standalone
// simulator and the portfolio allocator both step instruments through it, so
// the signal and transition logic exists once.
//
// Per bar the caller runs Sell, then (unless it wants to intercept capital)
// BuySignal and Buy, then EndBar.
type Instrument struct {
	symbol   string
	params   domain.Parameters
	pos      domain.Position
	switcher *market_regime.Switcher
	vol      map[int64]float64
	closes   []float64
	heldQty  float64
	soldOn   time.Time
	dayIndex int
	log      zerolog.Logger

	transactions   []domain.Transaction
	trailingEvents []signals.TrailingEvent
	regimeChanges  []market_regime.RegimeChange
}

// InstrumentOption customizes an Instrument
type InstrumentOption func(*Instrument)

// WithSwitcher enables adaptive parameter switching for the instrument
func WithSwitcher(s *market_regime.Switcher) InstrumentOption {
	return func(in *Instrument) { in.switcher = s }
}

// WithVolatility precomputes ATR%-volatility for the instrument's bars
func WithVolatility(bars []domain.Bar, period int) InstrumentOption {
	return func(in *Instrument) {
		in.vol = volatilityByDate(bars, period)
	}
}

// NewInstrument creates an idle instrument with fully resolved parameters
func NewInstrument(symbol string, params domain.Parameters, log zerolog.Logger, opts ...InstrumentOption) *Instrument {
	in := &Instrument{
		symbol: symbol,
		params: params,
		pos:    domain.NewPosition(symbol),
		log:    log.With().Str("symbol", symbol).Logger(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Symbol returns the instrument symbol
func (in *Instrument) Symbol() string { return in.symbol }

// Position returns a copy of the current position
func (in *Instrument) Position() domain.Position { return in.pos.Clone() }

// Parameters returns the parameters currently in force
func (in *Instrument) Parameters() domain.Parameters { return in.params }

// Transactions returns the instrument's transaction log
func (in *Instrument) Transactions() []domain.Transaction { return in.transactions }

// TrailingEvents returns every trailing watch arm/cancel seen so far
func (in *Instrument) TrailingEvents() []signals.TrailingEvent { return in.trailingEvents }

// RegimeChanges returns the confirmed regime switches
func (in *Instrument) RegimeChanges() []market_regime.RegimeChange { return in.regimeChanges }

// Tick builds the evaluation input for a bar
func (in *Instrument) Tick(bar domain.Bar) signals.Tick {
	return signals.Tick{
		Date:       bar.Date,
		DayIndex:   in.dayIndex,
		Price:      bar.Close,
		Volatility: in.vol[bar.Date.Unix()],
	}
}

// Sell runs the exit phase (stop-loss or trailing stop) and, when no exit
// fired, up to MaxSellsPerBar ordinary sells. It returns the executed sells.
func (in *Instrument) Sell(tick signals.Tick) ([]domain.Transaction, error) {
	return in.sell(tick, true)
}

// ExitOnly runs the exit phase without profit-requirement sells
func (in *Instrument) ExitOnly(tick signals.Tick) ([]domain.Transaction, error) {
	return in.sell(tick, false)
}

// ProfitSellPending reports whether an ordinary sell would fire at tick
func (in *Instrument) ProfitSellPending(tick signals.Tick) bool {
	return signals.EvaluateSell(in.pos, in.params, tick).Fired()
}

func (in *Instrument) sell(tick signals.Tick, profits bool) ([]domain.Transaction, error) {
	var executed []domain.Transaction

	if sig := signals.EvaluateExit(in.pos, in.params, tick); sig.Fired() {
		tx, err := in.executeSell(tick, sig)
		if err != nil {
			return nil, err
		}
		return append(executed, tx), nil
	}
	if !profits {
		return nil, nil
	}

	for i := 0; i < in.params.MaxSellsPerBar; i++ {
		sig := signals.EvaluateSell(in.pos, in.params, tick)
		if sig.Blocked != signals.BlockedNone {
			if i == 0 {
				in.pos = signals.RecordBlocked(in.pos, domain.SideSell)
			}
			break
		}
		if !sig.Fired() {
			break
		}
		tx, err := in.executeSell(tick, sig)
		if err != nil {
			return nil, err
		}
		executed = append(executed, tx)
	}
	return executed, nil
}

// BuySignal evaluates the buy side. A bar that already produced a sell never
// buys. Signals blocked by the momentum P/L gate are counted.
func (in *Instrument) BuySignal(tick signals.Tick) signals.Signal {
	if !in.soldOn.IsZero() && in.soldOn.Equal(tick.Date) {
		return signals.Signal{Kind: signals.NoAction, Reason: "sold this bar"}
	}
	sig := signals.EvaluateBuy(in.pos, in.params, tick)
	if sig.Blocked != signals.BlockedNone {
		in.pos = signals.RecordBlocked(in.pos, domain.SideBuy)
	}
	return sig
}

// Buy executes a buy of capital worth at the tick price
func (in *Instrument) Buy(tick signals.Tick, capital float64) (domain.Transaction, error) {
	tx := signals.BuildBuy(in.pos, tick, capital)
	next, err := signals.ApplyBuy(in.pos, tx)
	if err != nil {
		return tx, err
	}
	in.commit(next, tx)

	in.log.Debug().
		Time("date", tick.Date).
		Float64("price", tx.Price).
		Float64("quantity", tx.Quantity).
		Int("lots", tx.LotsAfter).
		Msg("Buy executed")
	return tx, nil
}

// EndBar advances the trailing trackers, checks the position invariants and
// feeds the regime switcher. It must run once per bar the instrument traded.
func (in *Instrument) EndBar(tick signals.Tick) error {
	next, events := signals.UpdateTrailingTrackers(in.pos, in.params, tick)
	in.pos = next
	in.trailingEvents = append(in.trailingEvents, events...)
	for _, ev := range events {
		in.log.Debug().
			Str("mechanism", string(ev.Mechanism)).
			Str("event", string(ev.Type)).
			Float64("price", ev.Price).
			Float64("stop", ev.StopPrice).
			Msg("Trailing watch update")
	}

	if err := in.checkInvariants(); err != nil {
		return err
	}

	in.observeRegime(tick)
	in.dayIndex++
	return nil
}

func (in *Instrument) executeSell(tick signals.Tick, sig signals.Signal) (domain.Transaction, error) {
	tx := signals.BuildSell(in.pos, tick, sig.Lots, sig.TransactionKind())
	next, err := signals.ApplySell(in.pos, tx, tx.LotIDs)
	if err != nil {
		return tx, err
	}
	in.commit(next, tx)
	in.soldOn = tick.Date

	in.log.Debug().
		Time("date", tick.Date).
		Str("kind", string(tx.Kind)).
		Float64("price", tx.Price).
		Float64("pnl", tx.RealizedPNL).
		Int("lots", tx.LotsAfter).
		Msg("Sell executed")
	return tx, nil
}

func (in *Instrument) commit(next domain.Position, tx domain.Transaction) {
	in.pos = next
	in.transactions = append(in.transactions, tx)
	if tx.Type == domain.SideBuy {
		in.heldQty += tx.Quantity
	} else {
		in.heldQty -= tx.Quantity
	}
}

// checkInvariants verifies every lot quantity is positive and that the
// running transaction total reconciles with the lot set
func (in *Instrument) checkInvariants() error {
	seen := make(map[int64]bool, len(in.pos.Lots))
	for _, lot := range in.pos.Lots {
		if !(lot.Quantity > 0) || math.IsInf(lot.Quantity, 0) {
			return domain.NewInvariantError("end_bar", "%s lot %d has quantity %.8f", in.symbol, lot.ID, lot.Quantity)
		}
		if seen[lot.ID] {
			return domain.NewInvariantError("end_bar", "%s lot %d held twice", in.symbol, lot.ID)
		}
		seen[lot.ID] = true
	}

	held := in.pos.Quantity()
	if math.Abs(held-in.heldQty) > quantityTolerance*math.Max(1, held) {
		return domain.NewInvariantError("end_bar", "%s lots hold %.8f units but transactions reconcile to %.8f",
			in.symbol, held, in.heldQty)
	}
	return nil
}

func (in *Instrument) observeRegime(tick signals.Tick) {
	if in.switcher == nil {
		return
	}
	in.closes = append(in.closes, tick.Price)
	window := in.switcher.Window()
	if len(in.closes) < window {
		return
	}
	if len(in.closes) > window {
		in.closes = in.closes[len(in.closes)-window:]
	}

	change, switched := in.switcher.Observe(tick.Date, tick.DayIndex, in.closes)
	if !switched {
		return
	}
	in.regimeChanges = append(in.regimeChanges, *change)
	in.params = in.switcher.Parameters()
}

// PrepareBars orders bars by date, keeps those inside [start, end] (zero
// bounds are open) and drops bars without a usable close or with a repeated
// date. It returns the usable bars and the number skipped.
func PrepareBars(bars []domain.Bar, start, end time.Time) ([]domain.Bar, int) {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	clean := make([]domain.Bar, 0, len(sorted))
	skipped := 0
	for _, bar := range sorted {
		if !start.IsZero() && bar.Date.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Date.After(end) {
			continue
		}
		if !bar.Valid() {
			skipped++
			continue
		}
		if n := len(clean); n > 0 && !clean[n-1].Date.Before(bar.Date) {
			skipped++
			continue
		}
		clean = append(clean, bar)
	}
	return clean, skipped
}

// volatilityByDate returns ATR/close keyed by bar date. Bars without a usable
// high/low fall back to their close.
func volatilityByDate(bars []domain.Bar, period int) map[int64]float64 {
	if period <= 0 {
		period = DefaultVolatilityPeriod
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
		if !(highs[i] > 0) || highs[i] < bar.Close {
			highs[i] = bar.Close
		}
		if !(lows[i] > 0) || lows[i] > bar.Close {
			lows[i] = bar.Close
		}
	}

	atr := formulas.ATRPercent(highs, lows, closes, period)
	out := make(map[int64]float64, len(bars))
	for i, bar := range bars {
		out[bar.Date.Unix()] = atr[i]
	}
	return out
}
