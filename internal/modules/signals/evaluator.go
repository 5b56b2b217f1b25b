package signals

import (
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
)

// SignalKind tags the variant carried by a Signal
type SignalKind string

const (
	NoAction         SignalKind = "NO_ACTION"
	Buy              SignalKind = "BUY"
	Sell             SignalKind = "SELL"
	TrailingStopSell SignalKind = "TRAILING_STOP_SELL"
	StopLossSell     SignalKind = "STOP_LOSS_SELL"
)

// BlockReason explains why an otherwise valid signal was suppressed
type BlockReason string

const (
	BlockedNone  BlockReason = ""
	// BlockedByPNL - momentum mode P/L sign gate
	BlockedByPNL BlockReason = "PNL"
)

// Tick is the market input of one evaluation
type Tick struct {
	Date       time.Time
	DayIndex   int
	Price      float64
	Volatility float64 // ATR as a fraction of price, 0 when unknown
}

// Signal is the outcome of evaluating one side of the strategy for a bar
type Signal struct {
	Kind      SignalKind   `json:"kind"`
	Lots      []domain.Lot `json:"lots,omitempty"`
	GridLevel float64      `json:"grid_level,omitempty"`
	StopPrice float64      `json:"stop_price,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Blocked   BlockReason  `json:"blocked,omitempty"`
}

// Fired reports whether the signal asks for a transaction
func (s Signal) Fired() bool {
	return s.Kind != NoAction
}

// IsSell reports whether the signal liquidates lots
func (s Signal) IsSell() bool {
	return s.Kind == Sell || s.Kind == TrailingStopSell || s.Kind == StopLossSell
}

// TransactionKind maps the signal to the kind recorded on its transaction
func (s Signal) TransactionKind() domain.TransactionKind {
	switch s.Kind {
	case TrailingStopSell:
		return domain.KindTrailingStopSell
	case StopLossSell:
		return domain.KindStopLossSell
	case Sell:
		return domain.KindSell
	}
	return domain.KindBuy
}

func none(reason string) Signal {
	return Signal{Kind: NoAction, Reason: reason}
}

func blocked(reason string) Signal {
	return Signal{Kind: NoAction, Reason: reason, Blocked: BlockedByPNL}
}

// EvaluateExit checks the position-level exits: hard stop-loss first, then the
// trailing stop
func EvaluateExit(pos domain.Position, p domain.Parameters, tick Tick) Signal {
	if sig := EvaluateStopLoss(pos, p, tick); sig.Fired() {
		return sig
	}
	return EvaluateTrailingStop(pos, p, tick)
}

// EvaluateBuy decides whether a grid, first or trailing buy fires
func EvaluateBuy(pos domain.Position, p domain.Parameters, tick Tick) Signal {
	lots := len(pos.Lots)

	if !BuyCapacityAvailable(pos, p) {
		return none("max lots reached")
	}

	if p.MomentumBuy && lots > 0 && UnrealizedPNL(pos.Lots, tick.Price) <= 0 {
		return blocked("momentum buy requires positive unrealized P/L")
	}

	if TrailingBuyActive(p) {
		order := pos.ActiveTrailing
		if order == nil || order.Side != domain.SideBuy {
			return none("awaiting trailing buy activation")
		}
		if tick.Price+priceEpsilon < order.StopPrice {
			return none("awaiting rebound")
		}
		if order.LimitPrice > 0 && tick.Price > order.LimitPrice+priceEpsilon {
			return none("rebound above limit")
		}
		return Signal{Kind: Buy, GridLevel: order.ReferencePrice, StopPrice: order.StopPrice, Reason: "trailing buy rebound"}
	}

	if lots == 0 {
		return Signal{Kind: Buy, Reason: "initial entry"}
	}

	level, ok := BuyGridGate(pos, p, tick)
	if !ok {
		return Signal{Kind: NoAction, GridLevel: level, Reason: "grid level not reached"}
	}
	return Signal{Kind: Buy, GridLevel: level, Reason: "grid buy"}
}

// BuyCapacityAvailable applies the MaxLots cap. Momentum-buy mode waives it,
// subject only to the optional hard ceiling.
func BuyCapacityAvailable(pos domain.Position, p domain.Parameters) bool {
	lots := len(pos.Lots)
	if p.MomentumBuy {
		return p.MaxLotsHardCeiling <= 0 || lots < p.MaxLotsHardCeiling
	}
	return lots < p.MaxLots
}

// TrailingBuyActive reports whether buys go through the two-stage trailing
// confirmation. Momentum buys chase strength and bypass it.
func TrailingBuyActive(p domain.Parameters) bool {
	return p.EnableTrailingBuy && !p.MomentumBuy
}

// BuyGridGate returns the buy grid level and whether price has crossed it.
// With no lots the gate is always open.
func BuyGridGate(pos domain.Position, p domain.Parameters, tick Tick) (float64, bool) {
	if len(pos.Lots) == 0 {
		return 0, true
	}
	spacing := BuySpacing(p, EffectiveGridInterval(p, tick.Volatility))

	if p.MomentumBuy {
		level := MomentumBuyGridLevel(HighestEntry(pos.Lots), spacing, pos.ConsecutiveBuys)
		return level, tick.Price > level
	}
	level := BuyGridLevel(LowestEntry(pos.Lots), spacing, pos.ConsecutiveBuys)
	return level, tick.Price < level
}

// EvaluateSell decides whether a profit-requirement (or trailing) sell fires.
// One lot is selected per evaluation.
func EvaluateSell(pos domain.Position, p domain.Parameters, tick Tick) Signal {
	if len(pos.Lots) == 0 {
		return none("no lots")
	}

	if p.EnableTrailingSell {
		order := pos.ActiveTrailing
		if order == nil || order.Side != domain.SideSell {
			return none("awaiting trailing sell activation")
		}
		if tick.Price > order.StopPrice+priceEpsilon {
			return none("awaiting pullback")
		}
		if order.FloorPrice > 0 && tick.Price+priceEpsilon < order.FloorPrice {
			return none("below trailing sell floor")
		}
	}

	eligible := EligibleLots(pos.Lots, tick.Price, SellSpacing(p), pos.ConsecutiveSells)
	if len(eligible) == 0 {
		return none("no lot meets profit requirement")
	}

	if p.MomentumSell && UnrealizedPNL(pos.Lots, tick.Price) >= 0 {
		return blocked("momentum sell requires negative unrealized P/L")
	}

	selected := SelectLotsToSell(eligible, p.LotSelection, tick.Price)
	sig := Signal{Kind: Sell, Lots: selected, Reason: "profit requirement met"}
	if p.EnableTrailingSell {
		sig.StopPrice = pos.ActiveTrailing.StopPrice
		sig.Reason = "trailing sell pullback"
	}
	return sig
}

// EvaluateTrailingStop fires once price falls to the armed position stop. Only
// lots clearing entry*(1+MinProfitMargin) are sold.
func EvaluateTrailingStop(pos domain.Position, p domain.Parameters, tick Tick) Signal {
	if !p.EnableTrailingStop || pos.TrailingStop == nil || len(pos.Lots) == 0 {
		return none("trailing stop inactive")
	}
	stop := pos.TrailingStop.StopPrice
	if tick.Price > stop+priceEpsilon {
		return none("above trailing stop")
	}

	lots := LotsAboveFloor(pos.Lots, tick.Price, p.MinProfitMargin)
	if len(lots) == 0 {
		return Signal{Kind: NoAction, StopPrice: stop, Reason: "trailing stop below profit floor"}
	}
	return Signal{Kind: TrailingStopSell, Lots: lots, StopPrice: stop, Reason: "trailing stop hit"}
}

// EvaluateStopLoss liquidates every lot once price falls StopLossPercent below
// the average cost
func EvaluateStopLoss(pos domain.Position, p domain.Parameters, tick Tick) Signal {
	if p.StopLossPercent <= 0 || len(pos.Lots) == 0 {
		return none("stop-loss inactive")
	}
	stop := AverageCost(pos.Lots) * (1 - p.StopLossPercent)
	if tick.Price > stop {
		return none("above stop-loss")
	}

	lots := make([]domain.Lot, len(pos.Lots))
	copy(lots, pos.Lots)
	return Signal{Kind: StopLossSell, Lots: lots, StopPrice: stop, Reason: "stop-loss hit"}
}
