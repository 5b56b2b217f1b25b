package signals

import (
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
)

// TrailingMechanism names the trailing watch an event refers to
type TrailingMechanism string

const (
	MechanismTrailingBuy  TrailingMechanism = "TRAILING_BUY"
	MechanismTrailingSell TrailingMechanism = "TRAILING_SELL"
	MechanismTrailingStop TrailingMechanism = "TRAILING_STOP"
)

// TrailingEventType is what happened to a trailing watch
type TrailingEventType string

const (
	EventArmed     TrailingEventType = "ARMED"
	EventCancelled TrailingEventType = "CANCELLED"
)

// TrailingEvent is reported by UpdateTrailingTrackers for logging and results
type TrailingEvent struct {
	Date      time.Time         `json:"date"`
	Symbol    string            `json:"symbol"`
	Mechanism TrailingMechanism `json:"mechanism"`
	Type      TrailingEventType `json:"type"`
	Price     float64           `json:"price"`
	StopPrice float64           `json:"stop_price"`
}

// BuildBuy prepares the transaction for buying capital worth at the tick price.
// The new lot takes the position's next lot id.
func BuildBuy(pos domain.Position, tick Tick, capital float64) domain.Transaction {
	qty := 0.0
	if tick.Price > 0 {
		qty = capital / tick.Price
	}
	return domain.Transaction{
		Date:      tick.Date,
		Symbol:    pos.Symbol,
		Type:      domain.SideBuy,
		Kind:      domain.KindBuy,
		LotIDs:    []int64{pos.NextLotID},
		Price:     tick.Price,
		Quantity:  qty,
		CostBasis: capital,
		CashDelta: -capital,
		LotsAfter: len(pos.Lots) + 1,
	}
}

// BuildSell prepares the transaction liquidating whole lots at the tick price
func BuildSell(pos domain.Position, tick Tick, lots []domain.Lot, kind domain.TransactionKind) domain.Transaction {
	ids := make([]int64, len(lots))
	qty, cost := 0.0, 0.0
	for i, lot := range lots {
		ids[i] = lot.ID
		qty += lot.Quantity
		cost += lot.CostBasis()
	}
	proceeds := qty * tick.Price
	return domain.Transaction{
		Date:        tick.Date,
		Symbol:      pos.Symbol,
		Type:        domain.SideSell,
		Kind:        kind,
		LotIDs:      ids,
		Price:       tick.Price,
		Quantity:    qty,
		CostBasis:   cost,
		RealizedPNL: proceeds - cost,
		CashDelta:   proceeds,
		LotsAfter:   len(pos.Lots) - len(lots),
	}
}

// ApplyBuy returns a new position with the bought lot appended. Streak and
// tracker state restart from the fill price and pending trailing watches end.
func ApplyBuy(pos domain.Position, tx domain.Transaction) (domain.Position, error) {
	if tx.Type != domain.SideBuy {
		return pos, domain.NewInvariantError("apply_buy", "transaction type %s", tx.Type)
	}
	if !(tx.Quantity > 0) || !(tx.Price > 0) {
		return pos, domain.NewInvariantError("apply_buy", "non-positive quantity %.8f or price %.8f", tx.Quantity, tx.Price)
	}
	if len(tx.LotIDs) != 1 || tx.LotIDs[0] != pos.NextLotID {
		return pos, domain.NewInvariantError("apply_buy", "lot ids %v do not match next lot id %d", tx.LotIDs, pos.NextLotID)
	}

	next := pos.Clone()
	next.Lots = append(next.Lots, domain.Lot{
		ID:                  pos.NextLotID,
		Symbol:              pos.Symbol,
		EntryPrice:          tx.Price,
		Quantity:            tx.Quantity,
		EntryDate:           tx.Date,
		PeakPriceSinceEntry: tx.Price,
	})
	next.NextLotID++
	next.ConsecutiveBuys++
	next.ConsecutiveSells = 0
	next.LastBuyPrice = tx.Price
	resetAfterTransaction(&next, tx.Price)
	return next, nil
}

// ApplySell returns a new position with the given whole lots removed
func ApplySell(pos domain.Position, tx domain.Transaction, lotIDs []int64) (domain.Position, error) {
	if tx.Type != domain.SideSell {
		return pos, domain.NewInvariantError("apply_sell", "transaction type %s", tx.Type)
	}
	if len(lotIDs) == 0 {
		return pos, domain.NewInvariantError("apply_sell", "no lots to remove")
	}
	if len(lotIDs) > len(pos.Lots) {
		return pos, domain.NewInvariantError("apply_sell", "selling %d lots but only %d held", len(lotIDs), len(pos.Lots))
	}

	remove := make(map[int64]bool, len(lotIDs))
	for _, id := range lotIDs {
		if remove[id] {
			return pos, domain.NewInvariantError("apply_sell", "lot %d listed twice", id)
		}
		remove[id] = true
	}

	next := pos.Clone()
	kept := make([]domain.Lot, 0, len(pos.Lots))
	for _, lot := range pos.Lots {
		if remove[lot.ID] {
			delete(remove, lot.ID)
			continue
		}
		kept = append(kept, lot)
	}
	if len(remove) > 0 {
		return pos, domain.NewInvariantError("apply_sell", "unknown lot ids in %v", lotIDs)
	}

	next.Lots = kept
	next.ConsecutiveSells++
	next.ConsecutiveBuys = 0
	next.LastSellPrice = tx.Price
	next.RealizedPNL += tx.RealizedPNL
	resetAfterTransaction(&next, tx.Price)
	return next, nil
}

func resetAfterTransaction(pos *domain.Position, price float64) {
	pos.RecentPeakPrice = price
	pos.RecentBottomPrice = price
	pos.ActiveTrailing = nil
	pos.TrailingStop = nil
}

// RecordBlocked counts a signal suppressed by the momentum P/L gate
func RecordBlocked(pos domain.Position, side domain.Side) domain.Position {
	if side == domain.SideBuy {
		pos.BuysBlockedByPNL++
	} else {
		pos.SellsBlockedByPNL++
	}
	return pos
}

// UpdateTrailingTrackers advances the per-bar trackers and trailing watches.
//
// Peak and bottom follow price. An armed trailing buy's stop only moves down
// and an armed trailing sell's or trailing stop's only moves up. A trailing buy
// is cancelled below its floor (or once price recovers past its limit); a
// trailing sell is cancelled below its minimum-profit floor.
func UpdateTrailingTrackers(pos domain.Position, p domain.Parameters, tick Tick) (domain.Position, []TrailingEvent) {
	next := pos.Clone()
	price := tick.Price
	var events []TrailingEvent

	event := func(m TrailingMechanism, t TrailingEventType, stop float64) {
		events = append(events, TrailingEvent{
			Date:      tick.Date,
			Symbol:    pos.Symbol,
			Mechanism: m,
			Type:      t,
			Price:     price,
			StopPrice: stop,
		})
	}

	if next.RecentPeakPrice == 0 || price > next.RecentPeakPrice {
		next.RecentPeakPrice = price
	}
	if next.RecentBottomPrice == 0 || price < next.RecentBottomPrice {
		next.RecentBottomPrice = price
	}
	for i := range next.Lots {
		if price > next.Lots[i].PeakPriceSinceEntry {
			next.Lots[i].PeakPriceSinceEntry = price
		}
	}

	cancelled := false
	if order := next.ActiveTrailing; order != nil {
		switch order.Side {
		case domain.SideBuy:
			if !TrailingBuyActive(p) ||
				(order.FloorPrice > 0 && price < order.FloorPrice) ||
				(order.LimitPrice > 0 && price > order.LimitPrice) {
				event(MechanismTrailingBuy, EventCancelled, order.StopPrice)
				next.ActiveTrailing = nil
				cancelled = true
			} else if price < order.Extreme {
				order.Extreme = price
				if stop := price * (1 + p.TrailingBuyReboundPercent); stop < order.StopPrice {
					order.StopPrice = stop
				}
			}

		case domain.SideSell:
			if !p.EnableTrailingSell || len(next.Lots) == 0 || price < order.FloorPrice {
				event(MechanismTrailingSell, EventCancelled, order.StopPrice)
				next.ActiveTrailing = nil
				cancelled = true
				if p.ResetSellStreakOnTrailingCancel {
					next.ConsecutiveSells = 0
				}
			} else if price > order.Extreme {
				order.Extreme = price
				if stop := price * (1 - p.TrailingSellPullbackPercent); stop > order.StopPrice {
					order.StopPrice = stop
				}
			}
		}
	}

	if next.ActiveTrailing == nil && !cancelled {
		if order := armTrailingBuy(next, p, tick); order != nil {
			next.ActiveTrailing = order
			event(MechanismTrailingBuy, EventArmed, order.StopPrice)
		} else if order := armTrailingSell(next, p, tick); order != nil {
			next.ActiveTrailing = order
			event(MechanismTrailingSell, EventArmed, order.StopPrice)
		}
	}

	switch {
	case !p.EnableTrailingStop || len(next.Lots) == 0:
		next.TrailingStop = nil
	case next.TrailingStop != nil:
		if price > next.TrailingStop.Peak {
			next.TrailingStop.Peak = price
			if stop := price * (1 - p.TrailingStopPullbackPercent); stop > next.TrailingStop.StopPrice {
				next.TrailingStop.StopPrice = stop
			}
		}
	case next.RecentBottomPrice > 0 && price+priceEpsilon >= next.RecentBottomPrice*(1+p.TrailingStopActivationPercent):
		next.TrailingStop = &domain.TrailingStop{
			ActivatedAt: tick.Date,
			Peak:        price,
			StopPrice:   price * (1 - p.TrailingStopPullbackPercent),
		}
		event(MechanismTrailingStop, EventArmed, next.TrailingStop.StopPrice)
	}

	return next, events
}

func armTrailingBuy(pos domain.Position, p domain.Parameters, tick Tick) *domain.TrailingOrder {
	if !TrailingBuyActive(p) || !BuyCapacityAvailable(pos, p) || pos.RecentPeakPrice <= 0 {
		return nil
	}
	if tick.Price > pos.RecentPeakPrice*(1-p.TrailingBuyActivationPercent)+priceEpsilon {
		return nil
	}
	if _, ok := BuyGridGate(pos, p, tick); !ok {
		return nil
	}

	order := &domain.TrailingOrder{
		ArmedAt:        tick.Date,
		Side:           domain.SideBuy,
		ReferencePrice: tick.Price,
		Extreme:        tick.Price,
		StopPrice:      tick.Price * (1 + p.TrailingBuyReboundPercent),
		LimitPrice:     pos.RecentPeakPrice,
	}
	if p.TrailingBuyCancelPercent > 0 {
		order.FloorPrice = tick.Price * (1 - p.TrailingBuyCancelPercent)
	}
	return order
}

func armTrailingSell(pos domain.Position, p domain.Parameters, tick Tick) *domain.TrailingOrder {
	if !p.EnableTrailingSell || len(pos.Lots) == 0 || pos.RecentBottomPrice <= 0 {
		return nil
	}
	if tick.Price+priceEpsilon < pos.RecentBottomPrice*(1+p.TrailingSellActivationPercent) {
		return nil
	}

	spacing := SellSpacing(p)
	floor := 0.0
	for i, lot := range pos.Lots {
		level := SellGridLevel(lot.EntryPrice, spacing, pos.ConsecutiveSells)
		if i == 0 || level < floor {
			floor = level
		}
	}
	if tick.Price+priceEpsilon < floor {
		return nil
	}

	return &domain.TrailingOrder{
		ArmedAt:        tick.Date,
		Side:           domain.SideSell,
		ReferencePrice: pos.RecentBottomPrice,
		Extreme:        tick.Price,
		StopPrice:      tick.Price * (1 - p.TrailingSellPullbackPercent),
		FloorPrice:     floor,
	}
}
