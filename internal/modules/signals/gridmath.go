// Package signals implements the shared DCA signal engine: grid and lot math,
// lot selection, signal evaluation and immutable state transitions. Both the
// single-instrument simulator and the portfolio allocator call these functions.
package signals

import (
	"math"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/pkg/formulas"
)

// priceEpsilon absorbs float noise when comparing a price with a threshold
const priceEpsilon = 1e-9

// Spacing is a grid step with the optional per-consecutive-trade widening
type Spacing struct {
	Percent     float64
	Incremental bool
	Increment   float64
}

// Adjusted returns Percent*(1+consecutive*Increment) when incremental, else Percent
func (s Spacing) Adjusted(consecutive int) float64 {
	if !s.Incremental || consecutive <= 0 {
		return s.Percent
	}
	return s.Percent * (1 + float64(consecutive)*s.Increment)
}

// BuySpacing builds the buy-side spacing for an effective grid interval
func BuySpacing(p domain.Parameters, interval float64) Spacing {
	return Spacing{
		Percent:     interval,
		Incremental: p.EnableConsecutiveIncrementalBuyGrid,
		Increment:   p.GridConsecutiveIncrement,
	}
}

// SellSpacing builds the sell-side spacing from the profit requirement
func SellSpacing(p domain.Parameters) Spacing {
	return Spacing{
		Percent:     p.ProfitRequirement,
		Incremental: p.EnableConsecutiveIncrementalSellProfit,
		Increment:   p.ProfitConsecutiveIncrement,
	}
}

// AverageCost is the quantity-weighted entry price of the lots, 0 when empty
func AverageCost(lots []domain.Lot) float64 {
	qty := TotalQuantity(lots)
	if qty <= 0 {
		return 0
	}
	cost := 0.0
	for _, lot := range lots {
		cost += lot.CostBasis()
	}
	return cost / qty
}

// TotalQuantity sums lot quantities
func TotalQuantity(lots []domain.Lot) float64 {
	total := 0.0
	for _, lot := range lots {
		total += lot.Quantity
	}
	return total
}

// LowestEntry returns the lowest entry price among lots, 0 when empty
func LowestEntry(lots []domain.Lot) float64 {
	lowest := 0.0
	for i, lot := range lots {
		if i == 0 || lot.EntryPrice < lowest {
			lowest = lot.EntryPrice
		}
	}
	return lowest
}

// HighestEntry returns the highest entry price among lots, 0 when empty
func HighestEntry(lots []domain.Lot) float64 {
	highest := 0.0
	for _, lot := range lots {
		if lot.EntryPrice > highest {
			highest = lot.EntryPrice
		}
	}
	return highest
}

// BuyGridLevel is the price the market must fall below for the next
// contrarian buy: referencePrice*(1-adjusted). A zero reference (no lots)
// returns 0, meaning any price qualifies.
func BuyGridLevel(referencePrice float64, spacing Spacing, consecutiveBuys int) float64 {
	if referencePrice <= 0 {
		return 0
	}
	return math.Max(0, referencePrice*(1-spacing.Adjusted(consecutiveBuys)))
}

// MomentumBuyGridLevel is the price the market must rise above for the next
// momentum buy: referencePrice*(1+adjusted)
func MomentumBuyGridLevel(referencePrice float64, spacing Spacing, consecutiveBuys int) float64 {
	if referencePrice <= 0 {
		return 0
	}
	return referencePrice * (1 + spacing.Adjusted(consecutiveBuys))
}

// SellGridLevel is the minimum acceptable sell price for a lot
func SellGridLevel(entryPrice float64, spacing Spacing, consecutiveSells int) float64 {
	return entryPrice * (1 + spacing.Adjusted(consecutiveSells))
}

// LotProfitPercent returns (price-entry)/entry as a fraction
func LotProfitPercent(lot domain.Lot, price float64) float64 {
	if lot.EntryPrice <= 0 {
		return 0
	}
	return (price - lot.EntryPrice) / lot.EntryPrice
}

// UnrealizedPNL is the mark-to-market gain of all lots at price
func UnrealizedPNL(lots []domain.Lot, price float64) float64 {
	pnl := 0.0
	for _, lot := range lots {
		pnl += lot.MarketValue(price) - lot.CostBasis()
	}
	return pnl
}

// EffectiveGridInterval returns the grid interval in force for a bar. With the
// dynamic grid on and a positive volatility reading, the interval follows
// volatility*DynamicGridMultiplier within [0.5, 2]×GridIntervalPercent.
func EffectiveGridInterval(p domain.Parameters, volatility float64) float64 {
	base := p.GridIntervalPercent
	if !p.EnableDynamicGrid || !(volatility > 0) {
		return base
	}
	multiplier := p.DynamicGridMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	interval := formulas.Clamp(volatility*multiplier, 0.5*base, 2*base)
	return math.Min(interval, 0.95)
}
