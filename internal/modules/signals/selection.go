package signals

import (
	"github.com/aristath/dcabacktest/internal/domain"
)

// EligibleLots returns, in chronological order, the lots whose profit at price
// meets the (possibly incremented) profit requirement
func EligibleLots(lots []domain.Lot, price float64, spacing Spacing, consecutiveSells int) []domain.Lot {
	requirement := spacing.Adjusted(consecutiveSells)
	eligible := make([]domain.Lot, 0, len(lots))
	for _, lot := range lots {
		if LotProfitPercent(lot, price)+priceEpsilon >= requirement {
			eligible = append(eligible, lot)
		}
	}
	return eligible
}

// SelectLotsToSell picks the lot to liquidate from the eligible subset.
// Eligible lots must be in chronological order. The result holds exactly one
// lot, or none when nothing is eligible.
func SelectLotsToSell(eligible []domain.Lot, strategy domain.LotSelection, price float64) []domain.Lot {
	if len(eligible) == 0 {
		return nil
	}

	switch strategy {
	case domain.LotSelectionFIFO:
		return []domain.Lot{eligible[0]}

	case domain.LotSelectionHighestProfit:
		best := 0
		bestProfit := LotProfitPercent(eligible[0], price)
		for i := 1; i < len(eligible); i++ {
			// Strictly greater keeps the chronologically first lot on ties
			if profit := LotProfitPercent(eligible[i], price); profit > bestProfit {
				best = i
				bestProfit = profit
			}
		}
		return []domain.Lot{eligible[best]}

	default:
		return []domain.Lot{eligible[len(eligible)-1]}
	}
}

// LotsAboveFloor returns the lots whose sale at price would clear
// entry*(1+margin), the hard profit floor used by the trailing stop
func LotsAboveFloor(lots []domain.Lot, price, margin float64) []domain.Lot {
	out := make([]domain.Lot, 0, len(lots))
	for _, lot := range lots {
		if price+priceEpsilon >= lot.EntryPrice*(1+margin) {
			out = append(out, lot)
		}
	}
	return out
}
