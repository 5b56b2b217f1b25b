package formulas

// Drawdown describes the largest peak-to-trough decline of a value series
type Drawdown struct {
	MaxDrawdown       float64 `json:"max_drawdown"`        // fraction of the peak, 0.25 = 25%
	MaxDrawdownAmount float64 `json:"max_drawdown_amount"` // currency
	PeakValue         float64 `json:"peak_value"`
	TroughValue       float64 `json:"trough_value"`
	PeakIndex         int     `json:"peak_index"`
	TroughIndex       int     `json:"trough_index"`
}

// CalculateMaxDrawdown scans a value series (e.g. daily equity) for the largest
// decline from a running peak. The percentage and currency figures are tracked
// independently; each reports its own maximum.
func CalculateMaxDrawdown(values []float64) Drawdown {
	if len(values) == 0 {
		return Drawdown{}
	}

	result := Drawdown{PeakValue: values[0], TroughValue: values[0]}
	peak := values[0]
	peakIndex := 0

	for i, value := range values {
		if value > peak {
			peak = value
			peakIndex = i
		}

		amount := peak - value
		if amount > result.MaxDrawdownAmount {
			result.MaxDrawdownAmount = amount
		}

		if peak > 0 {
			drawdown := amount / peak
			if drawdown > result.MaxDrawdown {
				result.MaxDrawdown = drawdown
				result.PeakValue = peak
				result.TroughValue = value
				result.PeakIndex = peakIndex
				result.TroughIndex = i
			}
		}
	}

	return result
}
