package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// ATRPercent returns the Average True Range of each bar divided by its close.
// Entries inside the warm-up window are 0.
func ATRPercent(highs, lows, closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if period < 2 || len(closes) <= period+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return out
	}

	atr := talib.Atr(highs, lows, closes, period)
	for i := range atr {
		if i < period || closes[i] <= 0 || isNaN(atr[i]) {
			continue
		}
		out[i] = atr[i] / closes[i]
	}
	return out
}

// CalculateSMA returns the latest simple moving average over length values,
// or nil when there is not enough data
func CalculateSMA(values []float64, length int) *float64 {
	if length <= 0 || len(values) < length {
		return nil
	}
	if length == 1 {
		last := values[len(values)-1]
		return &last
	}

	sma := talib.Sma(values, length)
	last := sma[len(sma)-1]
	if isNaN(last) {
		return nil
	}
	return &last
}

func isNaN(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
