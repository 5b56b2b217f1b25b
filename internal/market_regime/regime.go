// Package market_regime classifies recent price action into a small closed set
// of regimes and swaps strategy parameters when the regime changes.
package market_regime

import (
	"github.com/aristath/dcabacktest/pkg/formulas"
)

// Regime is one of the market regimes the adaptive strategy reacts to
type Regime string

const (
	// RegimeAccumulation - sideways or mildly falling, the base DCA regime
	RegimeAccumulation Regime = "ACCUMULATION"
	// RegimeOscillatingUptrend - rising above its moving average
	RegimeOscillatingUptrend Regime = "OSCILLATING_UPTREND"
	// RegimeDowntrend - sustained or volatile decline
	RegimeDowntrend Regime = "DOWNTREND"
	// RegimeFastRally - sharp rise over the window
	RegimeFastRally Regime = "FAST_RALLY"
)

// AllRegimes lists every regime in a stable order
var AllRegimes = []Regime{RegimeAccumulation, RegimeOscillatingUptrend, RegimeDowntrend, RegimeFastRally}

// Thresholds configures the classifier
type Thresholds struct {
	Window          int     // closes per classification
	SMAPeriod       int     // moving average period
	FastRallyReturn float64 // window return at or above which the regime is a fast rally
	DowntrendReturn float64 // window return at or below which the regime is a downtrend
	UptrendReturn   float64 // minimum window return for an uptrend
	HighVolatility  float64 // daily return stddev that turns a losing window into a downtrend
}

// DefaultThresholds returns the classifier defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		Window:          20,
		SMAPeriod:       10,
		FastRallyReturn: 0.15,
		DowntrendReturn: -0.10,
		UptrendReturn:   0.02,
		HighVolatility:  0.03,
	}
}

// Reading is the classifier output with the measurements behind it
type Reading struct {
	Regime       Regime  `json:"regime"`
	WindowReturn float64 `json:"window_return"`
	Volatility   float64 `json:"volatility"`
	AboveSMA     bool    `json:"above_sma"`
}

// Classify labels a window of closes, oldest first. Windows shorter than the
// SMA period (or two closes) classify as accumulation.
func Classify(closes []float64, th Thresholds) Reading {
	if len(closes) < 2 || len(closes) < th.SMAPeriod || closes[0] <= 0 {
		return Reading{Regime: RegimeAccumulation}
	}

	last := closes[len(closes)-1]
	r := Reading{
		WindowReturn: last/closes[0] - 1,
		Volatility:   formulas.StdDev(formulas.CalculateReturns(closes)),
	}
	if sma := formulas.CalculateSMA(closes, th.SMAPeriod); sma != nil {
		r.AboveSMA = last > *sma
	}

	switch {
	case r.WindowReturn >= th.FastRallyReturn:
		r.Regime = RegimeFastRally
	case r.WindowReturn <= th.DowntrendReturn,
		r.WindowReturn < 0 && !r.AboveSMA && r.Volatility >= th.HighVolatility:
		r.Regime = RegimeDowntrend
	case r.WindowReturn >= th.UptrendReturn && r.AboveSMA:
		r.Regime = RegimeOscillatingUptrend
	default:
		r.Regime = RegimeAccumulation
	}
	return r
}
