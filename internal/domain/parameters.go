package domain

import (
	"fmt"
	"math"
	"time"
)

// LotSelection chooses which eligible lot is liquidated on a sell signal
type LotSelection string

const (
	// LotSelectionLIFO sells the most recently acquired eligible lot (default)
	LotSelectionLIFO LotSelection = "LIFO"
	// LotSelectionFIFO sells the oldest eligible lot
	LotSelectionFIFO LotSelection = "FIFO"
	// LotSelectionHighestProfit sells the eligible lot with the greatest profit
	LotSelectionHighestProfit LotSelection = "HIGHEST_PROFIT"
)

// Valid reports whether s is a known strategy
func (s LotSelection) Valid() bool {
	switch s {
	case LotSelectionLIFO, LotSelectionFIFO, LotSelectionHighestProfit:
		return true
	}
	return false
}

// maxScaledFraction caps fractions that must stay below 100% after scaling
const maxScaledFraction = 0.95

// Parameters is the fully resolved, immutable configuration of one run.
// Every percentage is a fraction (0.10 = 10%).
type Parameters struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	LotSelection LotSelection `json:"lot_selection"`

	LotSizeUSD         float64 `json:"lot_size_usd"`
	MaxLots            int     `json:"max_lots"`
	MaxLotsHardCeiling int     `json:"max_lots_hard_ceiling"` // momentum-buy safety valve, 0 = unlimited
	MaxSellsPerBar     int     `json:"max_sells_per_bar"`

	GridIntervalPercent float64 `json:"grid_interval_percent"`
	ProfitRequirement   float64 `json:"profit_requirement"`

	EnableConsecutiveIncrementalBuyGrid    bool    `json:"enable_consecutive_incremental_buy_grid"`
	GridConsecutiveIncrement               float64 `json:"grid_consecutive_increment"`
	EnableConsecutiveIncrementalSellProfit bool    `json:"enable_consecutive_incremental_sell_profit"`
	ProfitConsecutiveIncrement             float64 `json:"profit_consecutive_increment"`

	EnableTrailingBuy            bool    `json:"enable_trailing_buy"`
	TrailingBuyActivationPercent float64 `json:"trailing_buy_activation_percent"`
	TrailingBuyReboundPercent    float64 `json:"trailing_buy_rebound_percent"`
	TrailingBuyCancelPercent     float64 `json:"trailing_buy_cancel_percent"`

	EnableTrailingSell              bool    `json:"enable_trailing_sell"`
	TrailingSellActivationPercent   float64 `json:"trailing_sell_activation_percent"`
	TrailingSellPullbackPercent     float64 `json:"trailing_sell_pullback_percent"`
	ResetSellStreakOnTrailingCancel bool    `json:"reset_sell_streak_on_trailing_cancel"`

	EnableTrailingStop            bool    `json:"enable_trailing_stop"`
	TrailingStopActivationPercent float64 `json:"trailing_stop_activation_percent"`
	TrailingStopPullbackPercent   float64 `json:"trailing_stop_pullback_percent"`
	MinProfitMargin               float64 `json:"min_profit_margin"`

	StopLossPercent float64 `json:"stop_loss_percent"`

	MomentumBuy  bool `json:"momentum_buy"`
	MomentumSell bool `json:"momentum_sell"`

	EnableDynamicGrid     bool    `json:"enable_dynamic_grid"`
	DynamicGridMultiplier float64 `json:"dynamic_grid_multiplier"`

	Beta       float64 `json:"beta"`
	BetaFactor float64 `json:"beta_factor"`

	EnableAdaptiveStrategy bool `json:"enable_adaptive_strategy"`
}

// DefaultParameters returns the global defaults
func DefaultParameters() Parameters {
	return Parameters{
		LotSelection:                  LotSelectionLIFO,
		LotSizeUSD:                    10000,
		MaxLots:                       10,
		MaxSellsPerBar:                1,
		GridIntervalPercent:           0.10,
		ProfitRequirement:             0.10,
		GridConsecutiveIncrement:      0.10,
		ProfitConsecutiveIncrement:    0.10,
		TrailingBuyActivationPercent:  0.10,
		TrailingBuyReboundPercent:     0.05,
		TrailingSellActivationPercent: 0.20,
		TrailingSellPullbackPercent:   0.10,
		TrailingStopActivationPercent: 0.20,
		TrailingStopPullbackPercent:   0.10,
		MinProfitMargin:               0.05,
		DynamicGridMultiplier:         1.0,
		Beta:                          1.0,
		BetaFactor:                    1.0,
	}
}

// Normalized fills zero values that have a neutral default
func (p Parameters) Normalized() Parameters {
	if p.LotSelection == "" {
		p.LotSelection = LotSelectionLIFO
	}
	if p.MaxSellsPerBar == 0 {
		p.MaxSellsPerBar = 1
	}
	if p.DynamicGridMultiplier == 0 {
		p.DynamicGridMultiplier = 1.0
	}
	if p.Beta == 0 {
		p.Beta = 1.0
	}
	if p.BetaFactor == 0 {
		p.BetaFactor = 1.0
	}
	return p
}

// Validate reports the first configuration error found
func (p Parameters) Validate() error {
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && !p.StartDate.Before(p.EndDate) {
		return NewConfigError("end_date", "start date must be before end date")
	}
	if !(p.LotSizeUSD > 0) || math.IsInf(p.LotSizeUSD, 0) {
		return NewConfigError("lot_size_usd", "must be positive")
	}
	if p.MaxLots <= 0 {
		return NewConfigError("max_lots", "must be positive")
	}
	if p.MaxLotsHardCeiling < 0 {
		return NewConfigError("max_lots_hard_ceiling", "must not be negative")
	}
	if p.MaxSellsPerBar < 0 {
		return NewConfigError("max_sells_per_bar", "must not be negative")
	}
	if !p.LotSelection.Valid() {
		return NewConfigError("lot_selection", fmt.Sprintf("unknown strategy %q", p.LotSelection))
	}

	checks := []struct {
		field    string
		value    float64
		min, max float64
		allowMin bool
	}{
		{"grid_interval_percent", p.GridIntervalPercent, 0, 1, false},
		{"profit_requirement", p.ProfitRequirement, 0, 10, false},
		{"grid_consecutive_increment", p.GridConsecutiveIncrement, 0, 10, true},
		{"profit_consecutive_increment", p.ProfitConsecutiveIncrement, 0, 10, true},
		{"trailing_buy_activation_percent", p.TrailingBuyActivationPercent, 0, 1, true},
		{"trailing_buy_rebound_percent", p.TrailingBuyReboundPercent, 0, 1, true},
		{"trailing_buy_cancel_percent", p.TrailingBuyCancelPercent, 0, 1, true},
		{"trailing_sell_activation_percent", p.TrailingSellActivationPercent, 0, 10, true},
		{"trailing_sell_pullback_percent", p.TrailingSellPullbackPercent, 0, 1, true},
		{"trailing_stop_activation_percent", p.TrailingStopActivationPercent, 0, 10, true},
		{"trailing_stop_pullback_percent", p.TrailingStopPullbackPercent, 0, 1, true},
		{"min_profit_margin", p.MinProfitMargin, 0, 10, true},
		{"stop_loss_percent", p.StopLossPercent, 0, 1, true},
		{"dynamic_grid_multiplier", p.DynamicGridMultiplier, 0, 100, true},
	}
	for _, c := range checks {
		if err := checkFraction(c.field, c.value, c.min, c.max, c.allowMin); err != nil {
			return err
		}
	}

	if p.EnableTrailingBuy && (p.TrailingBuyActivationPercent <= 0 || p.TrailingBuyReboundPercent <= 0) {
		return NewConfigError("trailing_buy", "activation and rebound must be positive when enabled")
	}
	if p.EnableTrailingSell && (p.TrailingSellActivationPercent <= 0 || p.TrailingSellPullbackPercent <= 0) {
		return NewConfigError("trailing_sell", "activation and pullback must be positive when enabled")
	}
	if p.EnableTrailingStop && (p.TrailingStopActivationPercent <= 0 || p.TrailingStopPullbackPercent <= 0) {
		return NewConfigError("trailing_stop", "activation and pullback must be positive when enabled")
	}
	return nil
}

// checkFraction validates min < v < max (min <= v when allowMin)
func checkFraction(field string, v, min, max float64, allowMin bool) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NewConfigError(field, "must be a finite number")
	}
	if v < min || (!allowMin && v == min) || v >= max {
		return NewConfigError(field, fmt.Sprintf("fraction %.4f out of range", v))
	}
	return nil
}

// WithBetaScaling returns a copy whose volatility-sensitive fractions are
// multiplied by beta*coefficient. The receiver is not modified.
func (p Parameters) WithBetaScaling(beta, coefficient float64) (Parameters, error) {
	factor := beta * coefficient
	if !(factor > 0) || math.IsInf(factor, 0) {
		return p, NewConfigError("beta_scaling", fmt.Sprintf("beta %.3f with coefficient %.3f gives non-positive factor", beta, coefficient))
	}

	scaled := p.ScaleVolatility(factor)
	scaled.Beta = beta
	scaled.BetaFactor = p.Normalized().BetaFactor * factor
	return scaled, nil
}

// ScaleVolatility multiplies grid spacing, profit requirement and trailing
// thresholds by factor, clamping sub-100% fractions.
func (p Parameters) ScaleVolatility(factor float64) Parameters {
	p.GridIntervalPercent = clampFraction(p.GridIntervalPercent * factor)
	p.ProfitRequirement *= factor
	p.TrailingBuyActivationPercent = clampFraction(p.TrailingBuyActivationPercent * factor)
	p.TrailingBuyReboundPercent = clampFraction(p.TrailingBuyReboundPercent * factor)
	p.TrailingSellActivationPercent *= factor
	p.TrailingSellPullbackPercent = clampFraction(p.TrailingSellPullbackPercent * factor)
	p.TrailingStopActivationPercent *= factor
	p.TrailingStopPullbackPercent = clampFraction(p.TrailingStopPullbackPercent * factor)
	return p
}

func clampFraction(v float64) float64 {
	if v > maxScaledFraction {
		return maxScaledFraction
	}
	return v
}
