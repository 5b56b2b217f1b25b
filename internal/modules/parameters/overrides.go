package parameters

import (
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
)

// DateLayout is the date format accepted in requests and config files
const DateLayout = "2006-01-02"

// Overrides is a partial parameter set. Nil fields leave the underlying value
// untouched. Percent fields are whole-number percents.
type Overrides struct {
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`

	LotSelection       *string  `json:"lot_selection,omitempty"`
	LotSizeUSD         *float64 `json:"lot_size_usd,omitempty"`
	MaxLots            *int     `json:"max_lots,omitempty"`
	MaxLotsHardCeiling *int     `json:"max_lots_hard_ceiling,omitempty"`
	MaxSellsPerBar     *int     `json:"max_sells_per_bar,omitempty"`

	GridIntervalPercent *float64 `json:"grid_interval_percent,omitempty"`
	ProfitRequirement   *float64 `json:"profit_requirement,omitempty"`

	EnableConsecutiveIncrementalBuyGrid    *bool    `json:"enable_consecutive_incremental_buy_grid,omitempty"`
	GridConsecutiveIncrement               *float64 `json:"grid_consecutive_increment,omitempty"`
	EnableConsecutiveIncrementalSellProfit *bool    `json:"enable_consecutive_incremental_sell_profit,omitempty"`
	ProfitConsecutiveIncrement             *float64 `json:"profit_consecutive_increment,omitempty"`

	EnableTrailingBuy            *bool    `json:"enable_trailing_buy,omitempty"`
	TrailingBuyActivationPercent *float64 `json:"trailing_buy_activation_percent,omitempty"`
	TrailingBuyReboundPercent    *float64 `json:"trailing_buy_rebound_percent,omitempty"`
	TrailingBuyCancelPercent     *float64 `json:"trailing_buy_cancel_percent,omitempty"`

	EnableTrailingSell              *bool    `json:"enable_trailing_sell,omitempty"`
	TrailingSellActivationPercent   *float64 `json:"trailing_sell_activation_percent,omitempty"`
	TrailingSellPullbackPercent     *float64 `json:"trailing_sell_pullback_percent,omitempty"`
	ResetSellStreakOnTrailingCancel *bool    `json:"reset_sell_streak_on_trailing_cancel,omitempty"`

	EnableTrailingStop            *bool    `json:"enable_trailing_stop,omitempty"`
	TrailingStopActivationPercent *float64 `json:"trailing_stop_activation_percent,omitempty"`
	TrailingStopPullbackPercent   *float64 `json:"trailing_stop_pullback_percent,omitempty"`
	MinProfitMargin               *float64 `json:"min_profit_margin,omitempty"`

	StopLossPercent *float64 `json:"stop_loss_percent,omitempty"`

	MomentumBuy  *bool `json:"momentum_buy,omitempty"`
	MomentumSell *bool `json:"momentum_sell,omitempty"`

	EnableDynamicGrid     *bool    `json:"enable_dynamic_grid,omitempty"`
	DynamicGridMultiplier *float64 `json:"dynamic_grid_multiplier,omitempty"` // plain multiplier, not a percent

	EnableAdaptiveStrategy *bool `json:"enable_adaptive_strategy,omitempty"`
}

// Apply layers the overrides on top of base and returns the result. Dates
// that do not parse are configuration errors.
func (o Overrides) Apply(base domain.Parameters) (domain.Parameters, error) {
	p := base

	if err := applyDate(&p.StartDate, o.StartDate, "start_date"); err != nil {
		return base, err
	}
	if err := applyDate(&p.EndDate, o.EndDate, "end_date"); err != nil {
		return base, err
	}
	if o.LotSelection != nil {
		p.LotSelection = domain.LotSelection(strings.ToUpper(strings.TrimSpace(*o.LotSelection)))
	}

	applyFloat(&p.LotSizeUSD, o.LotSizeUSD)
	applyInt(&p.MaxLots, o.MaxLots)
	applyInt(&p.MaxLotsHardCeiling, o.MaxLotsHardCeiling)
	applyInt(&p.MaxSellsPerBar, o.MaxSellsPerBar)

	applyPercent(&p.GridIntervalPercent, o.GridIntervalPercent)
	applyPercent(&p.ProfitRequirement, o.ProfitRequirement)

	applyBool(&p.EnableConsecutiveIncrementalBuyGrid, o.EnableConsecutiveIncrementalBuyGrid)
	applyPercent(&p.GridConsecutiveIncrement, o.GridConsecutiveIncrement)
	applyBool(&p.EnableConsecutiveIncrementalSellProfit, o.EnableConsecutiveIncrementalSellProfit)
	applyPercent(&p.ProfitConsecutiveIncrement, o.ProfitConsecutiveIncrement)

	applyBool(&p.EnableTrailingBuy, o.EnableTrailingBuy)
	applyPercent(&p.TrailingBuyActivationPercent, o.TrailingBuyActivationPercent)
	applyPercent(&p.TrailingBuyReboundPercent, o.TrailingBuyReboundPercent)
	applyPercent(&p.TrailingBuyCancelPercent, o.TrailingBuyCancelPercent)

	applyBool(&p.EnableTrailingSell, o.EnableTrailingSell)
	applyPercent(&p.TrailingSellActivationPercent, o.TrailingSellActivationPercent)
	applyPercent(&p.TrailingSellPullbackPercent, o.TrailingSellPullbackPercent)
	applyBool(&p.ResetSellStreakOnTrailingCancel, o.ResetSellStreakOnTrailingCancel)

	applyBool(&p.EnableTrailingStop, o.EnableTrailingStop)
	applyPercent(&p.TrailingStopActivationPercent, o.TrailingStopActivationPercent)
	applyPercent(&p.TrailingStopPullbackPercent, o.TrailingStopPullbackPercent)
	applyPercent(&p.MinProfitMargin, o.MinProfitMargin)

	applyPercent(&p.StopLossPercent, o.StopLossPercent)

	applyBool(&p.MomentumBuy, o.MomentumBuy)
	applyBool(&p.MomentumSell, o.MomentumSell)

	applyBool(&p.EnableDynamicGrid, o.EnableDynamicGrid)
	applyFloat(&p.DynamicGridMultiplier, o.DynamicGridMultiplier)

	applyBool(&p.EnableAdaptiveStrategy, o.EnableAdaptiveStrategy)
	return p, nil
}

// FromParameters renders p as a complete Overrides value in percent units
func FromParameters(p domain.Parameters) Overrides {
	pct := func(v float64) *float64 {
		out := FractionToPercent(v)
		return &out
	}
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	b := func(v bool) *bool { return &v }

	o := Overrides{
		LotSizeUSD:                             f(p.LotSizeUSD),
		MaxLots:                                i(p.MaxLots),
		MaxLotsHardCeiling:                     i(p.MaxLotsHardCeiling),
		MaxSellsPerBar:                         i(p.MaxSellsPerBar),
		GridIntervalPercent:                    pct(p.GridIntervalPercent),
		ProfitRequirement:                      pct(p.ProfitRequirement),
		EnableConsecutiveIncrementalBuyGrid:    b(p.EnableConsecutiveIncrementalBuyGrid),
		GridConsecutiveIncrement:               pct(p.GridConsecutiveIncrement),
		EnableConsecutiveIncrementalSellProfit: b(p.EnableConsecutiveIncrementalSellProfit),
		ProfitConsecutiveIncrement:             pct(p.ProfitConsecutiveIncrement),
		EnableTrailingBuy:                      b(p.EnableTrailingBuy),
		TrailingBuyActivationPercent:           pct(p.TrailingBuyActivationPercent),
		TrailingBuyReboundPercent:              pct(p.TrailingBuyReboundPercent),
		TrailingBuyCancelPercent:               pct(p.TrailingBuyCancelPercent),
		EnableTrailingSell:                     b(p.EnableTrailingSell),
		TrailingSellActivationPercent:          pct(p.TrailingSellActivationPercent),
		TrailingSellPullbackPercent:            pct(p.TrailingSellPullbackPercent),
		ResetSellStreakOnTrailingCancel:        b(p.ResetSellStreakOnTrailingCancel),
		EnableTrailingStop:                     b(p.EnableTrailingStop),
		TrailingStopActivationPercent:          pct(p.TrailingStopActivationPercent),
		TrailingStopPullbackPercent:            pct(p.TrailingStopPullbackPercent),
		MinProfitMargin:                        pct(p.MinProfitMargin),
		StopLossPercent:                        pct(p.StopLossPercent),
		MomentumBuy:                            b(p.MomentumBuy),
		MomentumSell:                           b(p.MomentumSell),
		EnableDynamicGrid:                      b(p.EnableDynamicGrid),
		DynamicGridMultiplier:                  f(p.DynamicGridMultiplier),
		EnableAdaptiveStrategy:                 b(p.EnableAdaptiveStrategy),
	}
	if p.LotSelection != "" {
		s := string(p.LotSelection)
		o.LotSelection = &s
	}
	if !p.StartDate.IsZero() {
		s := p.StartDate.Format(DateLayout)
		o.StartDate = &s
	}
	if !p.EndDate.IsZero() {
		s := p.EndDate.Format(DateLayout)
		o.EndDate = &s
	}
	return o
}

// ParseDate parses a request date; an empty string is the zero time
func ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, domain.NewConfigError(field, "expected YYYY-MM-DD, got "+value)
	}
	return t, nil
}

func applyDate(dst *time.Time, src *string, field string) error {
	if src == nil {
		return nil
	}
	t, err := ParseDate(field, *src)
	if err != nil {
		return err
	}
	*dst = t
	return nil
}

func applyPercent(dst *float64, src *float64) {
	if src != nil {
		*dst = PercentToFraction(*src)
	}
}

func applyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
