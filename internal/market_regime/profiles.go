package market_regime

import (
	"math"

	"github.com/aristath/dcabacktest/internal/domain"
)

// Profile is how a regime reshapes the base parameters
type Profile struct {
	GridMultiplier   float64 `json:"grid_multiplier"`
	ProfitMultiplier float64 `json:"profit_multiplier"`
	MomentumBuy      bool    `json:"momentum_buy"`
	MomentumSell     bool    `json:"momentum_sell"`
}

// DefaultProfiles returns the built-in regime profiles
func DefaultProfiles() map[Regime]Profile {
	return map[Regime]Profile{
		RegimeAccumulation:       {GridMultiplier: 1.0, ProfitMultiplier: 1.0},
		RegimeOscillatingUptrend: {GridMultiplier: 0.8, ProfitMultiplier: 0.8},
		RegimeDowntrend:          {GridMultiplier: 1.5, ProfitMultiplier: 1.0},
		RegimeFastRally:          {GridMultiplier: 1.0, ProfitMultiplier: 1.5, MomentumBuy: true},
	}
}

// Apply returns a new Parameters value shaped by the profile. The base is
// never modified. When the profile switches momentum buying on for a run that
// did not ask for it, MaxLots stays the ceiling unless a hard ceiling is set.
func (pr Profile) Apply(base domain.Parameters) domain.Parameters {
	p := base
	if pr.GridMultiplier > 0 {
		p.GridIntervalPercent = math.Min(base.GridIntervalPercent*pr.GridMultiplier, 0.95)
	}
	if pr.ProfitMultiplier > 0 {
		p.ProfitRequirement = base.ProfitRequirement * pr.ProfitMultiplier
	}
	p.MomentumBuy = base.MomentumBuy || pr.MomentumBuy
	if pr.MomentumBuy && !base.MomentumBuy && p.MaxLotsHardCeiling <= 0 {
		p.MaxLotsHardCeiling = base.MaxLots
	}
	p.MomentumSell = base.MomentumSell || pr.MomentumSell
	return p
}
