package portfolio

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
)

// StockConfig is one instrument of a portfolio. Parameters, when set, is the
// fully resolved per-stock configuration; nil uses the portfolio defaults.
type StockConfig struct {
	Symbol     string             `json:"symbol"`
	Parameters *domain.Parameters `json:"parameters,omitempty"`
}

// BetaScaling scales each stock's volatility-sensitive parameters by its beta
type BetaScaling struct {
	Enabled     bool    `json:"enabled"`
	Coefficient float64 `json:"coefficient"`
}

// AdaptiveLotSizing grows the lot size while too much of the pool sits idle
type AdaptiveLotSizing struct {
	Enabled           bool    `json:"enabled"`
	IdleCashThreshold float64 `json:"idle_cash_threshold"`
	Multiplier        float64 `json:"multiplier"`
}

// CashYield accrues interest on idle cash per calendar day
type CashYield struct {
	Enabled    bool    `json:"enabled"`
	AnnualRate float64 `json:"annual_rate"`
}

// DeferredSelling skips profit-requirement sells while idle cash is plentiful.
// Stop-loss and trailing-stop exits are never deferred.
type DeferredSelling struct {
	Enabled           bool    `json:"enabled"`
	IdleCashThreshold float64 `json:"idle_cash_threshold"`
}

// Config describes one portfolio run
type Config struct {
	Name              string            `json:"name,omitempty"`
	TotalCapital      float64           `json:"total_capital"`
	StartDate         time.Time         `json:"start_date"`
	EndDate           time.Time         `json:"end_date"`
	Defaults          domain.Parameters `json:"defaults"`
	Stocks            []StockConfig     `json:"stocks"`
	MaxLotsPerStock   int               `json:"max_lots_per_stock"`
	BetaScaling       BetaScaling       `json:"beta_scaling"`
	AdaptiveLotSizing AdaptiveLotSizing `json:"adaptive_lot_sizing"`
	CashYield         CashYield         `json:"cash_yield"`
	DeferredSelling   DeferredSelling   `json:"deferred_selling"`
}

// Validate reports the first configuration error found
func (c Config) Validate() error {
	if !(c.TotalCapital > 0) || math.IsInf(c.TotalCapital, 0) {
		return domain.NewConfigError("total_capital", "must be positive")
	}
	if len(c.Stocks) == 0 {
		return domain.NewConfigError("stocks", "at least one stock is required")
	}
	if c.MaxLotsPerStock < 0 {
		return domain.NewConfigError("max_lots_per_stock", "must not be negative")
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && !c.StartDate.Before(c.EndDate) {
		return domain.NewConfigError("end_date", "start date must be before end date")
	}

	seen := make(map[string]bool, len(c.Stocks))
	for _, s := range c.Stocks {
		symbol := strings.TrimSpace(s.Symbol)
		if symbol == "" {
			return domain.NewConfigError("stocks", "empty symbol")
		}
		if seen[symbol] {
			return domain.NewConfigError("stocks", fmt.Sprintf("duplicate symbol %s", symbol))
		}
		seen[symbol] = true
	}

	if c.BetaScaling.Enabled && !(c.BetaScaling.Coefficient > 0) {
		return domain.NewConfigError("beta_scaling.coefficient", "must be positive when enabled")
	}
	if c.AdaptiveLotSizing.Enabled {
		if c.AdaptiveLotSizing.IdleCashThreshold <= 0 || c.AdaptiveLotSizing.IdleCashThreshold >= 1 {
			return domain.NewConfigError("adaptive_lot_sizing.idle_cash_threshold", "must be a fraction in (0, 1)")
		}
		if !(c.AdaptiveLotSizing.Multiplier >= 1) {
			return domain.NewConfigError("adaptive_lot_sizing.multiplier", "must be at least 1")
		}
	}
	if c.CashYield.Enabled && (c.CashYield.AnnualRate < 0 || c.CashYield.AnnualRate >= 1) {
		return domain.NewConfigError("cash_yield.annual_rate", "must be a fraction in [0, 1)")
	}
	if c.DeferredSelling.Enabled && (c.DeferredSelling.IdleCashThreshold <= 0 || c.DeferredSelling.IdleCashThreshold > 1) {
		return domain.NewConfigError("deferred_selling.idle_cash_threshold", "must be a fraction in (0, 1]")
	}
	return nil
}

// Symbols returns the stock symbols in processing order
func (c Config) Symbols() []string {
	out := make([]string, len(c.Stocks))
	for i, s := range c.Stocks {
		out[i] = strings.TrimSpace(s.Symbol)
	}
	return sortedCopy(out)
}

// StockParameters resolves the parameters of one stock: per-stock override or
// portfolio defaults, then the portfolio date range and lot cap
func (c Config) StockParameters(stock StockConfig) domain.Parameters {
	p := c.Defaults
	if stock.Parameters != nil {
		p = *stock.Parameters
	}
	if p.StartDate.IsZero() {
		p.StartDate = c.StartDate
	}
	if p.EndDate.IsZero() {
		p.EndDate = c.EndDate
	}
	if c.MaxLotsPerStock > 0 {
		p.MaxLots = c.MaxLotsPerStock
	}
	return p.Normalized()
}
