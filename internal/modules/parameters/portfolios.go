package parameters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/portfolio"
)

// StockRequest is one stock of a portfolio request
type StockRequest struct {
	Symbol    string     `json:"symbol"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

// BetaScalingRequest toggles beta scaling
type BetaScalingRequest struct {
	Enabled     bool    `json:"enabled"`
	Coefficient float64 `json:"coefficient"`
}

// AdaptiveLotSizingRequest is portfolio.AdaptiveLotSizing in percent units
type AdaptiveLotSizingRequest struct {
	Enabled                  bool    `json:"enabled"`
	IdleCashThresholdPercent float64 `json:"idle_cash_threshold_percent"`
	Multiplier               float64 `json:"multiplier"`
}

// CashYieldRequest is portfolio.CashYield in percent units
type CashYieldRequest struct {
	Enabled           bool    `json:"enabled"`
	AnnualRatePercent float64 `json:"annual_rate_percent"`
}

// DeferredSellingRequest is portfolio.DeferredSelling in percent units
type DeferredSellingRequest struct {
	Enabled                  bool    `json:"enabled"`
	IdleCashThresholdPercent float64 `json:"idle_cash_threshold_percent"`
}

// PortfolioRequest is the request and file format of a portfolio run
type PortfolioRequest struct {
	Name              string                   `json:"name,omitempty"`
	TotalCapital      float64                  `json:"total_capital"`
	StartDate         string                   `json:"start_date"`
	EndDate           string                   `json:"end_date"`
	Defaults          Overrides                `json:"defaults"`
	Stocks            []StockRequest           `json:"stocks"`
	MaxLotsPerStock   int                      `json:"max_lots_per_stock"`
	BetaScaling       BetaScalingRequest       `json:"beta_scaling"`
	AdaptiveLotSizing AdaptiveLotSizingRequest `json:"adaptive_lot_sizing"`
	CashYield         CashYieldRequest         `json:"cash_yield"`
	DeferredSelling   DeferredSellingRequest   `json:"deferred_selling"`
}

// BuildPortfolio resolves a request into a portfolio.Config. Portfolio
// defaults sit on top of the global defaults, and each stock layers its
// ticker overrides and then its own overrides on top of those.
func (r *Resolver) BuildPortfolio(req PortfolioRequest) (portfolio.Config, error) {
	start, err := ParseDate("start_date", req.StartDate)
	if err != nil {
		return portfolio.Config{}, err
	}
	end, err := ParseDate("end_date", req.EndDate)
	if err != nil {
		return portfolio.Config{}, err
	}

	base, err := r.Defaults()
	if err != nil {
		return portfolio.Config{}, err
	}
	defaults, err := req.Defaults.Apply(base)
	if err != nil {
		return portfolio.Config{}, fmt.Errorf("portfolio defaults: %w", err)
	}
	defaults.StartDate, defaults.EndDate = start, end
	defaults = defaults.Normalized()

	cfg := portfolio.Config{
		Name:            req.Name,
		TotalCapital:    req.TotalCapital,
		StartDate:       start,
		EndDate:         end,
		Defaults:        defaults,
		MaxLotsPerStock: req.MaxLotsPerStock,
		BetaScaling: portfolio.BetaScaling{
			Enabled:     req.BetaScaling.Enabled,
			Coefficient: req.BetaScaling.Coefficient,
		},
		AdaptiveLotSizing: portfolio.AdaptiveLotSizing{
			Enabled:           req.AdaptiveLotSizing.Enabled,
			IdleCashThreshold: PercentToFraction(req.AdaptiveLotSizing.IdleCashThresholdPercent),
			Multiplier:        req.AdaptiveLotSizing.Multiplier,
		},
		CashYield: portfolio.CashYield{
			Enabled:    req.CashYield.Enabled,
			AnnualRate: PercentToFraction(req.CashYield.AnnualRatePercent),
		},
		DeferredSelling: portfolio.DeferredSelling{
			Enabled:           req.DeferredSelling.Enabled,
			IdleCashThreshold: PercentToFraction(req.DeferredSelling.IdleCashThresholdPercent),
		},
	}
	if cfg.BetaScaling.Enabled && cfg.BetaScaling.Coefficient == 0 {
		cfg.BetaScaling.Coefficient = 1
	}

	for _, s := range req.Stocks {
		symbol := strings.ToUpper(strings.TrimSpace(s.Symbol))
		stock := portfolio.StockConfig{Symbol: symbol}

		r.mu.RLock()
		ticker, hasTicker := r.docs.Tickers[symbol]
		r.mu.RUnlock()

		if hasTicker || s.Overrides != nil {
			p := defaults
			if hasTicker {
				if p, err = ticker.Apply(p); err != nil {
					return portfolio.Config{}, fmt.Errorf("ticker %s overrides: %w", symbol, err)
				}
			}
			if s.Overrides != nil {
				if p, err = s.Overrides.Apply(p); err != nil {
					return portfolio.Config{}, fmt.Errorf("stock %s: %w", symbol, err)
				}
			}
			stock.Parameters = &p
		}
		cfg.Stocks = append(cfg.Stocks, stock)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadPortfolio reads configs/portfolios/<name>.json
func (r *Resolver) LoadPortfolio(name string) (PortfolioRequest, error) {
	var req PortfolioRequest
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") || name == "" {
		return req, domain.NewConfigError("portfolio", fmt.Sprintf("invalid portfolio name %q", name))
	}

	path := filepath.Join(r.dir, PortfoliosDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return req, fmt.Errorf("%s: %w", name, ErrPortfolioNotFound)
		}
		return req, fmt.Errorf("failed to read portfolio %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse portfolio %s: %w", name, err)
	}
	if req.Name == "" {
		req.Name = name
	}
	return req, nil
}

// ListPortfolios returns the names of the available portfolio files
func (r *Resolver) ListPortfolios() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, PortfoliosDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
