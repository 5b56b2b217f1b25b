// Package beta estimates the market beta of an instrument from stored prices.
package beta

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/pkg/formulas"
	"github.com/rs/zerolog"
)

// Lookback bounds, in trading days
const (
	DefaultPeriod = 252
	MinPeriod     = 30
	MaxPeriod     = 1260
)

// Result is one beta estimate
type Result struct {
	Symbol       string    `json:"symbol"`
	Index        string    `json:"index"`
	Beta         float64   `json:"beta"`
	Correlation  float64   `json:"correlation"`
	Period       int       `json:"period"`
	Observations int       `json:"observations"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

// Calculator computes beta and correlation of daily returns against an index
// symbol over the most recent common trading days. It implements
// domain.BetaProvider.
type Calculator struct {
	prices domain.PriceSource
	index  string
	period int
	log    zerolog.Logger
}

var _ domain.BetaProvider = (*Calculator)(nil)

// NewCalculator creates a calculator against index using period trading days
func NewCalculator(prices domain.PriceSource, index string, period int, log zerolog.Logger) *Calculator {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Calculator{
		prices: prices,
		index:  strings.ToUpper(index),
		period: period,
		log:    log.With().Str("component", "beta_calculator").Logger(),
	}
}

// Index returns the benchmark symbol
func (c *Calculator) Index() string {
	return c.index
}

// GetBeta returns the beta of symbol over the default period
func (c *Calculator) GetBeta(ctx context.Context, symbol string) (float64, error) {
	res, err := c.Calculate(ctx, symbol, c.period)
	if err != nil {
		return 0, err
	}
	return res.Beta, nil
}

// Calculate estimates beta over the last period common trading days ending at
// the latest date both series share
func (c *Calculator) Calculate(ctx context.Context, symbol string, period int) (*Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.NewConfigError("symbol", "must not be empty")
	}
	if period < MinPeriod || period > MaxPeriod {
		return nil, domain.NewConfigError("period", fmt.Sprintf("must be between %d and %d trading days", MinPeriod, MaxPeriod))
	}

	asset, err := c.prices.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s prices: %w", symbol, err)
	}
	index, err := c.prices.GetBars(ctx, c.index, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load index %s prices: %w", c.index, err)
	}

	dates, assetCloses, indexCloses := align(asset, index)
	if len(dates) > period+1 {
		cut := len(dates) - (period + 1)
		dates, assetCloses, indexCloses = dates[cut:], assetCloses[cut:], indexCloses[cut:]
	}
	if len(dates) < MinPeriod+1 {
		return nil, fmt.Errorf("%s vs %s: only %d common trading days: %w", symbol, c.index, len(dates), domain.ErrNoPriceData)
	}

	assetReturns := formulas.CalculateReturns(assetCloses)
	indexReturns := formulas.CalculateReturns(indexCloses)

	res := &Result{
		Symbol:       symbol,
		Index:        c.index,
		Beta:         formulas.Beta(assetReturns, indexReturns),
		Correlation:  formulas.Correlation(assetReturns, indexReturns),
		Period:       period,
		Observations: len(assetReturns),
		StartDate:    dates[0],
		EndDate:      dates[len(dates)-1],
	}

	c.log.Debug().
		Str("symbol", symbol).
		Float64("beta", res.Beta).
		Int("observations", res.Observations).
		Msg("Calculated beta")

	return res, nil
}

// align returns the closes of both series on the dates they share, oldest first
func align(asset, index []domain.Bar) ([]time.Time, []float64, []float64) {
	indexByDate := make(map[time.Time]float64, len(index))
	for _, b := range index {
		if b.Valid() {
			indexByDate[b.Date] = b.Close
		}
	}

	var dates []time.Time
	var a, i []float64
	for _, b := range asset {
		ic, ok := indexByDate[b.Date]
		if !ok || !b.Valid() {
			continue
		}
		dates = append(dates, b.Date)
		a = append(a, b.Close)
		i = append(i, ic)
	}
	return dates, a, i
}

// StaticProvider serves fixed betas, falling back to Default for unknown symbols
type StaticProvider struct {
	Betas   map[string]float64
	Default float64
}

// GetBeta returns the configured beta of symbol
func (p StaticProvider) GetBeta(_ context.Context, symbol string) (float64, error) {
	if b, ok := p.Betas[strings.ToUpper(symbol)]; ok {
		return b, nil
	}
	if p.Default != 0 {
		return p.Default, nil
	}
	return 0, fmt.Errorf("no beta configured for %s: %w", symbol, domain.ErrNoPriceData)
}

// Cached memoizes a provider for the lifetime of the process. Errors are not
// cached.
type Cached struct {
	next domain.BetaProvider

	mu    sync.RWMutex
	betas map[string]float64
}

// NewCached wraps next
func NewCached(next domain.BetaProvider) *Cached {
	return &Cached{next: next, betas: make(map[string]float64)}
}

// GetBeta returns the cached beta of symbol, computing it on first use
func (c *Cached) GetBeta(ctx context.Context, symbol string) (float64, error) {
	key := strings.ToUpper(symbol)

	c.mu.RLock()
	b, ok := c.betas[key]
	c.mu.RUnlock()
	if ok {
		return b, nil
	}

	b, err := c.next.GetBeta(ctx, key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.betas[key] = b
	c.mu.Unlock()
	return b, nil
}

// Invalidate drops every cached value, used after new prices are imported
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.betas = make(map[string]float64)
	c.mu.Unlock()
}
