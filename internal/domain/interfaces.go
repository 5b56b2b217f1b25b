package domain

import (
	"context"
	"time"
)

// PriceSource supplies ordered daily bars for an instrument.
// Implemented by the history repository; the simulation core only ever sees
// the in-memory slice it returns.
type PriceSource interface {
	// GetBars returns bars for symbol with start <= date <= end, oldest first.
	// A zero start or end leaves that side of the range open.
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// BetaProvider resolves the market beta of an instrument
// This interface breaks the dependency between the portfolio allocator and the
// beta calculator (which itself needs a PriceSource)
type BetaProvider interface {
	// GetBeta returns the beta of symbol against the configured index
	GetBeta(ctx context.Context, symbol string) (float64, error)
}

// BetaProviderFunc adapts a function to BetaProvider
type BetaProviderFunc func(ctx context.Context, symbol string) (float64, error)

// GetBeta calls f
func (f BetaProviderFunc) GetBeta(ctx context.Context, symbol string) (float64, error) {
	return f(ctx, symbol)
}
