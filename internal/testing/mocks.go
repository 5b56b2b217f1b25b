package testing

import (
	"context"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockPriceSource is a testify mock of domain.PriceSource
type MockPriceSource struct {
	mock.Mock
}

// GetBars returns the bars configured with On("GetBars", ...)
func (m *MockPriceSource) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	args := m.Called(ctx, symbol, start, end)
	if bars := args.Get(0); bars != nil {
		return bars.([]domain.Bar), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockBetaProvider is a testify mock of domain.BetaProvider
type MockBetaProvider struct {
	mock.Mock
}

// GetBeta returns the beta configured with On("GetBeta", ...)
func (m *MockBetaProvider) GetBeta(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

// StaticPriceSource serves fixed bars per symbol, filtered to the requested range
type StaticPriceSource map[string][]domain.Bar

// GetBars implements domain.PriceSource
func (s StaticPriceSource) GetBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	bars, ok := s[symbol]
	if !ok {
		return nil, domain.ErrNoPriceData
	}
	out := make([]domain.Bar, 0, len(bars))
	for _, bar := range bars {
		if !start.IsZero() && bar.Date.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Date.After(end) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}
