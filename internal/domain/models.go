// Package domain provides core domain models and types.
package domain

import (
	"math"
	"time"
)

// Side represents the direction of a transaction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TransactionKind distinguishes the mechanism that produced a transaction
type TransactionKind string

const (
	// KindBuy is a grid, first or trailing buy
	KindBuy TransactionKind = "BUY"
	// KindSell is a profit-requirement (or trailing-sell) sale of a single lot
	KindSell TransactionKind = "SELL"
	// KindTrailingStopSell is a sale triggered by the position trailing stop
	KindTrailingStopSell TransactionKind = "TRAILING_STOP_SELL"
	// KindStopLossSell is a hard stop-loss liquidation
	KindStopLossSell TransactionKind = "STOP_LOSS_SELL"
)

// Bar is one daily OHLCV record for an instrument
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the bar carries a usable close price
func (b Bar) Valid() bool {
	return !math.IsNaN(b.Close) && !math.IsInf(b.Close, 0) && b.Close > 0
}

// Lot is one discrete purchased tranche of an instrument
type Lot struct {
	EntryDate           time.Time `json:"entry_date"`
	Symbol              string    `json:"symbol"`
	ID                  int64     `json:"id"`
	EntryPrice          float64   `json:"entry_price"`
	Quantity            float64   `json:"quantity"`
	PeakPriceSinceEntry float64   `json:"peak_price_since_entry"`
}

// CostBasis returns entry price times quantity
func (l Lot) CostBasis() float64 {
	return l.EntryPrice * l.Quantity
}

// MarketValue returns the value of the lot at the given price
func (l Lot) MarketValue(price float64) float64 {
	return price * l.Quantity
}

// Transaction is an immutable record of an executed buy or sell
type Transaction struct {
	Date        time.Time       `json:"date"`
	Symbol      string          `json:"symbol"`
	Type        Side            `json:"type"`
	Kind        TransactionKind `json:"kind"`
	LotIDs      []int64         `json:"lot_ids"`
	Price       float64         `json:"price"`
	Quantity    float64         `json:"quantity"`
	CostBasis   float64         `json:"cost_basis"`
	RealizedPNL float64         `json:"realized_pnl"`
	CashDelta   float64         `json:"cash_delta"`
	LotsAfter   int             `json:"lots_after"`
}

// Value returns price times quantity
func (t Transaction) Value() float64 {
	return t.Price * t.Quantity
}

// CapitalHolder names an instrument that held capital when an order was rejected
type CapitalHolder struct {
	Symbol   string  `json:"symbol"`
	Deployed float64 `json:"deployed"`
}

// RejectedOrder records a buy signal that the shared capital pool could not fund
type RejectedOrder struct {
	Date             time.Time       `json:"date"`
	Symbol           string          `json:"symbol"`
	CapitalHolders   []CapitalHolder `json:"capital_holders"`
	DesiredPrice     float64         `json:"desired_price"`
	DesiredCapital   float64         `json:"desired_capital"`
	AvailableCapital float64         `json:"available_capital"`
	Shortfall        float64         `json:"shortfall"`
}

// DailySnapshot is one point of the equity / capital-utilization time series
type DailySnapshot struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	Deployed      float64   `json:"deployed"` // cost basis of open lots
	MarketValue   float64   `json:"market_value"`
	Equity        float64   `json:"equity"`
	Utilization   float64   `json:"utilization"`
	RealizedPNL   float64   `json:"realized_pnl"`
	UnrealizedPNL float64   `json:"unrealized_pnl"`
	OpenLots      int       `json:"open_lots"`
}
