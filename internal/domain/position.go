package domain

import "time"

// PositionState is the coarse state of the single-instrument state machine
type PositionState string

const (
	// StateIdle - no lots held
	StateIdle PositionState = "IDLE"
	// StateHolding - at least one lot, no pending trailing watch
	StateHolding PositionState = "HOLDING"
	// StateTrailingArmed - a trailing buy, sell or stop watch is active
	StateTrailingArmed PositionState = "TRAILING_ARMED"
)

// TrailingOrder is a pending two-stage trailing buy or sell.
//
// For a buy, Extreme is the lowest price since arming and StopPrice only moves
// down. For a sell, Extreme is the highest price since arming and StopPrice only
// moves up.
type TrailingOrder struct {
	ArmedAt        time.Time `json:"armed_at"`
	Side           Side      `json:"side"`
	ReferencePrice float64   `json:"reference_price"`
	Extreme        float64   `json:"extreme"`
	StopPrice      float64   `json:"stop_price"`
	LimitPrice     float64   `json:"limit_price"` // buy: never execute above (0 = no limit)
	FloorPrice     float64   `json:"floor_price"` // cancel when price falls below (0 = never)
}

// TrailingStop is the position-level profit-protecting stop
type TrailingStop struct {
	ActivatedAt time.Time `json:"activated_at"`
	Peak        float64   `json:"peak"`
	StopPrice   float64   `json:"stop_price"`
}

// Position is the full DCA state of one instrument.
// Values are treated as immutable; state transitions return modified copies.
type Position struct {
	ActiveTrailing    *TrailingOrder `json:"active_trailing,omitempty"`
	TrailingStop      *TrailingStop  `json:"trailing_stop,omitempty"`
	Symbol            string         `json:"symbol"`
	Lots              []Lot          `json:"lots"`
	NextLotID         int64          `json:"next_lot_id"`
	ConsecutiveBuys   int            `json:"consecutive_buys"`
	ConsecutiveSells  int            `json:"consecutive_sells"`
	RecentPeakPrice   float64        `json:"recent_peak_price"`
	RecentBottomPrice float64        `json:"recent_bottom_price"`
	LastBuyPrice      float64        `json:"last_buy_price"`
	LastSellPrice     float64        `json:"last_sell_price"`
	RealizedPNL       float64        `json:"realized_pnl"`
	BuysBlockedByPNL  int            `json:"buys_blocked_by_pnl"`
	SellsBlockedByPNL int            `json:"sells_blocked_by_pnl"`
}

// NewPosition creates an empty position for a symbol
func NewPosition(symbol string) Position {
	return Position{Symbol: symbol, NextLotID: 1, Lots: []Lot{}}
}

// State returns the state machine state derived from the position
func (p Position) State() PositionState {
	if p.ActiveTrailing != nil || p.TrailingStop != nil {
		return StateTrailingArmed
	}
	if len(p.Lots) == 0 {
		return StateIdle
	}
	return StateHolding
}

// Clone returns a deep copy so that callers can modify the result freely
func (p Position) Clone() Position {
	c := p
	c.Lots = make([]Lot, len(p.Lots))
	copy(c.Lots, p.Lots)
	if p.ActiveTrailing != nil {
		order := *p.ActiveTrailing
		c.ActiveTrailing = &order
	}
	if p.TrailingStop != nil {
		stop := *p.TrailingStop
		c.TrailingStop = &stop
	}
	return c
}

// Quantity returns the total units held
func (p Position) Quantity() float64 {
	total := 0.0
	for _, lot := range p.Lots {
		total += lot.Quantity
	}
	return total
}

// CostBasis returns the capital deployed in open lots
func (p Position) CostBasis() float64 {
	total := 0.0
	for _, lot := range p.Lots {
		total += lot.CostBasis()
	}
	return total
}

// MarketValue returns the value of all open lots at price
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity() * price
}
