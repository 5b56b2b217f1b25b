// Package reporting renders backtest output as CSV files.
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// TransactionHeader is the column order of WriteTransactions
var TransactionHeader = []string{
	"date", "symbol", "type", "kind", "lot_ids", "price", "quantity",
	"value", "cost_basis", "realized_pnl", "cash_delta", "lots_after",
}

// EquityHeader is the column order of WriteEquity
var EquityHeader = []string{
	"date", "cash", "deployed", "market_value", "equity",
	"utilization_percent", "realized_pnl", "unrealized_pnl", "open_lots",
}

// RejectedHeader is the column order of WriteRejected
var RejectedHeader = []string{
	"date", "symbol", "desired_price", "desired_capital",
	"available_capital", "shortfall", "capital_holders",
}

// WriteTransactions writes one row per transaction. Money columns are rounded
// half away from zero to cents, prices to 4 decimals and quantities to 6.
func WriteTransactions(w io.Writer, txs []domain.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TransactionHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range txs {
		ids := make([]string, len(t.LotIDs))
		for i, id := range t.LotIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		record := []string{
			t.Date.Format(dateLayout),
			t.Symbol,
			string(t.Type),
			string(t.Kind),
			strings.Join(ids, ";"),
			Price(t.Price),
			Quantity(t.Quantity),
			Money(t.Value()),
			Money(t.CostBasis),
			Money(t.RealizedPNL),
			Money(t.CashDelta),
			strconv.Itoa(t.LotsAfter),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write transaction row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteEquity writes the daily snapshot series
func WriteEquity(w io.Writer, snapshots []domain.DailySnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EquityHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, s := range snapshots {
		record := []string{
			s.Date.Format(dateLayout),
			Money(s.Cash),
			Money(s.Deployed),
			Money(s.MarketValue),
			Money(s.Equity),
			Percent(s.Utilization),
			Money(s.RealizedPNL),
			Money(s.UnrealizedPNL),
			strconv.Itoa(s.OpenLots),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write snapshot row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteRejected writes the rejected orders of a portfolio run. Capital
// holders are rendered as SYMBOL:amount pairs, largest first.
func WriteRejected(w io.Writer, orders []domain.RejectedOrder) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RejectedHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, o := range orders {
		holders := make([]string, len(o.CapitalHolders))
		for i, h := range o.CapitalHolders {
			holders[i] = h.Symbol + ":" + Money(h.Deployed)
		}
		record := []string{
			o.Date.Format(dateLayout),
			o.Symbol,
			Price(o.DesiredPrice),
			Money(o.DesiredCapital),
			Money(o.AvailableCapital),
			Money(o.Shortfall),
			strings.Join(holders, ";"),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write rejected order row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Money formats a dollar amount with two decimals
func Money(v float64) string {
	return round(v, 2)
}

// Price formats a share price with four decimals
func Price(v float64) string {
	return round(v, 4)
}

// Quantity formats a share quantity with six decimals
func Quantity(v float64) string {
	return round(v, 6)
}

// Percent formats a fraction as a percent with two decimals (0.1234 -> 12.34)
func Percent(fraction float64) string {
	return decimal.NewFromFloat(fraction).Shift(2).StringFixed(2)
}

func round(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
