// Package metrics derives summary statistics from a finished backtest.
package metrics

import (
	"math"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/pkg/formulas"
)

// Input is everything the aggregator needs from a finished run
type Input struct {
	Transactions   []domain.Transaction
	Snapshots      []domain.DailySnapshot
	InitialCapital float64 // LotSizeUSD*MaxLots in single mode, TotalCapital in portfolio mode
	RiskFreeRate   float64 // annual fraction
	RejectedOrders int
}

// Summary is the metrics object attached to every result.
// All ratios are fractions; every field is finite.
type Summary struct {
	InitialCapital     float64     `json:"initial_capital"`
	FinalValue         float64     `json:"final_value"`
	TotalReturn        float64     `json:"total_return"`
	TotalReturnPercent float64     `json:"total_return_percent"`
	ReturnOnDeployed   float64     `json:"return_on_deployed"`
	CAGR               float64     `json:"cagr"`
	MaxDrawdown        float64     `json:"max_drawdown"`
	MaxDrawdownPercent float64     `json:"max_drawdown_percent"`
	SharpeRatio        float64     `json:"sharpe_ratio"`
	SortinoRatio       float64     `json:"sortino_ratio"`
	Volatility         float64     `json:"volatility"`
	WinRate            float64     `json:"win_rate"`
	ProfitFactor       float64     `json:"profit_factor"`
	CapitalUtilization float64     `json:"capital_utilization"`
	AvgDeployedCapital float64     `json:"avg_deployed_capital"`
	MaxDeployedCapital float64     `json:"max_deployed_capital"`
	RealizedPNL        float64     `json:"realized_pnl"`
	UnrealizedPNL      float64     `json:"unrealized_pnl"`
	AvgBuyPrice        float64     `json:"avg_buy_price"`
	AvgSellPrice       float64     `json:"avg_sell_price"`
	TotalBuys          int         `json:"total_buys"`
	TotalSells         int         `json:"total_sells"`
	WinningSells       int         `json:"winning_sells"`
	LosingSells        int         `json:"losing_sells"`
	RejectedOrders     int         `json:"rejected_orders"`
	TradingDays        int         `json:"trading_days"`
	CalendarDays       int         `json:"calendar_days"`
	Suitability        Suitability `json:"suitability"`
}

// Compute derives the summary. It is a pure function of its input.
func Compute(in Input) Summary {
	s := Summary{
		InitialCapital: in.InitialCapital,
		FinalValue:     in.InitialCapital,
		RejectedOrders: in.RejectedOrders,
		TradingDays:    len(in.Snapshots),
	}

	summarizeTransactions(&s, in.Transactions)
	summarizeSnapshots(&s, in)

	s.TotalReturn = s.FinalValue - s.InitialCapital
	s.TotalReturnPercent = formulas.SafeDiv(s.TotalReturn, s.InitialCapital)
	s.ReturnOnDeployed = formulas.SafeDiv(s.RealizedPNL+s.UnrealizedPNL, s.MaxDeployedCapital)
	s.CAGR = formulas.CalculateCAGR(s.InitialCapital, s.FinalValue, s.CalendarDays)
	s.Suitability = ComputeSuitability(s)

	sanitize(&s)
	return s
}

func summarizeTransactions(s *Summary, txs []domain.Transaction) {
	var buyValue, buyQty, sellValue, sellQty, grossProfit, grossLoss float64

	for _, tx := range txs {
		switch tx.Type {
		case domain.SideBuy:
			s.TotalBuys++
			buyValue += tx.Value()
			buyQty += tx.Quantity
		case domain.SideSell:
			s.TotalSells++
			sellValue += tx.Value()
			sellQty += tx.Quantity
			s.RealizedPNL += tx.RealizedPNL
			if tx.RealizedPNL > 0 {
				s.WinningSells++
				grossProfit += tx.RealizedPNL
			} else {
				s.LosingSells++
				grossLoss -= tx.RealizedPNL
			}
		}
	}

	s.AvgBuyPrice = formulas.SafeDiv(buyValue, buyQty)
	s.AvgSellPrice = formulas.SafeDiv(sellValue, sellQty)
	s.WinRate = formulas.SafeDiv(float64(s.WinningSells), float64(s.TotalSells))
	s.ProfitFactor = formulas.SafeDiv(grossProfit, grossLoss)
}

func summarizeSnapshots(s *Summary, in Input) {
	snaps := in.Snapshots
	if len(snaps) == 0 {
		return
	}

	last := snaps[len(snaps)-1]
	s.FinalValue = last.Equity
	s.UnrealizedPNL = last.UnrealizedPNL
	s.CalendarDays = int(last.Date.Sub(snaps[0].Date).Hours() / 24)

	equity := make([]float64, len(snaps))
	utilization := make([]float64, len(snaps))
	deployed := make([]float64, len(snaps))
	for i, snap := range snaps {
		equity[i] = snap.Equity
		utilization[i] = snap.Utilization
		deployed[i] = snap.Deployed
		if snap.Deployed > s.MaxDeployedCapital {
			s.MaxDeployedCapital = snap.Deployed
		}
	}

	dd := formulas.CalculateMaxDrawdown(equity)
	s.MaxDrawdown = dd.MaxDrawdownAmount
	s.MaxDrawdownPercent = dd.MaxDrawdown

	returns := formulas.CalculateReturns(equity)
	if sharpe := formulas.CalculateSharpeRatio(returns, in.RiskFreeRate, formulas.TradingDaysPerYear); sharpe != nil {
		s.SharpeRatio = *sharpe
	}
	if sortino := formulas.CalculateSortinoRatio(returns, in.RiskFreeRate, 0, formulas.TradingDaysPerYear); sortino != nil {
		s.SortinoRatio = *sortino
	}
	s.Volatility = formulas.AnnualizedVolatility(returns)

	s.CapitalUtilization = formulas.Mean(utilization)
	s.AvgDeployedCapital = formulas.Mean(deployed)
}

// sanitize replaces any non-finite value with 0
func sanitize(s *Summary) {
	fields := []*float64{
		&s.FinalValue, &s.TotalReturn, &s.TotalReturnPercent, &s.ReturnOnDeployed,
		&s.CAGR, &s.MaxDrawdown, &s.MaxDrawdownPercent, &s.SharpeRatio,
		&s.SortinoRatio, &s.Volatility, &s.WinRate, &s.ProfitFactor,
		&s.CapitalUtilization, &s.AvgDeployedCapital, &s.MaxDeployedCapital,
		&s.RealizedPNL, &s.UnrealizedPNL, &s.AvgBuyPrice, &s.AvgSellPrice,
		&s.Suitability.Score, &s.Suitability.Activity, &s.Suitability.WinRate,
		&s.Suitability.CapitalEfficiency,
	}
	for _, f := range fields {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
}
