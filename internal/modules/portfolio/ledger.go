package portfolio

import (
	"math"
	"sort"

	"github.com/aristath/dcabacktest/internal/domain"
)

// ledgerTolerance absorbs float noise in the conservation identity
const ledgerTolerance = 1e-6

// CapitalLedger is the shared cash pool of a portfolio run. Deployed capital is
// carried at cost, so at every point
//
//	Cash + Deployed == TotalCapital + RealizedPNL + YieldAccrued
//
// It is owned by a single allocator goroutine and is not safe for concurrent use.
type CapitalLedger struct {
	TotalCapital float64 `json:"total_capital"`
	Cash         float64 `json:"cash"`
	Deployed     float64 `json:"deployed"`
	RealizedPNL  float64 `json:"realized_pnl"`
	YieldAccrued float64 `json:"yield_accrued"`

	deployedBy map[string]float64
}

// NewCapitalLedger creates a ledger with all capital in cash
func NewCapitalLedger(total float64) *CapitalLedger {
	return &CapitalLedger{
		TotalCapital: total,
		Cash:         total,
		deployedBy:   make(map[string]float64),
	}
}

// CanAfford reports whether amount can be debited now
func (l *CapitalLedger) CanAfford(amount float64) bool {
	return amount <= l.Cash+ledgerTolerance
}

// Debit moves amount from cash into the symbol's deployed capital
func (l *CapitalLedger) Debit(symbol string, amount float64) error {
	if !(amount > 0) {
		return domain.NewInvariantError("ledger_debit", "%s debit of %.2f", symbol, amount)
	}
	if !l.CanAfford(amount) {
		return domain.NewInvariantError("ledger_debit", "%s debit of %.2f exceeds cash %.2f", symbol, amount, l.Cash)
	}
	l.Cash -= amount
	l.Deployed += amount
	l.deployedBy[symbol] += amount
	return nil
}

// Credit returns a sale to cash: costBasis leaves deployed capital and the
// difference between proceeds and cost is realized
func (l *CapitalLedger) Credit(symbol string, costBasis, proceeds float64) error {
	if costBasis < 0 || proceeds < 0 {
		return domain.NewInvariantError("ledger_credit", "%s credit with cost %.2f proceeds %.2f", symbol, costBasis, proceeds)
	}
	if costBasis > l.deployedBy[symbol]+ledgerTolerance {
		return domain.NewInvariantError("ledger_credit", "%s releases %.2f but only %.2f deployed",
			symbol, costBasis, l.deployedBy[symbol])
	}
	l.Cash += proceeds
	l.Deployed -= costBasis
	l.RealizedPNL += proceeds - costBasis

	remaining := l.deployedBy[symbol] - costBasis
	if remaining <= ledgerTolerance {
		delete(l.deployedBy, symbol)
	} else {
		l.deployedBy[symbol] = remaining
	}
	return nil
}

// Accrue adds interest earned on idle cash
func (l *CapitalLedger) Accrue(amount float64) {
	if amount <= 0 {
		return
	}
	l.Cash += amount
	l.YieldAccrued += amount
}

// IdleRatio is the share of the pool currently held as cash
func (l *CapitalLedger) IdleRatio() float64 {
	pool := l.Cash + l.Deployed
	if pool <= 0 {
		return 0
	}
	return l.Cash / pool
}

// DeployedIn returns the capital at cost currently held by symbol
func (l *CapitalLedger) DeployedIn(symbol string) float64 {
	return l.deployedBy[symbol]
}

// Holders lists the symbols holding capital, largest first
func (l *CapitalLedger) Holders() []domain.CapitalHolder {
	holders := make([]domain.CapitalHolder, 0, len(l.deployedBy))
	for symbol, deployed := range l.deployedBy {
		holders = append(holders, domain.CapitalHolder{Symbol: symbol, Deployed: deployed})
	}
	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Deployed != holders[j].Deployed {
			return holders[i].Deployed > holders[j].Deployed
		}
		return holders[i].Symbol < holders[j].Symbol
	})
	return holders
}

// Check verifies the conservation identity and that no balance is negative
func (l *CapitalLedger) Check() error {
	if l.Cash < -ledgerTolerance {
		return domain.NewInvariantError("ledger_check", "negative cash %.8f", l.Cash)
	}
	if l.Deployed < -ledgerTolerance {
		return domain.NewInvariantError("ledger_check", "negative deployed capital %.8f", l.Deployed)
	}

	lhs := l.Cash + l.Deployed
	rhs := l.TotalCapital + l.RealizedPNL + l.YieldAccrued
	if math.Abs(lhs-rhs) > ledgerTolerance*math.Max(1, l.TotalCapital) {
		return domain.NewInvariantError("ledger_check", "cash %.2f + deployed %.2f != capital %.2f + realized %.2f + yield %.2f",
			l.Cash, l.Deployed, l.TotalCapital, l.RealizedPNL, l.YieldAccrued)
	}

	sum := 0.0
	for _, v := range l.deployedBy {
		sum += v
	}
	if math.Abs(sum-l.Deployed) > ledgerTolerance*math.Max(1, l.TotalCapital) {
		return domain.NewInvariantError("ledger_check", "per-symbol deployed %.2f != deployed %.2f", sum, l.Deployed)
	}
	return nil
}
