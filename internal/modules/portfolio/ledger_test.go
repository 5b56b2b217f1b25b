package portfolio

import (
	"testing"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapitalLedger_DebitCredit(t *testing.T) {
	l := NewCapitalLedger(50000)

	require.NoError(t, l.Debit("AAA", 30000))
	assert.InDelta(t, 20000.0, l.Cash, 1e-9)
	assert.InDelta(t, 30000.0, l.Deployed, 1e-9)
	assert.True(t, l.CanAfford(20000))
	assert.False(t, l.CanAfford(20001))
	require.NoError(t, l.Check())

	require.NoError(t, l.Credit("AAA", 30000, 34500))
	assert.InDelta(t, 54500.0, l.Cash, 1e-9)
	assert.InDelta(t, 0.0, l.Deployed, 1e-9)
	assert.InDelta(t, 4500.0, l.RealizedPNL, 1e-9)
	assert.Empty(t, l.Holders())
	require.NoError(t, l.Check())
}

func TestCapitalLedger_Overdraft(t *testing.T) {
	l := NewCapitalLedger(10000)

	err := l.Debit("AAA", 10001)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.InDelta(t, 10000.0, l.Cash, 1e-9)

	err = l.Credit("AAA", 5000, 6000)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestCapitalLedger_Holders(t *testing.T) {
	l := NewCapitalLedger(100000)
	require.NoError(t, l.Debit("MSFT", 10000))
	require.NoError(t, l.Debit("AAPL", 20000))
	require.NoError(t, l.Debit("AMZN", 10000))

	holders := l.Holders()
	require.Len(t, holders, 3)
	assert.Equal(t, "AAPL", holders[0].Symbol)
	assert.Equal(t, "AMZN", holders[1].Symbol)
	assert.Equal(t, "MSFT", holders[2].Symbol)
}

func TestCapitalLedger_YieldAndIdleRatio(t *testing.T) {
	l := NewCapitalLedger(100000)
	require.NoError(t, l.Debit("AAA", 25000))
	assert.InDelta(t, 0.75, l.IdleRatio(), 1e-9)

	l.Accrue(750)
	l.Accrue(-10)
	assert.InDelta(t, 75750.0, l.Cash, 1e-9)
	assert.InDelta(t, 750.0, l.YieldAccrued, 1e-9)
	require.NoError(t, l.Check())
}

func TestCapitalLedger_CheckDetectsCorruption(t *testing.T) {
	l := NewCapitalLedger(1000)
	l.Cash = 1200
	assert.ErrorIs(t, l.Check(), domain.ErrInvariantViolation)

	l = NewCapitalLedger(1000)
	l.Cash = -1
	l.Deployed = 1001
	assert.ErrorIs(t, l.Check(), domain.ErrInvariantViolation)
}
