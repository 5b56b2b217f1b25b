package signals

import (
	"testing"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holding(lots ...domain.Lot) domain.Position {
	pos := domain.NewPosition("TEST")
	pos.Lots = lots
	pos.NextLotID = int64(len(lots) + 1)
	return pos
}

func tickAt(i int, price float64) Tick {
	return Tick{Date: day0.AddDate(0, 0, i), DayIndex: i, Price: price}
}

func TestEvaluateBuy_FirstBuyAlwaysFires(t *testing.T) {
	sig := EvaluateBuy(domain.NewPosition("TEST"), domain.DefaultParameters(), tickAt(0, 250))
	assert.Equal(t, Buy, sig.Kind)
	assert.Equal(t, 0.0, sig.GridLevel)
}

func TestEvaluateBuy_GridGate(t *testing.T) {
	p := domain.DefaultParameters()
	pos := holding(lot(1, 100, 100))

	sig := EvaluateBuy(pos, p, tickAt(1, 91))
	assert.Equal(t, NoAction, sig.Kind)
	assert.InDelta(t, 90.0, sig.GridLevel, 1e-9)

	sig = EvaluateBuy(pos, p, tickAt(1, 89.99))
	assert.Equal(t, Buy, sig.Kind)
}

func TestEvaluateBuy_MaxLots(t *testing.T) {
	p := domain.DefaultParameters()
	p.MaxLots = 2
	pos := holding(lot(1, 100, 1), lot(2, 90, 1))

	sig := EvaluateBuy(pos, p, tickAt(2, 10))
	assert.Equal(t, NoAction, sig.Kind)
	assert.Equal(t, "max lots reached", sig.Reason)
}

func TestEvaluateBuy_MomentumMode(t *testing.T) {
	p := domain.DefaultParameters()
	p.MaxLots = 1
	p.MomentumBuy = true
	pos := holding(lot(1, 100, 100))

	t.Run("cap waived and buys on strength", func(t *testing.T) {
		sig := EvaluateBuy(pos, p, tickAt(1, 111))
		assert.Equal(t, Buy, sig.Kind)
		assert.InDelta(t, 110.0, sig.GridLevel, 1e-9)
	})

	t.Run("below momentum level", func(t *testing.T) {
		sig := EvaluateBuy(pos, p, tickAt(1, 105))
		assert.Equal(t, NoAction, sig.Kind)
		assert.Equal(t, BlockedNone, sig.Blocked)
	})

	t.Run("blocked by non-positive P/L", func(t *testing.T) {
		sig := EvaluateBuy(pos, p, tickAt(1, 100))
		assert.Equal(t, NoAction, sig.Kind)
		assert.Equal(t, BlockedByPNL, sig.Blocked)
	})

	t.Run("hard ceiling", func(t *testing.T) {
		capped := p
		capped.MaxLotsHardCeiling = 1
		sig := EvaluateBuy(pos, capped, tickAt(1, 120))
		assert.Equal(t, NoAction, sig.Kind)
		assert.Equal(t, "max lots reached", sig.Reason)
	})
}

func TestEvaluateBuy_TrailingRequiresArmedOrder(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingBuy = true
	pos := holding(lot(1, 100, 100))

	assert.Equal(t, NoAction, EvaluateBuy(pos, p, tickAt(1, 80)).Kind, "plain dip does not buy")

	pos.ActiveTrailing = &domain.TrailingOrder{
		Side:           domain.SideBuy,
		ReferencePrice: 80,
		Extreme:        78,
		StopPrice:      81.9,
		LimitPrice:     100,
	}
	assert.Equal(t, NoAction, EvaluateBuy(pos, p, tickAt(2, 81)).Kind)

	sig := EvaluateBuy(pos, p, tickAt(2, 82))
	assert.Equal(t, Buy, sig.Kind)
	assert.Equal(t, "trailing buy rebound", sig.Reason)

	assert.Equal(t, NoAction, EvaluateBuy(pos, p, tickAt(2, 101)).Kind, "above limit")
}

func TestEvaluateSell_RoundTrip(t *testing.T) {
	p := domain.DefaultParameters()
	pos := holding(lot(1, 100, 100))

	assert.Equal(t, NoAction, EvaluateSell(pos, p, tickAt(1, 108)).Kind)

	sig := EvaluateSell(pos, p, tickAt(2, 115))
	require.Equal(t, Sell, sig.Kind)
	require.Len(t, sig.Lots, 1)
	assert.Equal(t, int64(1), sig.Lots[0].ID)
}

func TestEvaluateSell_NoLots(t *testing.T) {
	sig := EvaluateSell(domain.NewPosition("TEST"), domain.DefaultParameters(), tickAt(0, 100))
	assert.Equal(t, NoAction, sig.Kind)
}

func TestEvaluateSell_MomentumGate(t *testing.T) {
	p := domain.DefaultParameters()
	p.MomentumSell = true

	t.Run("blocked while position is profitable", func(t *testing.T) {
		pos := holding(lot(1, 100, 100))
		sig := EvaluateSell(pos, p, tickAt(1, 120))
		assert.Equal(t, NoAction, sig.Kind)
		assert.Equal(t, BlockedByPNL, sig.Blocked)
	})

	t.Run("sells profitable lot while losing overall", func(t *testing.T) {
		pos := holding(lot(1, 200, 100), lot(2, 100, 100))
		sig := EvaluateSell(pos, p, tickAt(1, 120))
		require.Equal(t, Sell, sig.Kind)
		assert.Equal(t, int64(2), sig.Lots[0].ID)
	})
}

func TestEvaluateSell_Trailing(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingSell = true
	pos := holding(lot(1, 100, 100))

	assert.Equal(t, NoAction, EvaluateSell(pos, p, tickAt(1, 130)).Kind, "not armed")

	pos.ActiveTrailing = &domain.TrailingOrder{
		Side:       domain.SideSell,
		Extreme:    140,
		StopPrice:  126,
		FloorPrice: 110,
	}
	assert.Equal(t, NoAction, EvaluateSell(pos, p, tickAt(2, 130)).Kind, "awaiting pullback")

	sig := EvaluateSell(pos, p, tickAt(3, 125))
	require.Equal(t, Sell, sig.Kind)
	assert.Equal(t, 126.0, sig.StopPrice)

	assert.Equal(t, NoAction, EvaluateSell(pos, p, tickAt(4, 105)).Kind, "below floor")
}

func TestEvaluateStopLoss(t *testing.T) {
	p := domain.DefaultParameters()
	pos := holding(lot(1, 100, 100), lot(2, 80, 125))

	assert.Equal(t, NoAction, EvaluateStopLoss(pos, p, tickAt(1, 1)).Kind, "disabled by default")

	p.StopLossPercent = 0.30
	avg := AverageCost(pos.Lots)
	assert.Equal(t, NoAction, EvaluateStopLoss(pos, p, tickAt(1, avg*0.71)).Kind)

	sig := EvaluateStopLoss(pos, p, tickAt(1, avg*0.69))
	require.Equal(t, StopLossSell, sig.Kind)
	assert.Len(t, sig.Lots, 2)
	assert.Equal(t, domain.KindStopLossSell, sig.TransactionKind())
}
