package signals

import (
	"errors"
	"testing"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBuy(t *testing.T) {
	pos := domain.NewPosition("TEST")
	pos.ConsecutiveSells = 3
	pos.ActiveTrailing = &domain.TrailingOrder{Side: domain.SideBuy}

	tx := BuildBuy(pos, tickAt(0, 100), 10000)
	assert.Equal(t, []int64{1}, tx.LotIDs)
	assert.InDelta(t, 100.0, tx.Quantity, 1e-9)
	assert.Equal(t, -10000.0, tx.CashDelta)

	next, err := ApplyBuy(pos, tx)
	require.NoError(t, err)

	require.Len(t, next.Lots, 1)
	assert.Equal(t, int64(1), next.Lots[0].ID)
	assert.Equal(t, int64(2), next.NextLotID)
	assert.Equal(t, 1, next.ConsecutiveBuys)
	assert.Equal(t, 0, next.ConsecutiveSells)
	assert.Equal(t, 100.0, next.RecentPeakPrice)
	assert.Equal(t, 100.0, next.RecentBottomPrice)
	assert.Nil(t, next.ActiveTrailing)
	assert.Equal(t, domain.StateHolding, next.State())

	// input untouched
	assert.Empty(t, pos.Lots)
	assert.Equal(t, 3, pos.ConsecutiveSells)
	assert.NotNil(t, pos.ActiveTrailing)
}

func TestApplyBuy_Invariants(t *testing.T) {
	pos := domain.NewPosition("TEST")

	tx := BuildBuy(pos, tickAt(0, 100), 0)
	_, err := ApplyBuy(pos, tx)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))

	tx = BuildBuy(pos, tickAt(0, 100), 1000)
	tx.LotIDs = []int64{7}
	_, err = ApplyBuy(pos, tx)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
}

func TestApplySell(t *testing.T) {
	pos := holding(lot(1, 100, 100), lot(2, 90, 100))
	pos.ConsecutiveBuys = 2

	tick := tickAt(5, 115)
	tx := BuildSell(pos, tick, []domain.Lot{pos.Lots[0]}, domain.KindSell)
	assert.InDelta(t, 1500.0, tx.RealizedPNL, 1e-9)
	assert.InDelta(t, 11500.0, tx.CashDelta, 1e-9)
	assert.Equal(t, 1, tx.LotsAfter)

	next, err := ApplySell(pos, tx, tx.LotIDs)
	require.NoError(t, err)

	require.Len(t, next.Lots, 1)
	assert.Equal(t, int64(2), next.Lots[0].ID)
	assert.Equal(t, 1, next.ConsecutiveSells)
	assert.Equal(t, 0, next.ConsecutiveBuys)
	assert.InDelta(t, 1500.0, next.RealizedPNL, 1e-9)
	assert.Equal(t, 115.0, next.LastSellPrice)
	assert.Len(t, pos.Lots, 2, "input untouched")
}

func TestApplySell_Invariants(t *testing.T) {
	pos := holding(lot(1, 100, 100))
	tx := BuildSell(pos, tickAt(1, 120), pos.Lots, domain.KindSell)

	tests := []struct {
		name string
		ids  []int64
	}{
		{"empty", nil},
		{"unknown lot", []int64{9}},
		{"duplicate lot", []int64{1, 1}},
		{"more than held", []int64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplySell(pos, tx, tt.ids)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvariantViolation))
		})
	}

	_, err := ApplySell(pos, BuildBuy(pos, tickAt(1, 120), 100), []int64{1})
	assert.Error(t, err, "buy transaction rejected")
}

func TestRecordBlocked(t *testing.T) {
	pos := domain.NewPosition("TEST")
	pos = RecordBlocked(pos, domain.SideBuy)
	pos = RecordBlocked(pos, domain.SideSell)
	pos = RecordBlocked(pos, domain.SideSell)
	assert.Equal(t, 1, pos.BuysBlockedByPNL)
	assert.Equal(t, 2, pos.SellsBlockedByPNL)
}

func TestUpdateTrailingTrackers_PeakAndBottom(t *testing.T) {
	p := domain.DefaultParameters()
	pos := domain.NewPosition("TEST")

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(0, 100))
	assert.Equal(t, 100.0, pos.RecentPeakPrice)
	assert.Equal(t, 100.0, pos.RecentBottomPrice)

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(1, 120))
	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(2, 90))
	assert.Equal(t, 120.0, pos.RecentPeakPrice)
	assert.Equal(t, 90.0, pos.RecentBottomPrice)
	assert.Equal(t, domain.StateIdle, pos.State())
}

func TestUpdateTrailingTrackers_TrailingBuyRatchetsDownAndCancels(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingBuy = true
	p.TrailingBuyCancelPercent = 0.05

	pos := holding(lot(1, 100, 100))
	pos.RecentPeakPrice = 100
	pos.RecentBottomPrice = 100

	pos, events := UpdateTrailingTrackers(pos, p, tickAt(1, 95))
	assert.Nil(t, pos.ActiveTrailing)
	assert.Empty(t, events)

	pos, events = UpdateTrailingTrackers(pos, p, tickAt(2, 89))
	require.NotNil(t, pos.ActiveTrailing)
	require.Len(t, events, 1)
	assert.Equal(t, EventArmed, events[0].Type)
	assert.Equal(t, MechanismTrailingBuy, events[0].Mechanism)
	assert.Equal(t, domain.StateTrailingArmed, pos.State())
	assert.InDelta(t, 93.45, pos.ActiveTrailing.StopPrice, 1e-9)
	assert.Equal(t, 100.0, pos.ActiveTrailing.LimitPrice)
	assert.InDelta(t, 84.55, pos.ActiveTrailing.FloorPrice, 1e-9)

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(3, 86))
	assert.InDelta(t, 90.3, pos.ActiveTrailing.StopPrice, 1e-9)

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(4, 88))
	assert.InDelta(t, 90.3, pos.ActiveTrailing.StopPrice, 1e-9, "stop never loosens on a bounce")

	pos, events = UpdateTrailingTrackers(pos, p, tickAt(5, 84))
	assert.Nil(t, pos.ActiveTrailing)
	require.Len(t, events, 1)
	assert.Equal(t, EventCancelled, events[0].Type)
}

func TestUpdateTrailingTrackers_TrailingBuyWithoutCancelFloorFollowsFalls(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingBuy = true

	pos := holding(lot(1, 100, 100))
	pos.RecentPeakPrice = 100
	pos.RecentBottomPrice = 100

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(1, 89))
	require.NotNil(t, pos.ActiveTrailing)
	assert.Zero(t, pos.ActiveTrailing.FloorPrice)

	for i, price := range []float64{80, 70, 60} {
		var events []TrailingEvent
		pos, events = UpdateTrailingTrackers(pos, p, tickAt(2+i, price))
		require.NotNil(t, pos.ActiveTrailing, "price %.0f", price)
		assert.Empty(t, events)
		assert.InDelta(t, price*1.05, pos.ActiveTrailing.StopPrice, 1e-9)
		assert.Equal(t, price, pos.ActiveTrailing.Extreme)
	}
}

func TestUpdateTrailingTrackers_TrailingSellRatchetsUp(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingSell = true

	pos := holding(lot(1, 100, 100))
	pos.RecentPeakPrice = 100
	pos.RecentBottomPrice = 100

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(1, 119))
	assert.Nil(t, pos.ActiveTrailing, "below activation")

	pos, events := UpdateTrailingTrackers(pos, p, tickAt(2, 121))
	require.NotNil(t, pos.ActiveTrailing)
	require.Len(t, events, 1)
	assert.Equal(t, MechanismTrailingSell, events[0].Mechanism)
	assert.InDelta(t, 108.9, pos.ActiveTrailing.StopPrice, 1e-9)
	assert.InDelta(t, 110.0, pos.ActiveTrailing.FloorPrice, 1e-9)

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(3, 140))
	assert.InDelta(t, 126.0, pos.ActiveTrailing.StopPrice, 1e-9)

	pos, _ = UpdateTrailingTrackers(pos, p, tickAt(4, 130))
	assert.InDelta(t, 126.0, pos.ActiveTrailing.StopPrice, 1e-9, "stop never loosens")

	sig := EvaluateSell(pos, p, tickAt(5, 125))
	require.Equal(t, Sell, sig.Kind)
}

func TestUpdateTrailingTrackers_TrailingSellCancelStreakPolicy(t *testing.T) {
	armed := func() domain.Position {
		pos := holding(lot(1, 100, 100))
		pos.ConsecutiveSells = 2
		pos.RecentPeakPrice = 130
		pos.RecentBottomPrice = 100
		pos.ActiveTrailing = &domain.TrailingOrder{
			Side:       domain.SideSell,
			Extreme:    130,
			StopPrice:  117,
			FloorPrice: 110,
		}
		return pos
	}

	t.Run("streak kept by default", func(t *testing.T) {
		p := domain.DefaultParameters()
		p.EnableTrailingSell = true

		pos, events := UpdateTrailingTrackers(armed(), p, tickAt(1, 105))
		assert.Nil(t, pos.ActiveTrailing)
		require.Len(t, events, 1)
		assert.Equal(t, EventCancelled, events[0].Type)
		assert.Equal(t, 2, pos.ConsecutiveSells)
	})

	t.Run("streak reset when configured", func(t *testing.T) {
		p := domain.DefaultParameters()
		p.EnableTrailingSell = true
		p.ResetSellStreakOnTrailingCancel = true

		pos, _ := UpdateTrailingTrackers(armed(), p, tickAt(1, 105))
		assert.Nil(t, pos.ActiveTrailing)
		assert.Equal(t, 0, pos.ConsecutiveSells)
	})
}

// runTrailingStop feeds prices through evaluate-then-update, as the simulation
// loop does, and returns every fired trailing-stop signal with its price
func runTrailingStop(pos domain.Position, p domain.Parameters, prices []float64) ([]Signal, []float64) {
	var fired []Signal
	var at []float64
	for i, price := range prices {
		tick := tickAt(i+1, price)
		if sig := EvaluateTrailingStop(pos, p, tick); sig.Fired() {
			fired = append(fired, sig)
			at = append(at, price)
			continue
		}
		pos, _ = UpdateTrailingTrackers(pos, p, tick)
	}
	return fired, at
}

func TestTrailingStop_NeverActivates(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingStop = true

	pos := holding(lot(1, 360, 10))
	pos.RecentBottomPrice = 351.83
	pos.RecentPeakPrice = 360

	// 400.65 is 13.9% above the bottom: past the flat profit requirement but
	// short of the 20% activation at 422.196
	prices := []float64{360, 380, 400.65, 390, 370, 355}
	fired, _ := runTrailingStop(pos, p, prices)
	assert.Empty(t, fired)
}

func TestTrailingStop_ActivatesAndTriggersOnce(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingStop = true

	pos := holding(lot(1, 200, 50))
	pos.RecentBottomPrice = 191.76
	pos.RecentPeakPrice = 200

	prices := []float64{220, 230.2, 300, 400, 483.99, 470, 440, 421.06}
	fired, at := runTrailingStop(pos, p, prices)

	require.Len(t, fired, 1)
	assert.Equal(t, 421.06, at[0])
	assert.Equal(t, TrailingStopSell, fired[0].Kind)
	assert.InDelta(t, 435.59, fired[0].StopPrice, 0.01)
	require.Len(t, fired[0].Lots, 1)
	assert.Equal(t, domain.KindTrailingStopSell, fired[0].TransactionKind())
}

func TestTrailingStop_RespectsProfitFloor(t *testing.T) {
	p := domain.DefaultParameters()
	p.EnableTrailingStop = true
	p.MinProfitMargin = 0.05

	pos := holding(lot(1, 100, 10))
	pos.TrailingStop = &domain.TrailingStop{Peak: 115, StopPrice: 103.5}

	sig := EvaluateTrailingStop(pos, p, tickAt(1, 103))
	assert.Equal(t, NoAction, sig.Kind, "103 is below entry*1.05")

	pos.TrailingStop = &domain.TrailingStop{Peak: 130, StopPrice: 117}
	sig = EvaluateTrailingStop(pos, p, tickAt(1, 116))
	assert.Equal(t, TrailingStopSell, sig.Kind)
}
