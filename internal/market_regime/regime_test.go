package market_regime

import (
	"testing"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp returns n closes moving linearly from a to b
func ramp(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = a + (b-a)*float64(i)/float64(n-1)
	}
	return out
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name     string
		closes   []float64
		expected Regime
	}{
		{"too short", []float64{100, 120}, RegimeAccumulation},
		{"fast rally", ramp(100, 125, 20), RegimeFastRally},
		{"steady uptrend", ramp(100, 106, 20), RegimeOscillatingUptrend},
		{"downtrend", ramp(100, 85, 20), RegimeDowntrend},
		{"flat", ramp(100, 100.5, 20), RegimeAccumulation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.closes, th).Regime)
		})
	}
}

func TestClassify_VolatileDecline(t *testing.T) {
	closes := []float64{100, 106, 98, 104, 96, 102, 95, 101, 94, 99, 93, 98, 92, 97, 91, 96, 93, 95, 92, 94}
	r := Classify(closes, DefaultThresholds())
	assert.Less(t, r.WindowReturn, 0.0)
	assert.Greater(t, r.Volatility, 0.03)
	assert.Equal(t, RegimeDowntrend, r.Regime)
}

func TestProfileApply(t *testing.T) {
	base := domain.DefaultParameters()

	p := DefaultProfiles()[RegimeFastRally].Apply(base)
	assert.True(t, p.MomentumBuy)
	assert.InDelta(t, 0.15, p.ProfitRequirement, 1e-12)
	assert.False(t, base.MomentumBuy, "base untouched")

	p = DefaultProfiles()[RegimeDowntrend].Apply(base)
	assert.InDelta(t, 0.15, p.GridIntervalPercent, 1e-12)
}

func TestProfileApply_MomentumKeepsLotCeiling(t *testing.T) {
	rally := DefaultProfiles()[RegimeFastRally]

	base := domain.DefaultParameters()
	p := rally.Apply(base)
	assert.True(t, p.MomentumBuy)
	assert.Equal(t, base.MaxLots, p.MaxLotsHardCeiling)
	assert.Zero(t, base.MaxLotsHardCeiling, "base untouched")

	base.MaxLotsHardCeiling = 25
	assert.Equal(t, 25, rally.Apply(base).MaxLotsHardCeiling)

	// momentum requested by the run itself keeps its own ceiling policy
	base = domain.DefaultParameters()
	base.MomentumBuy = true
	assert.Zero(t, rally.Apply(base).MaxLotsHardCeiling)

	assert.Zero(t, DefaultProfiles()[RegimeDowntrend].Apply(domain.DefaultParameters()).MaxLotsHardCeiling)
}

func TestSwitcher_ConfirmsAfterConsecutiveReadings(t *testing.T) {
	base := domain.DefaultParameters()
	s := NewSwitcher(base, zerolog.Nop(), WithConfirmationBars(3))
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rally := ramp(100, 125, 20)
	flat := ramp(100, 100.5, 20)

	assert.Equal(t, RegimeAccumulation, s.Current())
	assert.Equal(t, base, s.Parameters())

	_, changed := s.Observe(day, 0, rally)
	assert.False(t, changed)
	_, changed = s.Observe(day.AddDate(0, 0, 1), 1, rally)
	assert.False(t, changed)

	// an interrupting reading resets the streak
	_, changed = s.Observe(day.AddDate(0, 0, 2), 2, flat)
	assert.False(t, changed)

	for i := 3; i < 5; i++ {
		_, changed = s.Observe(day.AddDate(0, 0, i), i, rally)
		assert.False(t, changed)
	}
	change, changed := s.Observe(day.AddDate(0, 0, 5), 5, rally)
	require.True(t, changed)
	assert.Equal(t, RegimeAccumulation, change.From)
	assert.Equal(t, RegimeFastRally, change.To)
	assert.Equal(t, 5, change.DayIndex)

	assert.Equal(t, RegimeFastRally, s.Current())
	assert.True(t, s.Parameters().MomentumBuy)
	assert.False(t, base.MomentumBuy)
}
