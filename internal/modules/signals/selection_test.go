package signals

import (
	"testing"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibleLots(t *testing.T) {
	lots := []domain.Lot{lot(1, 100, 10), lot(2, 90, 10), lot(3, 80, 10)}

	eligible := EligibleLots(lots, 99, Spacing{Percent: 0.10}, 0)
	require.Len(t, eligible, 2)
	assert.Equal(t, int64(2), eligible[0].ID)
	assert.Equal(t, int64(3), eligible[1].ID)

	assert.Len(t, EligibleLots(lots, 110, Spacing{Percent: 0.10}, 0), 3, "exactly at requirement qualifies")
	assert.Empty(t, EligibleLots(lots, 85, Spacing{Percent: 0.10}, 0))

	inc := Spacing{Percent: 0.10, Incremental: true, Increment: 1}
	assert.Len(t, EligibleLots(lots, 99, inc, 1), 1, "second sell needs 20%")
}

func TestSelectLotsToSell(t *testing.T) {
	eligible := []domain.Lot{lot(1, 90, 10), lot(2, 80, 10), lot(3, 85, 10)}

	tests := []struct {
		name     string
		strategy domain.LotSelection
		expected int64
	}{
		{"LIFO picks newest", domain.LotSelectionLIFO, 3},
		{"FIFO picks oldest", domain.LotSelectionFIFO, 1},
		{"highest profit picks cheapest entry", domain.LotSelectionHighestProfit, 2},
		{"unknown defaults to LIFO", domain.LotSelection(""), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := SelectLotsToSell(eligible, tt.strategy, 100)
			require.Len(t, selected, 1)
			assert.Equal(t, tt.expected, selected[0].ID)
		})
	}

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, SelectLotsToSell(nil, domain.LotSelectionLIFO, 100))
	})

	t.Run("highest profit tie keeps first", func(t *testing.T) {
		tied := []domain.Lot{lot(4, 80, 1), lot(5, 80, 1)}
		selected := SelectLotsToSell(tied, domain.LotSelectionHighestProfit, 100)
		assert.Equal(t, int64(4), selected[0].ID)
	})
}

func TestLotsAboveFloor(t *testing.T) {
	lots := []domain.Lot{lot(1, 100, 1), lot(2, 200, 1)}
	above := LotsAboveFloor(lots, 150, 0.05)
	require.Len(t, above, 1)
	assert.Equal(t, int64(1), above[0].ID)
}
