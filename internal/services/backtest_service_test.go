package services

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	"github.com/aristath/dcabacktest/internal/modules/optimization"
	"github.com/aristath/dcabacktest/internal/modules/parameters"
	"github.com/aristath/dcabacktest/internal/modules/portfolio"
	"github.com/aristath/dcabacktest/internal/modules/results"
	testutil "github.com/aristath/dcabacktest/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func testPrices() testutil.StaticPriceSource {
	return testutil.StaticPriceSource{
		"AAPL": testutil.BarsFromCloses(testutil.RandomWalk(11, 100, 0.03, 250)...),
		"MSFT": testutil.BarsFromCloses(testutil.RandomWalk(12, 300, 0.02, 250)...),
	}
}

func newTestService(t *testing.T, withStore bool) *BacktestService {
	t.Helper()
	log := zerolog.Nop()
	sim := backtest.NewSimulator(log)

	var runs RunRepositoryInterface
	if withStore {
		runs = results.NewRepository(testutil.NewTestDB(t, "results").Conn(), log)
	}

	return NewBacktestService(
		testPrices(),
		parameters.NewResolver("", log),
		sim,
		portfolio.NewAllocator(nil, log),
		optimization.NewOptimizer(optimization.NewWorkerPool(2), sim, log),
		runs,
		log,
	)
}

func csvLines(s string) int {
	return strings.Count(strings.TrimRight(s, "\n"), "\n") + 1
}

func TestRunSingle_SaveAndExport(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()

	resp, err := svc.RunSingle(ctx, SingleRequest{
		Symbol:     " aapl ",
		Parameters: parameters.Overrides{GridIntervalPercent: floatPtr(5), ProfitRequirement: floatPtr(4)},
		Label:      "tight grid",
		Save:       true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "AAPL", resp.Result.Symbol)
	assert.InDelta(t, 0.05, resp.Result.Parameters.GridIntervalPercent, 1e-12)
	require.NotEmpty(t, resp.RunID)

	run, err := svc.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, results.KindSingle, run.Kind)
	assert.Equal(t, "tight grid", run.Label)
	assert.Equal(t, []string{"AAPL"}, run.Symbols)
	assert.Equal(t, "2024-01-02", run.StartDate)
	assert.InDelta(t, resp.Result.Summary.TotalReturn, run.TotalReturn, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportRun(ctx, resp.RunID, ExportTransactions, &buf))
	assert.Equal(t, len(resp.Result.Transactions)+1, csvLines(buf.String()))

	buf.Reset()
	require.NoError(t, svc.ExportRun(ctx, resp.RunID, ExportEquity, &buf))
	assert.Equal(t, len(resp.Result.Snapshots)+1, csvLines(buf.String()))

	err = svc.ExportRun(ctx, resp.RunID, "pdf", &buf)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	payload, err := svc.LoadRunPayload(ctx, run)
	require.NoError(t, err)
	stored, ok := payload.(*backtest.Result)
	require.True(t, ok)
	assert.Equal(t, "AAPL", stored.Symbol)
	assert.Len(t, stored.Transactions, len(resp.Result.Transactions))
}

func TestRunSingle_Errors(t *testing.T) {
	tests := []struct {
		name      string
		withStore bool
		req       SingleRequest
		wantErr   error
	}{
		{"empty symbol", true, SingleRequest{Symbol: "  "}, domain.ErrInvalidConfig},
		{"unknown symbol", true, SingleRequest{Symbol: "NOPE"}, domain.ErrNoPriceData},
		{"bad date", true, SingleRequest{Symbol: "AAPL", Parameters: parameters.Overrides{StartDate: strPtr("01/02/2024")}}, domain.ErrInvalidConfig},
		{"invalid parameters", true, SingleRequest{Symbol: "AAPL", Parameters: parameters.Overrides{GridIntervalPercent: floatPtr(0)}}, domain.ErrInvalidConfig},
		{"save without store", false, SingleRequest{Symbol: "AAPL", Save: true}, domain.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.withStore)
			_, err := svc.RunSingle(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRunSingle_RespectsWindow(t *testing.T) {
	svc := newTestService(t, false)

	resp, err := svc.RunSingle(context.Background(), SingleRequest{
		Symbol: "AAPL",
		Parameters: parameters.Overrides{
			StartDate: strPtr("2024-02-01"),
			EndDate:   strPtr("2024-03-31"),
		},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.RunID)
	assert.True(t, resp.Result.Window.Start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, resp.Result.Window.End.Equal(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))
}

func TestRunPortfolio(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()

	resp, err := svc.RunPortfolio(ctx, PortfolioRunRequest{
		PortfolioRequest: parameters.PortfolioRequest{
			Name:         "pair",
			TotalCapital: 50000,
			Stocks:       []parameters.StockRequest{{Symbol: "msft"}, {Symbol: "aapl"}},
		},
		Save: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Len(t, resp.Result.Stocks, 2)
	require.NotEmpty(t, resp.RunID)

	run, err := svc.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, results.KindPortfolio, run.Kind)
	assert.Equal(t, "pair", run.Label)
	assert.Equal(t, []string{"AAPL", "MSFT"}, run.Symbols)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportRun(ctx, resp.RunID, ExportRejected, &buf))
	assert.Equal(t, len(resp.Result.RejectedOrders)+1, csvLines(buf.String()))

	payload, err := svc.LoadRunPayload(ctx, run)
	require.NoError(t, err)
	stored, ok := payload.(*portfolio.Result)
	require.True(t, ok)
	assert.InDelta(t, 50000.0, stored.TotalCapital, 1e-9)
}

func TestRunPortfolio_Errors(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	_, err := svc.RunPortfolio(ctx, PortfolioRunRequest{
		PortfolioRequest: parameters.PortfolioRequest{TotalCapital: 0, Stocks: []parameters.StockRequest{{Symbol: "AAPL"}}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = svc.RunPortfolio(ctx, PortfolioRunRequest{
		PortfolioRequest: parameters.PortfolioRequest{TotalCapital: 10000, Stocks: []parameters.StockRequest{{Symbol: "ZZZ"}}},
	})
	assert.ErrorIs(t, err, domain.ErrNoPriceData)

	_, err = svc.RunPortfolio(ctx, PortfolioRunRequest{Config: "missing"})
	assert.ErrorIs(t, err, parameters.ErrPortfolioNotFound)
}

func TestRunBatch(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()

	var calls int32
	resp, err := svc.RunBatch(ctx, BatchRequest{
		Symbol: "AAPL",
		Grid: GridRequest{
			GridIntervalPercent: []float64{5, 10},
			ProfitRequirement:   []float64{3, 5},
		},
		Top:  2,
		Save: true,
	}, func(current, total int, message string) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)

	assert.Equal(t, 4, resp.Result.Combinations)
	assert.Len(t, resp.Result.Results, 2)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	require.NotNil(t, resp.Result.Best)
	assert.Equal(t, resp.Result.Results[0].Label, resp.Result.Best.Label)

	run, err := svc.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, results.KindBatch, run.Kind)
	assert.InDelta(t, resp.Result.Best.Summary.TotalReturn, run.TotalReturn, 1e-9)

	var buf bytes.Buffer
	err = svc.ExportRun(ctx, resp.RunID, ExportTransactions, &buf)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = svc.RunBatch(ctx, BatchRequest{Symbol: "AAPL", Grid: GridRequest{GridIntervalPercent: []float64{5}}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompare(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()

	resp, err := svc.Compare(ctx, CompareRequest{
		Symbol:     "MSFT",
		Parameters: parameters.Overrides{LotSizeUSD: floatPtr(5000)},
		Strategies: []StrategyRequest{
			{Name: "tight", Parameters: parameters.Overrides{GridIntervalPercent: floatPtr(5), ProfitRequirement: floatPtr(3)}},
			{Name: "wide", Parameters: parameters.Overrides{GridIntervalPercent: floatPtr(15), ProfitRequirement: floatPtr(10)}},
		},
		Save: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Result.Strategies, 2)
	assert.Contains(t, []string{"tight", "wide"}, resp.Result.Best)
	for _, s := range resp.Result.Strategies {
		assert.InDelta(t, 5000.0, s.Parameters.LotSizeUSD, 1e-9)
	}

	run, err := svc.GetRun(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, results.KindCompare, run.Kind)

	payload, err := svc.LoadRunPayload(ctx, run)
	require.NoError(t, err)
	stored, ok := payload.(*optimization.Comparison)
	require.True(t, ok)
	assert.Equal(t, resp.Result.Best, stored.Best)

	_, err = svc.Compare(ctx, CompareRequest{Symbol: "MSFT", Strategies: []StrategyRequest{{Name: "solo"}}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRuns_ListAndDelete(t *testing.T) {
	svc := newTestService(t, true)
	ctx := context.Background()

	first, err := svc.RunSingle(ctx, SingleRequest{Symbol: "AAPL", Save: true})
	require.NoError(t, err)
	_, err = svc.RunSingle(ctx, SingleRequest{Symbol: "MSFT", Save: true})
	require.NoError(t, err)

	runs, err := svc.ListRuns(ctx, results.KindSingle, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, svc.DeleteRun(ctx, first.RunID))
	_, err = svc.GetRun(ctx, first.RunID)
	assert.ErrorIs(t, err, results.ErrNotFound)
}

func TestRuns_WithoutStore(t *testing.T) {
	svc := newTestService(t, false)
	ctx := context.Background()

	runs, err := svc.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = svc.GetRun(ctx, "abc")
	assert.ErrorIs(t, err, results.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteRun(ctx, "abc"), results.ErrNotFound)
}

func TestGridRequest_Grid(t *testing.T) {
	g := GridRequest{
		GridIntervalPercent: []float64{5, 10},
		ProfitRequirement:   []float64{3},
		MomentumSell:        []bool{false, true},
		StopLossPercent:     []float64{20},
		LotSelection:        []string{"fifo", " highest_profit "},
	}.Grid()

	assert.InDeltaSlice(t, []float64{0.05, 0.10}, g.GridIntervals, 1e-12)
	assert.InDeltaSlice(t, []float64{0.03}, g.ProfitRequirements, 1e-12)
	assert.InDeltaSlice(t, []float64{0.20}, g.StopLoss, 1e-12)
	assert.Equal(t, []bool{false, true}, g.MomentumSell)
	assert.Equal(t, []domain.LotSelection{domain.LotSelectionFIFO, domain.LotSelectionHighestProfit}, g.LotSelection)
	assert.Nil(t, g.TrailingBuy)
	assert.Equal(t, 8, g.Size())
}

func TestDateBounds(t *testing.T) {
	a := testutil.Day(0)
	b := testutil.Day(10)

	assert.Equal(t, a, earliest(a, b))
	assert.Equal(t, a, earliest(b, a))
	assert.True(t, earliest(a, time.Time{}).IsZero())
	assert.Equal(t, b, latest(a, b))
	assert.True(t, latest(time.Time{}, b).IsZero())
	assert.Equal(t, "", dateString(time.Time{}))
	assert.Equal(t, "2024-01-12", dateString(b))
}
