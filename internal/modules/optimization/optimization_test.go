package optimization

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
	testutil "github.com/aristath/dcabacktest/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{Label: fmt.Sprintf("job-%d", i), Symbol: "AAPL"}
	}
	return jobs
}

func echo(_ context.Context, job Job) (*backtest.Result, error) {
	return &backtest.Result{Symbol: job.Label}, nil
}

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name            string
		numWorkers      int
		expectedWorkers int
	}{
		{"positive workers", 5, 5},
		{"zero workers defaults to cpus", 0, runtime.NumCPU()},
		{"negative workers defaults to cpus", -1, runtime.NumCPU()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedWorkers, NewWorkerPool(tt.numWorkers).Size())
		})
	}
}

func TestRunBatch_PreservesOrder(t *testing.T) {
	pool := NewWorkerPool(4)
	jobs := labelJobs(25)

	outcomes, err := pool.RunBatch(context.Background(), jobs, echo, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 25)
	for i, out := range outcomes {
		require.NotNil(t, out.Result)
		assert.Equal(t, jobs[i].Label, out.Result.Symbol, "outcome %d should correspond to job %d", i, i)
	}
}

func TestRunBatch_Empty(t *testing.T) {
	outcomes, err := NewWorkerPool(2).RunBatch(context.Background(), nil, echo, nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestRunBatch_Progress(t *testing.T) {
	pool := NewWorkerPool(3)

	var mu sync.Mutex
	var currents []int
	progress := func(current, total int, message string) {
		mu.Lock()
		defer mu.Unlock()
		currents = append(currents, current)
		assert.Equal(t, 7, total)
		assert.Contains(t, message, "Backtested job-")
	}

	_, err := pool.RunBatch(context.Background(), labelJobs(7), echo, progress)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, currents)
}

func TestRunBatch_RecordsFailures(t *testing.T) {
	run := func(_ context.Context, job Job) (*backtest.Result, error) {
		if job.Label == "job-1" {
			return nil, errors.New("no data")
		}
		return &backtest.Result{Symbol: job.Label}, nil
	}

	outcomes, err := NewWorkerPool(2).RunBatch(context.Background(), labelJobs(3), run, nil)
	require.NoError(t, err)
	assert.Nil(t, outcomes[1].Result)
	assert.Equal(t, "no data", outcomes[1].Error)
	assert.NotNil(t, outcomes[2].Result)
}

func TestRunBatch_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	run := func(ctx context.Context, job Job) (*backtest.Result, error) {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return &backtest.Result{Symbol: job.Label}, nil
	}

	outcomes, err := NewWorkerPool(1).RunBatch(ctx, labelJobs(10), run, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, outcomes)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "jobs after cancellation are not run")
}

func TestGrid_Jobs(t *testing.T) {
	g := Grid{
		GridIntervals:      []float64{0.05, 0.10},
		ProfitRequirements: []float64{0.03, 0.07},
		MomentumSell:       []bool{false, true},
	}
	assert.Equal(t, 8, g.Size())

	jobs, err := g.Jobs("NVDA", testutil.NewParameterFixture())
	require.NoError(t, err)
	require.Len(t, jobs, 8)

	assert.Equal(t, "grid=5% profit=3% momentum_sell=false", jobs[0].Label)
	assert.Equal(t, "grid=5% profit=3% momentum_sell=true", jobs[1].Label)
	assert.Equal(t, "grid=5% profit=7% momentum_sell=false", jobs[2].Label)
	assert.Equal(t, "grid=10% profit=7% momentum_sell=true", jobs[7].Label)

	assert.InDelta(t, 0.10, jobs[7].Parameters.GridIntervalPercent, 1e-12)
	assert.InDelta(t, 0.07, jobs[7].Parameters.ProfitRequirement, 1e-12)
	assert.True(t, jobs[7].Parameters.MomentumSell)
	assert.Equal(t, "NVDA", jobs[7].Symbol)
	assert.Equal(t, 5, jobs[7].Parameters.MaxLots, "base values are kept")
}

func TestGrid_Errors(t *testing.T) {
	base := testutil.NewParameterFixture()

	_, err := Grid{GridIntervals: []float64{0.1}}.Jobs("A", base)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = Grid{GridIntervals: []float64{0.1, 1.5}, ProfitRequirements: []float64{0.05}}.Jobs("A", base)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	big := Grid{GridIntervals: make([]float64, 40), ProfitRequirements: make([]float64, 30)}
	_, err = big.Jobs("A", base)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func newOptimizer() *Optimizer {
	log := zerolog.Nop()
	return NewOptimizer(NewWorkerPool(4), backtest.NewSimulator(log), log)
}

func TestOptimizer_Sweep(t *testing.T) {
	bars := testutil.BarsFromCloses(testutil.RandomWalk(21, 100, 0.03, 300)...)
	grid := Grid{
		GridIntervals:      []float64{0.05, 0.10, 0.15},
		ProfitRequirements: []float64{0.03, 0.05, 0.07},
		MomentumSell:       []bool{false, true},
	}

	var calls int32
	res, err := newOptimizer().Sweep(context.Background(), "NVDA", bars, testutil.NewParameterFixture(), grid,
		func(current, total int, message string) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)

	assert.Equal(t, 18, res.Combinations)
	assert.Len(t, res.Results, 18)
	assert.Empty(t, res.Failures)
	assert.Equal(t, int32(18), atomic.LoadInt32(&calls))

	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].Summary.TotalReturn, res.Results[i].Summary.TotalReturn)
		assert.Equal(t, i+1, res.Results[i].Rank)
	}
	require.NotNil(t, res.Best)
	assert.Equal(t, res.Results[0].Label, res.Best.Label)
}

func TestOptimizer_SweepMatchesSingleRun(t *testing.T) {
	bars := testutil.BarsFromCloses(testutil.RandomWalk(5, 50, 0.02, 200)...)
	base := testutil.NewParameterFixture()
	grid := Grid{GridIntervals: []float64{0.08}, ProfitRequirements: []float64{0.04}}

	res, err := newOptimizer().Sweep(context.Background(), "AAPL", bars, base, grid, nil)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	p := base
	p.GridIntervalPercent, p.ProfitRequirement = 0.08, 0.04
	single, err := backtest.NewSimulator(zerolog.Nop()).Run("AAPL", bars, p)
	require.NoError(t, err)
	assert.Equal(t, single.Summary, res.Results[0].Summary)
}

func TestOptimizer_Compare(t *testing.T) {
	bars := testutil.BarsFromCloses(testutil.RandomWalk(9, 100, 0.025, 250)...)
	opt := newOptimizer()

	tight := testutil.NewParameterFixture()
	tight.GridIntervalPercent, tight.ProfitRequirement = 0.05, 0.03
	wide := testutil.NewParameterFixture()
	wide.GridIntervalPercent, wide.ProfitRequirement = 0.15, 0.10

	cmp, err := opt.Compare(context.Background(), "TSLA", bars, []Strategy{
		{Name: "tight", Parameters: tight},
		{Name: "wide", Parameters: wide},
	})
	require.NoError(t, err)
	require.Len(t, cmp.Strategies, 2)
	assert.Equal(t, "tight", cmp.Strategies[0].Name)

	best := cmp.Strategies[0]
	if cmp.Strategies[1].Summary.SharpeRatio > best.Summary.SharpeRatio {
		best = cmp.Strategies[1]
	}
	assert.Equal(t, best.Name, cmp.Best)
	assert.Contains(t, cmp.Reason, "Sharpe")
}

func TestOptimizer_CompareValidation(t *testing.T) {
	bars := testutil.BarsFromCloses(100, 101, 102)
	opt := newOptimizer()
	p := testutil.NewParameterFixture()

	_, err := opt.Compare(context.Background(), "A", bars, []Strategy{{Name: "only", Parameters: p}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	six := make([]Strategy, 6)
	for i := range six {
		six[i] = Strategy{Name: fmt.Sprint(i), Parameters: p}
	}
	_, err = opt.Compare(context.Background(), "A", bars, six)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = opt.Compare(context.Background(), "A", bars, []Strategy{{Name: "x", Parameters: p}, {Name: "x", Parameters: p}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
