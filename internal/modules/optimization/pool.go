package optimization

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/aristath/dcabacktest/internal/domain"
	"github.com/aristath/dcabacktest/internal/modules/backtest"
)

// ProgressFunc is called once per completed job. current counts completed
// jobs, so calls may arrive in any job order but current only increases.
type ProgressFunc func(current, total int, message string)

// RunFunc executes one job
type RunFunc func(ctx context.Context, job Job) (*backtest.Result, error)

// Job is one parameter combination to backtest
type Job struct {
	Label      string            `json:"label"`
	Symbol     string            `json:"symbol"`
	Parameters domain.Parameters `json:"parameters"`
}

// Outcome is the result of one job. A failed job carries Error and no Result.
type Outcome struct {
	Job    Job              `json:"job"`
	Result *backtest.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// WorkerPool manages a pool of worker goroutines for parallel backtests
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a new worker pool. Non-positive sizes default to
// the number of CPUs.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		numWorkers: numWorkers,
	}
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

// RunBatch runs every job and returns the outcomes in input order.
// Job failures are recorded in their Outcome. Cancelling ctx stops the
// batch; partial outcomes are discarded and ctx.Err() is returned.
func (wp *WorkerPool) RunBatch(ctx context.Context, jobs []Job, run RunFunc, progress ProgressFunc) ([]Outcome, error) {
	numJobs := len(jobs)
	if numJobs == 0 {
		return []Outcome{}, nil
	}

	jobCh := make(chan jobItem, numJobs)
	results := make(chan resultItem, numJobs)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numJobs < numActualWorkers {
		numActualWorkers = numJobs
	}
	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobCh, results, run)
		}()
	}

	for idx, job := range jobs {
		jobCh <- jobItem{index: idx, job: job}
	}
	close(jobCh)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, numJobs)
	completed := 0
	for result := range results {
		outcomes[result.index] = result.outcome
		completed++
		if progress != nil && ctx.Err() == nil {
			progress(completed, numJobs, fmt.Sprintf("Backtested %s", result.outcome.Job.Label))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// jobItem represents a single backtest job
type jobItem struct {
	index int
	job   Job
}

// resultItem represents the result of a backtest job
type resultItem struct {
	index   int
	outcome Outcome
}

// worker is the worker goroutine that processes backtest jobs
func worker(ctx context.Context, jobs <-chan jobItem, results chan<- resultItem, run RunFunc) {
	for item := range jobs {
		outcome := Outcome{Job: item.job}
		if err := ctx.Err(); err != nil {
			outcome.Error = err.Error()
		} else if res, err := run(ctx, item.job); err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Result = res
		}
		results <- resultItem{index: item.index, outcome: outcome}
	}
}
