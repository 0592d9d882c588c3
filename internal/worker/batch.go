package worker

import (
	"context"
	"fmt"
)

// Func adapts a function to Job
type Func func(ctx context.Context) error

// Execute runs the function
func (f Func) Execute(ctx context.Context) Result {
	return &errResult{err: f(ctx)}
}

type errResult struct {
	err error
}

func (r *errResult) GetError() error {
	return r.err
}

type indexedJob struct {
	index int
	job   Job
}

type indexedResult struct {
	index  int
	result Result
}

func (r *indexedResult) GetError() error {
	if r.result == nil {
		return nil
	}
	return r.result.GetError()
}

func (j *indexedJob) Execute(ctx context.Context) Result {
	return &indexedResult{index: j.index, result: j.job.Execute(ctx)}
}

// Run executes jobs on a pool of the given size and returns results in job
// order. Jobs that never ran because ctx ended get a result carrying ctx.Err().
func Run(ctx context.Context, workers int, jobs []Job) []Result {
	out := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return out
	}
	if err := ctx.Err(); err != nil {
		for i := range out {
			out[i] = &errResult{err: err}
		}
		return out
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	p := newPool(ctx, workers)

	go func() {
		defer p.close()
		for i, job := range jobs {
			if !p.submit(&indexedJob{index: i, job: job}) {
				return
			}
		}
	}()

	for r := range p.results {
		ir := r.(*indexedResult)
		out[ir.index] = ir.result
	}

	for i := range out {
		if out[i] == nil {
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("job %d did not run", i)
			}
			out[i] = &errResult{err: err}
		}
	}
	return out
}

// FirstError returns the first non-nil error among results
func FirstError(results []Result) error {
	for _, r := range results {
		if r != nil && r.GetError() != nil {
			return r.GetError()
		}
	}
	return nil
}
