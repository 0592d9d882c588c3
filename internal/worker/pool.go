package worker

import (
	"context"
	"sync"
)

// Job is one unit of fan-out work, such as a single payout transfer
type Job interface {
	Execute(ctx context.Context) Result
}

// Result carries the outcome of a Job
type Result interface {
	GetError() error
}

// pool runs jobs on a fixed number of goroutines. Results arrive in
// completion order; Run restores job order.
type pool struct {
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func newPool(ctx context.Context, workers int) *pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &pool{
		jobs:    make(chan Job, workers),
		results: make(chan Result, workers),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	go func() {
		p.wg.Wait()
		close(p.results)
		p.cancel()
	}()
	return p
}

func (p *pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			// a job that ran always reports; Run drains results until close
			p.results <- job.Execute(p.ctx)
		}
	}
}

// submit queues a job. It returns false once the pool's context has ended.
func (p *pool) submit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// close stops accepting jobs; results close after the last worker exits
func (p *pool) close() {
	close(p.jobs)
}
