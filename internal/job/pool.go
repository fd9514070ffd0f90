package job

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of background tasks running at once.
type Pool struct {
	*semaphore.Weighted
	workers int
	wg      sync.WaitGroup
}

// NewPool returns a pool with the given number of workers; zero or less means
// one per CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{Weighted: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Go schedules fn without blocking the caller. If ctx ends before a worker
// slot frees up, fn is dropped and dropped, when not nil, runs instead
// without holding a slot.
func (p *Pool) Go(ctx context.Context, fn, dropped func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Acquire(ctx, 1); err != nil {
			if dropped != nil {
				dropped()
			}
			return
		}
		defer p.Release(1)
		fn()
	}()
}

// Wait blocks until every scheduled task has finished or been dropped.
func (p *Pool) Wait() { p.wg.Wait() }
