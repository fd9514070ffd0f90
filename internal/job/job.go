// Package job provides the cancellable task context that is threaded through
// every blocking operation: streams, data façades, calculations and sinks.
//
// A Job wraps a context.Context together with a logger, the worker pool used
// for background work, and progress bookkeeping keyed by arbitrary comparable
// keys. Cancelling a job cancels all of its children.
package job

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log"
)

// ErrCancelled is returned by operations that stopped because their job was
// cancelled. It is an outcome, not a failure: callers should not report it to
// users as an error.
var ErrCancelled = errors.New("job cancelled")

// Job is a cancellable unit of work.
type Job struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger log.Logger
	pool   *Pool
	parent *Job

	mu       sync.Mutex
	progress map[any]float64
}

// New creates a root job. A nil pool gets a default-sized one, a nil logger
// discards everything.
func New(ctx context.Context, pool *Pool, logger log.Logger) *Job {
	if pool == nil {
		pool = NewPool(0)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Job{ctx: ctx, cancel: cancel, logger: logger, pool: pool}
}

// Background returns a root job on context.Background, mostly for tests.
func Background() *Job {
	return New(context.Background(), nil, nil)
}

// Child returns a job that is cancelled together with j but can also be
// cancelled on its own.
func (j *Job) Child() *Job {
	ctx, cancel := context.WithCancel(j.ctx)
	return &Job{ctx: ctx, cancel: cancel, logger: j.logger, pool: j.pool, parent: j}
}

// Context exposes the job as a context for APIs that take one.
func (j *Job) Context() context.Context { return j.ctx }

// Logger returns the job's structured logger.
func (j *Job) Logger() log.Logger { return j.logger }

// Pool returns the worker pool background work of this job runs on.
func (j *Job) Pool() *Pool { return j.pool }

// Cancel stops the job and all of its children.
func (j *Job) Cancel() { j.cancel() }

// Done is closed when the job is cancelled.
func (j *Job) Done() <-chan struct{} { return j.ctx.Done() }

// IsCancelled reports whether the job was cancelled.
func (j *Job) IsCancelled() bool { return j.ctx.Err() != nil }

// Err returns ErrCancelled once the job has been cancelled, nil otherwise.
func (j *Job) Err() error {
	if j.ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// Async runs fn on the job's worker pool. fn does not run when the job is
// cancelled before a worker becomes available.
func (j *Job) Async(fn func()) {
	j.pool.Go(j.ctx, fn, nil)
}

// ReportProgress records the completed fraction (0..1) of the part of the
// work identified by key. Progress propagates to the parent job.
func (j *Job) ReportProgress(key any, fraction float64) {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	j.mu.Lock()
	if j.progress == nil {
		j.progress = map[any]float64{}
	}
	j.progress[key] = fraction
	j.mu.Unlock()
	if j.parent != nil {
		j.parent.ReportProgress(j, j.Progress())
	}
}

// Progress returns the mean progress over all reported keys.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.progress) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range j.progress {
		total += p
	}
	return total / float64(len(j.progress))
}
