package job

import (
	"sync"
	"sync/atomic"
)

// Future is a lazily started, single-flight computation. The first Get
// schedules it on the job's worker pool, on its own child job; later calls
// wait for the same result.
type Future[T any] struct {
	job     *Job
	fn      func(*Job) (T, error)
	once    sync.Once
	claimed atomic.Bool
	done    chan struct{}
	val     T
	err     error
}

// NewFuture prepares fn to run as a child of parent. Cancelling parent
// cancels the computation.
func NewFuture[T any](parent *Job, fn func(*Job) (T, error)) *Future[T] {
	return &Future[T]{job: parent.Child(), fn: fn, done: make(chan struct{})}
}

func (f *Future[T]) start() {
	f.once.Do(func() {
		f.job.pool.Go(f.job.ctx, f.run, f.abandon)
	})
}

// run computes the value unless another goroutine claimed the computation.
func (f *Future[T]) run() {
	if !f.claimed.CompareAndSwap(false, true) {
		return
	}
	defer close(f.done)
	if err := f.job.Err(); err != nil {
		f.err = err
		return
	}
	v, err := f.fn(f.job)
	if f.job.IsCancelled() {
		f.err = ErrCancelled
		return
	}
	f.val, f.err = v, err
}

// abandon settles a computation the pool dropped before it ran.
func (f *Future[T]) abandon() {
	if !f.claimed.CompareAndSwap(false, true) {
		return
	}
	f.err = ErrCancelled
	close(f.done)
}

func (f *Future[T]) wait(j *Job) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-j.Done():
		var zero T
		return zero, ErrCancelled
	}
}

// Get starts the computation if needed and waits for its result, or for
// j to be cancelled. A cancelled computation never yields a value.
func (f *Future[T]) Get(j *Job) (T, error) {
	f.start()
	return f.wait(j)
}

// Join is Get for callers that already hold a worker slot, such as another
// future: when no worker has picked the computation up yet, it runs on the
// calling goroutine instead of waiting for a second slot.
func (f *Future[T]) Join(j *Job) (T, error) {
	f.run()
	return f.wait(j)
}

// Done is closed once the computation has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel stops the computation. Waiting callers receive ErrCancelled.
func (f *Future[T]) Cancel() { f.job.Cancel() }

// Cancelled reports whether Cancel was called or the parent job ended.
func (f *Future[T]) Cancelled() bool { return f.job.IsCancelled() }
