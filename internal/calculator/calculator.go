// Package calculator computes the results of steps for display: either the
// full data, or a quick example whose input size is chosen from the step's
// performance history so previews stay within a time budget.
//
// A Calculator runs at most one calculation at a time. Starting a new one
// cancels the one in flight, which then reports StateCancelled and never a
// result.
package calculator

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log/level"

	"conduit/internal/data"
	"conduit/internal/job"
	"conduit/internal/metrics"
	"conduit/internal/step"
	"conduit/internal/value"
)

// State of a calculation.
type State uint8

const (
	StateIdle State = iota
	StateCalculating
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCalculating:
		return "calculating"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "idle"
}

// Resolver resolves steps; *step.Resolver implements it.
type Resolver interface {
	FullData(j *job.Job, s *step.Step) (data.Data, error)
	ExampleData(j *job.Job, s *step.Step, maxInputRows, maxOutputRows int) (*value.Raster, error)
}

// Result is the outcome of a calculation. Raster is set only on success.
type Result struct {
	Step     *step.Step
	Example  bool
	State    State
	Raster   *value.Raster
	Err      error
	Duration time.Duration
	// InputRows is the source row budget of the last example run.
	InputRows int
}

// Calculation is one calculation started by a Calculator.
type Calculation struct {
	step    *step.Step
	example bool
	job     *job.Job
	data    *job.Future[data.Data]
	raster  *job.Future[*value.Raster]
	done    chan struct{}
	// resolving is set once the raster computation waits on data.
	resolving atomic.Bool

	mu        sync.Mutex
	state     State
	inputRows int
	result    Result
}

// Step returns the step being calculated.
func (c *Calculation) Step() *step.Step { return c.step }

// State returns the current state.
func (c *Calculation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Data returns the façade over the full data of the step. It is resolved at
// most once per calculation.
func (c *Calculation) Data(j *job.Job) (data.Data, error) { return c.data.Get(j) }

// Progress returns the completed fraction of the calculation so far.
func (c *Calculation) Progress() float64 { return c.job.Progress() }

// Done is closed once the calculation has finished, failed or was cancelled.
func (c *Calculation) Done() <-chan struct{} { return c.done }

// Wait blocks until the calculation ends and returns its result. When j is
// cancelled first, the calculation keeps running and Wait returns a
// cancelled result.
func (c *Calculation) Wait(j *job.Job) Result {
	select {
	case <-c.done:
		return c.Result()
	case <-j.Done():
		return Result{Step: c.step, Example: c.example, State: StateCancelled, Err: job.ErrCancelled}
	}
}

// Result returns the result; it is only complete after Done is closed.
func (c *Calculation) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Cancel stops the calculation.
func (c *Calculation) Cancel() { c.job.Cancel() }

func (c *Calculation) setInputRows(n int) {
	c.mu.Lock()
	c.inputRows = n
	c.mu.Unlock()
}

// Calculator runs the calculations of one chain view.
type Calculator struct {
	resolver    Resolver
	settings    Settings
	performance *Performance
	metrics     *metrics.Recorder

	mu      sync.Mutex
	current *Calculation
}

// New returns a calculator. m may be nil.
func New(r Resolver, s Settings, m *metrics.Recorder) *Calculator {
	return &Calculator{resolver: r, settings: s, performance: NewPerformance(s.Window), metrics: m}
}

// Settings returns the calculator settings.
func (c *Calculator) Settings() Settings { return c.settings }

// Performance returns the step performance history.
func (c *Calculator) Performance() *Performance { return c.performance }

// Current returns the most recently started calculation, or nil.
func (c *Calculator) Current() *Calculation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Cancel cancels the calculation in flight, if any.
func (c *Calculator) Cancel() {
	if cur := c.Current(); cur != nil {
		cur.Cancel()
	}
}

// Calculate starts calculating the full or example result of s as a child
// of parent on parent's worker pool, cancelling the calculation in flight.
// onDone, when not nil, is called exactly once from the calculation's
// goroutine. Progress of the calculation propagates to parent.
func (c *Calculator) Calculate(parent *job.Job, s *step.Step, example bool, onDone func(Result)) *Calculation {
	j := parent.Child()
	calc := &Calculation{step: s, example: example, job: j, done: make(chan struct{}), state: StateCalculating}
	calc.data = job.NewFuture(j, func(j *job.Job) (data.Data, error) {
		return c.resolver.FullData(j, s)
	})
	calc.raster = job.NewFuture(j, func(j *job.Job) (*value.Raster, error) {
		if example {
			return c.example(j, calc)
		}
		calc.resolving.Store(true)
		d, err := calc.data.Join(j)
		if err != nil {
			return nil, err
		}
		return d.Raster(j)
	})

	c.mu.Lock()
	if prev := c.current; prev != nil {
		prev.Cancel()
	}
	c.current = calc
	c.mu.Unlock()

	// A calculation dropped by the pool still reports that it was cancelled.
	run := func() { c.run(calc, onDone) }
	j.Pool().Go(j.Context(), run, run)
	return calc
}

func (c *Calculator) run(calc *Calculation, onDone func(Result)) {
	start := time.Now()
	r, err := calc.raster.Join(calc.job)
	// Data may be computing on another worker; wait for it to stop so no
	// goroutine outlives the calculation.
	<-calc.raster.Done()
	if calc.resolving.Load() {
		<-calc.data.Done()
	}

	c.mu.Lock()
	superseded := c.current != calc
	c.mu.Unlock()

	res := Result{Step: calc.step, Example: calc.example, Duration: time.Since(start)}
	cancelled := superseded || calc.job.IsCancelled() || errors.Is(err, job.ErrCancelled)
	switch {
	case cancelled:
		res.State, res.Err = StateCancelled, job.ErrCancelled
	case err != nil:
		res.State, res.Err = StateFailed, err
	default:
		res.State, res.Raster = StateSucceeded, r
	}
	kind := calc.step.Transform.Kind()
	c.metrics.RecordCalculation(kind, cancelled, res.Err, res.Duration)
	level.Debug(calc.job.Logger()).Log("msg", "calculation finished", "kind", kind, "example", calc.example,
		"state", res.State, "duration", res.Duration, "err", res.Err)

	calc.mu.Lock()
	res.InputRows = calc.inputRows
	calc.state = res.State
	calc.result = res
	calc.mu.Unlock()
	close(calc.done)
	if onDone != nil {
		onDone(res)
	}
}

// example runs example calculations of calc's step, retrying with more input
// rows while runs come back empty and time is left. Every retry reads
// strictly more rows than the run before, up to the maximum, so the loop
// ends.
func (c *Calculator) example(j *job.Job, calc *Calculation) (*value.Raster, error) {
	s := calc.step
	budget := c.settings.TimeBudget
	prev := 0
	for {
		if err := j.Err(); err != nil {
			return nil, err
		}
		rows := c.settings.InputRows(c.performance.Record(s.ID), budget)
		if rows <= prev {
			rows = min(prev*2, c.settings.MaximumExampleInputRows)
		}
		calc.setInputRows(rows)
		c.metrics.RecordExampleInputRows(s.Transform.Kind(), rows)

		start := time.Now()
		r, err := c.resolver.ExampleData(j, s, rows, c.settings.DesiredExampleRows)
		elapsed := time.Since(start)
		if err != nil {
			return nil, err
		}
		c.performance.Add(s.ID, rows, r.RowCount(), elapsed)
		level.Debug(j.Logger()).Log("msg", "example calculated", "step", s.ID, "input_rows", rows,
			"output_rows", r.RowCount(), "elapsed", elapsed)

		if r.RowCount() > 0 || elapsed >= budget/2 || rows >= c.settings.MaximumExampleInputRows {
			return r, nil
		}
		budget -= elapsed
		prev = rows
	}
}
