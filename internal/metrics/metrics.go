// Package metrics records operational metrics of the engine through a small,
// backend-agnostic interface.
//
// A Recorder is owned by the runtime environment and handed to the parts
// that report: the example calculator, the caching proxy and the sinks. The
// zero Recorder and a nil *Recorder both discard everything, so callers never
// need to check whether metrics are configured. Concrete metric systems live
// in the prompush and datadog subpackages.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/size style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

// Metric names.
const (
	CalculationTotal    = "conduit_calculation_total"
	CalculationDuration = "conduit_calculation_duration_seconds"
	ExampleInputRows    = "conduit_example_input_rows"
	CacheFillTotal      = "conduit_cache_fill_total"
	CacheRowsTotal      = "conduit_cache_rows_total"
	RowsWrittenTotal    = "conduit_rows_written_total"
)

// Recorder reports engine events to a backend.
type Recorder struct {
	mu      sync.RWMutex
	backend Backend
}

// NewRecorder returns a Recorder reporting to b; nil b discards everything.
func NewRecorder(b Backend) *Recorder {
	return &Recorder{backend: b}
}

// SetBackend replaces the backend. Passing nil keeps the existing backend.
func (r *Recorder) SetBackend(b Backend) {
	if b == nil {
		return
	}
	r.mu.Lock()
	r.backend = b
	r.mu.Unlock()
}

func (r *Recorder) current() Backend {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend
}

// Flush delegates to the backend.
func (r *Recorder) Flush() error {
	if b := r.current(); b != nil {
		return b.Flush()
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordCalculation records one example or full calculation of a step kind.
// A cancelled calculation is reported with status "cancelled".
func (r *Recorder) RecordCalculation(kind string, cancelled bool, err error, d time.Duration) {
	b := r.current()
	if b == nil {
		return
	}
	s := status(err)
	if cancelled {
		s = "cancelled"
	}
	lbls := Labels{"kind": kind, "status": s}
	b.IncCounter(CalculationTotal, 1, lbls)
	b.ObserveHistogram(CalculationDuration, d.Seconds(), lbls)
}

// RecordExampleInputRows records the input row budget chosen for a preview.
func (r *Recorder) RecordExampleInputRows(kind string, rows int) {
	if b := r.current(); b != nil {
		b.ObserveHistogram(ExampleInputRows, float64(rows), Labels{"kind": kind})
	}
}

// RecordCacheFill records a finished cache fill and the rows it stored.
func (r *Recorder) RecordCacheFill(err error, rows int64) {
	b := r.current()
	if b == nil {
		return
	}
	b.IncCounter(CacheFillTotal, 1, Labels{"status": status(err)})
	if rows > 0 {
		b.IncCounter(CacheRowsTotal, float64(rows), nil)
	}
}

// RecordRowsWritten increments the rows written by a sink.
func (r *Recorder) RecordRowsWritten(sink string, rows int64) {
	if rows <= 0 {
		return
	}
	if b := r.current(); b != nil {
		b.IncCounter(RowsWrittenTotal, float64(rows), Labels{"sink": sink})
	}
}
