package stream

import (
	"math/rand/v2"
	"slices"
	"sync"

	"conduit/internal/job"
	"conduit/internal/value"
)

// RasterStream streams an in-memory raster.
type RasterStream struct {
	raster *value.Raster
	pos    int
}

// NewRasterStream streams r. The raster must not be modified afterwards.
func NewRasterStream(r *value.Raster) *RasterStream {
	return &RasterStream{raster: r}
}

func (s *RasterStream) Columns(*job.Job) (value.Columns, error) { return s.raster.Columns, nil }

func (s *RasterStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if err := j.Err(); err != nil {
		return nil, false, err
	}
	end := min(s.pos+DefaultBatchSize, len(s.raster.Rows))
	rows := s.raster.Rows[s.pos:end]
	s.pos = end
	return rows, s.pos < len(s.raster.Rows), nil
}

func (s *RasterStream) Clone() Stream { return NewRasterStream(s.raster) }

// Iterator yields rows one at a time. ok=false ends the iteration.
type Iterator interface {
	Next(j *job.Job) (row value.Tuple, ok bool, err error)
	Close() error
}

// Opener starts a fresh iteration over a row source.
type Opener func(j *job.Job) (Iterator, error)

// SequenceStream batches rows from an Iterator. The iterator is opened on the
// first Fetch, and each clone opens its own.
type SequenceStream struct {
	columns value.Columns
	open    Opener

	it   Iterator
	done bool
}

// NewSequenceStream creates a stream over the iterations produced by open.
// The schema must be known up front.
func NewSequenceStream(columns value.Columns, open Opener) *SequenceStream {
	return &SequenceStream{columns: columns, open: open}
}

func (s *SequenceStream) Columns(*job.Job) (value.Columns, error) { return s.columns, nil }

func (s *SequenceStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if s.it == nil {
		it, err := s.open(j)
		if err != nil {
			s.done = true
			return nil, false, err
		}
		s.it = it
	}
	rows := make([]value.Tuple, 0, 64)
	for len(rows) < DefaultBatchSize {
		if err := j.Err(); err != nil {
			s.finish()
			return nil, false, err
		}
		row, ok, err := s.it.Next(j)
		if err != nil {
			s.finish()
			return nil, false, err
		}
		if !ok {
			s.finish()
			return rows, false, nil
		}
		rows = append(rows, row)
	}
	return rows, true, nil
}

func (s *SequenceStream) finish() error {
	s.done = true
	if s.it == nil {
		return nil
	}
	it := s.it
	s.it = nil
	return it.Close()
}

func (s *SequenceStream) Close() error { return s.finish() }

func (s *SequenceStream) Clone() Stream { return NewSequenceStream(s.columns, s.open) }

// IteratorFunc adapts a function with no cleanup to an Iterator.
type IteratorFunc func(j *job.Job) (value.Tuple, bool, error)

func (f IteratorFunc) Next(j *job.Job) (value.Tuple, bool, error) { return f(j) }
func (f IteratorFunc) Close() error                               { return nil }

// NewCounterStream generates the integers from, from+step, ... up to and
// including to in a single column.
func NewCounterStream(column value.Column, from, to, step int64) *SequenceStream {
	return NewSequenceStream(value.Columns{column}, func(*job.Job) (Iterator, error) {
		next := from
		return IteratorFunc(func(*job.Job) (value.Tuple, bool, error) {
			if step == 0 || (step > 0 && next > to) || (step < 0 && next < to) {
				return nil, false, nil
			}
			v := next
			next += step
			return value.Tuple{value.Int(v)}, true, nil
		}), nil
	})
}

// ErrorStream fails every call with the same error.
type ErrorStream struct{ Err error }

func (s ErrorStream) Columns(*job.Job) (value.Columns, error)     { return nil, s.Err }
func (s ErrorStream) Fetch(*job.Job) ([]value.Tuple, bool, error) { return nil, false, s.Err }
func (s ErrorStream) Clone() Stream                               { return s }

// EmptyStream has a schema but no rows.
type EmptyStream struct{ Schema value.Columns }

func (s EmptyStream) Columns(*job.Job) (value.Columns, error)     { return s.Schema, nil }
func (s EmptyStream) Fetch(*job.Job) ([]value.Tuple, bool, error) { return nil, false, nil }
func (s EmptyStream) Clone() Stream                               { return s }

// SampleStream streams a uniform random sample, without replacement, of an
// in-memory raster. Clones replay the same sample.
type SampleStream struct {
	raster *value.Raster
	n      int
	seed   uint64

	once  sync.Once
	inner *RasterStream
}

// NewSampleStream samples at most n rows of r.
func NewSampleStream(r *value.Raster, n int) *SampleStream {
	return &SampleStream{raster: r, n: n, seed: rand.Uint64()}
}

func (s *SampleStream) Columns(*job.Job) (value.Columns, error) { return s.raster.Columns, nil }

func (s *SampleStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	s.once.Do(func() {
		s.inner = NewRasterStream(&value.Raster{
			Columns:  s.raster.Columns,
			Rows:     sampleRows(s.raster.Rows, s.n, rand.New(rand.NewPCG(s.seed, s.seed))),
			ReadOnly: true,
		})
	})
	return s.inner.Fetch(j)
}

func (s *SampleStream) Clone() Stream {
	return &SampleStream{raster: s.raster, n: s.n, seed: s.seed}
}

// sampleRows picks n rows with a partial Fisher-Yates shuffle over indices,
// then restores source order.
func sampleRows(rows []value.Tuple, n int, rng *rand.Rand) []value.Tuple {
	if n >= len(rows) {
		return rows
	}
	if n <= 0 {
		return nil
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < n; i++ {
		k := i + rng.IntN(len(idx)-i)
		idx[i], idx[k] = idx[k], idx[i]
	}
	picked := idx[:n]
	slices.Sort(picked)
	out := make([]value.Tuple, n)
	for i, k := range picked {
		out[i] = rows[k]
	}
	return out
}
