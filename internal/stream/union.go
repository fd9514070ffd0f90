package stream

import (
	"errors"

	"conduit/internal/job"
	"conduit/internal/value"
)

// UnionColumns returns the schema of a union: the left columns followed by
// the right columns the left does not have.
func UnionColumns(left, right value.Columns) value.Columns {
	out := append(value.Columns{}, left...)
	for _, c := range right {
		if !out.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Union emits all rows of left, then all rows of right, under the union of
// both schemas. Cells a side has no column for are Empty.
func Union(left, right Stream) Stream {
	return &unionStream{left: left, right: right}
}

type unionStream struct {
	left, right Stream

	columns  value.Columns
	leftIdx  []int
	rightIdx []int
	onRight  bool
	done     bool
}

func (s *unionStream) prepare(j *job.Job) error {
	if s.columns != nil {
		return nil
	}
	l, err := s.left.Columns(j)
	if err != nil {
		return err
	}
	r, err := s.right.Columns(j)
	if err != nil {
		return err
	}
	cols := UnionColumns(l, r)
	s.leftIdx = positions(l, cols)
	s.rightIdx = positions(r, cols)
	s.columns = cols
	return nil
}

// positions maps each output column to its index in from, or -1.
func positions(from, to value.Columns) []int {
	idx := make([]int, len(to))
	for i, c := range to {
		idx[i] = from.IndexOf(c)
	}
	return idx
}

func remap(rows []value.Tuple, idx []int) []value.Tuple {
	out := make([]value.Tuple, len(rows))
	for r, in := range rows {
		t := make(value.Tuple, len(idx))
		for i, k := range idx {
			if k >= 0 {
				t[i] = in[k]
			}
		}
		out[r] = t
	}
	return out
}

func (s *unionStream) Columns(j *job.Job) (value.Columns, error) {
	if err := s.prepare(j); err != nil {
		return nil, err
	}
	return s.columns, nil
}

func (s *unionStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if err := s.prepare(j); err != nil {
		return nil, false, err
	}
	if s.done {
		return nil, false, nil
	}
	if !s.onRight {
		rows, more, err := s.left.Fetch(j)
		if err != nil {
			return nil, false, err
		}
		if !more {
			s.onRight = true
		}
		return remap(rows, s.leftIdx), true, nil
	}
	rows, more, err := s.right.Fetch(j)
	if err != nil {
		return nil, false, err
	}
	s.done = !more
	return remap(rows, s.rightIdx), more, nil
}

func (s *unionStream) Close() error {
	s.done = true
	return errors.Join(Close(s.left), Close(s.right))
}

func (s *unionStream) Clone() Stream {
	return Union(s.left.Clone(), s.right.Clone())
}
