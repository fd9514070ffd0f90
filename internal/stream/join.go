package stream

import (
	"errors"
	"fmt"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/value"
)

// JoinType selects which left rows survive a join.
type JoinType uint8

const (
	// InnerJoin keeps only left rows with at least one matching right row.
	InnerJoin JoinType = iota
	// LeftJoin also keeps unmatched left rows, with Empty right columns.
	LeftJoin
)

func (t JoinType) String() string {
	if t == LeftJoin {
		return "left"
	}
	return "inner"
}

// ParseJoinType accepts "inner" and "left".
func ParseJoinType(s string) (JoinType, error) {
	switch s {
	case "", "inner":
		return InnerJoin, nil
	case "left", "left_outer":
		return LeftJoin, nil
	}
	return 0, fmt.Errorf("unknown join type %q", s)
}

// Join describes how to combine two datasets. The condition sees the left row
// as siblings ([@col]) and the right row as foreign ([#col]).
type Join struct {
	Type      JoinType
	Condition expr.Expression
}

// EquiJoinColumns recognizes conditions of the form [@a] = [#b] (either way
// round), which can be answered with a hash lookup.
func EquiJoinColumns(condition expr.Expression) (sibling, foreign value.Column, ok bool) {
	b, isBinary := condition.(expr.Binary)
	if !isBinary || b.Op != expr.Equals {
		return "", "", false
	}
	if s, ok := b.Left.(expr.Sibling); ok {
		if f, ok := b.Right.(expr.Foreign); ok {
			return s.Column, f.Column, true
		}
	}
	if f, ok := b.Left.(expr.Foreign); ok {
		if s, ok := b.Right.(expr.Sibling); ok {
			return s.Column, f.Column, true
		}
	}
	return "", "", false
}

// JoinColumns returns the joined schema: all left columns, then the right
// columns whose names the left side does not already use.
func JoinColumns(left, right value.Columns) (value.Columns, []int) {
	out := append(value.Columns{}, left...)
	var keep []int
	for i, c := range right {
		if !left.Contains(c) {
			out = append(out, c)
			keep = append(keep, i)
		}
	}
	return out, keep
}

// JoinStreams joins left with right. The right side is read completely on
// the first Fetch; the left side is streamed.
func JoinStreams(left, right Stream, join Join) Stream {
	return &joinStream{left: left, right: right, join: join}
}

type joinStream struct {
	left, right Stream
	join        Join

	columns   value.Columns
	leftCols  value.Columns
	rightCols value.Columns
	rightKeep []int

	rightRows []value.Tuple
	index     map[uint64][]int
	sibling   value.Column
	foreign   value.Column
	loaded    bool
	condition expr.Expression
}

func (s *joinStream) prepare(j *job.Job) error {
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
	s.leftCols, s.rightCols = l, r
	s.columns, s.rightKeep = JoinColumns(l, r)
	s.condition = expr.Prepare(s.join.Condition)
	return nil
}

func (s *joinStream) load(j *job.Job) error {
	if s.loaded {
		return nil
	}
	raster, err := Collect(j, s.right, -1)
	if err != nil {
		return err
	}
	s.rightRows = raster.Rows
	if sib, fgn, ok := EquiJoinColumns(s.condition); ok && s.leftCols.Contains(sib) && s.rightCols.Contains(fgn) {
		s.sibling, s.foreign = sib, fgn
		k := s.rightCols.IndexOf(fgn)
		s.index = make(map[uint64][]int, len(s.rightRows))
		for i, r := range s.rightRows {
			if r[k].IsInvalid() {
				continue
			}
			h := r[k].Hash()
			s.index[h] = append(s.index[h], i)
		}
	}
	s.loaded = true
	return nil
}

func (s *joinStream) Columns(j *job.Job) (value.Columns, error) {
	if err := s.prepare(j); err != nil {
		return nil, err
	}
	return s.columns, nil
}

func (s *joinStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if err := s.prepare(j); err != nil {
		return nil, false, err
	}
	if err := s.load(j); err != nil {
		return nil, false, err
	}
	rows, more, err := s.left.Fetch(j)
	if err != nil {
		return nil, false, err
	}
	var out []value.Tuple
	for _, l := range rows {
		matched := false
		for _, ri := range s.matches(l) {
			out = append(out, s.combine(l, s.rightRows[ri]))
			matched = true
		}
		if !matched && s.join.Type == LeftJoin {
			out = append(out, s.combine(l, nil))
		}
	}
	return out, more, nil
}

func (s *joinStream) matches(l value.Tuple) []int {
	leftRow := value.Row{Columns: s.leftCols, Values: l}
	if s.index != nil {
		v := leftRow.Get(s.sibling)
		if v.IsInvalid() {
			return nil
		}
		k := s.rightCols.IndexOf(s.foreign)
		var out []int
		for _, ri := range s.index[v.Hash()] {
			if v.Equal(s.rightRows[ri][k]) {
				out = append(out, ri)
			}
		}
		return out
	}
	var out []int
	for ri, r := range s.rightRows {
		ctx := expr.Context{Row: leftRow, Foreign: value.Row{Columns: s.rightCols, Values: r}}
		if expr.Eval(s.condition, ctx).IsTrue() {
			out = append(out, ri)
		}
	}
	return out
}

func (s *joinStream) combine(l, r value.Tuple) value.Tuple {
	out := make(value.Tuple, len(s.columns))
	copy(out, l)
	if r != nil {
		for i, k := range s.rightKeep {
			out[len(l)+i] = r[k]
		}
	}
	return out
}

func (s *joinStream) Close() error {
	if !s.loaded {
		return errors.Join(Close(s.left), Close(s.right))
	}
	return Close(s.left)
}

func (s *joinStream) Clone() Stream {
	return JoinStreams(s.left.Clone(), s.right.Clone(), s.join)
}
