package step

import (
	"conduit/internal/expr"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// MergeOutcome tells what happens when a transform is placed directly after
// another one.
type MergeOutcome uint8

const (
	// MergeImpossible keeps both steps.
	MergeImpossible MergeOutcome = iota
	// MergePossible offers a merged step without applying it.
	MergePossible
	// MergeAdvised replaces both steps with the merged step.
	MergeAdvised
	// MergeCancels offers removing both steps. It is never applied: the
	// pair is only close to the identity (values of the first column come
	// back as text, duplicates come back uniqued).
	MergeCancels
)

func (o MergeOutcome) String() string {
	switch o {
	case MergePossible:
		return "possible"
	case MergeAdvised:
		return "advised"
	case MergeCancels:
		return "cancels"
	}
	return "impossible"
}

// MergeResult is the outcome of merging two adjacent transforms. Merged is
// set for MergePossible and MergeAdvised.
type MergeResult struct {
	Outcome MergeOutcome
	Merged  Transform
}

func impossible() MergeResult { return MergeResult{Outcome: MergeImpossible} }

func advised(t Transform) MergeResult { return MergeResult{Outcome: MergeAdvised, Merged: t} }

func possible(t Transform) MergeResult { return MergeResult{Outcome: MergePossible, Merged: t} }

// MergeTransforms decides whether next, placed right after prev, can be
// folded into one step. Merging only keeps step lists short; skipping it
// never changes results.
func MergeTransforms(prev, next Transform) MergeResult {
	switch p := prev.(type) {
	case Limit:
		if n, ok := next.(Limit); ok {
			return advised(Limit{N: min(p.N, n.N)})
		}
	case Offset:
		if n, ok := next.(Offset); ok {
			return advised(Offset{N: p.N + n.N})
		}
	case Random:
		if n, ok := next.(Random); ok {
			return advised(Random{N: min(p.N, n.N)})
		}
	case Distinct:
		if _, ok := next.(Distinct); ok {
			return advised(Distinct{})
		}
	case Transpose:
		if _, ok := next.(Transpose); ok {
			return MergeResult{Outcome: MergeCancels}
		}
	case Filter:
		if n, ok := next.(Filter); ok {
			return advised(Filter{Condition: expr.Conjunction(p.Condition, n.Condition)})
		}
	case Columns:
		if n, ok := next.(Columns); ok {
			return mergeColumns(p, n)
		}
	case Calculate:
		if n, ok := next.(Calculate); ok {
			return mergeCalculate(p, n)
		}
	case Sort:
		if n, ok := next.(Sort); ok {
			// A stable sort by B after a sort by A equals one sort by B, then A.
			orders := append(append([]stream.Order{}, n.Orders...), p.Orders...)
			return possible(Sort{Orders: orders})
		}
	}
	return impossible()
}

func mergeColumns(p, n Columns) MergeResult {
	switch {
	case p.Keep && n.Keep:
		var cols value.Columns
		for _, c := range n.Columns {
			if p.Columns.Contains(c) {
				cols = append(cols, c)
			}
		}
		return advised(Columns{Columns: cols, Keep: true})
	case !p.Keep && !n.Keep:
		cols := append(value.Columns{}, p.Columns...)
		for _, c := range n.Columns {
			if !cols.Contains(c) {
				cols = append(cols, c)
			}
		}
		return advised(Columns{Columns: cols})
	}
	return impossible()
}

// mergeCalculate folds two calculate steps. A single calculation that
// overwrites the column the previous one produced, without reading it,
// replaces it outright. Otherwise the calculations can run in one step when
// the second step does not read anything the first produced.
func mergeCalculate(p, n Calculate) MergeResult {
	if len(p.Calculations) == 1 && len(n.Calculations) == 1 && p.Insertion == n.Insertion {
		pc, nc := p.Calculations[0], n.Calculations[0]
		if pc.Target == nc.Target && !expr.DependsOn(nc.Formula, pc.Target) {
			return advised(n)
		}
	}
	if p.Insertion != n.Insertion {
		return impossible()
	}
	for _, nc := range n.Calculations {
		for _, pc := range p.Calculations {
			if expr.DependsOn(nc.Formula, pc.Target) || nc.Target == pc.Target {
				return impossible()
			}
		}
	}
	calcs := append(append([]stream.Calculation{}, p.Calculations...), n.Calculations...)
	return possible(Calculate{Calculations: calcs, Insertion: p.Insertion})
}
