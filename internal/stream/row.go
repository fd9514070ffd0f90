package stream

import (
	"fmt"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/value"
)

// Filter keeps the rows for which condition evaluates to Bool(true). Any
// other result, Invalid included, drops the row.
func Filter(source Stream, condition expr.Expression) Stream {
	return NewTransformStream(source, newFilterTransformer(condition))
}

func newFilterTransformer(condition expr.Expression) Transformer {
	t := &rowTransformer{clone: func() Transformer { return newFilterTransformer(condition) }}
	var cols value.Columns
	prepared := expr.Prepare(condition)
	t.prepare = func(_ *job.Job, source value.Columns) (value.Columns, error) {
		cols = source
		return source, nil
	}
	t.row = func(in value.Tuple) (value.Tuple, bool) {
		return in, expr.Eval(prepared, expr.Context{Row: value.Row{Columns: cols, Values: in}}).IsTrue()
	}
	return t
}

// Limit emits at most n rows and then ends, whatever upstream has left.
func Limit(source Stream, n int) Stream {
	return NewTransformStream(source, &limitTransformer{limit: n})
}

type limitTransformer struct {
	limit, seen int
}

func (t *limitTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	return source, nil
}

func (t *limitTransformer) Transform(_ *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	left := t.limit - t.seen
	if left <= 0 {
		return nil, true, nil
	}
	if len(rows) >= left {
		t.seen = t.limit
		return rows[:left], true, nil
	}
	t.seen += len(rows)
	return rows, false, nil
}

func (t *limitTransformer) Clone() Transformer { return &limitTransformer{limit: t.limit} }

// Offset skips the first n rows.
func Offset(source Stream, n int) Stream {
	return NewTransformStream(source, &offsetTransformer{offset: n})
}

type offsetTransformer struct {
	offset, skipped int
}

func (t *offsetTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	return source, nil
}

func (t *offsetTransformer) Transform(_ *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	skip := min(t.offset-t.skipped, len(rows))
	t.skipped += skip
	return rows[skip:], false, nil
}

func (t *offsetTransformer) Clone() Transformer { return &offsetTransformer{offset: t.offset} }

// SelectColumns projects the stream. With keep=true the output holds the
// listed columns in the listed order; otherwise the listed columns are
// removed. Names the source does not have are ignored.
func SelectColumns(source Stream, columns value.Columns, keep bool) Stream {
	return NewTransformStream(source, newColumnsTransformer(columns, keep))
}

// ProjectColumns computes the output schema and source positions of a
// projection; shared with SQL translation.
func ProjectColumns(source, columns value.Columns, keep bool) (value.Columns, []int) {
	var out value.Columns
	var idx []int
	if keep {
		seen := map[value.Column]bool{}
		for _, c := range columns {
			if i := source.IndexOf(c); i >= 0 && !seen[c] {
				seen[c] = true
				out = append(out, c)
				idx = append(idx, i)
			}
		}
		return out, idx
	}
	for i, c := range source {
		if !columns.Contains(c) {
			out = append(out, c)
			idx = append(idx, i)
		}
	}
	return out, idx
}

func newColumnsTransformer(columns value.Columns, keep bool) Transformer {
	t := &rowTransformer{clone: func() Transformer { return newColumnsTransformer(columns, keep) }}
	var idx []int
	t.prepare = func(_ *job.Job, source value.Columns) (value.Columns, error) {
		var out value.Columns
		out, idx = ProjectColumns(source, columns, keep)
		return out, nil
	}
	t.row = func(in value.Tuple) (value.Tuple, bool) {
		out := make(value.Tuple, len(idx))
		for i, k := range idx {
			out[i] = in[k]
		}
		return out, true
	}
	return t
}

// Calculation derives one column.
type Calculation struct {
	Target  value.Column
	Formula expr.Expression
}

// Insertion places newly created columns relative to an existing one. An
// empty Relative column (or one that does not exist) appends at the end.
type Insertion struct {
	Relative value.Column
	Before   bool
}

// Calculate evaluates calculations in order for every row. A calculation may
// read columns produced by the ones before it. Existing targets are
// overwritten in place; new targets are appended, or placed according to
// insert.
func Calculate(source Stream, calculations []Calculation, insert Insertion) Stream {
	return NewTransformStream(source, newCalculateTransformer(calculations, insert))
}

// CalculatedColumns returns the working schema (source plus new targets, in
// creation order) and the output order as indexes into it.
func CalculatedColumns(source value.Columns, calculations []Calculation, insert Insertion) (working value.Columns, order []int, targets []int, err error) {
	working = append(value.Columns{}, source...)
	targets = make([]int, len(calculations))
	for i, c := range calculations {
		if c.Target == "" {
			return nil, nil, nil, &value.SchemaError{Msg: fmt.Sprintf("calculation %d has no target column", i+1)}
		}
		k := working.IndexOf(c.Target)
		if k < 0 {
			working = append(working, c.Target)
			k = len(working) - 1
		}
		targets[i] = k
	}

	order = make([]int, 0, len(working))
	anchor := -1
	if insert.Relative != "" {
		anchor = source.IndexOf(insert.Relative)
	}
	if anchor < 0 || len(working) == len(source) {
		for i := range working {
			order = append(order, i)
		}
		return working, order, targets, nil
	}
	for i := range source {
		if i == anchor && insert.Before {
			for k := len(source); k < len(working); k++ {
				order = append(order, k)
			}
		}
		order = append(order, i)
		if i == anchor && !insert.Before {
			for k := len(source); k < len(working); k++ {
				order = append(order, k)
			}
		}
	}
	return working, order, targets, nil
}

type calculateTransformer struct {
	calculations []Calculation
	insert       Insertion

	formulas []expr.Expression
	working  value.Columns
	order    []int
	targets  []int
	width    int
}

func newCalculateTransformer(calculations []Calculation, insert Insertion) *calculateTransformer {
	return &calculateTransformer{calculations: calculations, insert: insert}
}

func (t *calculateTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	working, order, targets, err := CalculatedColumns(source, t.calculations, t.insert)
	if err != nil {
		return nil, err
	}
	t.working, t.order, t.targets, t.width = working, order, targets, len(source)
	t.formulas = make([]expr.Expression, len(t.calculations))
	for i, c := range t.calculations {
		t.formulas[i] = expr.Prepare(c.Formula)
	}
	out := make(value.Columns, len(order))
	for i, k := range order {
		out[i] = working[k]
	}
	return out, nil
}

func (t *calculateTransformer) Transform(_ *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	out := make([]value.Tuple, len(rows))
	for r, in := range rows {
		tmp := make(value.Tuple, len(t.working))
		copy(tmp, in[:t.width])
		row := value.Row{Columns: t.working, Values: tmp}
		for i, f := range t.formulas {
			tmp[t.targets[i]] = expr.Eval(f, expr.Context{Row: row, Input: tmp[t.targets[i]]})
		}
		res := make(value.Tuple, len(t.order))
		for i, k := range t.order {
			res[i] = tmp[k]
		}
		out[r] = res
	}
	return out, false, nil
}

func (t *calculateTransformer) Clone() Transformer {
	return newCalculateTransformer(t.calculations, t.insert)
}
