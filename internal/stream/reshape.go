package stream

import (
	"slices"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/value"
)

// Order is one sort key.
type Order struct {
	Expression expr.Expression
	Ascending  bool
	// Numeric compares keys as numbers; keys that are not numbers sort last.
	Numeric bool
}

// Sort buffers the whole source and emits it ordered by the given keys. The
// sort is stable. Invalid keys always sort last, whatever the direction.
func Sort(source Stream, orders []Order) Stream {
	return NewTransformStream(source, &sortTransformer{orders: orders})
}

type sortTransformer struct {
	orders []Order

	source value.Columns
	keys   []expr.Expression
	rows   []sortItem
}

type sortItem struct {
	keys value.Tuple
	row  value.Tuple
}

func (t *sortTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	t.source = source
	t.keys = make([]expr.Expression, len(t.orders))
	for i, o := range t.orders {
		t.keys[i] = expr.Prepare(o.Expression)
	}
	return source, nil
}

func (t *sortTransformer) Transform(j *job.Job, rows []value.Tuple, final bool) ([]value.Tuple, bool, error) {
	for _, r := range rows {
		ctx := expr.Context{Row: value.Row{Columns: t.source, Values: r}}
		keys := make(value.Tuple, len(t.keys))
		for i, k := range t.keys {
			v := expr.Eval(k, ctx)
			if t.orders[i].Numeric {
				if f, ok := v.DoubleValue(); ok && !v.IsEmpty() {
					v = value.Double(f)
				} else {
					v = value.Invalid()
				}
			}
			keys[i] = v
		}
		t.rows = append(t.rows, sortItem{keys: keys, row: r})
	}
	if !final {
		return nil, false, nil
	}
	if err := j.Err(); err != nil {
		return nil, false, err
	}
	slices.SortStableFunc(t.rows, func(a, b sortItem) int {
		for i, o := range t.orders {
			if c := compareKeys(a.keys[i], b.keys[i], o.Ascending); c != 0 {
				return c
			}
		}
		return 0
	})
	out := make([]value.Tuple, len(t.rows))
	for i, it := range t.rows {
		out[i] = it.row
	}
	t.rows = nil
	return out, true, nil
}

func compareKeys(a, b value.Value, ascending bool) int {
	ai, bi := a.IsInvalid(), b.IsInvalid()
	switch {
	case ai && bi:
		return 0
	case ai:
		return 1
	case bi:
		return -1
	}
	c, _ := value.Compare(a, b)
	if !ascending {
		c = -c
	}
	return c
}

func (t *sortTransformer) Clone() Transformer { return &sortTransformer{orders: t.orders} }

// Flatten turns every cell into a row of its own. The output has a value
// column and, optionally, a column holding the name of the source column and
// a column identifying the source row.
type Flatten struct {
	ValueColumn         value.Column
	ColumnNameColumn    value.Column
	RowIdentifierColumn value.Column
	RowIdentifier       expr.Expression
}

// Columns returns the output schema of the flatten.
func (f Flatten) Columns() (value.Columns, error) {
	var cols value.Columns
	if f.RowIdentifierColumn != "" && f.RowIdentifier != nil {
		cols = append(cols, f.RowIdentifierColumn)
	}
	if f.ColumnNameColumn != "" {
		cols = append(cols, f.ColumnNameColumn)
	}
	cols = append(cols, f.ValueColumn)
	return cols, cols.Validate()
}

// FlattenStream flattens source row by row.
func FlattenStream(source Stream, f Flatten) Stream {
	return NewTransformStream(source, &flattenTransformer{def: f})
}

type flattenTransformer struct {
	def    Flatten
	source value.Columns
	rowID  expr.Expression
}

func (t *flattenTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	t.source = source
	if t.def.RowIdentifierColumn != "" && t.def.RowIdentifier != nil {
		t.rowID = expr.Prepare(t.def.RowIdentifier)
	}
	return t.def.Columns()
}

func (t *flattenTransformer) Transform(_ *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	out := make([]value.Tuple, 0, len(rows)*len(t.source))
	for _, r := range rows {
		var id value.Value
		if t.rowID != nil {
			id = expr.Eval(t.rowID, expr.Context{Row: value.Row{Columns: t.source, Values: r}})
		}
		for i, c := range t.source {
			o := make(value.Tuple, 0, 3)
			if t.rowID != nil {
				o = append(o, id)
			}
			if t.def.ColumnNameColumn != "" {
				o = append(o, value.String(string(c)))
			}
			out = append(out, append(o, r[i]))
		}
	}
	return out, false, nil
}

func (t *flattenTransformer) Clone() Transformer { return &flattenTransformer{def: t.def} }

// Transpose swaps rows and columns. The values of the first column become
// the new column names (made unique); the remaining column names become the
// values of the new first column.
func Transpose(source Stream) Stream {
	return NewMaterializeStream(source, func(_ *job.Job, in *value.Raster) (*value.Raster, error) {
		return transposeRaster(in), nil
	})
}

func transposeRaster(in *value.Raster) *value.Raster {
	if len(in.Columns) == 0 {
		return &value.Raster{ReadOnly: true}
	}
	names := make([]string, 0, len(in.Rows)+1)
	names = append(names, string(in.Columns[0]))
	for _, r := range in.Rows {
		names = append(names, r[0].String())
	}
	cols := value.Uniqued(names)

	rows := make([]value.Tuple, 0, len(in.Columns)-1)
	for ci := 1; ci < len(in.Columns); ci++ {
		row := make(value.Tuple, 0, len(cols))
		row = append(row, value.String(string(in.Columns[ci])))
		for _, r := range in.Rows {
			row = append(row, r[ci])
		}
		rows = append(rows, row)
	}
	return &value.Raster{Columns: cols, Rows: rows, ReadOnly: true}
}
