package stream

import (
	"strings"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/value"
)

// Grouping names the value of an expression that rows are grouped by.
type Grouping struct {
	Target     value.Column
	Expression expr.Expression
}

// Aggregation produces one output column by reducing the rows of a group.
type Aggregation struct {
	Target     value.Column
	Aggregator expr.Aggregator
}

// AggregateColumns returns the output schema of Aggregate.
func AggregateColumns(groups []Grouping, aggregations []Aggregation) (value.Columns, error) {
	cols := make(value.Columns, 0, len(groups)+len(aggregations))
	for _, g := range groups {
		cols = append(cols, g.Target)
	}
	for _, a := range aggregations {
		if !a.Aggregator.Reduce.IsReducer() {
			return nil, &value.SchemaError{Column: a.Target, Msg: a.Aggregator.Reduce.Name() + " cannot aggregate"}
		}
		cols = append(cols, a.Target)
	}
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	return cols, nil
}

// Aggregate groups rows by the grouping values and emits one row per group,
// in order of first appearance. Without groupings all rows form one group.
func Aggregate(source Stream, groups []Grouping, aggregations []Aggregation) Stream {
	return NewTransformStream(source, &aggregateTransformer{groups: groups, aggregations: aggregations})
}

type group struct {
	key  value.Tuple
	accs []expr.Accumulator
}

// groupIndex finds groups by key, keeping first-seen order.
type groupIndex struct {
	byHash map[uint64][]int
	groups []*group
}

func newGroupIndex() *groupIndex { return &groupIndex{byHash: map[uint64][]int{}} }

func (g *groupIndex) find(key value.Tuple, newAccs func() []expr.Accumulator) (*group, int) {
	h := key.Hash()
	for _, i := range g.byHash[h] {
		if groupKeyEqual(g.groups[i].key, key) {
			return g.groups[i], i
		}
	}
	grp := &group{key: key, accs: newAccs()}
	g.byHash[h] = append(g.byHash[h], len(g.groups))
	g.groups = append(g.groups, grp)
	return grp, len(g.groups) - 1
}

// groupKeyEqual is TupleEqual, except that Invalid keys group together.
func groupKeyEqual(a, b value.Tuple) bool {
	for i := range a {
		if a[i].IsInvalid() && b[i].IsInvalid() {
			continue
		}
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func newAccumulators(aggregations []Aggregation) func() []expr.Accumulator {
	return func() []expr.Accumulator {
		accs := make([]expr.Accumulator, len(aggregations))
		for i, a := range aggregations {
			accs[i] = expr.NewAccumulator(a.Aggregator.Reduce)
		}
		return accs
	}
}

type aggregateTransformer struct {
	groups       []Grouping
	aggregations []Aggregation

	source value.Columns
	keys   []expr.Expression
	maps   []expr.Expression
	index  *groupIndex
}

func (t *aggregateTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	cols, err := AggregateColumns(t.groups, t.aggregations)
	if err != nil {
		return nil, err
	}
	t.source = source
	t.keys = make([]expr.Expression, len(t.groups))
	for i, g := range t.groups {
		t.keys[i] = expr.Prepare(g.Expression)
	}
	t.maps = make([]expr.Expression, len(t.aggregations))
	for i, a := range t.aggregations {
		t.maps[i] = expr.Prepare(a.Aggregator.Map)
	}
	t.index = newGroupIndex()
	return cols, nil
}

func (t *aggregateTransformer) Transform(_ *job.Job, rows []value.Tuple, final bool) ([]value.Tuple, bool, error) {
	accs := newAccumulators(t.aggregations)
	for _, r := range rows {
		ctx := expr.Context{Row: value.Row{Columns: t.source, Values: r}}
		key := make(value.Tuple, len(t.keys))
		for i, k := range t.keys {
			key[i] = expr.Eval(k, ctx)
		}
		g, _ := t.index.find(key, accs)
		for i, m := range t.maps {
			g.accs[i].Add(expr.Eval(m, ctx))
		}
	}
	if !final {
		return nil, false, nil
	}
	if len(t.groups) == 0 && len(t.index.groups) == 0 {
		t.index.find(value.Tuple{}, accs)
	}
	out := make([]value.Tuple, len(t.index.groups))
	for i, g := range t.index.groups {
		row := make(value.Tuple, 0, len(g.key)+len(g.accs))
		row = append(row, g.key...)
		for _, a := range g.accs {
			row = append(row, a.Result())
		}
		out[i] = row
	}
	return out, true, nil
}

func (t *aggregateTransformer) Clone() Transformer {
	return &aggregateTransformer{groups: t.groups, aggregations: t.aggregations}
}

// Pivot is a cross-tabulation: one output row per distinct Rows key, one
// output column per distinct Columns key (and aggregation), and aggregated
// cells at the intersections.
type Pivot struct {
	Rows         []Grouping
	Columns      []Grouping
	Aggregations []Aggregation
}

// PivotStream evaluates a pivot. Its schema depends on the data, so the
// source is read completely before the first row or column is returned.
func PivotStream(source Stream, p Pivot) Stream {
	return NewMaterializeStream(source, func(j *job.Job, in *value.Raster) (*value.Raster, error) {
		return pivotRaster(j, in, p)
	})
}

func pivotRaster(j *job.Job, in *value.Raster, p Pivot) (*value.Raster, error) {
	if len(p.Aggregations) == 0 {
		return nil, &value.SchemaError{Msg: "pivot needs at least one aggregation"}
	}
	for _, a := range p.Aggregations {
		if !a.Aggregator.Reduce.IsReducer() {
			return nil, &value.SchemaError{Column: a.Target, Msg: a.Aggregator.Reduce.Name() + " cannot aggregate"}
		}
	}
	rowIndex, colIndex := newGroupIndex(), newGroupIndex()
	none := func() []expr.Accumulator { return nil }
	cells := map[[2]int][]expr.Accumulator{}
	accs := newAccumulators(p.Aggregations)

	rowKeyOf := func(ctx expr.Context, gs []Grouping) value.Tuple {
		k := make(value.Tuple, len(gs))
		for i, g := range gs {
			k[i] = expr.Eval(g.Expression, ctx)
		}
		return k
	}
	find := func(idx *groupIndex, key value.Tuple) int {
		_, i := idx.find(key, none)
		return i
	}

	for n, r := range in.Rows {
		if n%DefaultBatchSize == 0 {
			if err := j.Err(); err != nil {
				return nil, err
			}
		}
		ctx := expr.Context{Row: value.Row{Columns: in.Columns, Values: r}}
		ri := find(rowIndex, rowKeyOf(ctx, p.Rows))
		ci := find(colIndex, rowKeyOf(ctx, p.Columns))
		cell, ok := cells[[2]int{ri, ci}]
		if !ok {
			cell = accs()
			cells[[2]int{ri, ci}] = cell
		}
		for i, a := range p.Aggregations {
			cell[i].Add(expr.Eval(a.Aggregator.Map, ctx))
		}
	}

	cols := make(value.Columns, 0, len(p.Rows)+len(colIndex.groups)*len(p.Aggregations))
	for _, g := range p.Rows {
		cols = append(cols, g.Target)
	}
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	for _, cg := range colIndex.groups {
		parts := make([]string, len(cg.key))
		for i, v := range cg.key {
			parts[i] = v.String()
		}
		base := strings.Join(parts, "_")
		for _, a := range p.Aggregations {
			name := base
			if len(p.Aggregations) > 1 || base == "" {
				name = strings.TrimPrefix(base+"_"+string(a.Target), "_")
			}
			cols = append(cols, value.Unique(value.Column(name), cols))
		}
	}

	rows := make([]value.Tuple, len(rowIndex.groups))
	for ri, rg := range rowIndex.groups {
		row := make(value.Tuple, 0, len(cols))
		row = append(row, rg.key...)
		for ci := range colIndex.groups {
			cell, ok := cells[[2]int{ri, ci}]
			for i := range p.Aggregations {
				if ok {
					row = append(row, cell[i].Result())
				} else {
					row = append(row, value.Empty())
				}
			}
		}
		rows[ri] = row
	}
	return &value.Raster{Columns: cols, Rows: rows, ReadOnly: true}, nil
}
