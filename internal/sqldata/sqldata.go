package sqldata

import (
	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// SQLData is a Data backed by a query. Operations are translated into the
// query when the dialect can express them; otherwise they run client-side
// over the query's rows.
type SQLData struct {
	db       Database
	fragment Fragment
	columns  value.Columns
}

var (
	_ data.Data      = (*SQLData)(nil)
	_ data.Explainer = (*SQLData)(nil)
)

// New returns the data of a whole table with the given columns.
func New(db Database, table string, columns value.Columns) *SQLData {
	return &SQLData{db: db, fragment: NewFragment(db.Dialect(), table), columns: columns}
}

// Database returns the database the data lives in.
func (d *SQLData) Database() Database { return d.db }

// Explain returns the query that produces the data.
func (d *SQLData) Explain() string { return d.fragment.SQL() }

func (d *SQLData) Columns(*job.Job) (value.Columns, error) { return d.columns, nil }

func (d *SQLData) Raster(j *job.Job) (*value.Raster, error) {
	return stream.Collect(j, d.Stream(), -1)
}

func (d *SQLData) Stream() stream.Stream {
	return NewQueryStream(d.db, d.fragment.SQL(), d.columns)
}

func (d *SQLData) with(f Fragment, columns value.Columns) *SQLData {
	return &SQLData{db: d.db, fragment: f, columns: columns}
}

func (d *SQLData) fallback() *data.StreamData { return data.NewStreamData(d.Stream()) }

func (d *SQLData) dialect() dialect.Dialect { return d.db.Dialect() }

// references reports whether every sibling column e reads is one of cols.
func references(e expr.Expression, cols value.Columns) bool {
	for _, c := range expr.Dependencies(e) {
		if !cols.Contains(c) {
			return false
		}
	}
	return true
}

func (d *SQLData) quoted(cols value.Columns) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.dialect().Quote(string(c))
	}
	return out
}

func (d *SQLData) Filter(condition expr.Expression) data.Data {
	if references(condition, d.columns) && len(expr.ForeignDependencies(condition)) == 0 {
		if sql, ok := d.dialect().Predicate(condition, dialect.Scope{}); ok {
			return d.with(d.fragment.Where(sql), d.columns)
		}
	}
	return d.fallback().Filter(condition)
}

func (d *SQLData) Limit(n int) data.Data  { return d.with(d.fragment.Limit(int64(n)), d.columns) }
func (d *SQLData) Offset(n int) data.Data { return d.with(d.fragment.Offset(int64(n)), d.columns) }
func (d *SQLData) Distinct() data.Data    { return d.with(d.fragment.Distinct(), d.columns) }

func (d *SQLData) Random(n int) data.Data {
	if order, ok := d.dialect().RandomOrder(); ok {
		return d.with(d.fragment.OrderBy([]string{order}).Limit(int64(n)), d.columns)
	}
	return d.fallback().Random(n)
}

func (d *SQLData) SelectColumns(columns value.Columns, keep bool) data.Data {
	cols, _ := stream.ProjectColumns(d.columns, columns, keep)
	if len(cols) == 0 {
		return d.fallback().SelectColumns(columns, keep)
	}
	return d.with(d.fragment.Select(d.quoted(cols)), cols)
}

func (d *SQLData) Calculate(calculations []stream.Calculation, insert stream.Insertion) data.Data {
	working, order, _, err := stream.CalculatedColumns(d.columns, calculations, insert)
	if err != nil {
		return d.fallback().Calculate(calculations, insert)
	}
	dl := d.dialect()
	computed := map[value.Column]string{}
	for _, c := range calculations {
		for _, dep := range expr.Dependencies(c.Formula) {
			if _, ok := computed[dep]; !ok && !d.columns.Contains(dep) {
				return d.fallback().Calculate(calculations, insert)
			}
		}
		input := computed[c.Target]
		if input == "" && d.columns.Contains(c.Target) {
			input = dl.Quote(string(c.Target))
		}
		sql, ok := dl.Expression(c.Formula, dialect.Scope{Input: input, Columns: computed})
		if !ok {
			return d.fallback().Calculate(calculations, insert)
		}
		// Later calculations see this one's result.
		next := make(map[value.Column]string, len(computed)+1)
		for k, v := range computed {
			next[k] = v
		}
		next[c.Target] = sql
		computed = next
	}

	out := make(value.Columns, len(order))
	items := make([]string, len(order))
	for i, k := range order {
		c := working[k]
		out[i] = c
		if sql, ok := computed[c]; ok {
			items[i] = sql + " AS " + dl.Quote(string(c))
		} else {
			items[i] = dl.Quote(string(c))
		}
	}
	return d.with(d.fragment.Select(items), out)
}

func (d *SQLData) Sort(orders []stream.Order) data.Data {
	dl := d.dialect()
	terms := make([]string, 0, len(orders))
	for _, o := range orders {
		if !references(o.Expression, d.columns) {
			return d.fallback().Sort(orders)
		}
		sql, ok := dl.Expression(o.Expression, dialect.Scope{})
		if !ok {
			return d.fallback().Sort(orders)
		}
		if o.Numeric {
			sql = dl.ForceNumeric(sql)
		}
		dir := " DESC"
		if o.Ascending {
			dir = " ASC"
		}
		terms = append(terms, sql+dir+dl.NullsOrder(o.Ascending))
	}
	if len(terms) == 0 {
		return d
	}
	return d.with(d.fragment.OrderBy(terms), d.columns)
}

func (d *SQLData) Aggregate(groups []stream.Grouping, aggregations []stream.Aggregation) data.Data {
	cols, err := stream.AggregateColumns(groups, aggregations)
	if err != nil {
		return d.fallback().Aggregate(groups, aggregations)
	}
	dl := d.dialect()
	keys := make([]string, 0, len(groups))
	items := make([]string, 0, len(cols))
	for _, g := range groups {
		sql, ok := dl.Expression(g.Expression, dialect.Scope{})
		if !ok || !references(g.Expression, d.columns) {
			return d.fallback().Aggregate(groups, aggregations)
		}
		keys = append(keys, sql)
		items = append(items, sql+" AS "+dl.Quote(string(g.Target)))
	}
	for _, a := range aggregations {
		sql, ok := dl.Aggregation(a.Aggregator, dialect.Scope{})
		if !ok || !references(a.Aggregator.Map, d.columns) {
			return d.fallback().Aggregate(groups, aggregations)
		}
		items = append(items, sql+" AS "+dl.Quote(string(a.Target)))
	}
	return d.with(d.fragment.GroupBy(keys, items), cols)
}

func (d *SQLData) Pivot(p stream.Pivot) data.Data     { return d.fallback().Pivot(p) }
func (d *SQLData) Flatten(f stream.Flatten) data.Data { return d.fallback().Flatten(f) }
func (d *SQLData) Transpose() data.Data               { return d.fallback().Transpose() }
func (d *SQLData) Crawl(c stream.Crawler) data.Data   { return d.fallback().Crawl(c) }

// sibling returns other as SQLData when it lives in the same database.
func (d *SQLData) sibling(other data.Data) (*SQLData, bool) {
	o, ok := other.(*SQLData)
	if !ok || o.db != d.db {
		return nil, false
	}
	return o, true
}

func (d *SQLData) Union(other data.Data) data.Data {
	o, ok := d.sibling(other)
	if !ok {
		return d.fallback().Union(other)
	}
	dl := d.dialect()
	cols := stream.UnionColumns(d.columns, o.columns)
	side := func(have value.Columns) []string {
		items := make([]string, len(cols))
		for i, c := range cols {
			if have.Contains(c) {
				items[i] = dl.Quote(string(c))
			} else {
				items[i] = "NULL AS " + dl.Quote(string(c))
			}
		}
		return items
	}
	return d.with(UnionFragments(d.fragment, o.fragment, side(d.columns), side(o.columns)), cols)
}

func (d *SQLData) Join(other data.Data, join stream.Join) data.Data {
	o, ok := d.sibling(other)
	if !ok || !references(join.Condition, d.columns) {
		return d.fallback().Join(other, join)
	}
	for _, c := range expr.ForeignDependencies(join.Condition) {
		if !o.columns.Contains(c) {
			return d.fallback().Join(other, join)
		}
	}
	dl := d.dialect()
	cond, ok := dl.Predicate(join.Condition, dialect.Scope{Table: "l", Foreign: "r"})
	if !ok {
		return d.fallback().Join(other, join)
	}
	kind := "INNER JOIN"
	if join.Type == stream.LeftJoin {
		kind = "LEFT JOIN"
	}

	cols, keep := stream.JoinColumns(d.columns, o.columns)
	items := make([]string, 0, len(cols))
	for _, c := range d.columns {
		items = append(items, dl.QuoteColumn("l", c))
	}
	for _, k := range keep {
		items = append(items, dl.QuoteColumn("r", o.columns[k]))
	}
	return d.with(JoinFragments(d.fragment, o.fragment, kind, cond, items), cols)
}
