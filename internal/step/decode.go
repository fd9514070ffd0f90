package step

import (
	"fmt"
	"math"
	"strings"

	"conduit/internal/config"
	"conduit/internal/expr"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// Decode turns a document step into a transform. Unknown kinds are an
// error; documents are expected to pass config.Validate first, so the errors
// here are terse.
func Decode(s config.Step) (Transform, error) {
	o := s.Options
	if o == nil {
		o = config.Options{}
	}
	switch s.Kind {
	case config.KindRaster:
		return decodeRaster(o)
	case config.KindCSV:
		return CSVSource{Path: o.String("path", ""), Options: o}, nil
	case config.KindSQLite, config.KindMySQL, config.KindPostgres, config.KindMSSQL:
		return DatabaseSource{Database: s.Kind, DSN: o.String("dsn", ""), Table: o.String("table", "")}, nil
	case config.KindClone:
		return CloneSource{Chain: o.String("chain", "")}, nil
	case config.KindFilter:
		cond, err := parse(o, "formula")
		if err != nil {
			return nil, err
		}
		return Filter{Condition: cond}, nil
	case config.KindLimit:
		return Limit{N: o.Int("n", 0)}, nil
	case config.KindOffset:
		return Offset{N: o.Int("n", 0)}, nil
	case config.KindRandom:
		return Random{N: o.Int("n", 0)}, nil
	case config.KindDistinct:
		return Distinct{}, nil
	case config.KindTranspose:
		return Transpose{}, nil
	case config.KindColumns:
		return Columns{Columns: value.NewColumns(o.StringSlice("columns")...), Keep: o.Bool("keep", true)}, nil
	case config.KindCalculate:
		return decodeCalculate(o)
	case config.KindSort:
		return decodeSort(o)
	case config.KindAggregate:
		groups, err := decodeGroupings(o, "groups")
		if err != nil {
			return nil, err
		}
		aggs, err := decodeAggregations(o)
		if err != nil {
			return nil, err
		}
		return Aggregate{Groups: groups, Aggregations: aggs}, nil
	case config.KindPivot:
		rows, err := decodeGroupings(o, "rows")
		if err != nil {
			return nil, err
		}
		cols, err := decodeGroupings(o, "columns")
		if err != nil {
			return nil, err
		}
		aggs, err := decodeAggregations(o)
		if err != nil {
			return nil, err
		}
		return Pivot{Pivot: stream.Pivot{Rows: rows, Columns: cols, Aggregations: aggs}}, nil
	case config.KindFlatten:
		return decodeFlatten(o)
	case config.KindJoin:
		cond, err := parse(o, "condition")
		if err != nil {
			return nil, err
		}
		typ, err := stream.ParseJoinType(o.String("type", "inner"))
		if err != nil {
			return nil, err
		}
		return Join{Chain: o.String("chain", ""), Join: stream.Join{Type: typ, Condition: cond}}, nil
	case config.KindMerge:
		return Merge{Chain: o.String("chain", "")}, nil
	case config.KindCrawl:
		return decodeCrawl(o)
	}
	return nil, fmt.Errorf("unknown step kind %q", s.Kind)
}

func parse(o config.Options, key string) (expr.Expression, error) {
	f := o.String(key, "")
	if strings.TrimSpace(f) == "" {
		return nil, fmt.Errorf("%s must not be empty", key)
	}
	e, err := expr.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return e, nil
}

// jsonValue converts a decoded JSON scalar. Integral numbers become Int.
func jsonValue(v any) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Empty()
	case bool:
		return value.Bool(x)
	case string:
		return value.String(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return value.Int(int64(x))
		}
		return value.Double(x)
	}
	return value.Invalid()
}

// decodeRaster reads inline rows: {"columns": ["a","b"], "rows": [[1,"x"], ...]}.
// Short rows are padded with Empty.
func decodeRaster(o config.Options) (Transform, error) {
	cols := value.Uniqued(o.StringSlice("columns"))
	var rows []value.Tuple
	if raw, ok := o["rows"].([]any); ok {
		for i, r := range raw {
			cells, ok := r.([]any)
			if !ok {
				return nil, fmt.Errorf("rows[%d] is not an array", i)
			}
			t := make(value.Tuple, len(cols))
			for k := range t {
				if k < len(cells) {
					t[k] = jsonValue(cells[k])
				}
			}
			rows = append(rows, t)
		}
	}
	r, err := value.NewRaster(cols, rows, true)
	if err != nil {
		return nil, err
	}
	return RasterSource{Raster: r}, nil
}

func decodeCalculate(o config.Options) (Transform, error) {
	var t Calculate
	for i, c := range o.Objects("calculations") {
		f, err := parse(c, "formula")
		if err != nil {
			return nil, fmt.Errorf("calculations[%d]: %w", i, err)
		}
		t.Calculations = append(t.Calculations, stream.Calculation{Target: value.Column(c.String("target", "")), Formula: f})
	}
	t.Insertion = stream.Insertion{
		Relative: value.Column(o.String("insert_relative_to", "")),
		Before:   o.Bool("insert_before", false),
	}
	return t, nil
}

func decodeSort(o config.Options) (Transform, error) {
	var t Sort
	for i, ord := range o.Objects("orders") {
		f, err := parse(ord, "formula")
		if err != nil {
			return nil, fmt.Errorf("orders[%d]: %w", i, err)
		}
		t.Orders = append(t.Orders, stream.Order{
			Expression: f,
			Ascending:  ord.Bool("ascending", true),
			Numeric:    ord.Bool("numeric", false),
		})
	}
	return t, nil
}

func decodeGroupings(o config.Options, key string) ([]stream.Grouping, error) {
	var out []stream.Grouping
	for i, g := range o.Objects(key) {
		f, err := parse(g, "formula")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, stream.Grouping{Target: value.Column(g.String("target", "")), Expression: f})
	}
	return out, nil
}

func decodeAggregations(o config.Options) ([]stream.Aggregation, error) {
	var out []stream.Aggregation
	for i, a := range o.Objects("aggregations") {
		f, err := parse(a, "formula")
		if err != nil {
			return nil, fmt.Errorf("aggregations[%d]: %w", i, err)
		}
		name := a.String("reduce", "SUM")
		fn, ok := expr.FunctionByName(name)
		if !ok || !fn.IsReducer() {
			return nil, fmt.Errorf("aggregations[%d]: %q is not an aggregation function", i, name)
		}
		out = append(out, stream.Aggregation{
			Target:     value.Column(a.String("target", "")),
			Aggregator: expr.Aggregator{Map: f, Reduce: fn},
		})
	}
	return out, nil
}

func decodeFlatten(o config.Options) (Transform, error) {
	f := stream.Flatten{
		ValueColumn:         value.Column(o.String("value_column", "value")),
		ColumnNameColumn:    value.Column(o.String("column_name_column", "")),
		RowIdentifierColumn: value.Column(o.String("row_identifier_column", "")),
	}
	if o.String("row_identifier", "") != "" {
		id, err := parse(o, "row_identifier")
		if err != nil {
			return nil, err
		}
		f.RowIdentifier = id
		if f.RowIdentifierColumn == "" {
			f.RowIdentifierColumn = "row"
		}
	}
	return Flatten{Flatten: f}, nil
}

// decodeCrawl reads a crawl step. Without any target option the response
// body goes to "body" and failures to "error".
func decodeCrawl(o config.Options) (Transform, error) {
	u, err := parse(o, "url")
	if err != nil {
		return nil, err
	}
	c := stream.Crawler{
		URL:                  u,
		BodyColumn:           value.Column(o.String("body_column", "")),
		StatusColumn:         value.Column(o.String("status_column", "")),
		ErrorColumn:          value.Column(o.String("error_column", "")),
		DurationColumn:       value.Column(o.String("duration_column", "")),
		MaxConcurrent:        o.Int("max_concurrent", 0),
		MaxRequestsPerSecond: o.Float("max_requests_per_second", 0),
		MaxBodyBytes:         int64(o.Int("max_body_bytes", 0)),
	}
	if c.BodyColumn == "" && c.StatusColumn == "" && c.ErrorColumn == "" && c.DurationColumn == "" {
		c.BodyColumn, c.ErrorColumn = "body", "error"
	}
	return Crawl{Crawler: c}, nil
}
