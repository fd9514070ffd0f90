package step

import (
	"fmt"
	"strings"

	"conduit/internal/config"
	"conduit/internal/expr"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// Transform is what a step does. The set of transforms is closed: sources
// (RasterSource, CSVSource, DatabaseSource, CloneSource) start a chain, all
// other kinds transform the result of the previous step.
type Transform interface {
	// Kind is the document kind of the transform, e.g. "filter".
	Kind() string
	// Explain is a sentence describing the transform for users.
	Explain() string
	isTransform()
}

// RasterSource serves rows held in memory.
type RasterSource struct {
	Raster *value.Raster
}

// CSVSource reads a delimited text file. Options are passed to the csv
// connector (separator, has_header, charset, trim, locale).
type CSVSource struct {
	Path    string
	Options config.Options
}

// DatabaseSource reads a table of a SQL database. Database is the step kind
// naming the connector, e.g. "sqlite".
type DatabaseSource struct {
	Database string
	DSN      string
	Table    string
}

// CloneSource starts from the result of another chain.
type CloneSource struct {
	Chain string
}

// Filter keeps the rows for which Condition is true.
type Filter struct {
	Condition expr.Expression
}

// Limit keeps the first N rows.
type Limit struct{ N int }

// Offset skips the first N rows.
type Offset struct{ N int }

// Random keeps a random sample of N rows.
type Random struct{ N int }

// Distinct removes duplicate rows.
type Distinct struct{}

// Columns keeps (or, without Keep, removes) the listed columns.
type Columns struct {
	Columns value.Columns
	Keep    bool
}

// Calculate derives columns from formulas, in order.
type Calculate struct {
	Calculations []stream.Calculation
	Insertion    stream.Insertion
}

// Sort orders rows by one or more keys.
type Sort struct {
	Orders []stream.Order
}

// Aggregate groups rows and reduces every group to one row.
type Aggregate struct {
	Groups       []stream.Grouping
	Aggregations []stream.Aggregation
}

// Pivot spreads grouped values over columns.
type Pivot struct {
	Pivot stream.Pivot
}

// Flatten turns every cell into a row.
type Flatten struct {
	Flatten stream.Flatten
}

// Transpose swaps rows and columns.
type Transpose struct{}

// Join combines rows with those of another chain.
type Join struct {
	Chain string
	Join  stream.Join
}

// Merge appends the rows of another chain.
type Merge struct {
	Chain string
}

// Crawl fetches a URL for every row. The HTTP client is supplied when the
// chain is resolved.
type Crawl struct {
	Crawler stream.Crawler
}

func (RasterSource) isTransform()   {}
func (CSVSource) isTransform()      {}
func (DatabaseSource) isTransform() {}
func (CloneSource) isTransform()    {}
func (Filter) isTransform()         {}
func (Limit) isTransform()          {}
func (Offset) isTransform()         {}
func (Random) isTransform()         {}
func (Distinct) isTransform()       {}
func (Columns) isTransform()        {}
func (Calculate) isTransform()      {}
func (Sort) isTransform()           {}
func (Aggregate) isTransform()      {}
func (Pivot) isTransform()          {}
func (Flatten) isTransform()        {}
func (Transpose) isTransform()      {}
func (Join) isTransform()           {}
func (Merge) isTransform()          {}
func (Crawl) isTransform()          {}

func (RasterSource) Kind() string     { return config.KindRaster }
func (CSVSource) Kind() string        { return config.KindCSV }
func (t DatabaseSource) Kind() string { return t.Database }
func (CloneSource) Kind() string      { return config.KindClone }
func (Filter) Kind() string           { return config.KindFilter }
func (Limit) Kind() string            { return config.KindLimit }
func (Offset) Kind() string           { return config.KindOffset }
func (Random) Kind() string           { return config.KindRandom }
func (Distinct) Kind() string         { return config.KindDistinct }
func (Columns) Kind() string          { return config.KindColumns }
func (Calculate) Kind() string        { return config.KindCalculate }
func (Sort) Kind() string             { return config.KindSort }
func (Aggregate) Kind() string        { return config.KindAggregate }
func (Pivot) Kind() string            { return config.KindPivot }
func (Flatten) Kind() string          { return config.KindFlatten }
func (Transpose) Kind() string        { return config.KindTranspose }
func (Join) Kind() string             { return config.KindJoin }
func (Merge) Kind() string            { return config.KindMerge }
func (Crawl) Kind() string            { return config.KindCrawl }

// IsSource reports whether t starts a chain.
func IsSource(t Transform) bool {
	switch t.(type) {
	case RasterSource, CSVSource, DatabaseSource, CloneSource:
		return true
	}
	return false
}

// References returns the chain another chain's transform reads, if any.
func References(t Transform) (string, bool) {
	switch x := t.(type) {
	case CloneSource:
		return x.Chain, true
	case Join:
		return x.Chain, true
	case Merge:
		return x.Chain, true
	}
	return "", false
}

func (t RasterSource) Explain() string {
	if t.Raster == nil {
		return "Start with an empty table"
	}
	return fmt.Sprintf("Start with a table of %s", plural(len(t.Raster.Rows), "row"))
}

func (t CSVSource) Explain() string { return fmt.Sprintf("Read file %q", t.Path) }

func (t DatabaseSource) Explain() string {
	return fmt.Sprintf("Read table %q from %s", t.Table, t.Database)
}

func (t CloneSource) Explain() string { return fmt.Sprintf("Start with the result of %q", t.Chain) }

func (t Filter) Explain() string {
	return "Select rows where " + expr.Explain(t.Condition)
}

func (t Limit) Explain() string  { return "Select the first " + plural(t.N, "row") }
func (t Offset) Explain() string { return "Skip the first " + plural(t.N, "row") }
func (t Random) Explain() string { return "Randomly select " + plural(t.N, "row") }
func (Distinct) Explain() string { return "Remove duplicate rows" }
func (Transpose) Explain() string {
	return "Switch rows and columns"
}

func (t Columns) Explain() string {
	verb := "Remove"
	if t.Keep {
		verb = "Select"
	}
	if len(t.Columns) == 0 {
		if t.Keep {
			return "Remove all columns"
		}
		return "Keep all columns"
	}
	return fmt.Sprintf("%s %s %s", verb, pluralWord(len(t.Columns), "column"), quoteColumns(t.Columns))
}

func (t Calculate) Explain() string {
	parts := make([]string, len(t.Calculations))
	for i, c := range t.Calculations {
		parts[i] = fmt.Sprintf("%q as %s", string(c.Target), expr.Explain(c.Formula))
	}
	s := "Calculate " + strings.Join(parts, ", ")
	if t.Insertion.Relative != "" {
		where := "after"
		if t.Insertion.Before {
			where = "before"
		}
		s += fmt.Sprintf(" %s %q", where, string(t.Insertion.Relative))
	}
	return s
}

func (t Sort) Explain() string {
	if len(t.Orders) == 0 {
		return "Keep rows in their order"
	}
	parts := make([]string, len(t.Orders))
	for i, o := range t.Orders {
		dir := "descending"
		if o.Ascending {
			dir = "ascending"
		}
		if o.Numeric {
			dir += " numerically"
		}
		parts[i] = expr.Explain(o.Expression) + " " + dir
	}
	return "Sort rows by " + strings.Join(parts, ", then ")
}

func explainAggregations(aggs []stream.Aggregation) string {
	parts := make([]string, len(aggs))
	for i, a := range aggs {
		parts[i] = fmt.Sprintf("%s of %s as %q", a.Aggregator.Reduce.Name(), expr.Explain(a.Aggregator.Map), string(a.Target))
	}
	return strings.Join(parts, ", ")
}

func explainGroups(groups []stream.Grouping) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = expr.Explain(g.Expression)
	}
	return strings.Join(parts, ", ")
}

func (t Aggregate) Explain() string {
	s := "Summarize " + explainAggregations(t.Aggregations)
	if len(t.Groups) > 0 {
		s += " grouped by " + explainGroups(t.Groups)
	}
	return s
}

func (t Pivot) Explain() string {
	return fmt.Sprintf("Pivot %s with rows %s and columns %s", explainAggregations(t.Pivot.Aggregations),
		explainGroups(t.Pivot.Rows), explainGroups(t.Pivot.Columns))
}

func (t Flatten) Explain() string {
	return fmt.Sprintf("Put every value in column %q", string(t.Flatten.ValueColumn))
}

func (t Join) Explain() string {
	return fmt.Sprintf("Join (%s) with %q where %s", t.Join.Type, t.Chain, expr.Explain(t.Join.Condition))
}

func (t Merge) Explain() string { return fmt.Sprintf("Add the rows of %q", t.Chain) }

func (t Crawl) Explain() string {
	s := "Download " + expr.Explain(t.Crawler.URL)
	if t.Crawler.BodyColumn != "" {
		s += fmt.Sprintf(" into %q", string(t.Crawler.BodyColumn))
	}
	return s
}

func plural(n int, noun string) string {
	return fmt.Sprintf("%d %s", n, pluralWord(n, noun))
}

func pluralWord(n int, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}

func quoteColumns(cols value.Columns) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%q", string(c))
	}
	return strings.Join(parts, ", ")
}
