package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/value"
)

func ints(vals ...int64) value.Tuple {
	t := make(value.Tuple, len(vals))
	for i, v := range vals {
		t[i] = value.Int(v)
	}
	return t
}

func abcRaster() *value.Raster {
	return &value.Raster{
		Columns: value.NewColumns("a", "b", "c"),
		Rows:    []value.Tuple{ints(1, 2, 3), ints(4, 5, 6), ints(7, 8, 9)},
	}
}

func counter(n int64) Stream { return NewCounterStream("n", 1, n, 1) }

func collect(t *testing.T, s Stream) *value.Raster {
	t.Helper()
	r, err := Collect(job.Background(), s, -1)
	require.NoError(t, err)
	return r
}

func column(r *value.Raster, c value.Column) []string {
	var out []string
	for i := range r.Rows {
		out = append(out, r.Value(i, c).String())
	}
	return out
}

func TestRasterStreamBatches(t *testing.T) {
	t.Parallel()

	rows := make([]value.Tuple, DefaultBatchSize+10)
	for i := range rows {
		rows[i] = ints(int64(i))
	}
	s := NewRasterStream(&value.Raster{Columns: value.NewColumns("x"), Rows: rows})
	j := job.Background()

	b1, more, err := s.Fetch(j)
	require.NoError(t, err)
	assert.Len(t, b1, DefaultBatchSize)
	assert.True(t, more)

	b2, more, err := s.Fetch(j)
	require.NoError(t, err)
	assert.Len(t, b2, 10)
	assert.False(t, more)
}

func TestCloneReplays(t *testing.T) {
	t.Parallel()

	s := Limit(counter(100), 5)
	first := collect(t, s)
	second := collect(t, s.Clone())
	assert.Equal(t, column(first, "n"), column(second, "n"))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, column(first, "n"))
}

func TestFilter(t *testing.T) {
	t.Parallel()

	r := collect(t, Filter(NewRasterStream(abcRaster()), expr.MustParse("[@a] = 1")))
	require.Equal(t, 1, r.RowCount())
	assert.True(t, value.TupleEqual(ints(1, 2, 3), r.Rows[0]))

	// Non-boolean results drop the row.
	r = collect(t, Filter(NewRasterStream(abcRaster()), expr.MustParse("[@a]")))
	assert.Equal(t, 0, r.RowCount())
}

func TestLimitOffset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		stream Stream
		want   []string
	}{
		{"limit", Limit(counter(10), 3), []string{"1", "2", "3"}},
		{"limit zero", Limit(counter(10), 0), nil},
		{"limit beyond", Limit(counter(2), 5), []string{"1", "2"}},
		{"offset", Offset(counter(5), 3), []string{"4", "5"}},
		{"offset beyond", Offset(counter(5), 9), nil},
		{"offset then limit", Limit(Offset(counter(10), 2), 2), []string{"3", "4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, column(collect(t, tc.stream), "n"))
		})
	}
}

func TestLimitIdempotence(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 3, 7} {
		for _, m := range []int{0, 2, 5} {
			twice := collect(t, Limit(Limit(counter(10), n), m))
			once := collect(t, Limit(counter(10), min(n, m)))
			assert.Equal(t, column(once, "n"), column(twice, "n"), "limit(%d).limit(%d)", n, m)
		}
	}
}

func TestFilterConjunction(t *testing.T) {
	t.Parallel()

	a, b := expr.MustParse("[@n] > 3"), expr.MustParse("[@n] % 2 = 0")
	chained := collect(t, Filter(Filter(counter(20), a), b))
	merged := collect(t, Filter(counter(20), expr.Conjunction(a, b)))
	assert.Equal(t, column(merged, "n"), column(chained, "n"))
	assert.Equal(t, []string{"4", "6", "8", "10", "12", "14", "16", "18", "20"}, column(chained, "n"))
}

func TestFilterConjunctionOfNumbers(t *testing.T) {
	t.Parallel()

	// [@n] % 3 is a number, never Bool(true), so the first filter drops
	// every row even though most remainders are non-zero.
	a, b := expr.MustParse("[@n] % 3"), expr.MustParse("[@n] > 3")
	chained := collect(t, Filter(Filter(counter(20), a), b))
	merged := collect(t, Filter(counter(20), expr.Conjunction(a, b)))
	assert.Zero(t, chained.RowCount())
	assert.Zero(t, merged.RowCount())
}

func TestSelectColumns(t *testing.T) {
	t.Parallel()

	r := collect(t, SelectColumns(NewRasterStream(abcRaster()), value.NewColumns("c", "nope", "a"), true))
	assert.Equal(t, value.NewColumns("c", "a"), r.Columns)
	assert.True(t, value.TupleEqual(ints(3, 1), r.Rows[0]))

	r = collect(t, SelectColumns(NewRasterStream(abcRaster()), value.NewColumns("b", "nope"), false))
	assert.Equal(t, value.NewColumns("a", "c"), r.Columns)
}

func TestCalculate(t *testing.T) {
	t.Parallel()

	calcs := []Calculation{
		{Target: "sum", Formula: expr.MustParse("[@a] + [@b]")},
		{Target: "a", Formula: expr.MustParse("[@sum] * 10")},
		{Target: "twice", Formula: expr.MustParse("[@sum] * 2")},
	}

	r := collect(t, Calculate(NewRasterStream(abcRaster()), calcs, Insertion{}))
	assert.Equal(t, value.NewColumns("a", "b", "c", "sum", "twice"), r.Columns)
	assert.Equal(t, []string{"30", "90", "150"}, column(r, "a"))
	assert.Equal(t, []string{"6", "18", "30"}, column(r, "twice"))

	r = collect(t, Calculate(NewRasterStream(abcRaster()), calcs, Insertion{Relative: "b", Before: true}))
	assert.Equal(t, value.NewColumns("a", "sum", "twice", "b", "c"), r.Columns)

	r = collect(t, Calculate(NewRasterStream(abcRaster()), calcs, Insertion{Relative: "b"}))
	assert.Equal(t, value.NewColumns("a", "b", "sum", "twice", "c"), r.Columns)

	// A missing anchor falls back to appending.
	r = collect(t, Calculate(NewRasterStream(abcRaster()), calcs, Insertion{Relative: "zzz"}))
	assert.Equal(t, value.NewColumns("a", "b", "c", "sum", "twice"), r.Columns)
}

func TestDistinct(t *testing.T) {
	t.Parallel()

	raster := &value.Raster{
		Columns: value.NewColumns("x", "y"),
		Rows: []value.Tuple{
			{value.Int(1), value.String("a")},
			{value.Double(1), value.String("a")},
			{value.Int(2), value.String("a")},
			{value.Int(1), value.String("b")},
			{value.String("2"), value.String("a")},
		},
	}
	once := collect(t, Distinct(NewRasterStream(raster)))
	assert.Equal(t, 3, once.RowCount())
	twice := collect(t, Distinct(Distinct(NewRasterStream(raster))))
	assert.Equal(t, column(once, "x"), column(twice, "x"))
	assert.Equal(t, column(once, "y"), column(twice, "y"))
}

func TestRandomSample(t *testing.T) {
	t.Parallel()

	s := Random(counter(1000), 10)
	r := collect(t, s)
	require.Equal(t, 10, r.RowCount())
	prev := int64(0)
	for i := range r.Rows {
		n, _ := r.Rows[i][0].IntValue()
		assert.Greater(t, n, prev, "sample keeps source order")
		prev = n
	}
	assert.Equal(t, column(r, "n"), column(collect(t, s.Clone()), "n"))

	assert.Equal(t, 5, collect(t, Random(counter(5), 10)).RowCount())
}

func TestSampleStream(t *testing.T) {
	t.Parallel()

	rows := make([]value.Tuple, 100)
	for i := range rows {
		rows[i] = ints(int64(i))
	}
	raster := &value.Raster{Columns: value.NewColumns("n"), Rows: rows}
	s := NewSampleStream(raster, 20)
	r := collect(t, s)
	require.Equal(t, 20, r.RowCount())
	seen := map[string]bool{}
	for _, v := range column(r, "n") {
		assert.False(t, seen[v], "sampled %s twice", v)
		seen[v] = true
	}
	assert.Equal(t, column(r, "n"), column(collect(t, s.Clone()), "n"))
}

func TestUnion(t *testing.T) {
	t.Parallel()

	left := &value.Raster{Columns: value.NewColumns("a", "b"), Rows: []value.Tuple{ints(1, 2)}}
	right := &value.Raster{Columns: value.NewColumns("b", "c"), Rows: []value.Tuple{ints(3, 4)}}
	r := collect(t, Union(NewRasterStream(left), NewRasterStream(right)))

	assert.Equal(t, value.NewColumns("a", "b", "c"), r.Columns)
	require.Equal(t, 2, r.RowCount())
	assert.True(t, r.Rows[0][2].IsEmpty())
	assert.True(t, r.Rows[1][0].IsEmpty())
	assert.True(t, r.Rows[1][1].Equal(value.Int(3)))
}

func joinSides() (*value.Raster, *value.Raster) {
	left := &value.Raster{
		Columns: value.NewColumns("id", "x"),
		Rows: []value.Tuple{
			{value.Int(1), value.String("a")},
			{value.Int(2), value.String("c")},
		},
	}
	right := &value.Raster{
		Columns: value.NewColumns("id", "y"),
		Rows:    []value.Tuple{{value.Int(1), value.String("b")}},
	}
	return left, right
}

func TestJoin(t *testing.T) {
	t.Parallel()

	for _, cond := range []string{"[@id] = [#id]", "[#id] = [@id]", "AND([@id] = [#id]; TRUE)"} {
		t.Run(cond, func(t *testing.T) {
			t.Parallel()
			left, right := joinSides()

			inner := collect(t, JoinStreams(NewRasterStream(left), NewRasterStream(right), Join{Type: InnerJoin, Condition: expr.MustParse(cond)}))
			assert.Equal(t, value.NewColumns("id", "x", "y"), inner.Columns)
			require.Equal(t, 1, inner.RowCount())
			assert.Equal(t, []string{"1", "a", "b"}, []string{inner.Rows[0][0].String(), inner.Rows[0][1].String(), inner.Rows[0][2].String()})

			outer := collect(t, JoinStreams(NewRasterStream(left), NewRasterStream(right), Join{Type: LeftJoin, Condition: expr.MustParse(cond)}))
			require.Equal(t, 2, outer.RowCount())
			assert.True(t, outer.Rows[1][0].Equal(value.Int(2)))
			assert.True(t, outer.Rows[1][1].Equal(value.String("c")))
			assert.True(t, outer.Rows[1][2].IsEmpty())
		})
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	raster := &value.Raster{
		Columns: value.NewColumns("k", "v"),
		Rows: []value.Tuple{
			{value.String("x"), value.Int(1)},
			{value.String("y"), value.Int(10)},
			{value.String("x"), value.Int(2)},
		},
	}
	r := collect(t, Aggregate(NewRasterStream(raster),
		[]Grouping{{Target: "key", Expression: expr.Col("k")}},
		[]Aggregation{
			{Target: "total", Aggregator: expr.Aggregator{Map: expr.Col("v"), Reduce: expr.Sum}},
			{Target: "rows", Aggregator: expr.Aggregator{Map: expr.Col("v"), Reduce: expr.CountAll}},
		}))
	assert.Equal(t, value.NewColumns("key", "total", "rows"), r.Columns)
	assert.Equal(t, []string{"x", "y"}, column(r, "key"))
	assert.Equal(t, []string{"3", "10"}, column(r, "total"))
	assert.Equal(t, []string{"2", "1"}, column(r, "rows"))

	global := collect(t, Aggregate(NewRasterStream(&value.Raster{Columns: value.NewColumns("v")}), nil,
		[]Aggregation{{Target: "n", Aggregator: expr.Aggregator{Map: expr.Col("v"), Reduce: expr.CountAll}}}))
	assert.Equal(t, []string{"0"}, column(global, "n"))

	_, err := Aggregate(counter(1), nil, []Aggregation{{Target: "n", Aggregator: expr.Aggregator{Map: expr.Col("n"), Reduce: expr.Uppercase}}}).Columns(job.Background())
	assert.Error(t, err)
}

func TestPivot(t *testing.T) {
	t.Parallel()

	raster := &value.Raster{
		Columns: value.NewColumns("region", "year", "sales"),
		Rows: []value.Tuple{
			{value.String("north"), value.Int(2023), value.Int(5)},
			{value.String("south"), value.Int(2023), value.Int(7)},
			{value.String("north"), value.Int(2024), value.Int(1)},
			{value.String("north"), value.Int(2024), value.Int(2)},
		},
	}
	r := collect(t, PivotStream(NewRasterStream(raster), Pivot{
		Rows:         []Grouping{{Target: "region", Expression: expr.Col("region")}},
		Columns:      []Grouping{{Target: "year", Expression: expr.Col("year")}},
		Aggregations: []Aggregation{{Target: "sales", Aggregator: expr.Aggregator{Map: expr.Col("sales"), Reduce: expr.Sum}}},
	}))
	assert.Equal(t, value.NewColumns("region", "2023", "2024"), r.Columns)
	assert.Equal(t, []string{"5", "7"}, column(r, "2023"))
	assert.Equal(t, []string{"3", ""}, column(r, "2024"))
	assert.True(t, r.Rows[1][2].IsEmpty())
}

func TestSortInvalidLast(t *testing.T) {
	t.Parallel()

	raster := &value.Raster{
		Columns: value.NewColumns("v"),
		Rows: []value.Tuple{
			{value.Int(2)}, {value.Invalid()}, {value.Int(10)}, {value.Empty()}, {value.Int(1)},
		},
	}
	asc := collect(t, Sort(NewRasterStream(raster), []Order{{Expression: expr.Col("v"), Ascending: true}}))
	assert.Equal(t, []string{"", "1", "2", "10", "#INVALID"}, column(asc, "v"))

	desc := collect(t, Sort(NewRasterStream(raster), []Order{{Expression: expr.Col("v")}}))
	assert.Equal(t, []string{"10", "2", "1", "", "#INVALID"}, column(desc, "v"))
}

func TestFlattenAndTranspose(t *testing.T) {
	t.Parallel()

	f := collect(t, FlattenStream(NewRasterStream(abcRaster()), Flatten{
		ValueColumn:         "value",
		ColumnNameColumn:    "column",
		RowIdentifierColumn: "row",
		RowIdentifier:       expr.Col("a"),
	}))
	assert.Equal(t, value.NewColumns("row", "column", "value"), f.Columns)
	require.Equal(t, 9, f.RowCount())
	assert.Equal(t, []string{"1", "b", "2"}, []string{f.Rows[1][0].String(), f.Rows[1][1].String(), f.Rows[1][2].String()})

	tr := collect(t, Transpose(NewRasterStream(abcRaster())))
	assert.Equal(t, value.NewColumns("a", "1", "4", "7"), tr.Columns)
	assert.Equal(t, []string{"b", "c"}, column(tr, "a"))
	assert.Equal(t, []string{"2", "3"}, column(tr, "1"))
}

func TestErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := NewSequenceStream(value.NewColumns("n"), func(*job.Job) (Iterator, error) {
		i := 0
		return IteratorFunc(func(*job.Job) (value.Tuple, bool, error) {
			i++
			if i > 3 {
				return nil, false, boom
			}
			return ints(int64(i)), true, nil
		}), nil
	})
	for name, s := range map[string]Stream{
		"filter":    Filter(failing.Clone(), expr.MustParse("TRUE")),
		"distinct":  Distinct(failing.Clone()),
		"sort":      Sort(failing.Clone(), []Order{{Expression: expr.Col("n")}}),
		"union":     Union(counter(2), failing.Clone()),
		"transpose": Transpose(failing.Clone()),
	} {
		_, err := Collect(job.Background(), s, -1)
		assert.ErrorIs(t, err, boom, name)
	}

	_, err := ErrorStream{Err: boom}.Columns(job.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCancelledFetch(t *testing.T) {
	t.Parallel()

	j := job.Background()
	j.Cancel()
	_, _, err := Filter(counter(10), expr.MustParse("TRUE")).Fetch(j)
	assert.ErrorIs(t, err, job.ErrCancelled)
}

func TestSchemaStability(t *testing.T) {
	t.Parallel()

	streams := []Stream{
		Calculate(NewRasterStream(abcRaster()), []Calculation{{Target: "d", Formula: expr.MustParse("[@a] * 2")}}, Insertion{}),
		JoinStreams(NewRasterStream(abcRaster()), counter(3), Join{Condition: expr.MustParse("[@a] = [#n]")}),
		Union(NewRasterStream(abcRaster()), counter(3)),
	}
	for i, s := range streams {
		j := job.Background()
		first, err := s.Columns(j)
		require.NoError(t, err)
		err = Each(j, s, func(cols value.Columns, rows []value.Tuple) error {
			assert.Equal(t, first, cols)
			for _, r := range rows {
				assert.Len(t, r, len(first), "stream %d", i)
			}
			return nil
		})
		require.NoError(t, err)
		again, err := s.Columns(j)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

type httpGetter struct{ client *http.Client }

func (g httpGetter) Get(ctx context.Context, url string, _ http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return g.client.Do(req)
}

func TestCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "hello %s", r.URL.Path)
	}))
	defer srv.Close()

	raster := &value.Raster{
		Columns: value.NewColumns("path"),
		Rows: []value.Tuple{
			{value.String("/a")},
			{value.String("/missing")},
			{value.String("::bad")},
		},
	}
	s := Crawl(NewRasterStream(raster), Crawler{
		URL:            expr.MustParse(fmt.Sprintf(`"%s" & [@path]`, srv.URL)),
		BodyColumn:     "body",
		StatusColumn:   "status",
		ErrorColumn:    "error",
		DurationColumn: "path",
		MaxConcurrent:  2,
		Client:         httpGetter{client: srv.Client()},
	})
	r := collect(t, s)
	assert.Equal(t, value.NewColumns("path", "body", "status", "error", "path_1"), r.Columns)
	assert.Equal(t, "hello /a", r.Value(0, "body").String())
	assert.Equal(t, "200", r.Value(0, "status").String())
	assert.True(t, r.Value(0, "error").IsEmpty())
	assert.Equal(t, "404", r.Value(1, "status").String())

	s = Crawl(NewRasterStream(raster), Crawler{URL: expr.Col("path"), ErrorColumn: "error", Client: httpGetter{client: srv.Client()}})
	r = collect(t, s)
	for i := range r.Rows {
		assert.Contains(t, r.Value(i, "error").String(), "invalid URL")
	}
}

// closingIterator counts rows and records whether it was closed.
type closingIterator struct {
	n, limit int64
	closed   bool
}

func (it *closingIterator) Next(*job.Job) (value.Tuple, bool, error) {
	if it.n >= it.limit {
		return nil, false, nil
	}
	it.n++
	return ints(it.n), true, nil
}

func (it *closingIterator) Close() error {
	it.closed = true
	return nil
}

func closingStream(limit int64) (*SequenceStream, *closingIterator) {
	it := &closingIterator{limit: limit}
	return NewSequenceStream(value.NewColumns("n"), func(*job.Job) (Iterator, error) { return it, nil }), it
}

func TestEachClosesStreamWhenStoppedEarly(t *testing.T) {
	t.Parallel()

	t.Run("cancelled", func(t *testing.T) {
		s, it := closingStream(10000)
		j := job.Background()
		batches := 0
		err := Each(j, s, func(value.Columns, []value.Tuple) error {
			batches++
			j.Cancel()
			return nil
		})
		assert.ErrorIs(t, err, job.ErrCancelled)
		assert.Equal(t, 1, batches)
		assert.True(t, it.closed)
		assert.Less(t, it.n, int64(10000))
	})

	t.Run("callback error", func(t *testing.T) {
		s, it := closingStream(10000)
		boom := errors.New("boom")
		err := Each(job.Background(), s, func(value.Columns, []value.Tuple) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, it.closed)
	})

	t.Run("limit", func(t *testing.T) {
		s, it := closingStream(10000)
		r, err := Collect(job.Background(), s, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, r.RowCount())
		assert.True(t, it.closed)
	})

	t.Run("transform", func(t *testing.T) {
		s, it := closingStream(10000)
		j := job.Background()
		err := Each(j, Filter(s, expr.MustParse("[@n] > 0")), func(value.Columns, []value.Tuple) error {
			j.Cancel()
			return nil
		})
		assert.ErrorIs(t, err, job.ErrCancelled)
		assert.True(t, it.closed)
	})
}

// progressSpy records the job's progress before every fetch.
type progressSpy struct {
	Stream
	seen []float64
}

func (s *progressSpy) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	s.seen = append(s.seen, j.Progress())
	return s.Stream.Fetch(j)
}

func TestCollectReportsProgress(t *testing.T) {
	t.Parallel()

	j := job.Background()
	spy := &progressSpy{Stream: counter(DefaultBatchSize * 3)}
	r, err := Collect(j, spy, DefaultBatchSize*4)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize*3, r.RowCount())
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, spy.seen)
	assert.Equal(t, 1.0, j.Progress())
}
