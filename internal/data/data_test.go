package data

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

func ints(vals ...int64) value.Tuple {
	t := make(value.Tuple, len(vals))
	for i, v := range vals {
		t[i] = value.Int(v)
	}
	return t
}

func numbers(n int) *RasterData {
	rows := make([]value.Tuple, n)
	for i := range rows {
		rows[i] = ints(int64(i+1), int64((i+1)*10))
	}
	return NewRasterData(&value.Raster{Columns: value.NewColumns("n", "m"), Rows: rows, ReadOnly: true})
}

func column(t *testing.T, d Data, c value.Column) []string {
	t.Helper()
	r, err := d.Raster(job.Background())
	require.NoError(t, err)
	var out []string
	for i := range r.Rows {
		out = append(out, r.Value(i, c).String())
	}
	return out
}

func TestRasterDataSlicing(t *testing.T) {
	t.Parallel()

	d := numbers(10)
	assert.Equal(t, []string{"1", "2", "3"}, column(t, d.Limit(3), "n"))
	assert.Equal(t, []string{"9", "10"}, column(t, d.Offset(8), "n"))
	assert.Equal(t, []string{"3", "4"}, column(t, d.Offset(2).Limit(2), "n"))
	assert.Empty(t, column(t, d.Offset(20), "n"))
	assert.Empty(t, column(t, d.Limit(-1), "n"))

	_, isRaster := d.Limit(3).(*RasterData)
	assert.True(t, isRaster)
}

func TestRasterDataSelectColumns(t *testing.T) {
	t.Parallel()

	d := numbers(2).SelectColumns(value.NewColumns("m", "missing"), true)
	cols, err := d.Columns(job.Background())
	require.NoError(t, err)
	assert.Equal(t, value.NewColumns("m"), cols)
	assert.Equal(t, []string{"10", "20"}, column(t, d, "m"))

	d = numbers(2).SelectColumns(value.NewColumns("m"), false)
	cols, err = d.Columns(job.Background())
	require.NoError(t, err)
	assert.Equal(t, value.NewColumns("n"), cols)
}

func TestRasterDataRandomSamplesWithoutReplacement(t *testing.T) {
	t.Parallel()

	got := column(t, numbers(50).Random(10), "n")
	require.Len(t, got, 10)
	seen := map[string]bool{}
	for _, v := range got {
		assert.False(t, seen[v], "duplicate %s", v)
		seen[v] = true
	}
	assert.Len(t, column(t, numbers(5).Random(10), "n"), 5)
}

func TestStreamDataIsLazyAndReplayable(t *testing.T) {
	t.Parallel()

	opened := 0
	s := stream.NewSequenceStream(value.NewColumns("n"), func(*job.Job) (stream.Iterator, error) {
		opened++
		i := int64(0)
		return stream.IteratorFunc(func(*job.Job) (value.Tuple, bool, error) {
			i++
			if i > 3 {
				return nil, false, nil
			}
			return ints(i), true, nil
		}), nil
	})
	d := NewStreamData(s).Filter(expr.MustParse("[@n] > 1"))
	assert.Equal(t, 0, opened)

	assert.Equal(t, []string{"2", "3"}, column(t, d, "n"))
	assert.Equal(t, []string{"2", "3"}, column(t, d, "n"))
	assert.Equal(t, 2, opened)
}

func TestStreamDataColumnsStable(t *testing.T) {
	t.Parallel()

	d := NewStreamData(stream.NewCounterStream("n", 1, 5, 1)).Calculate(
		[]stream.Calculation{{Target: "double", Formula: expr.MustParse("[@n] * 2")}},
		stream.Insertion{Relative: "n", Before: true},
	)
	first, err := d.Columns(job.Background())
	require.NoError(t, err)
	second, err := d.Columns(job.Background())
	require.NoError(t, err)
	assert.Equal(t, value.NewColumns("double", "n"), first)
	assert.Equal(t, first, second)
}

func TestJoinScenario(t *testing.T) {
	t.Parallel()

	right := NewRasterData(&value.Raster{
		Columns: value.NewColumns("id", "y"),
		Rows:    []value.Tuple{{value.Int(1), value.String("b")}},
	})
	cond := expr.MustParse("[@id] = [#id]")

	inner := NewRasterData(&value.Raster{
		Columns: value.NewColumns("id", "x"),
		Rows:    []value.Tuple{{value.Int(1), value.String("a")}},
	}).Join(right, stream.Join{Type: stream.InnerJoin, Condition: cond})
	r, err := inner.Raster(job.Background())
	require.NoError(t, err)
	assert.Equal(t, value.NewColumns("id", "x", "y"), r.Columns)
	require.Equal(t, 1, r.RowCount())
	assert.Equal(t, "b", r.Value(0, "y").String())

	left := NewRasterData(&value.Raster{
		Columns: value.NewColumns("id", "x"),
		Rows:    []value.Tuple{{value.Int(2), value.String("c")}},
	}).Join(right, stream.Join{Type: stream.LeftJoin, Condition: cond})
	r, err = left.Raster(job.Background())
	require.NoError(t, err)
	require.Equal(t, 1, r.RowCount())
	assert.True(t, r.Value(0, "y").IsEmpty())
}

func TestErrorsSurface(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	d := NewStreamData(stream.ErrorStream{Err: &SourceError{Source: "db", Err: cause}}).Limit(5)
	_, err := d.Raster(job.Background())
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "db: connection refused", err.Error())

	dup := numbers(2).Calculate([]stream.Calculation{{Target: "", Formula: expr.Lit(value.Int(1))}}, stream.Insertion{})
	_, err = dup.Columns(job.Background())
	var schema *SchemaError
	assert.ErrorAs(t, err, &schema)
}

func TestExample(t *testing.T) {
	t.Parallel()

	r, err := Example(job.Background(), numbers(100), 10, 3, func(d Data) Data {
		return d.Filter(expr.MustParse("[@n] > 5"))
	})
	require.NoError(t, err)
	assert.Equal(t, 3, r.RowCount())
	assert.Equal(t, "6", r.Value(0, "n").String())
}
