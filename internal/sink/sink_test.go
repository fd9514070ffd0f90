package sink

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/job"
	"conduit/internal/metrics"
	"conduit/internal/stream"
	"conduit/internal/value"
)

func sample() data.Data {
	return data.NewRasterData(&value.Raster{
		Columns: value.NewColumns("id", "price", "name", "ok"),
		Rows: []value.Tuple{
			{value.Int(1), value.Double(1.5), value.String("apple"), value.Bool(true)},
			{value.Int(2), value.Int(3), value.String("pear"), value.Bool(false)},
			{value.Int(3), value.Empty(), value.String("fig"), value.Empty()},
		},
		ReadOnly: true,
	})
}

type recordingBackend struct {
	counters map[string]float64
}

func (b *recordingBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	b.counters[name+"/"+labels["sink"]] += delta
}
func (b *recordingBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *recordingBackend) Flush() error                                     { return nil }

func TestWriteBatches(t *testing.T) {
	t.Parallel()

	var sizes []int
	j := job.Background()
	n, err := WriteBatches(j, stream.NewCounterStream("n", 0, 9, 1), "numbers", 4,
		func(_ context.Context, cols []string, rows [][]any) (int64, error) {
			assert.Equal(t, []string{"n"}, cols)
			assert.Zero(t, j.Progress())
			sizes = append(sizes, len(rows))
			return int64(len(rows)), nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, 1.0, j.Progress())

	_, err = WriteBatches(job.Background(), stream.NewCounterStream("n", 0, 9, 1), "numbers", 0, nil)
	assert.Error(t, err)

	boom := errors.New("disk full")
	n, err = WriteBatches(job.Background(), stream.NewCounterStream("n", 0, 9, 1), "numbers", 4,
		func(_ context.Context, _ []string, rows [][]any) (int64, error) {
			return 0, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}

func TestDriverValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []any{int64(1), 2.5, "x", true, nil, nil}, DriverRow(value.Tuple{
		value.Int(1), value.Double(2.5), value.String("x"), value.Bool(true), value.Empty(), value.Invalid(),
	}))
}

func TestCSVWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	b := &recordingBackend{counters: map[string]float64{}}
	loc, err := value.LocaleFor("nl")
	require.NoError(t, err)

	w := &CSVWriter{W: &buf, Header: true, Locale: loc, Metrics: metrics.NewRecorder(b)}
	n, err := w.Write(job.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "id;price;name;ok\n1;1,5;apple;1\n2;3;pear;0\n3;;fig;\n", buf.String())
	assert.Equal(t, 3.0, b.counters[metrics.RowsWrittenTotal+"/csv"])
}

func TestCSVWriterPropagatesErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &CSVWriter{W: &buf}
	_, err := w.Write(job.Background(), data.NewStreamData(stream.ErrorStream{Err: errors.New("gone")}))
	assert.EqualError(t, err, "gone")
}

func TestInferTableDef(t *testing.T) {
	t.Parallel()

	rows := [][]any{
		{int64(1), 1.5, "a", true, nil, int64(1)},
		{int64(2), int64(2), "b", false, nil, "x"},
	}
	cols := []string{"i", "d", "s", "b", "n", "m"}

	tests := []struct {
		d    dialect.Dialect
		want string
	}{
		{dialect.SQLite, `CREATE TABLE "t" ("i" INTEGER, "d" REAL, "s" TEXT, "b" INTEGER, "n" TEXT, "m" TEXT)`},
		{dialect.PostgreSQL, `CREATE TABLE "t" ("i" BIGINT, "d" DOUBLE PRECISION, "s" TEXT, "b" BOOLEAN, "n" TEXT, "m" TEXT)`},
		{dialect.MySQL, "CREATE TABLE `t` (`i` BIGINT, `d` DOUBLE, `s` TEXT, `b` BOOLEAN, `n` TEXT, `m` TEXT)"},
		{dialect.MSSQL, `CREATE TABLE [t] ([i] BIGINT, [d] FLOAT, [s] NVARCHAR(MAX), [b] BIT, [n] NVARCHAR(MAX), [m] NVARCHAR(MAX))`},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			got, err := BuildCreateTableSQL(tt.d, InferTableDef(tt.d, "t", cols, rows))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := BuildCreateTableSQL(dialect.SQLite, TableDef{FQN: "t"})
	assert.Error(t, err)
	_, err = BuildCreateTableSQL(dialect.SQLite, TableDef{Columns: []ColumnDef{{Name: "a", SQLType: "TEXT"}}})
	assert.Error(t, err)
}

func TestInsertSQL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `INSERT INTO "s"."t" ("a", "b") VALUES ($1, $2)`, InsertSQL(dialect.PostgreSQL, "s.t", []string{"a", "b"}))
	assert.Equal(t, `INSERT INTO [t] ([a], [b]) VALUES (@p1, @p2)`, InsertSQL(dialect.MSSQL, "t", []string{"a", "b"}))
	assert.Equal(t, "INSERT INTO `t` (`a`) VALUES (?)", InsertSQL(dialect.MySQL, "t", []string{"a"}))
}

func TestSQLWriterSQLite(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "out.db"))
	require.NoError(t, err)
	defer db.Close()

	b := &recordingBackend{counters: map[string]float64{}}
	w := &SQLWriter{DB: db, Dialect: dialect.SQLite, Table: "fruit", Create: true, BatchSize: 2, Metrics: metrics.NewRecorder(b)}
	n, err := w.Write(job.Background(), sample())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 3.0, b.counters[metrics.RowsWrittenTotal+"/sqlite"])

	var count int
	var total float64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(price) FROM fruit`).Scan(&count, &total))
	assert.Equal(t, 3, count)
	assert.InDelta(t, 4.5, total, 1e-9)

	// Appending to the existing table.
	w.Create = false
	_, err = w.Write(job.Background(), sample().Limit(1))
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fruit`).Scan(&count))
	assert.Equal(t, 4, count)
}

func TestSQLWriterCreatesEmptyTable(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "out.db"))
	require.NoError(t, err)
	defer db.Close()

	w := &SQLWriter{DB: db, Dialect: dialect.SQLite, Table: "empty", Create: true}
	n, err := w.Write(job.Background(), sample().Limit(0))
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM empty`).Scan(&count))
	assert.Zero(t, count)
}

func TestSQLWriterRollsBack(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	insert := regexp.QuoteMeta(`INSERT INTO "t" ("id", "price", "name", "ok") VALUES ($1, $2, $3, $4)`)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(insert)
	prep.ExpectExec().WithArgs(int64(1), 1.5, "apple", true).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(2), int64(3), "pear", false).WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	w := &SQLWriter{DB: db, Dialect: dialect.PostgreSQL, Table: "t"}
	_, err = w.Write(job.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint")
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = (&SQLWriter{DB: db}).Write(job.Background(), sample())
	assert.Error(t, err)
}

type fakeCopier struct {
	execs  []string
	tables []pgx.Identifier
	rows   int
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	f.tables = append(f.tables, table)
	var n int64
	for src.Next() {
		if _, err := src.Values(); err != nil {
			return n, err
		}
		n++
	}
	f.rows += int(n)
	return n, src.Err()
}

func (f *fakeCopier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func TestPostgresWriter(t *testing.T) {
	t.Parallel()

	fc := &fakeCopier{}
	w := &PostgresWriter{Pool: fc, Table: "public.fruit", Create: true, BatchSize: 2}
	n, err := w.Write(job.Background(), sample())
	require.NoError(t, err)

	assert.Equal(t, int64(3), n)
	assert.Equal(t, 3, fc.rows)
	assert.Equal(t, []pgx.Identifier{{"public", "fruit"}, {"public", "fruit"}}, fc.tables)
	require.Len(t, fc.execs, 1)
	assert.Equal(t, `CREATE TABLE "public"."fruit" ("id" BIGINT, "price" DOUBLE PRECISION, "name" TEXT, "ok" BOOLEAN)`, fc.execs[0])

	_, err = (&PostgresWriter{Pool: fc}).Write(job.Background(), sample())
	assert.Error(t, err)
}
