package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-kit/log/level"

	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/job"
	"conduit/internal/metrics"
)

// SQLWriter inserts rows into a table through database/sql. Every batch is
// written in its own transaction with a prepared INSERT; SQL databases have
// no common bulk-load API, but transactions keep throughput acceptable.
type SQLWriter struct {
	DB      *sql.DB
	Dialect dialect.Dialect
	Table   string
	// Create issues CREATE TABLE before the first batch, with column types
	// inferred from that batch.
	Create    bool
	BatchSize int
	Metrics   *metrics.Recorder
}

var _ Sink = (*SQLWriter)(nil)

func (w *SQLWriter) Write(j *job.Job, d data.Data) (int64, error) {
	if strings.TrimSpace(w.Table) == "" {
		return 0, fmt.Errorf("%s: table must not be empty", w.Dialect)
	}
	batch := w.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	created := !w.Create
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		if !created {
			if err := w.createTable(ctx, columns, rows); err != nil {
				return 0, err
			}
			created = true
		}
		return w.CopyFrom(ctx, columns, rows)
	}
	s := d.Stream()
	n, err := WriteBatches(j, s, w.Table, batch, copyFn)
	if err == nil && !created {
		cols, cerr := s.Columns(j)
		if cerr == nil {
			cerr = w.createTable(j.Context(), cols.Strings(), nil)
		}
		err = cerr
	}
	level.Debug(j.Logger()).Log("msg", "rows written", "sink", w.Dialect, "table", w.Table, "rows", n, "err", err)
	w.Metrics.RecordRowsWritten(w.Dialect.String(), n)
	return n, err
}

func (w *SQLWriter) createTable(ctx context.Context, columns []string, sample [][]any) error {
	stmt, err := BuildCreateTableSQL(w.Dialect, InferTableDef(w.Dialect, w.Table, columns, sample))
	if err != nil {
		return err
	}
	if _, err := w.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: create table: %w", w.Dialect, err)
	}
	return nil
}

// placeholder renders the i-th (0-based) bind parameter.
func placeholder(d dialect.Dialect, i int) string {
	switch d {
	case dialect.PostgreSQL:
		return "$" + strconv.Itoa(i+1)
	case dialect.MSSQL:
		return "@p" + strconv.Itoa(i+1)
	default:
		return "?"
	}
}

// InsertSQL renders the prepared INSERT for columns.
func InsertSQL(d dialect.Dialect, table string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = d.Quote(c)
		params[i] = placeholder(d, i)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.QuoteTable(table), strings.Join(cols, ", "), strings.Join(params, ", "))
}

// CopyFrom inserts the given rows into the table using a single transaction
// and a prepared statement. It returns the number of rows inserted.
func (w *SQLWriter) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return InsertRows(ctx, nil, w.Dialect, w.Table, columns, rows)
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", w.Dialect, err)
	}
	inserted, err := InsertRows(ctx, tx, w.Dialect, w.Table, columns, rows)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", w.Dialect, err)
	}
	return inserted, nil
}

// InsertRows inserts rows into table with a statement prepared on tx. It
// neither commits nor rolls back, so callers can span one transaction over
// many batches.
func InsertRows(ctx context.Context, tx *sql.Tx, d dialect.Dialect, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: CopyFrom: columns must not be empty", d)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, InsertSQL(d, table, columns))
	if err != nil {
		return 0, fmt.Errorf("%s: prepare insert: %w", d, err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("%s: CopyFrom: row length %d != columns length %d", d, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("%s: insert: %w", d, err)
		}
		inserted++
	}
	return inserted, nil
}
