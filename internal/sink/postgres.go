package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/job"
	"conduit/internal/metrics"
)

// Copier is the subset of *pgxpool.Pool the Postgres writer uses.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresWriter loads rows with COPY, one COPY per batch.
type PostgresWriter struct {
	Pool  Copier
	Table string
	// Create issues CREATE TABLE before the first batch.
	Create    bool
	BatchSize int
	Metrics   *metrics.Recorder
}

var _ Sink = (*PostgresWriter)(nil)

// splitFQN turns "schema.table" into a pgx identifier.
func splitFQN(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func (w *PostgresWriter) Write(j *job.Job, d data.Data) (int64, error) {
	if strings.TrimSpace(w.Table) == "" {
		return 0, fmt.Errorf("postgres: table must not be empty")
	}
	batch := w.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	created := !w.Create
	create := func(ctx context.Context, columns []string, sample [][]any) error {
		stmt, err := BuildCreateTableSQL(dialect.PostgreSQL, InferTableDef(dialect.PostgreSQL, w.Table, columns, sample))
		if err != nil {
			return err
		}
		if _, err := w.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
		created = true
		return nil
	}

	s := d.Stream()
	n, err := WriteBatches(j, s, w.Table, batch, func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		if !created {
			if err := create(ctx, columns, rows); err != nil {
				return 0, err
			}
		}
		return w.Pool.CopyFrom(ctx, splitFQN(w.Table), columns, pgx.CopyFromRows(rows))
	})
	if err == nil && !created {
		cols, cerr := s.Columns(j)
		if cerr == nil {
			cerr = create(j.Context(), cols.Strings(), nil)
		}
		err = cerr
	}
	level.Debug(j.Logger()).Log("msg", "rows copied", "table", w.Table, "rows", n, "err", err)
	w.Metrics.RecordRowsWritten("postgres", n)
	return n, err
}
