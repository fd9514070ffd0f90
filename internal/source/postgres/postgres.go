// Package postgres opens PostgreSQL databases as sources using pgx v5. It
// talks to the server through a pgxpool.Pool rather than database/sql so
// sinks can reuse the pool for COPY.
package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"conduit/internal/dialect"
	"conduit/internal/sqldata"
	"conduit/internal/value"
)

// Config holds Postgres connection settings.
type Config struct {
	DSN string // connection string for pgxpool
}

// Database is a sqldata.Database backed by a pgx connection pool.
type Database struct {
	pool *pgxpool.Pool
	name string
}

var _ sqldata.Database = (*Database)(nil)

// NewDatabase creates the pool and pings the server.
func NewDatabase(ctx context.Context, cfg Config) (*Database, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Database{pool: pool, name: "postgres:" + pc.ConnConfig.Database}, nil
}

// Pool exposes the pool, for writers using COPY.
func (d *Database) Pool() *pgxpool.Pool { return d.pool }

func (d *Database) Dialect() dialect.Dialect { return dialect.PostgreSQL }
func (d *Database) Name() string             { return d.name }

func (d *Database) Query(ctx context.Context, query string, args ...any) (sqldata.Rows, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return &pgRows{rows: rows, columns: cols}, nil
}

func (d *Database) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.pool.Exec(ctx, query, args...)
	return err
}

func (d *Database) Close() error {
	d.pool.Close()
	return nil
}

type pgRows struct {
	rows    pgx.Rows
	columns []string
}

func (r *pgRows) Columns() []string { return r.columns }
func (r *pgRows) Next() bool        { return r.rows.Next() }
func (r *pgRows) Err() error        { return r.rows.Err() }

func (r *pgRows) Close() error {
	r.rows.Close()
	return nil
}

func (r *pgRows) Values() (value.Tuple, error) {
	raw, err := r.rows.Values()
	if err != nil {
		return nil, err
	}
	out := make(value.Tuple, len(raw))
	for i, v := range raw {
		out[i] = valueFromPgx(v)
	}
	return out, nil
}

// valueFromPgx converts the Go values pgx decodes into engine values. Types
// with no counterpart fall back to their text form.
func valueFromPgx(v any) value.Value {
	switch x := v.(type) {
	case pgtype.Numeric:
		return numericValue(x)
	case [16]byte:
		return value.String(uuid.UUID(x).String())
	case time.Time:
		return value.String(x.Format(time.RFC3339Nano))
	case pgtype.Interval:
		return value.String(fmt.Sprintf("%d months %d days %d microseconds", x.Months, x.Days, x.Microseconds))
	case []any, map[string]any:
		return value.String(fmt.Sprint(x))
	}
	return sqldata.ValueFromDriver(v, false)
}

func numericValue(n pgtype.Numeric) value.Value {
	if !n.Valid {
		return value.Empty()
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return value.Invalid()
	}
	if n.Exp >= 0 && n.Int != nil {
		i := new(big.Int).Mul(n.Int, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
		if i.IsInt64() {
			return value.Int(i.Int64())
		}
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return value.Invalid()
	}
	return value.Double(f.Float64)
}
