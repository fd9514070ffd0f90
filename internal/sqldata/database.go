// Package sqldata pushes data operations down into SQL databases. A SQLData
// translates every operation it can into a single query and falls back to
// client-side streams for the rest.
package sqldata

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"conduit/internal/dialect"
	"conduit/internal/value"
)

// Database is a connection to a SQL database.
type Database interface {
	Dialect() dialect.Dialect
	// Name identifies the database in error messages.
	Name() string
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// Rows is an open result set.
type Rows interface {
	Columns() []string
	Next() bool
	Values() (value.Tuple, error)
	Err() error
	Close() error
}

// SQLDatabase is a Database over database/sql.
type SQLDatabase struct {
	db      *sql.DB
	dialect dialect.Dialect
	name    string
}

// NewSQLDatabase wraps an open database/sql handle.
func NewSQLDatabase(db *sql.DB, d dialect.Dialect, name string) *SQLDatabase {
	return &SQLDatabase{db: db, dialect: d, name: name}
}

// Open opens a database/sql connection and pings it so invalid DSNs fail
// early.
func Open(ctx context.Context, driver, dsn, name string) (*SQLDatabase, error) {
	d, ok := dialect.ForDriver(driver)
	if !ok {
		return nil, fmt.Errorf("%s: no SQL dialect for driver %q", name, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", name, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", name, err)
	}
	return NewSQLDatabase(db, d, name), nil
}

func (s *SQLDatabase) Dialect() dialect.Dialect { return s.dialect }
func (s *SQLDatabase) Name() string             { return s.name }

// DB exposes the underlying handle, for writers that need transactions.
func (s *SQLDatabase) DB() *sql.DB { return s.db }

func (s *SQLDatabase) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	numeric := make([]bool, len(cols))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, t := range types {
			numeric[i] = isNumericType(t.DatabaseTypeName())
		}
	}
	return &sqlRows{Rows: rows, columns: cols, numeric: numeric}, nil
}

func (s *SQLDatabase) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLDatabase) Close() error { return s.db.Close() }

type sqlRows struct {
	*sql.Rows
	columns []string
	numeric []bool
}

func (r *sqlRows) Columns() []string { return r.columns }

func (r *sqlRows) Values() (value.Tuple, error) {
	raw := make([]any, len(r.columns))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := r.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(value.Tuple, len(raw))
	for i, v := range raw {
		out[i] = ValueFromDriver(v, r.numeric[i])
	}
	return out, nil
}

// isNumericType recognizes database type names whose values drivers may
// return as text, such as DECIMAL.
func isNumericType(name string) bool {
	name = strings.ToUpper(name)
	for _, t := range []string{"INT", "DEC", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "MONEY"} {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}

// ValueFromDriver converts a value returned by a database driver. Text of a
// numeric column is parsed as a number.
func ValueFromDriver(v any, numeric bool) value.Value {
	switch x := v.(type) {
	case nil:
		return value.Empty()
	case int64:
		return value.Int(x)
	case int32:
		return value.Int(int64(x))
	case int16:
		return value.Int(int64(x))
	case int8:
		return value.Int(int64(x))
	case int:
		return value.Int(int64(x))
	case uint64:
		if x > 1<<63-1 {
			return value.Double(float64(x))
		}
		return value.Int(int64(x))
	case uint32:
		return value.Int(int64(x))
	case float64:
		return value.Double(x)
	case float32:
		return value.Double(float64(x))
	case bool:
		return value.Bool(x)
	case []byte:
		return textValue(string(x), numeric)
	case string:
		return textValue(x, numeric)
	case time.Time:
		return value.String(x.Format(time.RFC3339Nano))
	case fmt.Stringer:
		return textValue(x.String(), numeric)
	default:
		return value.String(fmt.Sprint(x))
	}
}

func textValue(s string, numeric bool) value.Value {
	if !numeric {
		return value.String(s)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Double(f)
	}
	return value.String(s)
}

// TableColumns reads the columns of a table without fetching any rows.
func TableColumns(ctx context.Context, db Database, table string) (value.Columns, error) {
	return QueryColumns(ctx, db, NewFragment(db.Dialect(), table).Where("1 = 0").SQL())
}

// QueryColumns runs query and returns the names of its result columns.
func QueryColumns(ctx context.Context, db Database, query string) (value.Columns, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := value.NewColumns(rows.Columns()...)
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	return cols, nil
}
