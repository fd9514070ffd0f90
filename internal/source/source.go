// Package source opens the external origins a chain can start from. Concrete
// connectors live in sub-packages and register themselves by kind in init;
// importing conduit/internal/source/all enables all of them.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/sqldata"
	"conduit/internal/value"
)

// Config identifies an origin. DSN is a connection string for databases and
// a file path for file sources.
type Config struct {
	Kind    string
	DSN     string
	Options config.Options
	Locale  value.Locale
}

// Source is an open connection to an origin. One Source can serve many
// façades, e.g. several tables of the same database.
type Source interface {
	// Data returns a façade over the origin. Building it may read metadata
	// such as a header row or table columns, but never the rows themselves.
	Data(ctx context.Context, opts config.Options) (data.Data, error)
	Close() error
}

// Factory opens a Source of one kind.
type Factory func(ctx context.Context, cfg Config) (Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. It is typically
// called from connector packages' init functions.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open locates the factory for cfg.Kind and opens the origin. Failures are
// reported as *data.SourceError.
func Open(ctx context.Context, cfg Config) (Source, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source registered for kind %q (have %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	if cfg.Options == nil {
		cfg.Options = config.Options{}
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, &data.SourceError{Source: cfg.Kind, Err: err}
	}
	return s, nil
}

// Database serves tables of an open SQL database as pushdown-capable
// façades. The "table" option selects the table.
type Database struct {
	db sqldata.Database
}

var _ Source = (*Database)(nil)

// NewDatabase wraps db. Closing the Source closes db.
func NewDatabase(db sqldata.Database) *Database { return &Database{db: db} }

// DB returns the wrapped database.
func (d *Database) DB() sqldata.Database { return d.db }

func (d *Database) Data(ctx context.Context, opts config.Options) (data.Data, error) {
	table := strings.TrimSpace(opts.String("table", ""))
	if table == "" {
		return nil, fmt.Errorf("%s: table must not be empty", d.db.Name())
	}
	cols, err := sqldata.TableColumns(ctx, d.db, table)
	if err != nil {
		return nil, &data.SourceError{Source: d.db.Name() + "." + table, Err: err}
	}
	return sqldata.New(d.db, table, cols), nil
}

func (d *Database) Close() error { return d.db.Close() }
