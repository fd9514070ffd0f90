// Package sqlite opens SQLite database files as sources using the pure Go
// modernc.org/sqlite driver. Connections get a REGEXP function so filters
// with regular expressions can run inside the database.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"modernc.org/sqlite"

	"conduit/internal/dialect"
	"conduit/internal/sqldata"
)

// DriverName is the database/sql driver name registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Config holds SQLite connection settings.
type Config struct {
	// DSN is a file path or SQLite URI, e.g.:
	//   "sales.db"
	//   "file:sales.db?mode=ro"
	DSN string
}

var registerOnce sync.Once

// RegisterFunctions installs the REGEXP function used by pushed-down regex
// filters. It applies to connections opened afterwards and is idempotent.
func RegisterFunctions() error {
	var err error
	registerOnce.Do(func() {
		patterns, _ := lru.New[string, *regexp.Regexp](128)
		err = sqlite.RegisterDeterministicScalarFunction("regexp", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return regexpMatch(patterns, args[0], args[1])
			})
	})
	return err
}

// regexpMatch implements "subject REGEXP pattern", which SQLite rewrites to
// regexp(pattern, subject). NULL operands yield NULL.
func regexpMatch(cache *lru.Cache[string, *regexp.Regexp], pattern, subject driver.Value) (driver.Value, error) {
	if pattern == nil || subject == nil {
		return nil, nil
	}
	p := asText(pattern)
	re, ok := cache.Get(p)
	if !ok {
		var err error
		if re, err = regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("regexp: %w", err)
		}
		cache.Add(p, re)
	}
	if re.MatchString(asText(subject)) {
		return int64(1), nil
	}
	return int64(0), nil
}

func asText(v driver.Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// NewDatabase opens the database at cfg.DSN and pings it to fail fast on
// invalid paths.
func NewDatabase(ctx context.Context, cfg Config) (*sqldata.SQLDatabase, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if err := RegisterFunctions(); err != nil {
		return nil, fmt.Errorf("sqlite: register functions: %w", err)
	}

	db, err := sql.Open(DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// Enable foreign keys by default; ignore error if driver doesn't support it.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	return sqldata.NewSQLDatabase(db, dialect.SQLite, "sqlite:"+cfg.DSN), nil
}
