// Package mysql opens MySQL and MariaDB databases as sources.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"conduit/internal/dialect"
	"conduit/internal/sqldata"
)

// Config holds MySQL connection settings.
type Config struct {
	// DSN uses the go-sql-driver format, e.g.
	// "user:pass@tcp(db.internal:3306)/shop".
	DSN string
	// DialTimeout applies when the DSN sets no timeout.
	DialTimeout time.Duration
}

// driverConfig parses the DSN and applies the settings the engine relies on:
// DATETIME columns are scanned as time.Time and dialing is bounded.
func driverConfig(cfg Config) (*mysql.Config, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("mysql: DSN must not be empty")
	}
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	if mc.Timeout == 0 {
		mc.Timeout = cfg.DialTimeout
		if mc.Timeout == 0 {
			mc.Timeout = 10 * time.Second
		}
	}
	return mc, nil
}

// NewDatabase connects to the server and pings it.
func NewDatabase(ctx context.Context, cfg Config) (*sqldata.SQLDatabase, error) {
	mc, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return sqldata.NewSQLDatabase(db, dialect.MySQL, "mysql:"+mc.DBName), nil
}
