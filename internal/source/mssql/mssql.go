// Package mssql opens Microsoft SQL Server databases as sources.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"conduit/internal/dialect"
	"conduit/internal/sqldata"
)

// Config holds SQL Server connection settings.
type Config struct {
	// DSN is a sqlserver:// URL or an ADO-style connection string.
	DSN string
}

// databaseName validates the DSN early to fail fast on obvious mistakes and
// returns the database it selects.
func databaseName(dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", fmt.Errorf("mssql: DSN must not be empty")
	}
	p, err := msdsn.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("mssql dsn: %w", err)
	}
	return p.Database, nil
}

// NewDatabase connects to the server and pings it.
func NewDatabase(ctx context.Context, cfg Config) (*sqldata.SQLDatabase, error) {
	name, err := databaseName(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mssql.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqldata.NewSQLDatabase(db, dialect.MSSQL, "mssql:"+name), nil
}
