package mysql

import (
	"context"

	"conduit/internal/config"
	"conduit/internal/source"
	"conduit/internal/sqldata"
)

// newDatabase is a test hook that points to NewDatabase by default.
// Tests may replace this variable to avoid real DB connections.
var newDatabase = func(ctx context.Context, cfg Config) (sqldata.Database, error) {
	return NewDatabase(ctx, cfg)
}

// init registers the "mysql" source kind.
func init() {
	source.Register(config.KindMySQL, func(ctx context.Context, cfg source.Config) (source.Source, error) {
		db, err := newDatabase(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return source.NewDatabase(db), nil
	})
}
