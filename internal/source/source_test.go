package source

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/sqldata"
)

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: "parquet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"parquet"`)
}

func TestRegisterAndOpen(t *testing.T) {
	var got Config
	Register("test-open", func(_ context.Context, cfg Config) (Source, error) {
		got = cfg
		return nil, errors.New("boom")
	})

	_, err := Open(context.Background(), Config{Kind: "test-open", DSN: "x"})
	var serr *data.SourceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "test-open", serr.Source)
	assert.Equal(t, "x", got.DSN)
	assert.NotNil(t, got.Options)
	assert.Contains(t, Kinds(), "test-open")
}

func TestDatabaseData(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	src := NewDatabase(sqldata.NewSQLDatabase(db, dialect.PostgreSQL, "warehouse"))

	mock.ExpectQuery(`SELECT * FROM "public"."events" WHERE 1 = 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind"}))
	mock.ExpectQuery(`SELECT * FROM "missing" WHERE 1 = 0`).
		WillReturnError(errors.New(`relation "missing" does not exist`))
	mock.ExpectClose()

	ctx := context.Background()
	d, err := src.Data(ctx, config.Options{"table": "public.events"})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."events"`, d.(data.Explainer).Explain())

	_, err = src.Data(ctx, config.Options{"table": "missing"})
	var serr *data.SourceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "warehouse.missing", serr.Source)

	_, err = src.Data(ctx, config.Options{"table": "  "})
	assert.Error(t, err)

	require.NoError(t, src.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
