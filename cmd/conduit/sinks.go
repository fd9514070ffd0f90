package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"conduit/internal/config"
	"conduit/internal/sink"
	"conduit/internal/source/mssql"
	"conduit/internal/source/mysql"
	"conduit/internal/source/postgres"
	"conduit/internal/source/sqlite"
	"conduit/internal/sqldata"
)

// openSink builds the sink selected by the run flags. The returned function
// releases it and must be called once writing is done.
func openSink(a *Action) (sink.Sink, func() error, error) {
	ctx := a.cmd.Context()
	to := a.getString("to")
	if to == config.KindCSV {
		return openCSV(a)
	}

	dsn, table := a.getString("dsn"), a.getString("table")
	if dsn == "" || table == "" {
		return nil, nil, fmt.Errorf("%s sink needs --dsn and --table", to)
	}
	create := a.getBool("create")
	batch := a.doc.Runtime.BatchSize
	m := a.env.Metrics()

	var (
		db  *sqldata.SQLDatabase
		err error
	)
	switch to {
	case config.KindPostgres:
		pg, err := postgres.NewDatabase(ctx, postgres.Config{DSN: dsn})
		if err != nil {
			return nil, nil, err
		}
		w := &sink.PostgresWriter{Pool: pg.Pool(), Table: table, Create: create, BatchSize: batch, Metrics: m}
		return w, pg.Close, nil
	case config.KindSQLite:
		db, err = sqlite.NewDatabase(ctx, sqlite.Config{DSN: dsn})
	case config.KindMySQL:
		db, err = mysql.NewDatabase(ctx, mysql.Config{DSN: dsn})
	case config.KindMSSQL:
		db, err = mssql.NewDatabase(ctx, mssql.Config{DSN: dsn})
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", to)
	}
	if err != nil {
		return nil, nil, err
	}
	w := &sink.SQLWriter{DB: db.DB(), Dialect: db.Dialect(), Table: table, Create: create, BatchSize: batch, Metrics: m}
	return w, db.Close, nil
}

func openCSV(a *Action) (sink.Sink, func() error, error) {
	w := &sink.CSVWriter{
		Header:  !a.getBool("no-header"),
		Locale:  a.Locale(),
		Metrics: a.env.Metrics(),
	}
	if sep := a.getString("separator"); sep != "" {
		r, size := utf8.DecodeRuneInString(sep)
		if size != len(sep) {
			return nil, nil, fmt.Errorf("separator %q must be a single character", sep)
		}
		w.Separator = r
	}

	out := a.getString("out")
	if out == "" || out == "-" {
		w.W = a.cmd.OutOrStdout()
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(out)
	if err != nil {
		return nil, nil, err
	}
	w.W = f
	return w, closeFile(f), nil
}

func closeFile(c io.Closer) func() error {
	return func() error { return c.Close() }
}

func closeAll(err error, closers ...func() error) error {
	errs := []error{err}
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
