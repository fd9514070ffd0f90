package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"

	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/sink"
	"conduit/internal/sqldata"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// Proxy is a Data that fills a cache table from its source the first time it
// is used. Until the fill completes it serves the source itself; afterwards
// every new derivation reads from the cache table. Façades derived before the
// swap keep reading the source.
type Proxy struct {
	store  *Store
	key    string
	source data.Data

	once sync.Once
	done chan struct{}

	mu       sync.RWMutex
	fillJob  *job.Job
	delegate data.Data
	table    string
	rows     int64
	err      error
}

var (
	_ data.Data      = (*Proxy)(nil)
	_ data.Explainer = (*Proxy)(nil)
)

func newProxy(s *Store, key string, d data.Data) *Proxy {
	return &Proxy{store: s, key: key, source: d, delegate: d, done: make(chan struct{})}
}

func (p *Proxy) current() data.Data {
	p.once.Do(p.start)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delegate
}

func (p *Proxy) start() {
	if !p.store.beginFill() {
		close(p.done)
		return
	}
	j := p.store.job.Child()
	p.mu.Lock()
	p.fillJob = j
	p.mu.Unlock()
	j.Pool().Go(j.Context(), func() { p.fill(j) }, p.abandon)
}

// abandon settles a fill that was cancelled before a worker picked it up.
func (p *Proxy) abandon() {
	defer p.store.fills.Done()
	defer close(p.done)
	p.mu.Lock()
	p.err = job.ErrCancelled
	p.mu.Unlock()
}

func (p *Proxy) cancel() {
	p.once.Do(func() { close(p.done) })
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.fillJob != nil {
		p.fillJob.Cancel()
	}
}

// Done is closed once the fill has finished, failed or was cancelled. It is
// never closed for a proxy that was not used yet.
func (p *Proxy) Done() <-chan struct{} { return p.done }

// Wait starts the fill if needed and waits for it. It returns the fill error,
// or ErrCancelled when j ends first.
func (p *Proxy) Wait(j *job.Job) error {
	p.current()
	select {
	case <-p.done:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.err
	case <-j.Done():
		return job.ErrCancelled
	}
}

// Cached reports whether reads are served from the cache table.
func (p *Proxy) Cached() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table != ""
}

// Table returns the cache table, or "" before the fill completed.
func (p *Proxy) Table() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table
}

// Rows returns the number of cached rows.
func (p *Proxy) Rows() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rows
}

func (p *Proxy) fill(j *job.Job) {
	s := p.store
	defer s.fills.Done()
	defer close(p.done)

	start := time.Now()
	table, columns, n, err := p.materialize(j)
	if err == nil && j.IsCancelled() {
		err = job.ErrCancelled
	}
	s.cfg.Metrics.RecordCacheFill(err, n)
	logger := level.Debug(s.logger)
	if err != nil && !errors.Is(err, job.ErrCancelled) {
		logger = level.Warn(s.logger)
	}

	if err != nil {
		if table != "" {
			// Drop on a fresh context so cancelled fills still clean up.
			if derr := s.drop(context.WithoutCancel(j.Context()), table); derr != nil {
				err = errors.Join(err, fmt.Errorf("drop %s: %w", table, derr))
			}
		}
		logger.Log("msg", "cache fill stopped", "key", p.key, "rows", n, "err", err)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		return
	}

	cached := sqldata.New(s.db, table, columns)
	p.mu.Lock()
	p.delegate, p.table, p.rows = cached, table, n
	p.mu.Unlock()
	logger.Log("msg", "cache filled", "key", p.key, "table", table, "rows", humanize.Comma(n),
		"duration", time.Since(start))
}

// materialize copies the source into a new table in one transaction. The
// table is created from the first batch, before the transaction begins, and
// its name is returned as soon as it exists so failures can drop it.
func (p *Proxy) materialize(j *job.Job) (table string, columns value.Columns, n int64, err error) {
	s := p.store
	if s.path != "" && s.cfg.MinFree > 0 {
		ok, free, err := ShouldCache(s.cfg.Dir, 0, s.cfg.MinFree)
		if err != nil {
			return "", nil, 0, err
		}
		if !ok {
			return "", nil, 0, fmt.Errorf("cache: %s free in %s, need %s",
				humanize.IBytes(free), s.cfg.Dir, humanize.IBytes(s.cfg.MinFree))
		}
	}

	src := p.source.Stream()
	columns, err = src.Columns(j)
	if err != nil {
		stream.Close(src)
		return "", nil, 0, err
	}
	names := columns.Strings()
	name := tableName()

	create := func(ctx context.Context, db *sql.DB, sample [][]any) error {
		stmt, err := sink.BuildCreateTableSQL(dialect.SQLite, sink.InferTableDef(dialect.SQLite, name, names, sample))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cache: create table: %w", err)
		}
		table = name
		return nil
	}

	// The whole fill is one writer operation, so no other write can
	// interleave with its transaction.
	err = s.exec(j.Context(), func(ctx context.Context, db *sql.DB) error {
		var tx *sql.Tx
		var err error
		n, err = sink.WriteBatches(j, src, name, s.cfg.BatchSize, func(ctx context.Context, cols []string, rows [][]any) (int64, error) {
			if tx == nil {
				if err := create(ctx, db, rows); err != nil {
					return 0, err
				}
				t, err := db.BeginTx(ctx, nil)
				if err != nil {
					return 0, fmt.Errorf("cache: begin tx: %w", err)
				}
				tx = t
			}
			return sink.InsertRows(ctx, tx, dialect.SQLite, name, cols, rows)
		})
		if err == nil && j.IsCancelled() {
			err = job.ErrCancelled
		}
		switch {
		case err != nil:
			if tx != nil {
				_ = tx.Rollback()
			}
			return err
		case tx == nil:
			return create(ctx, db, nil)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("cache: commit: %w", err)
		}
		return nil
	})
	if err != nil {
		stream.Close(src)
		n = 0
	}
	if errors.Is(err, context.Canceled) {
		err = job.ErrCancelled
	}
	return table, columns, n, err
}

// Explain describes the delegate when it can explain itself.
func (p *Proxy) Explain() string {
	if e, ok := p.current().(data.Explainer); ok {
		return e.Explain()
	}
	return ""
}

func (p *Proxy) Columns(j *job.Job) (value.Columns, error) { return p.current().Columns(j) }
func (p *Proxy) Raster(j *job.Job) (*value.Raster, error)  { return p.current().Raster(j) }
func (p *Proxy) Stream() stream.Stream                     { return p.current().Stream() }

func (p *Proxy) Filter(condition expr.Expression) data.Data { return p.current().Filter(condition) }
func (p *Proxy) Limit(n int) data.Data                      { return p.current().Limit(n) }
func (p *Proxy) Offset(n int) data.Data                     { return p.current().Offset(n) }
func (p *Proxy) Random(n int) data.Data                     { return p.current().Random(n) }
func (p *Proxy) Distinct() data.Data                        { return p.current().Distinct() }
func (p *Proxy) Transpose() data.Data                       { return p.current().Transpose() }

func (p *Proxy) SelectColumns(columns value.Columns, keep bool) data.Data {
	return p.current().SelectColumns(columns, keep)
}

func (p *Proxy) Calculate(calculations []stream.Calculation, insert stream.Insertion) data.Data {
	return p.current().Calculate(calculations, insert)
}

func (p *Proxy) Sort(orders []stream.Order) data.Data { return p.current().Sort(orders) }

func (p *Proxy) Aggregate(groups []stream.Grouping, aggregations []stream.Aggregation) data.Data {
	return p.current().Aggregate(groups, aggregations)
}

func (p *Proxy) Pivot(pv stream.Pivot) data.Data     { return p.current().Pivot(pv) }
func (p *Proxy) Flatten(f stream.Flatten) data.Data  { return p.current().Flatten(f) }
func (p *Proxy) Union(other data.Data) data.Data     { return p.current().Union(other) }
func (p *Proxy) Crawl(c stream.Crawler) data.Data    { return p.current().Crawl(c) }
func (p *Proxy) Join(other data.Data, join stream.Join) data.Data {
	return p.current().Join(other, join)
}
