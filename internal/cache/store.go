// Package cache materializes source data into a local SQLite database so
// that later reads are served from the cache instead of the origin.
//
// A Store owns the database. Every write (creating, filling and dropping
// cache tables) runs on a single goroutine; readers query the finished tables
// through their own connections.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"conduit/internal/data"
	"conduit/internal/dialect"
	"conduit/internal/job"
	"conduit/internal/metrics"
	"conduit/internal/sink"
	"conduit/internal/source/sqlite"
	"conduit/internal/sqldata"
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("cache: store closed")

// Config configures a Store.
type Config struct {
	// Dir holds the cache database file; empty keeps the cache in memory.
	Dir string
	// MinFree is the free space Dir must keep; tables are not filled when
	// less is available.
	MinFree uint64
	// BatchSize is the number of rows per prepared insert. A fill writes all
	// of its batches in one transaction.
	BatchSize int
	Metrics   *metrics.Recorder
}

type op struct {
	ctx  context.Context
	fn   func(ctx context.Context, db *sql.DB) error
	done chan error
}

// Store is a SQLite cache database.
type Store struct {
	cfg    Config
	path   string
	db     *sqldata.SQLDatabase
	pin    *sql.Conn
	job    *job.Job
	logger log.Logger

	ops      chan op
	stop     chan struct{}
	loopDone chan struct{}
	fills    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	proxies map[string]*Proxy
}

// Open creates a cache database. Fills run as children of j and stop when
// j is cancelled or the store is closed.
func Open(j *job.Job, cfg Config) (*Store, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = sink.DefaultBatchSize
	}
	if err := sqlite.RegisterFunctions(); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	name := "conduit-cache-" + uuid.NewString()
	var path, dsn string
	if cfg.Dir == "" {
		dsn = "file:" + name + "?mode=memory&cache=shared"
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		path = filepath.Join(cfg.Dir, name+".db")
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(sqlite.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	// The pinned connection keeps an in-memory database alive.
	pin, err := db.Conn(j.Context())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: open: %w", err)
	}

	s := &Store{
		cfg:      cfg,
		path:     path,
		db:       sqldata.NewSQLDatabase(db, dialect.SQLite, "cache"),
		pin:      pin,
		job:      j.Child(),
		logger:   log.With(j.Logger(), "component", "cache"),
		ops:      make(chan op),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		proxies:  map[string]*Proxy{},
	}
	go s.loop()
	level.Debug(s.logger).Log("msg", "cache opened", "path", path)
	return s, nil
}

func (s *Store) loop() {
	defer close(s.loopDone)
	for {
		select {
		case o := <-s.ops:
			o.done <- o.fn(o.ctx, s.db.DB())
		case <-s.stop:
			return
		}
	}
}

// exec runs fn on the writer goroutine and waits for it.
func (s *Store) exec(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	o := op{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-o.done
}

// Database returns the cache database for reading.
func (s *Store) Database() sqldata.Database { return s.db }

// Path returns the database file, or "" for an in-memory cache.
func (s *Store) Path() string { return s.path }

// Wrap returns the caching proxy of d, identified by key. Later calls with
// the same key return the same proxy and ignore d.
func (s *Store) Wrap(key string, d data.Data) data.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return d
	}
	if p, ok := s.proxies[key]; ok {
		return p
	}
	p := newProxy(s, key, d)
	s.proxies[key] = p
	return p
}

// Evict forgets the proxy of key, cancelling its fill and dropping its table.
// Façades derived from the proxy earlier keep working until the table is
// gone.
func (s *Store) Evict(ctx context.Context, key string) error {
	s.mu.Lock()
	p, ok := s.proxies[key]
	delete(s.proxies, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	p.cancel()
	<-p.Done()
	if table := p.Table(); table != "" {
		return s.drop(ctx, table)
	}
	return nil
}

// beginFill registers a fill unless the store is closed.
func (s *Store) beginFill() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.fills.Add(1)
	return true
}

func (s *Store) drop(ctx context.Context, table string) error {
	return s.exec(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+dialect.SQLite.QuoteTable(table))
		return err
	})
}

// Close cancels running fills, waits for them to clean up and removes the
// database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.job.Cancel()
	s.fills.Wait()
	close(s.stop)
	<-s.loopDone

	err := errors.Join(s.pin.Close(), s.db.Close())
	if s.path != "" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if rerr := os.Remove(s.path + suffix); rerr != nil && !os.IsNotExist(rerr) {
				err = errors.Join(err, rerr)
			}
		}
	}
	level.Debug(s.logger).Log("msg", "cache closed", "err", err)
	return err
}

func tableName() string {
	return "cache_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
