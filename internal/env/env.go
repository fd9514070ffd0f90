// Package env is the runtime environment of a process: the logger, worker
// pool, metrics recorder, HTTP client, cache store and open sources. It is
// built once at startup from a document and passed to whatever needs it.
package env

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"conduit/internal/cache"
	"conduit/internal/calculator"
	"conduit/internal/config"
	"conduit/internal/httpds"
	"conduit/internal/job"
	"conduit/internal/metrics"
	"conduit/internal/metrics/datadog"
	"conduit/internal/metrics/prompush"
	"conduit/internal/step"
	"conduit/internal/value"
)

// Env is the shared runtime state. It is safe for concurrent use.
type Env struct {
	doc     *config.Document
	logger  log.Logger
	pool    *job.Pool
	root    *job.Job
	metrics *metrics.Recorder
	http    *httpds.Client
	cache   *cache.Store
	sources *Sources
}

// New builds the environment for doc, which must have defaults applied.
// logger and m may be nil.
func New(ctx context.Context, doc *config.Document, logger log.Logger, m *metrics.Recorder) (*Env, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	locale := value.DefaultLocale()
	if doc.Runtime.Locale != "" {
		l, err := value.LocaleFor(doc.Runtime.Locale)
		if err != nil {
			return nil, fmt.Errorf("runtime.locale: %w", err)
		}
		locale = l
	}

	pool := job.NewPool(doc.Runtime.Workers)
	e := &Env{
		doc:     doc,
		logger:  logger,
		pool:    pool,
		root:    job.New(ctx, pool, logger),
		metrics: m,
		http: httpds.NewClient(httpds.Config{
			Timeout:            doc.Crawl.Timeout.Std(),
			MaxRetries:         doc.Crawl.MaxRetries,
			UserAgent:          doc.Crawl.UserAgent,
			InsecureSkipVerify: doc.Crawl.InsecureSkipVerify,
			Logger:             log.With(logger, "component", "crawl"),
		}),
		sources: NewSources(locale, logger),
	}

	if doc.Cache.Enabled {
		minFree, err := doc.Cache.MinFreeBytes()
		if err != nil {
			e.root.Cancel()
			return nil, fmt.Errorf("cache.min_free: %w", err)
		}
		e.cache, err = cache.Open(e.root, cache.Config{
			Dir:       doc.Cache.Dir,
			MinFree:   minFree,
			BatchSize: doc.Runtime.BatchSize,
			Metrics:   m,
		})
		if err != nil {
			e.root.Cancel()
			return nil, err
		}
	}
	level.Debug(logger).Log("msg", "environment ready", "workers", pool.Workers(), "cache", doc.Cache.Enabled)
	return e, nil
}

// NewMetrics builds the recorder selected by cfg. Without a backend it
// returns a recorder that discards everything.
func NewMetrics(cfg config.Metrics) (*metrics.Recorder, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return metrics.NewRecorder(nil), nil
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		return metrics.NewRecorder(b), nil
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{Addr: cfg.DatadogAddr, Namespace: cfg.Namespace, GlobalTags: cfg.Tags})
		if err != nil {
			return nil, err
		}
		return metrics.NewRecorder(b), nil
	}
	return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
}

// Logger returns the process logger.
func (e *Env) Logger() log.Logger { return e.logger }

// Metrics returns the metrics recorder; it may be nil.
func (e *Env) Metrics() *metrics.Recorder { return e.metrics }

// Sources returns the open sources.
func (e *Env) Sources() *Sources { return e.sources }

// Cache returns the cache store, or nil when caching is disabled.
func (e *Env) Cache() *cache.Store { return e.cache }

// Job returns a new job for one unit of work, cancelled with ctx or when the
// environment closes.
func (e *Env) Job(ctx context.Context) *job.Job {
	j := job.New(ctx, e.pool, e.logger)
	context.AfterFunc(e.root.Context(), j.Cancel)
	return j
}

// Resolver returns a resolver over d that opens sources, caches and crawls
// through the environment.
func (e *Env) Resolver(d *step.Document) *step.Resolver {
	r := &step.Resolver{Document: d, Sources: e.sources, HTTP: e.http, Crawl: e.doc.Crawl}
	if e.cache != nil {
		r.Cache = e.cache
	}
	return r
}

// Calculator returns a calculator configured from the document.
func (e *Env) Calculator(r calculator.Resolver) *calculator.Calculator {
	return calculator.New(r, calculator.SettingsFrom(e.doc.Calculator), e.metrics)
}

// Close cancels outstanding work, removes the cache, closes every source
// and flushes metrics.
func (e *Env) Close() error {
	e.root.Cancel()
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.sources.Close())
	if e.metrics != nil {
		if err := e.metrics.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush metrics: %w", err))
		}
	}
	e.pool.Wait()
	return errors.Join(errs...)
}
