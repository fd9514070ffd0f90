package env

import (
	"context"
	"errors"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/source"
	"conduit/internal/value"
)

// Sources opens origins through the source registry and keeps them open, so
// steps reading several tables of one database share a connection.
type Sources struct {
	locale value.Locale
	logger log.Logger

	mu   sync.Mutex
	open map[string]source.Source
}

// NewSources returns an empty set of sources reading text with locale.
func NewSources(locale value.Locale, logger log.Logger) *Sources {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Sources{locale: locale, logger: logger, open: map[string]source.Source{}}
}

// Data opens (or reuses) the origin of kind at dsn and returns a façade
// selected by opts.
func (s *Sources) Data(ctx context.Context, kind, dsn string, opts config.Options) (data.Data, error) {
	src, err := s.source(ctx, kind, dsn)
	if err != nil {
		return nil, err
	}
	return src.Data(ctx, opts)
}

func (s *Sources) source(ctx context.Context, kind, dsn string) (source.Source, error) {
	key := kind + "\x00" + dsn
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.open[key]; ok {
		return src, nil
	}
	src, err := source.Open(ctx, source.Config{Kind: kind, DSN: dsn, Locale: s.locale})
	if err != nil {
		return nil, err
	}
	level.Debug(s.logger).Log("msg", "source opened", "kind", kind)
	s.open[key] = src
	return src, nil
}

// Len returns the number of open origins.
func (s *Sources) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Close closes every origin.
func (s *Sources) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for key, src := range s.open {
		errs = append(errs, src.Close())
		delete(s.open, key)
	}
	return errors.Join(errs...)
}
