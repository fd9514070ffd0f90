package csv

import (
	"context"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/source"
)

// fileSource serves one file. Its options are defaults that step options
// override key by key.
type fileSource struct {
	cfg source.Config
}

var _ source.Source = (*fileSource)(nil)

func init() {
	source.Register(config.KindCSV, func(_ context.Context, cfg source.Config) (source.Source, error) {
		return &fileSource{cfg: cfg}, nil
	})
}

func (s *fileSource) Data(ctx context.Context, opts config.Options) (data.Data, error) {
	merged := config.Options{}
	for k, v := range s.cfg.Options {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}
	opt, err := OptionsFrom(s.cfg.DSN, merged, s.cfg.Locale)
	if err != nil {
		return nil, err
	}
	return New(ctx, opt)
}

func (s *fileSource) Close() error { return nil }
