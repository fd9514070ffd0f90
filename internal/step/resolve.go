package step

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// Sources opens the façades of source steps. kind is a step kind, dsn is a
// connection string or, for files, a path.
type Sources interface {
	Data(ctx context.Context, kind, dsn string, opts config.Options) (data.Data, error)
}

// Cache materializes the output of source steps flagged for caching. key
// identifies the step; the same key always yields the same proxy.
type Cache interface {
	Wrap(key string, d data.Data) data.Data
}

// Resolver turns steps into data façades. Resolution is recursive: a source
// step opens its origin, every other step resolves its previous step and
// applies its transform to the result.
type Resolver struct {
	Document *Document
	Sources  Sources
	// Cache is optional; without it cache flags are ignored.
	Cache Cache
	// HTTP is the client of crawl steps.
	HTTP stream.Getter
	// Crawl fills in crawl settings steps leave at zero.
	Crawl config.Crawl
}

// FullData resolves s into a façade over its complete output. It fails with
// a *CycleError before anything runs when the chain of s depends on itself.
func (r *Resolver) FullData(j *job.Job, s *Step) (data.Data, error) {
	return r.resolve(j, s, -1)
}

// ExampleData computes a preview of the output of s: every source is cut
// off after maxInputRows rows (no cut-off when negative) and at most
// maxOutputRows rows are returned.
func (r *Resolver) ExampleData(j *job.Job, s *Step, maxInputRows, maxOutputRows int) (*value.Raster, error) {
	d, err := r.resolve(j, s, maxInputRows)
	if err != nil {
		return nil, err
	}
	return stream.Collect(j, d.Stream(), maxOutputRows)
}

// ChainData resolves the result (the tail step) of a chain.
func (r *Resolver) ChainData(j *job.Job, id string) (data.Data, error) {
	c, ok := r.Document.Chain(id)
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", id)
	}
	if c.Tail() == nil {
		return nil, fmt.Errorf("chain %q has no steps", id)
	}
	return r.FullData(j, c.Tail())
}

func (r *Resolver) resolve(j *job.Job, s *Step, limit int) (data.Data, error) {
	visiting := map[string]bool{}
	if c := s.Chain(); c != nil {
		if err := r.Document.CheckCycles(c.ID); err != nil {
			return nil, err
		}
		visiting[c.ID] = true
	}
	return r.data(j, s, limit, visiting)
}

// data resolves s. A negative limit resolves full data, otherwise sources are
// limited to that many rows.
func (r *Resolver) data(j *job.Job, s *Step, limit int, visiting map[string]bool) (data.Data, error) {
	if err := j.Err(); err != nil {
		return nil, err
	}
	if s.Previous() == nil {
		if !IsSource(s.Transform) {
			return nil, fmt.Errorf("%s step has no input; a chain must start with a source", s.Transform.Kind())
		}
		return r.source(j, s, limit, visiting)
	}
	if IsSource(s.Transform) {
		return nil, fmt.Errorf("source %s can only be the first step", s.Transform.Kind())
	}
	in, err := r.data(j, s.Previous(), limit, visiting)
	if err != nil {
		return nil, err
	}
	return r.apply(j, s.Transform, in, limit, visiting)
}

func (r *Resolver) chain(j *job.Job, id string, limit int, visiting map[string]bool) (data.Data, error) {
	if visiting[id] {
		if err := r.Document.CheckCycles(id); err != nil {
			return nil, err
		}
		return nil, &CycleError{Chain: id, Path: []string{id, id}}
	}
	c, ok := r.Document.Chain(id)
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", id)
	}
	if c.Tail() == nil {
		return nil, fmt.Errorf("chain %q has no steps", id)
	}
	visiting[id] = true
	defer delete(visiting, id)
	return r.data(j, c.Tail(), limit, visiting)
}

func (r *Resolver) source(j *job.Job, s *Step, limit int, visiting map[string]bool) (data.Data, error) {
	var (
		d   data.Data
		err error
	)
	switch t := s.Transform.(type) {
	case RasterSource:
		if t.Raster == nil {
			d = data.NewRasterData(&value.Raster{ReadOnly: true})
		} else {
			d = data.NewRasterData(t.Raster)
		}
	case CSVSource:
		d, err = r.open(j, t.Kind(), t.Path, t.Options)
	case DatabaseSource:
		d, err = r.open(j, t.Database, t.DSN, config.Options{"table": t.Table})
	case CloneSource:
		// The cloned chain limits its own sources.
		return r.chain(j, t.Chain, limit, visiting)
	default:
		return nil, fmt.Errorf("%s is not a source", s.Transform.Kind())
	}
	if err != nil {
		return nil, err
	}
	if s.Cache && r.Cache != nil {
		d = r.Cache.Wrap(s.ID.String(), d)
	}
	if limit >= 0 {
		d = d.Limit(limit)
	}
	return d, nil
}

func (r *Resolver) open(j *job.Job, kind, dsn string, opts config.Options) (data.Data, error) {
	if r.Sources == nil {
		return nil, fmt.Errorf("no sources configured to open %s", kind)
	}
	level.Debug(j.Logger()).Log("msg", "opening source", "kind", kind)
	return r.Sources.Data(j.Context(), kind, dsn, opts)
}

func (r *Resolver) apply(j *job.Job, t Transform, in data.Data, limit int, visiting map[string]bool) (data.Data, error) {
	switch t := t.(type) {
	case Filter:
		return in.Filter(t.Condition), nil
	case Limit:
		return in.Limit(t.N), nil
	case Offset:
		return in.Offset(t.N), nil
	case Random:
		return in.Random(t.N), nil
	case Distinct:
		return in.Distinct(), nil
	case Columns:
		return in.SelectColumns(t.Columns, t.Keep), nil
	case Calculate:
		return in.Calculate(t.Calculations, t.Insertion), nil
	case Sort:
		return in.Sort(t.Orders), nil
	case Aggregate:
		return in.Aggregate(t.Groups, t.Aggregations), nil
	case Pivot:
		return in.Pivot(t.Pivot), nil
	case Flatten:
		return in.Flatten(t.Flatten), nil
	case Transpose:
		return in.Transpose(), nil
	case Join:
		other, err := r.chain(j, t.Chain, limit, visiting)
		if err != nil {
			return nil, err
		}
		return in.Join(other, t.Join), nil
	case Merge:
		other, err := r.chain(j, t.Chain, limit, visiting)
		if err != nil {
			return nil, err
		}
		return in.Union(other), nil
	case Crawl:
		c := t.Crawler
		if c.Client == nil {
			c.Client = r.HTTP
		}
		if c.MaxConcurrent == 0 {
			c.MaxConcurrent = r.Crawl.MaxConcurrent
		}
		if c.MaxRequestsPerSecond == 0 {
			c.MaxRequestsPerSecond = r.Crawl.MaxRequestsPerSecond
		}
		return in.Crawl(c), nil
	}
	return nil, fmt.Errorf("%s cannot follow another step", t.Kind())
}
