package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/value"
)

// Getter performs HTTP GET requests. *httpds.Client implements it.
type Getter interface {
	Get(ctx context.Context, url string, headers http.Header) (*http.Response, error)
}

// Crawler describes a crawl: for every row, URL is evaluated and fetched, and
// the response is stored in the target columns. Targets left empty are not
// added.
type Crawler struct {
	URL expr.Expression

	BodyColumn     value.Column
	StatusColumn   value.Column
	ErrorColumn    value.Column
	DurationColumn value.Column

	// MaxConcurrent bounds in-flight requests; zero means 8.
	MaxConcurrent int
	// MaxRequestsPerSecond throttles requests; zero means unlimited.
	MaxRequestsPerSecond float64
	// MaxBodyBytes truncates response bodies; zero means 1 MiB.
	MaxBodyBytes int64

	Client Getter
}

func (c Crawler) targets() value.Columns {
	var out value.Columns
	for _, t := range []value.Column{c.BodyColumn, c.StatusColumn, c.ErrorColumn, c.DurationColumn} {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Columns returns the crawl output schema for a source schema. Targets that
// collide with source columns are renamed.
func (c Crawler) Columns(source value.Columns) value.Columns {
	out := append(value.Columns{}, source...)
	for _, t := range c.targets() {
		out = append(out, value.Unique(t, out))
	}
	return out
}

// Crawl augments every row of source with an HTTP fetch. A failed fetch fills
// the error column; it never fails the stream.
func Crawl(source Stream, c Crawler) Stream {
	return NewTransformStream(source, newCrawlTransformer(c))
}

type crawlTransformer struct {
	def     Crawler
	source  value.Columns
	url     expr.Expression
	limiter *rate.Limiter
}

func newCrawlTransformer(c Crawler) *crawlTransformer {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	t := &crawlTransformer{def: c}
	if c.MaxRequestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(c.MaxRequestsPerSecond), 1)
	}
	return t
}

func (t *crawlTransformer) Prepare(_ *job.Job, source value.Columns) (value.Columns, error) {
	if t.def.Client == nil {
		return nil, errors.New("crawl has no HTTP client")
	}
	t.source = source
	t.url = expr.Prepare(t.def.URL)
	return t.def.Columns(source), nil
}

type crawlResult struct {
	body     value.Value
	status   value.Value
	err      value.Value
	duration value.Value
}

func (t *crawlTransformer) Transform(j *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	results := make([]crawlResult, len(rows))
	g, ctx := errgroup.WithContext(j.Context())
	g.SetLimit(t.def.MaxConcurrent)
	for i, r := range rows {
		target := expr.Eval(t.url, expr.Context{Row: value.Row{Columns: t.source, Values: r}})
		g.Go(func() error {
			results[i] = t.fetch(ctx, j, target)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		if j.IsCancelled() {
			return nil, false, job.ErrCancelled
		}
		return nil, false, err
	}

	out := make([]value.Tuple, len(rows))
	for i, r := range rows {
		o := make(value.Tuple, 0, len(r)+4)
		o = append(o, r...)
		res := results[i]
		if t.def.BodyColumn != "" {
			o = append(o, res.body)
		}
		if t.def.StatusColumn != "" {
			o = append(o, res.status)
		}
		if t.def.ErrorColumn != "" {
			o = append(o, res.err)
		}
		if t.def.DurationColumn != "" {
			o = append(o, res.duration)
		}
		out[i] = o
	}
	return out, false, nil
}

func (t *crawlTransformer) fetch(ctx context.Context, j *job.Job, target value.Value) crawlResult {
	res := crawlResult{body: value.Invalid(), status: value.Invalid(), duration: value.Invalid()}
	fail := func(err error) crawlResult {
		res.err = value.String(err.Error())
		return res
	}
	raw, ok := target.StringValue()
	if !ok || raw == "" {
		return fail(errors.New("no URL"))
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail(fmt.Errorf("invalid URL %q", raw))
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	start := time.Now()
	resp, err := t.def.Client.Get(ctx, u.String(), nil)
	if err != nil {
		level.Debug(j.Logger()).Log("msg", "crawl request failed", "url", raw, "err", err)
		return fail(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.def.MaxBodyBytes))
	res.duration = value.Double(time.Since(start).Seconds())
	res.status = value.Int(int64(resp.StatusCode))
	if err != nil {
		return fail(err)
	}
	res.body = value.String(string(body))
	res.err = value.Empty()
	return res
}

func (t *crawlTransformer) Clone() Transformer { return newCrawlTransformer(t.def) }
