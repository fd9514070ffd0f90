// Package httpds is the HTTP transport of the crawl operation: a small client
// with retry, exponential backoff and Retry-After support.
//
// Transient failures (transport errors, 429 and 5xx responses) are retried;
// every other response is returned to the caller as-is so that the crawl can
// record its status code. Context cancellation is honoured both during a
// request and while waiting between attempts.
package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Config configures a Client. Zero values get defaults:
//   - Timeout:        30s
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
type Config struct {
	// Timeout bounds a single attempt, including reading the body.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the wait before the first retry; each further retry
	// doubles it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool

	// UserAgent is sent with every request unless the caller sets one.
	UserAgent string

	// BaseHeaders are added to every request; per-request headers win.
	BaseHeaders http.Header

	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper

	Logger log.Logger
}

// Client performs requests with retry. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	baseHeaders    http.Header
	logger         log.Logger

	// wait is replaced in tests to avoid real delays.
	wait func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 16,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly configurable
			},
		}
	}

	hdr := cfg.BaseHeaders.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if cfg.UserAgent != "" && hdr.Get("User-Agent") == "" {
		hdr.Set("User-Agent", cfg.UserAgent)
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		baseHeaders:    hdr,
		logger:         cfg.Logger,
		wait:           waitContext,
	}
}

// StatusError reports that every attempt ended with a retryable status.
type StatusError struct {
	Method, URL string
	StatusCode  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: %s %s: status %d after retries", e.Method, e.URL, e.StatusCode)
}

// Do sends a request without a body. The caller must close the body of the
// returned response.
func (c *Client) Do(ctx context.Context, method, url string, headers http.Header) (*http.Response, error) {
	if method == "" {
		return nil, errors.New("httpds: method must not be empty")
	}
	if url == "" {
		return nil, errors.New("httpds: url must not be empty")
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("httpds: build request: %w", err)
		}
		for k, vs := range c.baseHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		for k, vs := range headers {
			req.Header[k] = append([]string(nil), vs...)
		}

		backoff := backoffDuration(c.initialBackoff, attempt, c.maxBackoff)
		resp, err := c.httpClient.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case !isRetryableStatus(resp.StatusCode):
			return resp, nil
		default:
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				backoff = min(d, c.maxBackoff)
			}
			_ = resp.Body.Close()
			lastErr = &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode}
		}

		if attempt == c.maxRetries {
			break
		}
		level.Debug(c.logger).Log("msg", "retrying request", "url", url, "attempt", attempt+1, "backoff", backoff, "err", lastErr)
		if err := c.wait(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Get sends a GET request. The caller must close the response body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, headers)
}

// isRetryableStatus treats 429 and 5xx as transient.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// backoffDuration returns initial * 2^attempt, clamped to max.
func backoffDuration(initial time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := initial << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h string) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	if s, err := strconv.Atoi(h); err == nil && s >= 0 {
		return time.Duration(s) * time.Second, true
	}
	if t, err := http.ParseTime(h); err == nil {
		return max(time.Until(t), 0), true
	}
	return 0, false
}

func waitContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
