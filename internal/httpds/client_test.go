package httpds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
}

func TestGetRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "conduit-test", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, UserAgent: "conduit-test"})
	var waits []time.Duration
	c.wait = noWait(&waits)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestGetStopsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 2})
	c.wait = noWait(nil)

	_, err := c.Get(context.Background(), srv.URL, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestGetReturnsFinalStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 5})
	c.wait = noWait(nil)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetryAfterOverridesBackoff(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Minute})
	var waits []time.Duration
	c.wait = noWait(&waits)

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []time.Duration{time.Second}, waits)
}

func TestBackoffDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		initial time.Duration
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{100 * time.Millisecond, 0, time.Second, 100 * time.Millisecond},
		{100 * time.Millisecond, 1, time.Second, 200 * time.Millisecond},
		{100 * time.Millisecond, 2, time.Second, 400 * time.Millisecond},
		{600 * time.Millisecond, 1, time.Second, time.Second},
		{time.Second, 62, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.initial.String()+"/"+strconv.Itoa(tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDuration(tt.initial, tt.attempt, tt.max))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	d, ok := retryAfter("3")
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = retryAfter("soon")
	assert.False(t, ok)

	d, ok = retryAfter(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(Config{}).Get(ctx, "http://127.0.0.1:1", nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, waitContext(ctx, time.Hour), context.Canceled)
}
