// Package datadog implements a DogStatsD backend for the metrics package.
// Labels become Datadog tags of the form "key:value".
package datadog

import (
	"fmt"
	"sort"

	"github.com/DataDog/datadog-go/v5/statsd"

	"conduit/internal/metrics"
)

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or
	// "unix:///var/run/datadog/dsd.socket".
	Addr string

	// Namespace prefixes every metric name, e.g. "conduit.".
	Namespace string

	// GlobalTags are applied to every metric, e.g. "env:prod".
	GlobalTags []string
}

// client is the subset of statsd.ClientInterface the backend uses.
type client interface {
	Count(name string, value int64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Backend is a Datadog implementation of metrics.Backend.
type Backend struct {
	client client
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend connects to the DogStatsD agent at cfg.Addr.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}
	var opts []statsd.Option
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a Count; fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Count(name, int64(delta), labelsToTags(labels), 1)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Histogram(name, value, labelsToTags(labels), 1)
}

// Flush closes the client, which flushes buffered metrics. It is meant to be
// called once at shutdown.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	sort.Strings(out)
	return out
}
