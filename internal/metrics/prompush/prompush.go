// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. Collected metrics are pushed to a gateway on Flush rather
// than exposed on a scrape endpoint, which suits short-lived CLI runs.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"conduit/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	calculations        *prometheus.CounterVec
	calculationDuration *prometheus.SummaryVec
	exampleRows         *prometheus.HistogramVec
	cacheFills          *prometheus.CounterVec
	cacheRows           prometheus.Counter
	rowsWritten         *prometheus.CounterVec
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend constructs a Pushgateway backend grouped under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "conduit"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.CalculationTotal,
			Help: "Step calculations, partitioned by step kind and outcome.",
		}, []string{"kind", "status"}),
		calculationDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.CalculationDuration,
			Help:       "Duration of step calculations in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"kind", "status"}),
		exampleRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.ExampleInputRows,
			Help:    "Input rows requested for example calculations.",
			Buckets: prometheus.ExponentialBuckets(256, 2, 8),
		}, []string{"kind"}),
		cacheFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.CacheFillTotal,
			Help: "Finished cache fills by outcome.",
		}, []string{"status"}),
		cacheRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.CacheRowsTotal,
			Help: "Rows stored in the local cache.",
		}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsWrittenTotal,
			Help: "Rows written by sinks.",
		}, []string{"sink"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"calculation counter": b.calculations,
		"calculation summary": b.calculationDuration,
		"example histogram":   b.exampleRows,
		"cache fill counter":  b.cacheFills,
		"cache row counter":   b.cacheRows,
		"rows written":        b.rowsWritten,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.CalculationTotal:
		b.calculations.WithLabelValues(labels["kind"], labels["status"]).Add(delta)
	case metrics.CacheFillTotal:
		b.cacheFills.WithLabelValues(labels["status"]).Add(delta)
	case metrics.CacheRowsTotal:
		b.cacheRows.Add(delta)
	case metrics.RowsWrittenTotal:
		b.rowsWritten.WithLabelValues(labels["sink"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.CalculationDuration:
		b.calculationDuration.WithLabelValues(labels["kind"], labels["status"]).Observe(value)
	case metrics.ExampleInputRows:
		b.exampleRows.WithLabelValues(labels["kind"]).Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
