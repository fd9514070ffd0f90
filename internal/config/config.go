// Package config defines the JSON document a user edits: named chains of
// steps plus the runtime, calculator, cache, crawl and metrics settings.
//
// Decoding uses encoding/json only. Step options vary by kind, so they are
// kept as a free-form Options bag with typed accessors; the step package
// turns them into transforms.
//
// Example (trimmed):
//
//	{
//	  "runtime": { "workers": 4 },
//	  "chains": [
//	    { "id": "orders", "steps": [
//	      { "kind": "csv", "options": { "path": "orders.csv", "separator": ";" } },
//	      { "kind": "filter", "options": { "formula": "[@amount] > 100" } }
//	    ]}
//	  ]
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Document is the top-level object of a document file.
type Document struct {
	Runtime    Runtime    `json:"runtime"`
	Calculator Calculator `json:"calculator"`
	Cache      Cache      `json:"cache"`
	Crawl      Crawl      `json:"crawl"`
	Metrics    Metrics    `json:"metrics"`

	// Chains are the user's tablets, each one a chain of steps.
	Chains []Chain `json:"chains"`
}

// Runtime controls concurrency and batching.
type Runtime struct {
	// Workers bounds the background worker pool; 0 means one per CPU.
	Workers int `json:"workers"`
	// BatchSize is the number of rows per insert when writing to databases.
	BatchSize int `json:"batch_size"`
	// Locale is the BCP 47 tag used to read and display numbers, e.g.
	// "nl-NL". Empty means "." decimals and no grouping.
	Locale string `json:"locale"`
}

// Calculator configures adaptive example calculation.
type Calculator struct {
	DesiredExampleRows      int      `json:"desired_example_rows"`
	TimeBudget              Duration `json:"time_budget"`
	MinimumExampleInputRows int      `json:"minimum_example_input_rows"`
	MaximumExampleInputRows int      `json:"maximum_example_input_rows"`
	Confidence              float64  `json:"confidence"`
	Window                  int      `json:"window"`
}

// Cache configures the local caching proxy.
type Cache struct {
	Enabled bool `json:"enabled"`
	// Dir holds the cache database; empty keeps the cache in memory.
	Dir string `json:"dir"`
	// MinFree is the free disk space required before caching, e.g. "1 GB".
	MinFree string `json:"min_free"`
}

// MinFreeBytes parses MinFree; an empty value means no requirement.
func (c Cache) MinFreeBytes() (uint64, error) {
	if strings.TrimSpace(c.MinFree) == "" {
		return 0, nil
	}
	return humanize.ParseBytes(c.MinFree)
}

// Crawl holds the defaults of crawl steps.
type Crawl struct {
	MaxConcurrent        int      `json:"max_concurrent"`
	MaxRequestsPerSecond float64  `json:"max_requests_per_second"`
	Timeout              Duration `json:"timeout"`
	MaxRetries           int      `json:"max_retries"`
	UserAgent            string   `json:"user_agent"`
	InsecureSkipVerify   bool     `json:"insecure_skip_verify"`
}

// Metrics selects a metrics backend: "", "none", "pushgateway" or "datadog".
type Metrics struct {
	Backend        string   `json:"backend"`
	PushgatewayURL string   `json:"pushgateway_url"`
	Job            string   `json:"job"`
	DatadogAddr    string   `json:"datadog_addr"`
	Namespace      string   `json:"namespace"`
	Tags           []string `json:"tags"`
}

// Chain is an ordered list of steps. The first step must be a source.
type Chain struct {
	ID    string `json:"id"`
	Steps []Step `json:"steps"`
}

// Step is one transformation. Options are interpreted per kind.
type Step struct {
	Kind string `json:"kind"`
	// Cache materializes a source step into the local cache.
	Cache   bool    `json:"cache"`
	Options Options `json:"options"`
}

// Chain returns the chain with the given id.
func (d *Document) Chain(id string) (Chain, bool) {
	for _, c := range d.Chains {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

// Defaults used for zero settings.
const (
	DefaultDesiredExampleRows      = 500
	DefaultTimeBudget              = 1500 * time.Millisecond
	DefaultMinimumExampleInputRows = 256
	DefaultMaximumExampleInputRows = 25000
	DefaultConfidence              = 0.95
	DefaultWindow                  = 10
	DefaultBatchSize               = 1000
	DefaultCrawlMaxConcurrent      = 8
	DefaultCrawlTimeout            = 30 * time.Second
)

// ApplyDefaults fills zero settings with their defaults.
func (d *Document) ApplyDefaults() {
	if d.Runtime.BatchSize == 0 {
		d.Runtime.BatchSize = DefaultBatchSize
	}
	c := &d.Calculator
	if c.DesiredExampleRows == 0 {
		c.DesiredExampleRows = DefaultDesiredExampleRows
	}
	if c.TimeBudget == 0 {
		c.TimeBudget = Duration(DefaultTimeBudget)
	}
	if c.MinimumExampleInputRows == 0 {
		c.MinimumExampleInputRows = DefaultMinimumExampleInputRows
	}
	if c.MaximumExampleInputRows == 0 {
		c.MaximumExampleInputRows = DefaultMaximumExampleInputRows
	}
	if c.Confidence == 0 {
		c.Confidence = DefaultConfidence
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if d.Crawl.MaxConcurrent == 0 {
		d.Crawl.MaxConcurrent = DefaultCrawlMaxConcurrent
	}
	if d.Crawl.Timeout == 0 {
		d.Crawl.Timeout = Duration(DefaultCrawlTimeout)
	}
}

// Environment variables that override document settings.
const (
	EnvWorkers  = "CONDUIT_WORKERS"
	EnvCacheDir = "CONDUIT_CACHE_DIR"
)

// ApplyEnv overrides settings from the environment through lookup, which is
// os.LookupEnv outside tests.
func (d *Document) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		d.Runtime.Workers = n
	}
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		d.Cache.Dir = v
	}
	return nil
}

// Decode reads a document, rejecting unknown top-level fields.
func Decode(b []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &d, nil
}

// Load reads the document at path, applies environment overrides and fills
// defaults.
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	d, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := d.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	d.ApplyDefaults()
	return d, nil
}

// Duration is a time.Duration written in JSON either as a Go duration string
// ("1.5s") or as a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		p, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}
