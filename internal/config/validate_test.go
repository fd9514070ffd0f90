package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csvStep() Step {
	return Step{Kind: KindCSV, Options: Options{"path": "in.csv"}}
}

func issuePaths(issues []Issue, sev IssueSeverity) []string {
	var out []string
	for _, i := range issues {
		if i.Severity == sev {
			out = append(out, i.Path)
		}
	}
	return out
}

func TestValidateValidDocument(t *testing.T) {
	t.Parallel()

	d, err := Decode([]byte(sampleDocument))
	require.NoError(t, err)
	d.ApplyDefaults()

	issues := Validate(d)
	assert.Empty(t, issues)
	assert.False(t, HasErrors(issues))
}

func TestValidateChains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chains []Chain
		errors []string
	}{
		{
			name:   "empty chain",
			chains: []Chain{{ID: "a"}},
			errors: []string{"chains[0].steps"},
		},
		{
			name:   "empty id",
			chains: []Chain{{ID: " ", Steps: []Step{csvStep()}}},
			errors: []string{"chains[0].id"},
		},
		{
			name: "duplicate id",
			chains: []Chain{
				{ID: "a", Steps: []Step{csvStep()}},
				{ID: "a", Steps: []Step{csvStep()}},
			},
			errors: []string{"chains[1].id"},
		},
		{
			name:   "transform first",
			chains: []Chain{{ID: "a", Steps: []Step{{Kind: KindFilter, Options: Options{"formula": "1"}}}}},
			errors: []string{"chains[0].steps[0].kind"},
		},
		{
			name:   "source later",
			chains: []Chain{{ID: "a", Steps: []Step{csvStep(), csvStep()}}},
			errors: []string{"chains[0].steps[1].kind"},
		},
		{
			name:   "unknown kind",
			chains: []Chain{{ID: "a", Steps: []Step{csvStep(), {Kind: "explode"}}}},
			errors: []string{"chains[0].steps[1].kind"},
		},
		{
			name:   "self reference",
			chains: []Chain{{ID: "a", Steps: []Step{{Kind: KindClone, Options: Options{"chain": "a"}}}}},
			errors: []string{"chains[0].steps[0].options.chain"},
		},
		{
			name:   "unknown reference",
			chains: []Chain{{ID: "a", Steps: []Step{csvStep(), {Kind: KindMerge, Options: Options{"chain": "b"}}}}},
			errors: []string{"chains[0].steps[1].options.chain"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issues := Validate(&Document{Chains: tt.chains})
			assert.Equal(t, tt.errors, issuePaths(issues, SeverityError))
		})
	}
}

func TestValidateStepOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		step   Step
		errors []string
	}{
		{
			name:   "csv without path",
			step:   Step{Kind: KindCSV, Options: Options{"separator": ";;"}},
			errors: []string{"path", "separator"},
		},
		{
			name:   "database without table",
			step:   Step{Kind: KindPostgres, Options: Options{"dsn": "postgres://localhost/db"}},
			errors: []string{"table"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issues := Validate(&Document{Chains: []Chain{{ID: "a", Steps: []Step{tt.step}}}})
			var want []string
			for _, e := range tt.errors {
				want = append(want, "chains[0].steps[0].options."+e)
			}
			assert.Equal(t, want, issuePaths(issues, SeverityError))
		})
	}
}

func TestValidateTransformOptions(t *testing.T) {
	t.Parallel()

	other := Chain{ID: "other", Steps: []Step{csvStep()}}
	tests := []struct {
		name   string
		step   Step
		errors []string
	}{
		{
			name:   "bad formula",
			step:   Step{Kind: KindFilter, Options: Options{"formula": "[@a] >"}},
			errors: []string{"formula"},
		},
		{
			name:   "missing formula",
			step:   Step{Kind: KindFilter},
			errors: []string{"formula"},
		},
		{
			name:   "negative limit",
			step:   Step{Kind: KindLimit, Options: Options{"n": float64(-1)}},
			errors: []string{"n"},
		},
		{
			name:   "offset without n",
			step:   Step{Kind: KindOffset, Options: Options{}},
			errors: []string{"n"},
		},
		{
			name:   "calculate without calculations",
			step:   Step{Kind: KindCalculate, Options: Options{}},
			errors: []string{"calculations"},
		},
		{
			name: "calculation without target",
			step: Step{Kind: KindCalculate, Options: Options{"calculations": []any{
				map[string]any{"formula": "[@a] * 2"},
			}}},
			errors: []string{"calculations[0].target"},
		},
		{
			name: "aggregate with a non reducer",
			step: Step{Kind: KindAggregate, Options: Options{
				"groups": []any{map[string]any{"target": "g", "formula": "[@g]"}},
				"aggregations": []any{
					map[string]any{"target": "n", "formula": "[@n]", "reduce": "SUM"},
					map[string]any{"target": "m", "formula": "[@n]", "reduce": "UPPER"},
				},
			}},
			errors: []string{"aggregations[1].reduce"},
		},
		{
			name:   "pivot without aggregations",
			step:   Step{Kind: KindPivot, Options: Options{}},
			errors: []string{"aggregations"},
		},
		{
			name:   "join with bad type",
			step:   Step{Kind: KindJoin, Options: Options{"chain": "other", "condition": "[@id] = [#id]", "type": "outer"}},
			errors: []string{"type"},
		},
		{
			name:   "flatten without value column",
			step:   Step{Kind: KindFlatten, Options: Options{}},
			errors: []string{"value_column"},
		},
		{
			name:   "crawl without url",
			step:   Step{Kind: KindCrawl, Options: Options{"max_concurrent": float64(-2)}},
			errors: []string{"url", "max_concurrent"},
		},
		{
			name:   "valid merge",
			step:   Step{Kind: KindMerge, Options: Options{"chain": "other"}},
			errors: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := &Document{Chains: []Chain{{ID: "a", Steps: []Step{csvStep(), tt.step}}, other}}
			var want []string
			for _, e := range tt.errors {
				want = append(want, "chains[0].steps[1].options."+e)
			}
			assert.Equal(t, want, issuePaths(Validate(d), SeverityError))
		})
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	d := &Document{
		Runtime:    Runtime{Workers: -1, Locale: "not a tag!"},
		Calculator: Calculator{MinimumExampleInputRows: 10, MaximumExampleInputRows: 5, Confidence: 1},
		Cache:      Cache{MinFree: "lots"},
		Metrics:    Metrics{Backend: "datadog"},
		Chains:     []Chain{{ID: "a", Steps: []Step{csvStep()}}},
	}
	assert.Equal(t, []string{
		"runtime.workers",
		"runtime.locale",
		"calculator.minimum_example_input_rows",
		"calculator.confidence",
		"cache.min_free",
		"metrics.datadog_addr",
	}, issuePaths(Validate(d), SeverityError))

	d = &Document{Metrics: Metrics{Backend: "graphite"}}
	issues := Validate(d)
	assert.False(t, HasErrors(issues))
	assert.Equal(t, []string{"metrics.backend", "chains"}, issuePaths(issues, SeverityWarning))
}

func TestValidateCacheOnTransformWarns(t *testing.T) {
	t.Parallel()

	d := &Document{Chains: []Chain{{ID: "a", Steps: []Step{
		csvStep(),
		{Kind: KindDistinct, Cache: true},
	}}}}
	issues := Validate(d)
	assert.False(t, HasErrors(issues))
	assert.Equal(t, []string{"chains[0].steps[1].cache"}, issuePaths(issues, SeverityWarning))
	assert.Contains(t, issues[0].Error(), "warning at chains[0].steps[1].cache")
}
