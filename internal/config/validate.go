package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"conduit/internal/expr"
)

// IssueSeverity represents the severity of a document issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// document, e.g. "chains[0].steps[2].options.formula".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Step kinds.
const (
	KindRaster   = "raster"
	KindCSV      = "csv"
	KindSQLite   = "sqlite"
	KindMySQL    = "mysql"
	KindPostgres = "postgres"
	KindMSSQL    = "mssql"
	KindClone    = "clone"

	KindFilter    = "filter"
	KindLimit     = "limit"
	KindOffset    = "offset"
	KindRandom    = "random"
	KindDistinct  = "distinct"
	KindColumns   = "columns"
	KindCalculate = "calculate"
	KindSort      = "sort"
	KindAggregate = "aggregate"
	KindPivot     = "pivot"
	KindFlatten   = "flatten"
	KindTranspose = "transpose"
	KindJoin      = "join"
	KindMerge     = "merge"
	KindCrawl     = "crawl"
)

// IsSourceKind reports whether kind starts a chain.
func IsSourceKind(kind string) bool {
	switch kind {
	case KindRaster, KindCSV, KindSQLite, KindMySQL, KindPostgres, KindMSSQL, KindClone:
		return true
	}
	return false
}

// IsDatabaseKind reports whether kind reads a database table.
func IsDatabaseKind(kind string) bool {
	switch kind {
	case KindSQLite, KindMySQL, KindPostgres, KindMSSQL:
		return true
	}
	return false
}

// IsTransformKind reports whether kind transforms the previous step.
func IsTransformKind(kind string) bool {
	switch kind {
	case KindFilter, KindLimit, KindOffset, KindRandom, KindDistinct, KindColumns, KindCalculate,
		KindSort, KindAggregate, KindPivot, KindFlatten, KindTranspose, KindJoin, KindMerge, KindCrawl:
		return true
	}
	return false
}

// Validate performs static checks over a document. It does not open sources
// and does not detect indirect dependency cycles, which are reported when a
// chain is resolved.
func Validate(d *Document) []Issue {
	var v validator
	v.runtime(d)
	v.calculator(d.Calculator)
	v.cache(d.Cache)
	v.metrics(d.Metrics)

	if len(d.Chains) == 0 {
		v.add(SeverityWarning, "chains", "document has no chains")
	}
	ids := map[string]int{}
	for i, c := range d.Chains {
		path := fmt.Sprintf("chains[%d].id", i)
		switch prev, dup := ids[c.ID]; {
		case strings.TrimSpace(c.ID) == "":
			v.add(SeverityError, path, "chain id must not be empty")
		case dup:
			v.add(SeverityError, path, fmt.Sprintf("chain id %q already used by chains[%d]", c.ID, prev))
		default:
			ids[c.ID] = i
		}
	}
	for i, c := range d.Chains {
		v.chain(fmt.Sprintf("chains[%d]", i), c, ids)
	}
	return v.issues
}

type validator struct {
	issues []Issue
}

func (v *validator) add(sev IssueSeverity, path, msg string) {
	v.issues = append(v.issues, Issue{Severity: sev, Path: path, Message: msg})
}

func (v *validator) runtime(d *Document) {
	if d.Runtime.Workers < 0 {
		v.add(SeverityError, "runtime.workers", "workers must not be negative")
	}
	if d.Runtime.BatchSize < 0 {
		v.add(SeverityError, "runtime.batch_size", "batch_size must not be negative")
	}
	if d.Runtime.Locale != "" {
		if _, err := language.Parse(d.Runtime.Locale); err != nil {
			v.add(SeverityError, "runtime.locale", err.Error())
		}
	}
	if d.Crawl.MaxConcurrent < 0 {
		v.add(SeverityError, "crawl.max_concurrent", "max_concurrent must not be negative")
	}
	if d.Crawl.MaxRequestsPerSecond < 0 {
		v.add(SeverityError, "crawl.max_requests_per_second", "max_requests_per_second must not be negative")
	}
}

func (v *validator) calculator(c Calculator) {
	if c.DesiredExampleRows < 0 {
		v.add(SeverityError, "calculator.desired_example_rows", "desired_example_rows must not be negative")
	}
	if c.TimeBudget < 0 {
		v.add(SeverityError, "calculator.time_budget", "time_budget must not be negative")
	}
	if c.MinimumExampleInputRows < 0 || c.MaximumExampleInputRows < 0 {
		v.add(SeverityError, "calculator", "example input row bounds must not be negative")
	}
	if c.MaximumExampleInputRows > 0 && c.MinimumExampleInputRows > c.MaximumExampleInputRows {
		v.add(SeverityError, "calculator.minimum_example_input_rows",
			fmt.Sprintf("minimum %d exceeds maximum %d", c.MinimumExampleInputRows, c.MaximumExampleInputRows))
	}
	if c.Confidence < 0 || c.Confidence >= 1 {
		v.add(SeverityError, "calculator.confidence", "confidence must lie in (0, 1)")
	}
	if c.Window < 0 {
		v.add(SeverityError, "calculator.window", "window must not be negative")
	}
}

func (v *validator) cache(c Cache) {
	if _, err := c.MinFreeBytes(); err != nil {
		v.add(SeverityError, "cache.min_free", err.Error())
	}
}

func (v *validator) metrics(m Metrics) {
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			v.add(SeverityWarning, "metrics.pushgateway_url", "no pushgateway_url; http://localhost:9091 is used")
		}
	case "datadog":
		if m.DatadogAddr == "" {
			v.add(SeverityError, "metrics.datadog_addr", "datadog backend requires datadog_addr")
		}
	default:
		v.add(SeverityWarning, "metrics.backend", fmt.Sprintf("unknown metrics backend %q; metrics are disabled", m.Backend))
	}
}

func (v *validator) chain(path string, c Chain, ids map[string]int) {
	if len(c.Steps) == 0 {
		v.add(SeverityError, path+".steps", "chain has no steps")
		return
	}
	for i, s := range c.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", path, i)
		switch {
		case strings.TrimSpace(s.Kind) == "":
			v.add(SeverityError, sp+".kind", "step kind must not be empty")
			continue
		case i == 0 && !IsSourceKind(s.Kind):
			if IsTransformKind(s.Kind) {
				v.add(SeverityError, sp+".kind", fmt.Sprintf("%s step has no input; a chain must start with a source", s.Kind))
			} else {
				v.add(SeverityError, sp+".kind", fmt.Sprintf("unknown source kind %q", s.Kind))
			}
			continue
		case i > 0 && !IsTransformKind(s.Kind):
			if IsSourceKind(s.Kind) {
				v.add(SeverityError, sp+".kind", fmt.Sprintf("source %s can only be the first step", s.Kind))
			} else {
				v.add(SeverityError, sp+".kind", fmt.Sprintf("unknown step kind %q", s.Kind))
			}
			continue
		}
		if s.Cache && !IsSourceKind(s.Kind) {
			v.add(SeverityWarning, sp+".cache", "only source steps are cached")
		}
		v.step(sp+".options", s, c.ID, ids)
	}
}

func (v *validator) required(path string, o Options, keys ...string) {
	for _, k := range keys {
		if strings.TrimSpace(o.String(k, "")) == "" {
			v.add(SeverityError, path+"."+k, k+" must not be empty")
		}
	}
}

func (v *validator) formula(path string, o Options, key string, required bool) {
	f := o.String(key, "")
	if f == "" {
		if required {
			v.add(SeverityError, path+"."+key, key+" must not be empty")
		}
		return
	}
	if _, err := expr.Parse(f); err != nil {
		v.add(SeverityError, path+"."+key, err.Error())
	}
}

func (v *validator) count(path string, o Options) {
	if !o.Has("n") {
		v.add(SeverityError, path+".n", "n is required")
	} else if o.Int("n", 0) < 0 {
		v.add(SeverityError, path+".n", "n must not be negative")
	}
}

func (v *validator) reference(path string, o Options, self string, ids map[string]int) {
	ref := o.String("chain", "")
	switch _, ok := ids[ref]; {
	case ref == "":
		v.add(SeverityError, path+".chain", "chain must not be empty")
	case ref == self:
		v.add(SeverityError, path+".chain", "a chain cannot depend on itself")
	case !ok:
		v.add(SeverityError, path+".chain", fmt.Sprintf("unknown chain %q", ref))
	}
}

func (v *validator) groupings(path string, o Options, key string) {
	for i, g := range o.Objects(key) {
		gp := fmt.Sprintf("%s.%s[%d]", path, key, i)
		v.required(gp, g, "target")
		v.formula(gp, g, "formula", true)
	}
}

func (v *validator) aggregations(path string, o Options) {
	aggs := o.Objects("aggregations")
	for i, a := range aggs {
		ap := fmt.Sprintf("%s.aggregations[%d]", path, i)
		v.required(ap, a, "target")
		v.formula(ap, a, "formula", true)
		if f, ok := expr.FunctionByName(a.String("reduce", "")); !ok || !f.IsReducer() {
			v.add(SeverityError, ap+".reduce", fmt.Sprintf("%q is not an aggregation function", a.String("reduce", "")))
		}
	}
}

func (v *validator) step(path string, s Step, chain string, ids map[string]int) {
	o := s.Options
	switch s.Kind {
	case KindCSV:
		v.required(path, o, "path")
		if sep := o.String("separator", ""); len([]rune(sep)) > 1 {
			v.add(SeverityError, path+".separator", "separator must be a single character")
		}
	case KindSQLite, KindMySQL, KindPostgres, KindMSSQL:
		v.required(path, o, "dsn", "table")
	case KindClone, KindMerge:
		v.reference(path, o, chain, ids)
	case KindJoin:
		v.reference(path, o, chain, ids)
		v.formula(path, o, "condition", true)
		switch t := o.String("type", "inner"); t {
		case "inner", "left":
		default:
			v.add(SeverityError, path+".type", fmt.Sprintf("join type must be inner or left, not %q", t))
		}
	case KindFilter:
		v.formula(path, o, "formula", true)
	case KindLimit, KindOffset, KindRandom:
		v.count(path, o)
	case KindColumns:
		if len(o.StringSlice("columns")) == 0 {
			v.add(SeverityWarning, path+".columns", "no columns listed")
		}
	case KindCalculate:
		calcs := o.Objects("calculations")
		if len(calcs) == 0 {
			v.add(SeverityError, path+".calculations", "calculate step needs at least one calculation")
		}
		for i, c := range calcs {
			cp := fmt.Sprintf("%s.calculations[%d]", path, i)
			v.required(cp, c, "target")
			v.formula(cp, c, "formula", true)
		}
	case KindSort:
		for i, ord := range o.Objects("orders") {
			v.formula(fmt.Sprintf("%s.orders[%d]", path, i), ord, "formula", true)
		}
	case KindAggregate:
		v.groupings(path, o, "groups")
		v.aggregations(path, o)
	case KindPivot:
		v.groupings(path, o, "rows")
		v.groupings(path, o, "columns")
		v.aggregations(path, o)
		if len(o.Objects("aggregations")) == 0 {
			v.add(SeverityError, path+".aggregations", "pivot needs at least one aggregation")
		}
	case KindFlatten:
		v.formula(path, o, "row_identifier", false)
		if o.String("value_column", "") == "" {
			v.add(SeverityError, path+".value_column", "value_column must not be empty")
		}
	case KindCrawl:
		v.formula(path, o, "url", true)
		if o.Int("max_concurrent", 0) < 0 {
			v.add(SeverityError, path+".max_concurrent", "max_concurrent must not be negative")
		}
	}
}
