package expr

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"conduit/internal/value"
)

// Aggregator reduces a column of mapped values to a single value: Map is
// evaluated for every row of a group, Reduce folds the results.
type Aggregator struct {
	Map    Expression
	Reduce Function
}

// Accumulator folds values one at a time.
type Accumulator interface {
	Add(v value.Value)
	Result() value.Value
}

// NewAccumulator returns an empty accumulator for a reducer function. Non
// reducers get an accumulator that always yields Invalid.
func NewAccumulator(f Function) Accumulator {
	switch f {
	case Sum:
		return &sumAcc{sum: value.Int(0)}
	case Average:
		return &avgAcc{}
	case Count:
		return &countAcc{numericOnly: true}
	case CountAll:
		return &countAcc{}
	case CountDistinct:
		return &distinctAcc{seen: map[string]struct{}{}}
	case Min:
		return &extremeAcc{want: -1}
	case Max:
		return &extremeAcc{want: 1}
	case StandardDeviation:
		return &stdevAcc{}
	case Median:
		return &medianAcc{}
	case Concat:
		return &concatAcc{}
	case Pack:
		return &packAcc{}
	default:
		return invalidAcc{}
	}
}

type invalidAcc struct{}

func (invalidAcc) Add(value.Value)     {}
func (invalidAcc) Result() value.Value { return value.Invalid() }

type sumAcc struct{ sum value.Value }

func (a *sumAcc) Add(v value.Value) {
	if v.IsEmpty() {
		return
	}
	a.sum = value.Add(a.sum, v)
}

func (a *sumAcc) Result() value.Value { return a.sum }

type avgAcc struct {
	total   float64
	n       int
	invalid bool
}

func (a *avgAcc) Add(v value.Value) {
	if v.IsEmpty() {
		return
	}
	f, ok := v.DoubleValue()
	if !ok {
		a.invalid = true
		return
	}
	a.total += f
	a.n++
}

func (a *avgAcc) Result() value.Value {
	if a.invalid || a.n == 0 {
		return value.Invalid()
	}
	return value.Double(a.total / float64(a.n))
}

type countAcc struct {
	numericOnly bool
	n           int64
}

func (a *countAcc) Add(v value.Value) {
	if v.IsEmpty() || v.IsInvalid() {
		return
	}
	if a.numericOnly && !v.IsNumeric() {
		return
	}
	a.n++
}

func (a *countAcc) Result() value.Value { return value.Int(a.n) }

type distinctAcc struct{ seen map[string]struct{} }

func (a *distinctAcc) Add(v value.Value) {
	if v.IsEmpty() || v.IsInvalid() {
		return
	}
	a.seen[distinctKey(v)] = struct{}{}
}

func (a *distinctAcc) Result() value.Value { return value.Int(int64(len(a.seen))) }

// distinctKey maps values that compare equal to the same key.
func distinctKey(v value.Value) string {
	if v.IsNumeric() {
		f, _ := v.DoubleValue()
		return "n" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	s, _ := v.StringValue()
	return "s" + s
}

type extremeAcc struct {
	want    int
	best    value.Value
	has     bool
	invalid bool
}

func (a *extremeAcc) Add(v value.Value) {
	if v.IsEmpty() || a.invalid {
		return
	}
	if v.IsInvalid() {
		a.invalid = true
		return
	}
	if !a.has {
		a.best, a.has = v, true
		return
	}
	if c, ok := value.Compare(v, a.best); ok && c == a.want {
		a.best = v
	}
}

func (a *extremeAcc) Result() value.Value {
	switch {
	case a.invalid:
		return value.Invalid()
	case !a.has:
		return value.Empty()
	default:
		return a.best
	}
}

// stdevAcc computes the sample standard deviation with Welford's method.
type stdevAcc struct {
	n       int
	mean    float64
	m2      float64
	invalid bool
}

func (a *stdevAcc) Add(v value.Value) {
	if v.IsEmpty() {
		return
	}
	f, ok := v.DoubleValue()
	if !ok {
		a.invalid = true
		return
	}
	a.n++
	d := f - a.mean
	a.mean += d / float64(a.n)
	a.m2 += d * (f - a.mean)
}

func (a *stdevAcc) Result() value.Value {
	if a.invalid || a.n < 2 {
		return value.Invalid()
	}
	return value.Double(math.Sqrt(a.m2 / float64(a.n-1)))
}

type medianAcc struct {
	xs      []float64
	invalid bool
}

func (a *medianAcc) Add(v value.Value) {
	if v.IsEmpty() {
		return
	}
	f, ok := v.DoubleValue()
	if !ok {
		a.invalid = true
		return
	}
	a.xs = append(a.xs, f)
}

func (a *medianAcc) Result() value.Value {
	if a.invalid || len(a.xs) == 0 {
		return value.Invalid()
	}
	slices.Sort(a.xs)
	mid := len(a.xs) / 2
	if len(a.xs)%2 == 1 {
		return value.Double(a.xs[mid])
	}
	return value.Double((a.xs[mid-1] + a.xs[mid]) / 2)
}

type concatAcc struct {
	b       strings.Builder
	invalid bool
}

func (a *concatAcc) Add(v value.Value) {
	s, ok := v.StringValue()
	if !ok {
		a.invalid = true
		return
	}
	a.b.WriteString(s)
}

func (a *concatAcc) Result() value.Value {
	if a.invalid {
		return value.Invalid()
	}
	return value.String(a.b.String())
}

// packAcc joins values with PackSeparator, escaping the separator and the
// escape character so the list can be split again with Unpack.
type packAcc struct {
	parts []string
}

func (a *packAcc) Add(v value.Value) {
	s, _ := v.StringValue()
	a.parts = append(a.parts, packEscaper.Replace(s))
}

func (a *packAcc) Result() value.Value { return value.String(strings.Join(a.parts, PackSeparator)) }

// PackSeparator separates items in a packed list.
const PackSeparator = ","

var (
	packEscaper   = strings.NewReplacer("$", "$0", ",", "$1")
	packUnescaper = strings.NewReplacer("$1", ",", "$0", "$")
)

// Unpack splits a value produced by PACK back into its items.
func Unpack(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, PackSeparator)
	for i, p := range parts {
		parts[i] = packUnescaper.Replace(p)
	}
	return parts
}
