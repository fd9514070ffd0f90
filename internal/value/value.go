// Package value defines the cell model shared by every stage of the engine:
// a closed tagged union of cell values, column names, tuples and fully
// materialized rasters.
//
// All coercions are explicit functions returning (T, ok) so call sites can see
// exactly where a conversion may fail. Invalid is absorbing: arithmetic and
// comparisons that involve an Invalid operand yield Invalid instead of
// faulting.
package value

import (
	"math"
	"strconv"
	"strings"
)

// Kind enumerates the variants of Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindInvalid
	KindString
	KindInt
	KindDouble
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInvalid:
		return "invalid"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is an immutable cell value. The zero Value is Empty.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
}

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Double returns a floating point value. NaN and infinities are not
// representable and yield Invalid.
func Double(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Invalid()
	}
	return Value{kind: KindDouble, f: f}
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Empty returns the empty value.
func Empty() Value { return Value{} }

// Invalid returns the invalid value.
func Invalid() Value { return Value{kind: KindInvalid} }

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsEmpty() bool   { return v.kind == KindEmpty }
func (v Value) IsInvalid() bool { return v.kind == KindInvalid }

// IsNumeric reports whether v is an Int or Double.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindDouble }

// StringValue returns the locale-neutral textual form of v. Invalid has no
// representation.
func (v Value) StringValue() (string, bool) {
	switch v.kind {
	case KindEmpty:
		return "", true
	case KindString:
		return v.s, true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindDouble:
		return formatDouble(v.f), true
	case KindBool:
		if v.i != 0 {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// IntValue coerces v to an integer. Doubles are truncated, strings parsed.
func (v Value) IntValue() (int64, bool) {
	switch v.kind {
	case KindInt, KindBool:
		return v.i, true
	case KindDouble:
		if v.f > math.MaxInt64 || v.f < math.MinInt64 {
			return 0, false
		}
		return int64(v.f), true
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// DoubleValue coerces v to a float.
func (v Value) DoubleValue() (float64, bool) {
	switch v.kind {
	case KindInt, KindBool:
		return float64(v.i), true
	case KindDouble:
		return v.f, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// BoolValue coerces v to a boolean. Numbers are true when non-zero; strings
// must be a recognised literal.
func (v Value) BoolValue() (bool, bool) {
	switch v.kind {
	case KindBool, KindInt:
		return v.i != 0, true
	case KindDouble:
		return v.f != 0, true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "1", "true", "yes", "t", "y":
			return true, true
		case "0", "false", "no", "f", "n":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// IsTrue reports whether v is exactly Bool(true). Filters use this; any other
// kind counts as false.
func (v Value) IsTrue() bool { return v.kind == KindBool && v.i != 0 }

// numeric returns the numeric interpretation of v used by cross-type
// comparisons. Strings participate when they parse as numbers.
func (v Value) numeric() (float64, bool) {
	switch v.kind {
	case KindInt, KindBool:
		return float64(v.i), true
	case KindDouble:
		return v.f, true
	case KindString:
		return v.DoubleValue()
	default:
		return 0, false
	}
}

// Equal implements value-semantic, cross-type-aware equality. Invalid is never
// equal to anything, including itself.
func (v Value) Equal(o Value) bool {
	if v.kind == KindInvalid || o.kind == KindInvalid {
		return false
	}
	if v.kind == KindEmpty || o.kind == KindEmpty {
		return v.kind == o.kind
	}
	if v.kind == KindString && o.kind == KindString {
		return v.s == o.s
	}
	if v.kind == KindInt && o.kind == KindInt {
		return v.i == o.i
	}
	a, aok := v.numeric()
	b, bok := o.numeric()
	if aok && bok {
		return a == b
	}
	as, _ := v.StringValue()
	bs, _ := o.StringValue()
	return as == bs
}

// Compare orders v against o. Empty sorts before any non-empty value. The
// second result is false when either operand is Invalid.
func Compare(v, o Value) (int, bool) {
	if v.kind == KindInvalid || o.kind == KindInvalid {
		return 0, false
	}
	switch {
	case v.kind == KindEmpty && o.kind == KindEmpty:
		return 0, true
	case v.kind == KindEmpty:
		return -1, true
	case o.kind == KindEmpty:
		return 1, true
	}
	if v.kind == KindInt && o.kind == KindInt {
		return cmpOrdered(v.i, o.i), true
	}
	a, aok := v.numeric()
	b, bok := o.numeric()
	if aok && bok {
		return cmpOrdered(a, b), true
	}
	as, _ := v.StringValue()
	bs, _ := o.StringValue()
	return strings.Compare(as, bs), true
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less is a total order usable for sorting: Invalid sorts after everything.
func Less(a, b Value) bool {
	if c, ok := Compare(a, b); ok {
		return c < 0
	}
	return !a.IsInvalid() && b.IsInvalid()
}

// String implements fmt.Stringer for diagnostics.
func (v Value) String() string {
	if s, ok := v.StringValue(); ok {
		return s
	}
	return "#INVALID"
}

func formatDouble(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
