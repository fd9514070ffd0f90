package expr

import (
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"conduit/internal/value"
)

// Function is a named, n-ary formula function. Functions flagged as reducers
// can also aggregate a column in Aggregate and Pivot.
type Function uint8

const (
	Identity Function = iota
	Negate
	Not
	And
	Or
	Xor
	If
	Uppercase
	Lowercase
	Trim
	Length
	Left
	Right
	Mid
	Substitute
	Concat
	Absolute
	Round
	Floor
	Ceiling
	Sqrt
	Log
	Exp
	Sign
	Min
	Max
	Sum
	Count
	CountAll
	CountDistinct
	Average
	StandardDeviation
	Median
	Pack
	Coalesce
	IsEmpty
	IsInvalid
	IsTrue
	RegexSubstitute
	Choose
	Random
	functionCount
)

type functionInfo struct {
	name          string
	min, max      int // max < 0: variadic
	reducer       bool
	deterministic bool
}

var functions = [functionCount]functionInfo{
	Identity:          {"IDENTITY", 1, 1, false, true},
	Negate:            {"NEGATE", 1, 1, false, true},
	Not:               {"NOT", 1, 1, false, true},
	And:               {"AND", 0, -1, false, true},
	Or:                {"OR", 0, -1, false, true},
	Xor:               {"XOR", 2, 2, false, true},
	If:                {"IF", 3, 3, false, true},
	Uppercase:         {"UPPER", 1, 1, false, true},
	Lowercase:         {"LOWER", 1, 1, false, true},
	Trim:              {"TRIM", 1, 1, false, true},
	Length:            {"LEN", 1, 1, false, true},
	Left:              {"LEFT", 2, 2, false, true},
	Right:             {"RIGHT", 2, 2, false, true},
	Mid:               {"MID", 3, 3, false, true},
	Substitute:        {"SUBSTITUTE", 3, 3, false, true},
	Concat:            {"CONCAT", 0, -1, true, true},
	Absolute:          {"ABS", 1, 1, false, true},
	Round:             {"ROUND", 1, 2, false, true},
	Floor:             {"FLOOR", 1, 1, false, true},
	Ceiling:           {"CEILING", 1, 1, false, true},
	Sqrt:              {"SQRT", 1, 1, false, true},
	Log:               {"LOG", 1, 2, false, true},
	Exp:               {"EXP", 1, 1, false, true},
	Sign:              {"SIGN", 1, 1, false, true},
	Min:               {"MIN", 1, -1, true, true},
	Max:               {"MAX", 1, -1, true, true},
	Sum:               {"SUM", 0, -1, true, true},
	Count:             {"COUNT", 0, -1, true, true},
	CountAll:          {"COUNTA", 0, -1, true, true},
	CountDistinct:     {"COUNTDISTINCT", 0, -1, true, true},
	Average:           {"AVERAGE", 1, -1, true, true},
	StandardDeviation: {"STDEV", 1, -1, true, true},
	Median:            {"MEDIAN", 1, -1, true, true},
	Pack:              {"PACK", 0, -1, true, true},
	Coalesce:          {"COALESCE", 1, -1, false, true},
	IsEmpty:           {"ISEMPTY", 1, 1, false, true},
	IsInvalid:         {"ISINVALID", 1, 1, false, true},
	IsTrue:            {"ISTRUE", 1, 1, false, true},
	RegexSubstitute:   {"REGEXSUBSTITUTE", 3, 3, false, true},
	Choose:            {"CHOOSE", 2, -1, false, true},
	Random:            {"RANDOM", 0, 0, false, false},
}

// Name returns the formula name of the function.
func (f Function) Name() string {
	if f >= functionCount {
		return "?"
	}
	return functions[f].name
}

func (f Function) String() string { return f.Name() }

// IsReducer reports whether f can aggregate a whole column.
func (f Function) IsReducer() bool { return f < functionCount && functions[f].reducer }

// Deterministic reports whether f always returns the same result for the
// same arguments.
func (f Function) Deterministic() bool { return f < functionCount && functions[f].deterministic }

// Arity validates an argument count.
func (f Function) Arity(n int) bool {
	if f >= functionCount {
		return false
	}
	fi := functions[f]
	return n >= fi.min && (fi.max < 0 || n <= fi.max)
}

// FunctionByName resolves a formula name (case-insensitive).
func FunctionByName(name string) (Function, bool) {
	up := strings.ToUpper(name)
	for i := Function(0); i < functionCount; i++ {
		if functions[i].name == up {
			return i, true
		}
	}
	return 0, false
}

// Apply evaluates f over already-evaluated arguments.
func (f Function) Apply(args []value.Value) value.Value {
	if !f.Arity(len(args)) {
		return value.Invalid()
	}
	if f.IsReducer() {
		acc := NewAccumulator(f)
		for _, a := range args {
			acc.Add(a)
		}
		return acc.Result()
	}

	switch f {
	case Identity:
		return args[0]
	case Negate:
		return value.Negate(args[0])
	case Not:
		if b, ok := args[0].BoolValue(); ok {
			return value.Bool(!b)
		}
		return value.Invalid()
	case And:
		for _, a := range args {
			b, ok := a.BoolValue()
			if !ok {
				return value.Invalid()
			}
			if !b {
				return value.Bool(false)
			}
		}
		return value.Bool(true)
	case Or:
		for _, a := range args {
			b, ok := a.BoolValue()
			if !ok {
				return value.Invalid()
			}
			if b {
				return value.Bool(true)
			}
		}
		return value.Bool(false)
	case Xor:
		a, aok := args[0].BoolValue()
		b, bok := args[1].BoolValue()
		if !aok || !bok {
			return value.Invalid()
		}
		return value.Bool(a != b)
	case If:
		c, ok := args[0].BoolValue()
		if !ok {
			return value.Invalid()
		}
		if c {
			return args[1]
		}
		return args[2]
	case Uppercase, Lowercase, Trim, Length:
		s, ok := args[0].StringValue()
		if !ok {
			return value.Invalid()
		}
		switch f {
		case Uppercase:
			return value.String(strings.ToUpper(s))
		case Lowercase:
			return value.String(strings.ToLower(s))
		case Trim:
			return value.String(strings.TrimSpace(s))
		default:
			return value.Int(int64(utf8.RuneCountInString(s)))
		}
	case Left, Right:
		s, ok := args[0].StringValue()
		n, nok := args[1].IntValue()
		if !ok || !nok || n < 0 {
			return value.Invalid()
		}
		r := []rune(s)
		if int(n) > len(r) {
			n = int64(len(r))
		}
		if f == Left {
			return value.String(string(r[:n]))
		}
		return value.String(string(r[len(r)-int(n):]))
	case Mid:
		s, ok := args[0].StringValue()
		start, sok := args[1].IntValue()
		n, nok := args[2].IntValue()
		if !ok || !sok || !nok || start < 1 || n < 0 {
			return value.Invalid()
		}
		r := []rune(s)
		from := int(start - 1)
		if from >= len(r) {
			return value.String("")
		}
		to := from + int(n)
		if to > len(r) {
			to = len(r)
		}
		return value.String(string(r[from:to]))
	case Substitute:
		s, ok := args[0].StringValue()
		old, ook := args[1].StringValue()
		repl, rok := args[2].StringValue()
		if !ok || !ook || !rok {
			return value.Invalid()
		}
		return value.String(strings.ReplaceAll(s, old, repl))
	case Absolute, Floor, Ceiling, Sqrt, Exp, Sign:
		if args[0].Kind() == value.KindInt {
			i, _ := args[0].IntValue()
			switch f {
			case Absolute:
				if i < 0 && i != math.MinInt64 {
					return value.Int(-i)
				}
				if i >= 0 {
					return value.Int(i)
				}
			case Floor, Ceiling:
				return value.Int(i)
			case Sign:
				return value.Int(int64(sign(float64(i))))
			}
		}
		x, ok := args[0].DoubleValue()
		if !ok {
			return value.Invalid()
		}
		switch f {
		case Absolute:
			return value.Double(math.Abs(x))
		case Floor:
			return value.Double(math.Floor(x))
		case Ceiling:
			return value.Double(math.Ceil(x))
		case Sqrt:
			if x < 0 {
				return value.Invalid()
			}
			return value.Double(math.Sqrt(x))
		case Exp:
			return value.Double(math.Exp(x))
		default:
			return value.Int(int64(sign(x)))
		}
	case Round:
		x, ok := args[0].DoubleValue()
		if !ok {
			return value.Invalid()
		}
		digits := int64(0)
		if len(args) == 2 {
			if digits, ok = args[1].IntValue(); !ok {
				return value.Invalid()
			}
		}
		p := math.Pow(10, float64(digits))
		r := math.Round(x*p) / p
		if digits <= 0 && math.Abs(r) < math.MaxInt64 {
			return value.Int(int64(r))
		}
		return value.Double(r)
	case Log:
		x, ok := args[0].DoubleValue()
		if !ok || x <= 0 {
			return value.Invalid()
		}
		base := 10.0
		if len(args) == 2 {
			if base, ok = args[1].DoubleValue(); !ok || base <= 0 || base == 1 {
				return value.Invalid()
			}
		}
		return value.Double(math.Log(x) / math.Log(base))
	case Coalesce:
		for _, a := range args {
			if !a.IsEmpty() && !a.IsInvalid() {
				return a
			}
		}
		return value.Empty()
	case IsEmpty:
		return value.Bool(args[0].IsEmpty())
	case IsInvalid:
		return value.Bool(args[0].IsInvalid())
	case IsTrue:
		return value.Bool(args[0].IsTrue())
	case RegexSubstitute:
		s, ok := args[0].StringValue()
		p, pok := args[1].StringValue()
		repl, rok := args[2].StringValue()
		if !ok || !pok || !rok {
			return value.Invalid()
		}
		re, err := compileRegex(p, true)
		if err != nil {
			return value.Invalid()
		}
		return value.String(re.ReplaceAllString(s, repl))
	case Choose:
		i, ok := args[0].IntValue()
		if !ok || i < 1 || int(i) >= len(args) {
			return value.Invalid()
		}
		return args[i]
	case Random:
		return value.Double(rand.Float64())
	}
	return value.Invalid()
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

type regexKey struct {
	pattern       string
	caseSensitive bool
}

var regexCache, _ = lru.New[regexKey, *regexp.Regexp](256)

func compileRegex(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := regexKey{pattern, caseSensitive}
	if re, ok := regexCache.Get(key); ok {
		return re, nil
	}
	p := pattern
	if !caseSensitive {
		p = "(?i)" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	regexCache.Add(key, re)
	return re, nil
}
