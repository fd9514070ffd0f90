package expr

import "conduit/internal/value"

// Operator is a binary infix operator.
type Operator uint8

const (
	Addition Operator = iota
	Subtraction
	Multiplication
	Division
	Modulus
	Power
	Concatenation
	Equals
	NotEquals
	Greater
	Lesser
	GreaterEqual
	LesserEqual
	ContainsString
	ContainsStringStrict
	MatchesRegex
	MatchesRegexStrict
)

var operatorSymbols = map[Operator]string{
	Addition:             "+",
	Subtraction:          "-",
	Multiplication:       "*",
	Division:             "/",
	Modulus:              "%",
	Power:                "^",
	Concatenation:        "&",
	Equals:               "=",
	NotEquals:            "<>",
	Greater:              ">",
	Lesser:               "<",
	GreaterEqual:         ">=",
	LesserEqual:          "<=",
	ContainsString:       "~=",
	ContainsStringStrict: "~~=",
	MatchesRegex:         "±=",
	MatchesRegexStrict:   "±±=",
}

// Symbol returns the formula notation of the operator.
func (o Operator) Symbol() string { return operatorSymbols[o] }

func (o Operator) String() string { return o.Symbol() }

// IsComparison reports whether the operator yields a boolean.
func (o Operator) IsComparison() bool {
	switch o {
	case Equals, NotEquals, Greater, Lesser, GreaterEqual, LesserEqual,
		ContainsString, ContainsStringStrict, MatchesRegex, MatchesRegexStrict:
		return true
	}
	return false
}

// Mirror returns the operator o' such that (a o b) == (b o' a), and whether
// one exists.
func (o Operator) Mirror() (Operator, bool) {
	switch o {
	case Equals, NotEquals, Addition, Multiplication:
		return o, true
	case Greater:
		return Lesser, true
	case Lesser:
		return Greater, true
	case GreaterEqual:
		return LesserEqual, true
	case LesserEqual:
		return GreaterEqual, true
	}
	return o, false
}

// Apply evaluates a o b.
func (o Operator) Apply(a, b value.Value) value.Value {
	switch o {
	case Addition:
		return value.Add(a, b)
	case Subtraction:
		return value.Subtract(a, b)
	case Multiplication:
		return value.Multiply(a, b)
	case Division:
		return value.Divide(a, b)
	case Modulus:
		return value.Modulus(a, b)
	case Power:
		return value.Power(a, b)
	case Concatenation:
		return value.Concat(a, b)
	case Equals:
		return value.Equals(a, b)
	case NotEquals:
		return value.NotEquals(a, b)
	case Greater:
		return value.Greater(a, b)
	case Lesser:
		return value.Lesser(a, b)
	case GreaterEqual:
		return value.GreaterEqual(a, b)
	case LesserEqual:
		return value.LesserEqual(a, b)
	case ContainsString:
		return value.Contains(a, b, false)
	case ContainsStringStrict:
		return value.Contains(a, b, true)
	case MatchesRegex:
		return matchRegex(a, b, false)
	case MatchesRegexStrict:
		return matchRegex(a, b, true)
	default:
		return value.Invalid()
	}
}

func matchRegex(a, b value.Value, caseSensitive bool) value.Value {
	s, ok := a.StringValue()
	p, pok := b.StringValue()
	if !ok || !pok {
		return value.Invalid()
	}
	re, err := compileRegex(p, caseSensitive)
	if err != nil {
		return value.Invalid()
	}
	return value.Bool(re.MatchString(s))
}
