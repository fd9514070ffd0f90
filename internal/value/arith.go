package value

import (
	"math"
	"strings"
)

// Add returns a+b. Integers stay integral unless the sum overflows.
func Add(a, b Value) Value {
	if a.kind == KindInt && b.kind == KindInt {
		s := a.i + b.i
		if (s > a.i) == (b.i > 0) {
			return Int(s)
		}
	}
	return numericOp(a, b, func(x, y float64) Value { return Double(x + y) })
}

// Subtract returns a-b.
func Subtract(a, b Value) Value {
	if a.kind == KindInt && b.kind == KindInt {
		s := a.i - b.i
		if (s < a.i) == (b.i > 0) {
			return Int(s)
		}
	}
	return numericOp(a, b, func(x, y float64) Value { return Double(x - y) })
}

// Multiply returns a*b.
func Multiply(a, b Value) Value {
	if a.kind == KindInt && b.kind == KindInt {
		if a.i == 0 || b.i == 0 {
			return Int(0)
		}
		p := a.i * b.i
		if p/b.i == a.i && !(a.i == -1 && b.i == math.MinInt64) && !(b.i == -1 && a.i == math.MinInt64) {
			return Int(p)
		}
	}
	return numericOp(a, b, func(x, y float64) Value { return Double(x * y) })
}

// Divide returns a/b; division by zero is Invalid.
func Divide(a, b Value) Value {
	return numericOp(a, b, func(x, y float64) Value {
		if y == 0 {
			return Invalid()
		}
		return Double(x / y)
	})
}

// Modulus returns a mod b; modulus by zero is Invalid.
func Modulus(a, b Value) Value {
	if a.kind == KindInt && b.kind == KindInt {
		if b.i == 0 {
			return Invalid()
		}
		return Int(a.i % b.i)
	}
	return numericOp(a, b, func(x, y float64) Value {
		if y == 0 {
			return Invalid()
		}
		return Double(math.Mod(x, y))
	})
}

// Power returns a^b.
func Power(a, b Value) Value {
	return numericOp(a, b, func(x, y float64) Value { return Double(math.Pow(x, y)) })
}

// Negate returns -a.
func Negate(a Value) Value {
	switch a.kind {
	case KindInt:
		if a.i != math.MinInt64 {
			return Int(-a.i)
		}
	case KindEmpty:
		return Empty()
	}
	if f, ok := a.DoubleValue(); ok {
		return Double(-f)
	}
	return Invalid()
}

// Concat joins the string forms of a and b.
func Concat(a, b Value) Value {
	as, aok := a.StringValue()
	bs, bok := b.StringValue()
	if !aok || !bok {
		return Invalid()
	}
	return String(as + bs)
}

func numericOp(a, b Value, op func(x, y float64) Value) Value {
	if a.kind == KindInvalid || b.kind == KindInvalid {
		return Invalid()
	}
	x, ok := a.DoubleValue()
	if !ok {
		return Invalid()
	}
	y, ok := b.DoubleValue()
	if !ok {
		return Invalid()
	}
	return op(x, y)
}

// Comparison helpers return Bool, or Invalid when an operand is Invalid.

func Equals(a, b Value) Value {
	if a.IsInvalid() || b.IsInvalid() {
		return Invalid()
	}
	return Bool(a.Equal(b))
}

func NotEquals(a, b Value) Value {
	if a.IsInvalid() || b.IsInvalid() {
		return Invalid()
	}
	return Bool(!a.Equal(b))
}

func Greater(a, b Value) Value      { return compareWith(a, b, func(c int) bool { return c > 0 }) }
func Lesser(a, b Value) Value       { return compareWith(a, b, func(c int) bool { return c < 0 }) }
func GreaterEqual(a, b Value) Value { return compareWith(a, b, func(c int) bool { return c >= 0 }) }
func LesserEqual(a, b Value) Value  { return compareWith(a, b, func(c int) bool { return c <= 0 }) }

func compareWith(a, b Value, pred func(int) bool) Value {
	c, ok := Compare(a, b)
	if !ok {
		return Invalid()
	}
	return Bool(pred(c))
}

// Contains reports whether b occurs in a, optionally case-insensitively.
func Contains(a, b Value, caseSensitive bool) Value {
	as, aok := a.StringValue()
	bs, bok := b.StringValue()
	if !aok || !bok {
		return Invalid()
	}
	if !caseSensitive {
		as, bs = strings.ToLower(as), strings.ToLower(bs)
	}
	return Bool(strings.Contains(as, bs))
}
