package expr

import (
	"strings"

	"conduit/internal/value"
)

// Explain renders e as formula text that Parse turns back into an equal
// expression.
func Explain(e Expression) string {
	var b strings.Builder
	explain(&b, e)
	return b.String()
}

func explain(b *strings.Builder, e Expression) {
	switch x := e.(type) {
	case Literal:
		b.WriteString(explainLiteral(x.Value))
	case Input:
		b.WriteByte('@')
	case Sibling:
		b.WriteString("[@")
		b.WriteString(strings.ReplaceAll(string(x.Column), "]", "]]"))
		b.WriteByte(']')
	case Foreign:
		b.WriteString("[#")
		b.WriteString(strings.ReplaceAll(string(x.Column), "]", "]]"))
		b.WriteByte(']')
	case Binary:
		prec := infixPrecedence(x.Op)
		explainOperand(b, x.Left, prec, false)
		b.WriteByte(' ')
		b.WriteString(x.Op.Symbol())
		b.WriteByte(' ')
		explainOperand(b, x.Right, prec, true)
	case Call:
		b.WriteString(x.Function.Name())
		b.WriteByte('(')
		for i, a := range x.Arguments {
			if i > 0 {
				b.WriteString("; ")
			}
			explain(b, a)
		}
		b.WriteByte(')')
	}
}

// explainOperand parenthesizes a child whose operator binds looser than its
// parent's. Operators associate to the left, so a right child of equal
// precedence needs parentheses too.
func explainOperand(b *strings.Builder, e Expression, parent int, right bool) {
	needs := false
	switch x := e.(type) {
	case Binary:
		p := infixPrecedence(x.Op)
		needs = p < parent || (right && p == parent)
	case Literal:
		// A negative literal directly after "^" or "-" still reads fine, but
		// keep it unambiguous.
		needs = x.Value.IsNumeric() && strings.HasPrefix(explainLiteral(x.Value), "-")
	}
	if needs {
		b.WriteByte('(')
		explain(b, e)
		b.WriteByte(')')
		return
	}
	explain(b, e)
}

func explainLiteral(v value.Value) string {
	switch v.Kind() {
	case value.KindEmpty:
		return "EMPTY"
	case value.KindInvalid:
		return "INVALID"
	case value.KindBool:
		if v.IsTrue() {
			return "TRUE"
		}
		return "FALSE"
	case value.KindInt:
		s, _ := v.StringValue()
		return s
	case value.KindDouble:
		s, _ := v.StringValue()
		if !strings.ContainsAny(s, ".eE") {
			// Keep doubles distinguishable from integers on the way back.
			s += ".0"
		}
		return s
	default:
		s, _ := v.StringValue()
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}
