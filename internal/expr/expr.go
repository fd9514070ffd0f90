// Package expr implements the formula language used by filters, calculated
// columns, joins and aggregations.
//
// Expressions form a closed sum type: Literal, Input, Sibling, Foreign,
// Binary and Call. Every consumer (evaluation, explanation, SQL translation)
// switches exhaustively over these variants; new behaviour is added as a new
// variant or a new Function/Operator, never by embedding.
package expr

import "conduit/internal/value"

// Expression is one node of a formula tree.
type Expression interface {
	isExpression()
}

// Literal is a constant value.
type Literal struct{ Value value.Value }

// Input evaluates to the input value of the evaluation context (for
// instance the current cell when a formula is applied to a single column).
type Input struct{}

// Sibling references a column of the row being evaluated.
type Sibling struct{ Column value.Column }

// Foreign references a column of the other row in a join.
type Foreign struct{ Column value.Column }

// Binary applies an infix operator.
type Binary struct {
	Op          Operator
	Left, Right Expression
}

// Call applies a function to its arguments.
type Call struct {
	Function  Function
	Arguments []Expression
}

func (Literal) isExpression() {}
func (Input) isExpression()   {}
func (Sibling) isExpression() {}
func (Foreign) isExpression() {}
func (Binary) isExpression()  {}
func (Call) isExpression()    {}

// Constructors keep call sites short.

func Lit(v value.Value) Expression                { return Literal{Value: v} }
func Col(name string) Expression                  { return Sibling{Column: value.Column(name)} }
func ForeignCol(name string) Expression           { return Foreign{Column: value.Column(name)} }
func Bin(op Operator, l, r Expression) Expression { return Binary{Op: op, Left: l, Right: r} }
func Fn(f Function, args ...Expression) Expression {
	return Call{Function: f, Arguments: args}
}

// Conjunction returns an expression that is Bool(true) exactly when both a
// and b are, the way two filters in a row keep a row. Operands that may
// yield other kinds are wrapped in ISTRUE, and nested conjunctions are
// flattened so repeated filter merges stay shallow.
func Conjunction(a, b Expression) Expression {
	var args []Expression
	for _, e := range []Expression{a, b} {
		if c, ok := e.(Call); ok && c.Function == And {
			args = append(args, c.Arguments...)
			continue
		}
		if !IsBoolean(e) {
			e = Call{Function: IsTrue, Arguments: []Expression{e}}
		}
		args = append(args, e)
	}
	return Call{Function: And, Arguments: args}
}

// IsBoolean reports whether e can only evaluate to a Bool or Invalid.
func IsBoolean(e Expression) bool {
	switch x := e.(type) {
	case Literal:
		return x.Value.Kind() == value.KindBool || x.Value.Kind() == value.KindInvalid
	case Binary:
		return x.Op.IsComparison()
	case Call:
		switch x.Function {
		case Not, And, Or, Xor, IsEmpty, IsInvalid, IsTrue:
			return true
		}
	}
	return false
}

// Equal reports structural equality of two expressions. Literals compare by
// kind and textual value so Invalid literals compare equal to each other.
func Equal(a, b Expression) bool {
	switch x := a.(type) {
	case Literal:
		y, ok := b.(Literal)
		if !ok || x.Value.Kind() != y.Value.Kind() {
			return false
		}
		return x.Value.String() == y.Value.String()
	case Input:
		_, ok := b.(Input)
		return ok
	case Sibling:
		y, ok := b.(Sibling)
		return ok && x.Column == y.Column
	case Foreign:
		y, ok := b.(Foreign)
		return ok && x.Column == y.Column
	case Binary:
		y, ok := b.(Binary)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case Call:
		y, ok := b.(Call)
		if !ok || x.Function != y.Function || len(x.Arguments) != len(y.Arguments) {
			return false
		}
		for i := range x.Arguments {
			if !Equal(x.Arguments[i], y.Arguments[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Dependencies lists the sibling columns an expression reads, in first-use
// order without duplicates.
func Dependencies(e Expression) []value.Column {
	var out []value.Column
	seen := map[value.Column]struct{}{}
	Walk(e, func(n Expression) {
		if s, ok := n.(Sibling); ok {
			if _, dup := seen[s.Column]; !dup {
				seen[s.Column] = struct{}{}
				out = append(out, s.Column)
			}
		}
	})
	return out
}

// ForeignDependencies lists the foreign columns an expression reads.
func ForeignDependencies(e Expression) []value.Column {
	var out []value.Column
	seen := map[value.Column]struct{}{}
	Walk(e, func(n Expression) {
		if f, ok := n.(Foreign); ok {
			if _, dup := seen[f.Column]; !dup {
				seen[f.Column] = struct{}{}
				out = append(out, f.Column)
			}
		}
	})
	return out
}

// DependsOn reports whether e reads sibling column c.
func DependsOn(e Expression, c value.Column) bool {
	for _, d := range Dependencies(e) {
		if d == c {
			return true
		}
	}
	return false
}

// Walk visits e and all of its descendants, parents first.
func Walk(e Expression, fn func(Expression)) {
	fn(e)
	switch x := e.(type) {
	case Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case Call:
		for _, a := range x.Arguments {
			Walk(a, fn)
		}
	}
}

// IsConstant reports whether e evaluates to the same value for every row.
func IsConstant(e Expression) bool {
	switch x := e.(type) {
	case Literal:
		return true
	case Input, Sibling, Foreign:
		return false
	case Binary:
		return IsConstant(x.Left) && IsConstant(x.Right)
	case Call:
		if !x.Function.Deterministic() {
			return false
		}
		for _, a := range x.Arguments {
			if !IsConstant(a) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Prepare folds constant subtrees into literals.
func Prepare(e Expression) Expression {
	switch x := e.(type) {
	case Binary:
		l, r := Prepare(x.Left), Prepare(x.Right)
		out := Binary{Op: x.Op, Left: l, Right: r}
		if IsConstant(out) {
			return Literal{Value: Eval(out, Context{})}
		}
		return out
	case Call:
		args := make([]Expression, len(x.Arguments))
		for i, a := range x.Arguments {
			args[i] = Prepare(a)
		}
		out := Call{Function: x.Function, Arguments: args}
		if IsConstant(out) {
			return Literal{Value: Eval(out, Context{})}
		}
		return out
	default:
		return e
	}
}

// Replace replaces every sibling reference to c with repl.
func Replace(e Expression, c value.Column, repl Expression) Expression {
	switch x := e.(type) {
	case Sibling:
		if x.Column == c {
			return repl
		}
		return x
	case Binary:
		return Binary{Op: x.Op, Left: Replace(x.Left, c, repl), Right: Replace(x.Right, c, repl)}
	case Call:
		args := make([]Expression, len(x.Arguments))
		for i, a := range x.Arguments {
			args[i] = Replace(a, c, repl)
		}
		return Call{Function: x.Function, Arguments: args}
	default:
		return e
	}
}

// SwapSides exchanges sibling and foreign references, which turns a join
// condition written from the left side into one written from the right.
func SwapSides(e Expression) Expression {
	switch x := e.(type) {
	case Sibling:
		return Foreign(x)
	case Foreign:
		return Sibling(x)
	case Binary:
		return Binary{Op: x.Op, Left: SwapSides(x.Left), Right: SwapSides(x.Right)}
	case Call:
		args := make([]Expression, len(x.Arguments))
		for i, a := range x.Arguments {
			args[i] = SwapSides(a)
		}
		return Call{Function: x.Function, Arguments: args}
	default:
		return e
	}
}
