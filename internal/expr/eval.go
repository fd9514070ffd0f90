package expr

import "conduit/internal/value"

// Context carries the values an expression can reference while it is being
// evaluated. Zero fields are fine: references to a missing row evaluate to
// Invalid.
type Context struct {
	Row     value.Row
	Foreign value.Row
	Input   value.Value
}

// Eval evaluates e against ctx. Evaluation never fails; problems surface as
// Invalid values.
func Eval(e Expression, ctx Context) value.Value {
	switch x := e.(type) {
	case Literal:
		return x.Value
	case Input:
		return ctx.Input
	case Sibling:
		return ctx.Row.Get(x.Column)
	case Foreign:
		return ctx.Foreign.Get(x.Column)
	case Binary:
		return x.Op.Apply(Eval(x.Left, ctx), Eval(x.Right, ctx))
	case Call:
		// IF only evaluates the branch it picks.
		if x.Function == If && len(x.Arguments) == 3 {
			c, ok := Eval(x.Arguments[0], ctx).BoolValue()
			if !ok {
				return value.Invalid()
			}
			if c {
				return Eval(x.Arguments[1], ctx)
			}
			return Eval(x.Arguments[2], ctx)
		}
		args := make([]value.Value, len(x.Arguments))
		for i, a := range x.Arguments {
			args[i] = Eval(a, ctx)
		}
		return x.Function.Apply(args)
	default:
		return value.Invalid()
	}
}
