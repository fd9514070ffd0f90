package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/value"
)

func testRow() value.Row {
	return value.Row{
		Columns: value.NewColumns("a", "b", "name"),
		Values:  value.Tuple{value.Int(1), value.Double(2.5), value.String("Ada")},
	}
}

func TestParseAndEval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		formula string
		want    value.Value
	}{
		{"=[@a] = 1", value.Bool(true)},
		{"[@a] + [@b]", value.Double(3.5)},
		{"1 + 2 * 3", value.Int(7)},
		{"(1 + 2) * 3", value.Int(9)},
		{"2 ^ 3", value.Double(8)},
		{"-[@a]", value.Int(-1)},
		{"10 / 0", value.Invalid()},
		{`[@name] & "!"`, value.String("Ada!")},
		{`UPPER([@name])`, value.String("ADA")},
		{`IF([@a] > 0; "pos"; "neg")`, value.String("pos")},
		{`IF([@a] > 0, "pos", "neg")`, value.String("pos")},
		{`[@name] ~= "ad"`, value.Bool(true)},
		{`[@name] ~~= "ad"`, value.Bool(false)},
		{`[@name] ±= "^a.a$"`, value.Bool(true)},
		{`[@name] ±±= "^a.a$"`, value.Bool(false)},
		{`LEN("a""b")`, value.Int(3)},
		{`MID("abcdef"; 2; 3)`, value.String("bcd")},
		{`SUM(1; 2; 3)`, value.Int(6)},
		{`AVERAGE(1; 2; 3)`, value.Double(2)},
		{`COALESCE(EMPTY; 4)`, value.Int(4)},
		{`[@missing]`, value.Invalid()},
		{`ROUND(2.456; 2)`, value.Double(2.46)},
		{`ROUND(2.5)`, value.Int(3)},
	}
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			t.Parallel()
			e, err := Parse(tc.formula)
			require.NoError(t, err)
			got := Eval(e, Context{Row: testRow()})
			assert.Equal(t, tc.want.Kind(), got.Kind(), "kind of %s", got)
			if !tc.want.IsInvalid() {
				assert.True(t, tc.want.Equal(got), "got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, formula := range []string{
		"",
		"1 +",
		"(1",
		`"open`,
		"[@a",
		"[a]",
		"NOPE(1)",
		"LEFT(1)",
		"1 2",
		"bare",
	} {
		_, err := Parse(formula)
		var pe *ParseError
		assert.ErrorAs(t, err, &pe, "formula %q", formula)
	}
}

func TestExplainRoundTrip(t *testing.T) {
	t.Parallel()

	for _, formula := range []string{
		"[@a] = 1",
		"([@a] + 1) * 2",
		"[@a] - ([@b] - 1)",
		`CONCAT([@name]; "x ""quoted"""; [#other])`,
		"IF(TRUE; 1.5; -2)",
		"[@odd]]name] <> EMPTY",
		"@ * 2",
		"2 ^ (-1)",
	} {
		e, err := Parse(formula)
		require.NoError(t, err, formula)
		text := Explain(e)
		back, err := Parse(text)
		require.NoError(t, err, text)
		assert.True(t, Equal(e, back), "%q explained as %q", formula, text)
	}
}

func TestForeignAndInput(t *testing.T) {
	t.Parallel()

	e := MustParse("[@a] = [#id]")
	foreign := value.Row{Columns: value.NewColumns("id"), Values: value.Tuple{value.Int(1)}}
	assert.True(t, Eval(e, Context{Row: testRow(), Foreign: foreign}).IsTrue())

	in := MustParse("@ * 2")
	assert.True(t, value.Int(8).Equal(Eval(in, Context{Input: value.Int(4)})))
}

func TestConjunctionFlattens(t *testing.T) {
	t.Parallel()

	a, b, c := MustParse("[@a] = 1"), MustParse("[@b] > 2"), MustParse("[@name] ~= \"x\"")
	got := Conjunction(Conjunction(a, b), c)
	call, ok := got.(Call)
	require.True(t, ok)
	assert.Equal(t, And, call.Function)
	assert.Len(t, call.Arguments, 3)
}

func TestConjunctionIsStrict(t *testing.T) {
	t.Parallel()

	// [@a] is Int 1 and [@name] a string: neither is Bool(true).
	for _, src := range []string{"[@a]", "[@name]", "[@b] * 2"} {
		e := Conjunction(MustParse(src), Lit(value.Bool(true)))
		call := e.(Call)
		assert.Equal(t, Call{Function: IsTrue, Arguments: []Expression{MustParse(src)}}, call.Arguments[0], src)
		assert.Equal(t, Lit(value.Bool(true)), call.Arguments[1])
		assert.False(t, Eval(e, Context{Row: testRow()}).IsTrue(), src)
	}

	e := Conjunction(MustParse("[@a] = 1"), MustParse("NOT(ISEMPTY([@name]))"))
	assert.Equal(t, MustParse("[@a] = 1"), e.(Call).Arguments[0], "predicates are not wrapped")
	assert.True(t, Eval(e, Context{Row: testRow()}).IsTrue())

	assert.True(t, Eval(MustParse("ISTRUE(TRUE)"), Context{}).IsTrue())
	assert.False(t, Eval(MustParse("ISTRUE(1)"), Context{}).IsTrue())
}

func TestDependenciesAndReplace(t *testing.T) {
	t.Parallel()

	e := MustParse("[@a] + [@b] * [@a] + [#c]")
	assert.Equal(t, []value.Column{"a", "b"}, Dependencies(e))
	assert.Equal(t, []value.Column{"c"}, ForeignDependencies(e))
	assert.True(t, DependsOn(e, "b"))

	r := Replace(e, "a", Lit(value.Int(10)))
	assert.False(t, DependsOn(r, "a"))

	swapped := SwapSides(MustParse("[@a] = [#b]"))
	assert.True(t, Equal(swapped, MustParse("[#a] = [@b]")))
}

func TestPrepareFoldsConstants(t *testing.T) {
	t.Parallel()

	e := Prepare(MustParse("[@a] + (2 * 3)"))
	bin, ok := e.(Binary)
	require.True(t, ok)
	lit, ok := bin.Right.(Literal)
	require.True(t, ok)
	assert.True(t, value.Int(6).Equal(lit.Value))

	// RANDOM is not deterministic and must survive folding.
	_, isLit := Prepare(MustParse("RANDOM()")).(Literal)
	assert.False(t, isLit)
}

func TestAccumulators(t *testing.T) {
	t.Parallel()

	vals := []value.Value{value.Int(4), value.Empty(), value.Int(1), value.Double(2.5), value.String("x")}
	result := func(f Function, vs []value.Value) value.Value {
		acc := NewAccumulator(f)
		for _, v := range vs {
			acc.Add(v)
		}
		return acc.Result()
	}
	numeric := []value.Value{value.Int(4), value.Empty(), value.Int(1), value.Int(3)}

	assert.True(t, value.Int(8).Equal(result(Sum, numeric)))
	assert.True(t, value.Int(3).Equal(result(Count, vals)))
	assert.True(t, value.Int(4).Equal(result(CountAll, vals)))
	assert.True(t, value.Int(1).Equal(result(Min, numeric)))
	assert.True(t, value.Int(4).Equal(result(Max, numeric)))
	assert.True(t, value.Double(3).Equal(result(Median, numeric)))
	assert.True(t, value.Int(2).Equal(result(CountDistinct, []value.Value{value.Int(1), value.Double(1), value.String("a")})))
	assert.True(t, result(Sum, vals).IsInvalid())
	assert.True(t, result(Min, nil).IsEmpty())

	sd := result(StandardDeviation, []value.Value{value.Int(2), value.Int(4), value.Int(4), value.Int(4), value.Int(5), value.Int(5), value.Int(7), value.Int(9)})
	f, _ := sd.DoubleValue()
	assert.InDelta(t, 2.138, f, 0.001)
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(Pack)
	for _, s := range []string{"a,b", "c$1", ""} {
		acc.Add(value.String(s))
	}
	packed, _ := acc.Result().StringValue()
	assert.Equal(t, []string{"a,b", "c$1", ""}, Unpack(packed))
}
