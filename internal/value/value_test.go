package value

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualSemantics(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int int", Int(3), Int(3), true},
		{"int double", Int(3), Double(3), true},
		{"numeric string", String("3"), Int(3), true},
		{"text string", String("abc"), String("abc"), true},
		{"text vs number", String("abc"), Int(1), false},
		{"empty empty", Empty(), Empty(), true},
		{"empty vs zero", Empty(), Int(0), false},
		{"invalid self", Invalid(), Invalid(), false},
		{"bool vs int", Bool(true), Int(1), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.a.Equal(tc.b))
		})
	}
}

func TestDoubleRejectsNonFinite(t *testing.T) {
	t.Parallel()

	assert.True(t, Double(math.NaN()).IsInvalid())
	assert.True(t, Double(math.Inf(1)).IsInvalid())
	assert.Equal(t, KindDouble, Double(1.5).Kind())
}

func TestStringValue(t *testing.T) {
	t.Parallel()

	s, ok := Invalid().StringValue()
	assert.False(t, ok)
	assert.Empty(t, s)

	for v, want := range map[Value]string{
		Int(-12):      "-12",
		Double(0.25):  "0.25",
		Double(3):     "3",
		Bool(true):    "1",
		Bool(false):   "0",
		Empty():       "",
		String("abc"): "abc",
	} {
		got, ok := v.StringValue()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestCompareOrdering(t *testing.T) {
	t.Parallel()

	vals := []Value{String("b"), Invalid(), Int(10), Empty(), Double(2.5), String("a")}
	sort.SliceStable(vals, func(i, j int) bool { return Less(vals[i], vals[j]) })

	require.Len(t, vals, 6)
	assert.True(t, vals[0].IsEmpty())
	assert.True(t, vals[1].Equal(Double(2.5)))
	assert.True(t, vals[2].Equal(Int(10)))
	assert.True(t, vals[5].IsInvalid())

	_, ok := Compare(Invalid(), Int(1))
	assert.False(t, ok)
}

func TestArithmetic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindInt, Add(Int(2), Int(3)).Kind())
	assert.Equal(t, KindDouble, Add(Int(math.MaxInt64), Int(1)).Kind())
	assert.True(t, Divide(Int(1), Int(0)).IsInvalid())
	assert.True(t, Modulus(Int(1), Int(0)).IsInvalid())
	assert.True(t, Add(Invalid(), Int(1)).IsInvalid())
	assert.True(t, Equals(Invalid(), Invalid()).IsInvalid())
	assert.True(t, Greater(Int(2), Double(1.5)).IsTrue())
	assert.True(t, Concat(String("a"), Int(1)).Equal(String("a1")))
}

func TestLocaleRoundTrip(t *testing.T) {
	t.Parallel()

	l := DefaultLocale()
	for _, v := range []Value{Int(42), Int(-7), Double(3.25), Double(-0.5), String("hello"), String("007"), Bool(true), Bool(false)} {
		s, ok := v.StringValue()
		require.True(t, ok)
		assert.True(t, l.Parse(s).Equal(v), "%s did not survive", v)
	}
	assert.True(t, l.Parse("").IsEmpty())
	assert.Equal(t, KindString, l.Parse("007").Kind())
}

func TestLocaleFor(t *testing.T) {
	t.Parallel()

	nl, err := LocaleFor("nl-NL")
	require.NoError(t, err)
	assert.Equal(t, ';', nl.CSVSeparator)
	assert.True(t, nl.Parse("1.234,5").Equal(Double(1234.5)))
	assert.Equal(t, "2,5", nl.Format(Double(2.5)))

	_, err = LocaleFor("!!")
	assert.Error(t, err)
}

func TestColumnsAndRaster(t *testing.T) {
	t.Parallel()

	cols := NewColumns("a", "b")
	assert.Equal(t, Column("a_1"), Unique("a", cols))
	assert.Equal(t, Column("c"), Unique("c", cols))
	assert.Error(t, NewColumns("a", "a").Validate())

	_, err := NewRaster(cols, []Tuple{{Int(1)}}, false)
	assert.Error(t, err)

	r, err := NewRaster(cols, []Tuple{{Int(1), String("x")}}, true)
	require.NoError(t, err)
	assert.True(t, r.Value(0, "b").Equal(String("x")))
	assert.True(t, r.Value(3, "b").IsInvalid())

	c := r.Clone()
	c.Rows[0][0] = Int(9)
	assert.True(t, r.Value(0, "a").Equal(Int(1)))
	assert.False(t, c.ReadOnly)
}
