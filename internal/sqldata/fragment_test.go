package sqldata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"conduit/internal/dialect"
)

func TestFragmentSQL(t *testing.T) {
	t.Parallel()

	base := NewFragment(dialect.SQLite, "events")
	asc := []string{`"a" ASC`}

	tests := []struct {
		name string
		f    Fragment
		want string
	}{
		{"table", base, `SELECT * FROM "events"`},
		{"conditions accumulate", base.Where("a > 1").Where("b < 2"), `SELECT * FROM "events" WHERE a > 1 AND b < 2`},
		{"where after limit wraps", base.Limit(10).Where("x"), `SELECT * FROM (SELECT * FROM "events" LIMIT 10) AS "t" WHERE x`},
		{"where commutes with order", base.OrderBy(asc).Where("x"), `SELECT * FROM "events" WHERE x ORDER BY "a" ASC`},
		{"limits take the minimum", base.Limit(10).Limit(5), `SELECT * FROM "events" LIMIT 5`},
		{"limit never grows", base.Limit(5).Limit(10), `SELECT * FROM "events" LIMIT 5`},
		{"offsets accumulate", base.Offset(2).Offset(3), `SELECT * FROM "events" LIMIT -1 OFFSET 5`},
		{"offset then limit", base.Offset(2).Limit(3), `SELECT * FROM "events" LIMIT 3 OFFSET 2`},
		{"limit then offset wraps", base.Limit(3).Offset(2), `SELECT * FROM (SELECT * FROM "events" LIMIT 3) AS "t" LIMIT -1 OFFSET 2`},
		{"select twice wraps", base.Select([]string{`"a"`, `"b"`}).Select([]string{`"b"`}), `SELECT "b" FROM (SELECT "a", "b" FROM "events") AS "t"`},
		{"group by", base.GroupBy([]string{`"g"`}, []string{`"g" AS "g"`, `COUNT("n") AS "c"`}), `SELECT "g" AS "g", COUNT("n") AS "c" FROM "events" GROUP BY "g"`},
		{"filter after group wraps", base.GroupBy([]string{`"g"`}, []string{`"g" AS "g"`}).Where("x"), `SELECT * FROM (SELECT "g" AS "g" FROM "events" GROUP BY "g") AS "t" WHERE x`},
		{"distinct", base.Distinct(), `SELECT DISTINCT * FROM "events"`},
		{"zero offset is ignored", base.Offset(0), `SELECT * FROM "events"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.f.SQL(), tt.name)
	}
}

func TestFragmentIsImmutable(t *testing.T) {
	t.Parallel()

	base := NewFragment(dialect.SQLite, "events").Where("a")
	_ = base.Where("b")
	assert.Equal(t, `SELECT * FROM "events" WHERE a`, base.SQL())
}

func TestFragmentMSSQL(t *testing.T) {
	t.Parallel()

	base := NewFragment(dialect.MSSQL, "events")
	assert.Equal(t, "SELECT * FROM [events] ORDER BY (SELECT NULL) OFFSET 0 ROWS FETCH NEXT 5 ROWS ONLY", base.Limit(5).SQL())

	ordered := base.OrderBy([]string{"[a] ASC"}).Select([]string{"[a]"})
	assert.Equal(t, "SELECT [a] FROM (SELECT * FROM [events] ORDER BY [a] ASC OFFSET 0 ROWS) AS [t] ORDER BY [a] ASC", ordered.SQL())
}

func TestJoinAndUnionFragments(t *testing.T) {
	t.Parallel()

	l := NewFragment(dialect.PostgreSQL, "a")
	r := NewFragment(dialect.PostgreSQL, "b").Where("x")

	j := JoinFragments(l, r, "LEFT JOIN", `("l"."id" = "r"."id")`, []string{`"l"."id"`, `"r"."y"`})
	assert.Equal(t, `SELECT "l"."id", "r"."y" FROM (SELECT * FROM "a") AS "l" LEFT JOIN (SELECT * FROM "b" WHERE x) AS "r" ON ("l"."id" = "r"."id")`, j.SQL())
	assert.Equal(t, `SELECT "l"."id", "r"."y" FROM (SELECT * FROM "a") AS "l" LEFT JOIN (SELECT * FROM "b" WHERE x) AS "r" ON ("l"."id" = "r"."id") LIMIT 1`, j.Limit(1).SQL())

	u := UnionFragments(l, r, []string{`"x"`}, []string{`"x"`})
	assert.Equal(t, `SELECT * FROM (SELECT "x" FROM (SELECT * FROM "a") AS "l" UNION ALL SELECT "x" FROM (SELECT * FROM "b" WHERE x) AS "r") AS "u" LIMIT 2`, u.Limit(2).SQL())
}
