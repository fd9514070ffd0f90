package sqldata

import (
	"strings"

	"conduit/internal/dialect"
)

// stage orders the clauses of a SELECT statement by the order in which the
// database applies them.
type stage uint8

const (
	stageFrom stage = iota
	stageWhere
	stageGroup
	stageSelect
	stageOrder
	stageOffset
	stageLimit
)

// subqueryAlias names a wrapped query in the FROM clause of its parent.
const subqueryAlias = "t"

// Fragment is an immutable, staged SELECT builder. Adding a clause that the
// database would apply before the clauses already present wraps the current
// query as a subquery first, so clauses always apply in the order they were
// added.
type Fragment struct {
	dialect dialect.Dialect
	from    string
	stage   stage

	where    []string
	groupBy  []string
	selects  []string
	distinct bool
	orderBy  []string
	limit    int64
	offset   int64
}

// NewFragment selects everything from table.
func NewFragment(d dialect.Dialect, table string) Fragment {
	return Fragment{dialect: d, from: d.QuoteTable(table), limit: -1}
}

// Dialect returns the dialect the fragment renders in.
func (f Fragment) Dialect() dialect.Dialect { return f.dialect }

// clone copies the clause slices so fragments never share backing arrays.
func (f Fragment) clone() Fragment {
	f.where = append([]string(nil), f.where...)
	f.groupBy = append([]string(nil), f.groupBy...)
	f.selects = append([]string(nil), f.selects...)
	f.orderBy = append([]string(nil), f.orderBy...)
	return f
}

// Subquery renders the fragment for use in a FROM clause.
func (f Fragment) Subquery(alias string) string {
	sql := f.SQL()
	if f.dialect == dialect.MSSQL && len(f.orderBy) > 0 && f.limit < 0 && f.offset <= 0 {
		// SQL Server rejects ORDER BY in subqueries without pagination.
		sql += " OFFSET 0 ROWS"
	}
	return "(" + sql + ") AS " + f.dialect.Quote(alias)
}

// wrap turns the fragment into the source of a new, empty query. An ordering
// without pagination carries over to the outer query since the output
// columns are unchanged.
func (f Fragment) wrap() Fragment {
	out := Fragment{dialect: f.dialect, from: f.Subquery(subqueryAlias), limit: -1}
	if len(f.orderBy) > 0 && len(f.selects) == 0 && f.limit < 0 && f.offset <= 0 {
		out.orderBy = append([]string(nil), f.orderBy...)
		out.stage = stageOrder
	}
	return out
}

// at returns a fragment to which a clause of stage s can be added.
func (f Fragment) at(s stage) Fragment {
	if f.stage > s {
		return f.wrap()
	}
	return f.clone()
}

// Where adds a condition. Conditions accumulate with AND. A WHERE clause
// commutes with a plain ORDER BY, so an ordered fragment is not wrapped.
func (f Fragment) Where(condition string) Fragment {
	var out Fragment
	if f.stage == stageOrder && len(f.selects) == 0 && len(f.groupBy) == 0 && !f.distinct {
		out = f.clone()
	} else {
		out = f.at(stageWhere)
		out.stage = stageWhere
	}
	out.where = append(out.where, condition)
	return out
}

// Select sets the output list. Every item must carry its own alias where one
// is needed.
func (f Fragment) Select(items []string) Fragment {
	out := f.at(stageSelect)
	if out.stage == stageSelect {
		out = out.wrap()
	}
	out.selects = append([]string(nil), items...)
	out.stage = stageSelect
	return out
}

// Distinct removes duplicate output rows.
func (f Fragment) Distinct() Fragment {
	out := f.at(stageSelect)
	out.distinct = true
	out.stage = stageSelect
	return out
}

// GroupBy groups by keys and sets the output list, which must consist of
// the grouping keys and aggregates.
func (f Fragment) GroupBy(keys, items []string) Fragment {
	out := f.at(stageGroup)
	out.groupBy = append([]string(nil), keys...)
	out.selects = append([]string(nil), items...)
	out.stage = stageSelect
	return out
}

// OrderBy replaces any ordering. Terms refer to the output columns, so a
// fragment with its own output list is wrapped first.
func (f Fragment) OrderBy(terms []string) Fragment {
	var out Fragment
	if f.stage > stageOrder || len(f.selects) > 0 {
		out = f.wrap()
	} else {
		out = f.clone()
	}
	out.orderBy = append([]string(nil), terms...)
	out.stage = stageOrder
	return out
}

// Offset skips n rows.
func (f Fragment) Offset(n int64) Fragment {
	if n <= 0 {
		return f
	}
	out := f.at(stageOffset)
	out.offset += n
	out.stage = stageOffset
	return out
}

// Limit keeps at most n rows.
func (f Fragment) Limit(n int64) Fragment {
	n = max(n, 0)
	out := f.at(stageLimit)
	if out.stage == stageLimit {
		n = min(n, out.limit)
	}
	out.limit = n
	out.stage = stageLimit
	return out
}

// SQL renders the statement.
func (f Fragment) SQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if f.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(f.selects) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(f.selects, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(f.from)
	if len(f.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.where, " AND "))
	}
	if len(f.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(f.groupBy, ", "))
	}
	paginate := f.dialect.Pagination(f.limit, f.offset)
	switch {
	case len(f.orderBy) > 0:
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(f.orderBy, ", "))
	case paginate != "" && f.dialect.PaginationNeedsOrder():
		b.WriteString(" ORDER BY (SELECT NULL)")
	}
	if paginate != "" {
		b.WriteByte(' ')
		b.WriteString(paginate)
	}
	return b.String()
}

// JoinFragments joins two fragments of the same database. The left side is
// aliased "l" and the right side "r"; condition and items must use these.
func JoinFragments(left, right Fragment, kind, condition string, items []string) Fragment {
	d := left.dialect
	from := left.Subquery("l") + " " + kind + " " + right.Subquery("r") + " ON " + condition
	return Fragment{dialect: d, from: from, selects: append([]string(nil), items...), stage: stageSelect, limit: -1}
}

// UnionFragments concatenates two fragments of the same database. Both item
// lists must produce the same columns in the same order.
func UnionFragments(left, right Fragment, leftItems, rightItems []string) Fragment {
	d := left.dialect
	sql := "SELECT " + strings.Join(leftItems, ", ") + " FROM " + left.Subquery("l") +
		" UNION ALL SELECT " + strings.Join(rightItems, ", ") + " FROM " + right.Subquery("r")
	return Fragment{dialect: d, from: "(" + sql + ") AS " + d.Quote("u"), limit: -1}
}
