package dialect

import (
	"strconv"
	"strings"

	"conduit/internal/expr"
	"conduit/internal/value"
)

// Scope tells the translator how references resolve.
type Scope struct {
	// Table qualifies sibling columns; empty leaves them unqualified.
	Table string
	// Foreign qualifies foreign columns. Foreign references do not translate
	// when it is empty.
	Foreign string
	// Input is the SQL of the input value; empty means NULL.
	Input string
	// Columns overrides the SQL of sibling columns, for columns computed
	// earlier in the same SELECT list.
	Columns map[value.Column]string
}

func (s Scope) sibling(d Dialect, c value.Column) string {
	if sql, ok := s.Columns[c]; ok {
		return sql
	}
	return d.QuoteColumn(s.Table, c)
}

// Expression translates e into a value expression.
func (d Dialect) Expression(e expr.Expression, s Scope) (string, bool) {
	return d.translate(expr.Prepare(e), s, false)
}

// Predicate translates e into a boolean condition for WHERE, ON or CASE.
func (d Dialect) Predicate(e expr.Expression, s Scope) (string, bool) {
	return d.translate(expr.Prepare(e), s, true)
}

// Aggregation translates a reducer over a mapped expression.
func (d Dialect) Aggregation(a expr.Aggregator, s Scope) (string, bool) {
	x, ok := d.Expression(a.Map, s)
	if !ok {
		return "", false
	}
	switch a.Reduce {
	case expr.Sum:
		return "COALESCE(SUM(" + x + "), 0)", true
	case expr.Count, expr.CountAll:
		return "COUNT(" + x + ")", true
	case expr.CountDistinct:
		return "COUNT(DISTINCT " + x + ")", true
	case expr.Average:
		return "AVG(" + d.ForceNumeric(x) + ")", true
	case expr.Min:
		return "MIN(" + x + ")", true
	case expr.Max:
		return "MAX(" + x + ")", true
	case expr.StandardDeviation:
		switch d {
		case SQLite:
			return "", false
		case MSSQL:
			return "STDEV(" + x + ")", true
		}
		return "STDDEV_SAMP(" + x + ")", true
	case expr.Concat:
		empty := d.stringLiteral("")
		switch d {
		case SQLite:
			return "GROUP_CONCAT(" + x + ", " + empty + ")", true
		case MySQL:
			return "GROUP_CONCAT(" + x + " SEPARATOR " + empty + ")", true
		case PostgreSQL, MSSQL:
			return "STRING_AGG(" + d.ForceString(x) + ", " + empty + ")", true
		}
	}
	return "", false
}

// isPredicate reports whether e yields a boolean in SQL terms.
func isPredicate(e expr.Expression) bool {
	switch x := e.(type) {
	case expr.Binary:
		return x.Op.IsComparison()
	case expr.Call:
		switch x.Function {
		case expr.Not, expr.And, expr.Or, expr.Xor, expr.IsEmpty, expr.IsInvalid, expr.IsTrue:
			return true
		}
	}
	return false
}

// translate renders e. SQL Server has no boolean values, so there a
// predicate in value position becomes a CASE and a value in predicate
// position is compared to 1. Other dialects use either form interchangeably.
func (d Dialect) translate(e expr.Expression, s Scope, predicate bool) (string, bool) {
	if d == MSSQL {
		switch p := isPredicate(e); {
		case p && !predicate:
			sql, ok := d.render(e, s)
			return "(CASE WHEN " + sql + " THEN 1 ELSE 0 END)", ok
		case !p && predicate:
			sql, ok := d.render(e, s)
			return "(" + sql + " = 1)", ok
		}
	}
	return d.render(e, s)
}

func (d Dialect) render(e expr.Expression, s Scope) (string, bool) {
	switch x := e.(type) {
	case expr.Literal:
		return d.Literal(x.Value)
	case expr.Input:
		if s.Input == "" {
			return "NULL", true
		}
		return s.Input, true
	case expr.Sibling:
		return s.sibling(d, x.Column), true
	case expr.Foreign:
		if s.Foreign == "" {
			return "", false
		}
		return d.QuoteColumn(s.Foreign, x.Column), true
	case expr.Binary:
		return d.binary(x, s)
	case expr.Call:
		return d.call(x, s)
	}
	return "", false
}

func (d Dialect) values(args []expr.Expression, s Scope) ([]string, bool) {
	out := make([]string, len(args))
	for i, a := range args {
		sql, ok := d.translate(a, s, false)
		if !ok {
			return nil, false
		}
		out[i] = sql
	}
	return out, true
}

// concatOperands flattens chains of & into one argument list.
func concatOperands(e expr.Expression) []expr.Expression {
	if b, ok := e.(expr.Binary); ok && b.Op == expr.Concatenation {
		return append(concatOperands(b.Left), concatOperands(b.Right)...)
	}
	return []expr.Expression{e}
}

func (d Dialect) binary(b expr.Binary, s Scope) (string, bool) {
	if b.Op == expr.Concatenation {
		args, ok := d.values(concatOperands(b), s)
		if !ok {
			return "", false
		}
		return d.Concat(args), true
	}
	l, lok := d.translate(b.Left, s, false)
	r, rok := d.translate(b.Right, s, false)
	if !lok || !rok {
		return "", false
	}

	switch b.Op {
	case expr.Addition, expr.Subtraction, expr.Multiplication:
		return "(" + l + " " + b.Op.Symbol() + " " + r + ")", true
	case expr.Division:
		return "(" + d.ForceNumeric(l) + " / NULLIF(" + r + ", 0))", true
	case expr.Modulus:
		return "(" + l + " % NULLIF(" + r + ", 0))", true
	case expr.Power:
		if d == SQLite || d == Standard {
			return "", false
		}
		return "POWER(" + l + ", " + r + ")", true
	case expr.Equals, expr.NotEquals, expr.Greater, expr.Lesser, expr.GreaterEqual, expr.LesserEqual:
		return "(" + l + " " + b.Op.Symbol() + " " + r + ")", true
	case expr.ContainsString:
		return d.contains("LOWER("+l+")", "LOWER("+r+")")
	case expr.ContainsStringStrict:
		if d == MySQL {
			return "(LOCATE(BINARY " + r + ", BINARY " + l + ") > 0)", true
		}
		return d.contains(l, r)
	case expr.MatchesRegex, expr.MatchesRegexStrict:
		strict := b.Op == expr.MatchesRegexStrict
		switch d {
		case SQLite:
			if !strict {
				r = "('(?i)' || " + r + ")"
			}
			return "(" + l + " REGEXP " + r + ")", true
		case MySQL:
			mode := "'i'"
			if strict {
				mode = "'c'"
			}
			return "REGEXP_LIKE(" + l + ", " + r + ", " + mode + ")", true
		case PostgreSQL:
			op := " ~* "
			if strict {
				op = " ~ "
			}
			return "(" + l + op + r + ")", true
		}
		return "", false
	}
	return "", false
}

// contains renders a substring test; haystack and needle are text.
func (d Dialect) contains(haystack, needle string) (string, bool) {
	switch d {
	case SQLite:
		return "(INSTR(" + haystack + ", " + needle + ") > 0)", true
	case MySQL:
		return "(LOCATE(" + needle + ", " + haystack + ") > 0)", true
	case PostgreSQL:
		return "(STRPOS(" + haystack + ", " + needle + ") > 0)", true
	case MSSQL:
		return "(CHARINDEX(" + needle + ", " + haystack + ") > 0)", true
	default:
		return "(POSITION(" + needle + " IN " + haystack + ") > 0)", true
	}
}

func (d Dialect) call(c expr.Call, s Scope) (string, bool) {
	// Logical functions take predicates.
	switch c.Function {
	case expr.Not, expr.And, expr.Or, expr.Xor:
		args := make([]string, len(c.Arguments))
		for i, a := range c.Arguments {
			sql, ok := d.translate(a, s, true)
			if !ok {
				return "", false
			}
			args[i] = sql
		}
		switch c.Function {
		case expr.Not:
			return "(NOT " + args[0] + ")", true
		case expr.And:
			if len(args) == 0 {
				return "(1 = 1)", true
			}
			return "(" + strings.Join(args, " AND ") + ")", true
		case expr.Or:
			if len(args) == 0 {
				return "(1 = 0)", true
			}
			return "(" + strings.Join(args, " OR ") + ")", true
		default:
			switch d {
			case MySQL:
				return "(" + args[0] + " XOR " + args[1] + ")", true
			case MSSQL:
				return "", false
			}
			return "(" + args[0] + " <> " + args[1] + ")", true
		}
	case expr.If:
		cond, ok := d.translate(c.Arguments[0], s, true)
		if !ok {
			return "", false
		}
		branches, ok := d.values(c.Arguments[1:], s)
		if !ok {
			return "", false
		}
		return "(CASE WHEN " + cond + " THEN " + branches[0] + " ELSE " + branches[1] + " END)", true
	case expr.IsInvalid:
		return "(1 = 0)", true
	case expr.IsTrue:
		// SQL treats any non-zero number as true; only predicates keep the
		// exact meaning.
		if !isPredicate(c.Arguments[0]) {
			return "", false
		}
		return d.translate(c.Arguments[0], s, true)
	case expr.Random:
		switch d {
		case SQLite:
			return "((RANDOM() / 18446744073709551616.0) + 0.5)", true
		case MySQL:
			return "RAND()", true
		case PostgreSQL:
			return "RANDOM()", true
		case MSSQL:
			return "RAND(CHECKSUM(NEWID()))", true
		}
		return "", false
	}

	args, ok := d.values(c.Arguments, s)
	if !ok {
		return "", false
	}
	fn := func(name string) (string, bool) { return name + "(" + strings.Join(args, ", ") + ")", true }

	switch c.Function {
	case expr.Identity:
		return args[0], true
	case expr.Negate:
		return "(-" + args[0] + ")", true
	case expr.IsEmpty:
		return "(" + args[0] + " IS NULL)", true
	case expr.Uppercase:
		return fn("UPPER")
	case expr.Lowercase:
		return fn("LOWER")
	case expr.Trim:
		if d == MSSQL {
			return "LTRIM(RTRIM(" + args[0] + "))", true
		}
		return fn("TRIM")
	case expr.Length:
		switch d {
		case MSSQL:
			return fn("LEN")
		case MySQL:
			return fn("CHAR_LENGTH")
		case Standard:
			return fn("CHARACTER_LENGTH")
		}
		return fn("LENGTH")
	case expr.Left:
		switch d {
		case SQLite:
			return "SUBSTR(" + args[0] + ", 1, " + args[1] + ")", true
		case Standard:
			return "SUBSTRING(" + args[0] + " FROM 1 FOR " + args[1] + ")", true
		}
		return fn("LEFT")
	case expr.Right:
		switch d {
		case SQLite:
			return "(CASE WHEN " + args[1] + " > 0 THEN SUBSTR(" + args[0] + ", -(" + args[1] + ")) ELSE '' END)", true
		case Standard:
			return "", false
		}
		return fn("RIGHT")
	case expr.Mid:
		switch d {
		case MSSQL:
			return fn("SUBSTRING")
		case Standard:
			return "SUBSTRING(" + args[0] + " FROM " + args[1] + " FOR " + args[2] + ")", true
		}
		return fn("SUBSTR")
	case expr.Substitute:
		if d == Standard {
			return "", false
		}
		return fn("REPLACE")
	case expr.Concat:
		return d.Concat(args), true
	case expr.Absolute:
		return fn("ABS")
	case expr.Sign:
		return fn("SIGN")
	case expr.Round:
		if len(args) == 1 && d == MSSQL {
			return "ROUND(" + args[0] + ", 0)", true
		}
		return fn("ROUND")
	case expr.Coalesce:
		return fn("COALESCE")
	}

	// The remaining functions need math support SQLite may be built without.
	if d == SQLite {
		switch c.Function {
		case expr.Min:
			return fn("MIN")
		case expr.Max:
			return fn("MAX")
		}
		return "", false
	}
	switch c.Function {
	case expr.Floor:
		return fn("FLOOR")
	case expr.Ceiling:
		if d == MySQL || d == PostgreSQL {
			return fn("CEIL")
		}
		return fn("CEILING")
	case expr.Sqrt:
		return fn("SQRT")
	case expr.Exp:
		return fn("EXP")
	case expr.Log:
		if len(args) == 1 {
			if d == Standard {
				return "", false
			}
			return fn("LOG10")
		}
		switch d {
		case MSSQL:
			return "LOG(" + args[0] + ", " + args[1] + ")", true
		case MySQL, PostgreSQL:
			return "LOG(" + args[1] + ", " + args[0] + ")", true
		}
		return "", false
	case expr.Min, expr.Max:
		if len(args) == 1 {
			return args[0], true
		}
		if d != MySQL && d != PostgreSQL {
			return "", false
		}
		if c.Function == expr.Min {
			return fn("LEAST")
		}
		return fn("GREATEST")
	case expr.RegexSubstitute:
		switch d {
		case PostgreSQL:
			return "REGEXP_REPLACE(" + strings.Join(args, ", ") + ", 'g')", true
		case MySQL:
			return fn("REGEXP_REPLACE")
		}
		return "", false
	case expr.Choose:
		var b strings.Builder
		b.WriteString("(CASE " + args[0])
		for i, a := range args[1:] {
			b.WriteString(" WHEN " + strconv.Itoa(i+1) + " THEN " + a)
		}
		b.WriteString(" END)")
		return b.String(), true
	}
	return "", false
}
