// Package dialect renders expressions, aggregations and query clauses as SQL
// for the databases the engine can push work down to. Translation is partial
// by nature: anything a dialect cannot express reports ok=false and the
// caller evaluates it client-side instead.
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"conduit/internal/value"
)

// Dialect identifies a SQL flavour.
type Dialect uint8

const (
	Standard Dialect = iota
	SQLite
	MySQL
	PostgreSQL
	MSSQL
)

// mssqlMaxConcatArguments is the argument limit of CONCAT on SQL Server.
const mssqlMaxConcatArguments = 254

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "postgres"
	case MSSQL:
		return "mssql"
	default:
		return "standard"
	}
}

// ForDriver maps a database/sql driver name or source kind to its dialect.
func ForDriver(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "mysql":
		return MySQL, true
	case "postgres", "postgresql", "pgx":
		return PostgreSQL, true
	case "mssql", "sqlserver":
		return MSSQL, true
	case "standard", "":
		return Standard, true
	}
	return Standard, false
}

// Quote renders an identifier.
func (d Dialect) Quote(identifier string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
	case MSSQL:
		return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
	}
}

// QuoteTable renders a possibly schema-qualified table name such as
// "public.events".
func (d Dialect) QuoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(p)
	}
	return strings.Join(parts, ".")
}

// QuoteColumn renders a column, qualified by table when table is not empty.
func (d Dialect) QuoteColumn(table string, c value.Column) string {
	if table == "" {
		return d.Quote(string(c))
	}
	return d.Quote(table) + "." + d.Quote(string(c))
}

// Literal renders a constant. Empty is NULL; Invalid has no SQL form.
func (d Dialect) Literal(v value.Value) (string, bool) {
	switch v.Kind() {
	case value.KindEmpty:
		return "NULL", true
	case value.KindInt:
		i, _ := v.IntValue()
		return strconv.FormatInt(i, 10), true
	case value.KindDouble:
		f, _ := v.DoubleValue()
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s, true
	case value.KindBool:
		b, _ := v.BoolValue()
		if d == PostgreSQL {
			return strings.ToUpper(strconv.FormatBool(b)), true
		}
		if b {
			return "1", true
		}
		return "0", true
	case value.KindString:
		s, _ := v.StringValue()
		return d.stringLiteral(s), true
	}
	return "", false
}

func (d Dialect) stringLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	switch d {
	case MySQL:
		return "'" + strings.ReplaceAll(s, `\`, `\\`) + "'"
	case MSSQL:
		return "N'" + s + "'"
	}
	return "'" + s + "'"
}

// ForceString casts an SQL expression to text.
func (d Dialect) ForceString(sql string) string {
	switch d {
	case SQLite, PostgreSQL:
		return "CAST(" + sql + " AS TEXT)"
	case MySQL:
		return "CAST(" + sql + " AS CHAR)"
	case MSSQL:
		return "CAST(" + sql + " AS NVARCHAR(MAX))"
	default:
		return "CAST(" + sql + " AS VARCHAR)"
	}
}

// ForceNumeric casts an SQL expression to a floating point number.
func (d Dialect) ForceNumeric(sql string) string {
	switch d {
	case SQLite:
		return "CAST(" + sql + " AS REAL)"
	case MySQL:
		return "(" + sql + " + 0.0)"
	case MSSQL:
		return "CAST(" + sql + " AS FLOAT)"
	default:
		return "CAST(" + sql + " AS DOUBLE PRECISION)"
	}
}

// RandomOrder is an expression usable in ORDER BY to shuffle rows.
func (d Dialect) RandomOrder() (string, bool) {
	switch d {
	case SQLite, PostgreSQL:
		return "RANDOM()", true
	case MySQL:
		return "RAND()", true
	case MSSQL:
		return "NEWID()", true
	}
	return "", false
}

// NullsOrder returns the suffix that sorts NULL before every other value in
// ascending order and after them in descending order.
func (d Dialect) NullsOrder(ascending bool) string {
	switch d {
	case SQLite, MySQL, MSSQL:
		return ""
	}
	if ascending {
		return " NULLS FIRST"
	}
	return " NULLS LAST"
}

// PaginationNeedsOrder reports whether a pagination clause is only valid
// after an ORDER BY clause.
func (d Dialect) PaginationNeedsOrder() bool { return d == MSSQL }

// Pagination renders a LIMIT/OFFSET clause. A negative limit means no limit;
// zero offset is omitted.
func (d Dialect) Pagination(limit, offset int64) string {
	if limit < 0 && offset <= 0 {
		return ""
	}
	switch d {
	case SQLite, MySQL, PostgreSQL:
		var b strings.Builder
		switch {
		case limit >= 0:
			fmt.Fprintf(&b, "LIMIT %d", limit)
		case d == SQLite:
			b.WriteString("LIMIT -1")
		case d == MySQL:
			b.WriteString("LIMIT 18446744073709551615")
		}
		if offset > 0 {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "OFFSET %d", offset)
		}
		return b.String()
	}
	clause := fmt.Sprintf("OFFSET %d ROWS", max(offset, 0))
	if limit >= 0 {
		if d == MSSQL {
			clause += fmt.Sprintf(" FETCH NEXT %d ROWS ONLY", limit)
		} else {
			clause += fmt.Sprintf(" FETCH FIRST %d ROWS ONLY", limit)
		}
	}
	return clause
}

// Concat concatenates text expressions. Arguments are coerced to text and
// NULL is treated as the empty string.
func (d Dialect) Concat(args []string) string {
	if len(args) == 0 {
		return d.stringLiteral("")
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = "COALESCE(" + d.ForceString(a) + ", " + d.stringLiteral("") + ")"
	}
	switch d {
	case MySQL:
		return "CONCAT(" + strings.Join(parts, ", ") + ")"
	case MSSQL:
		return d.mssqlConcat(parts)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " || ") + ")"
}

// mssqlConcat nests CONCAT calls so none exceeds the argument limit. CONCAT
// also needs at least two arguments.
func (d Dialect) mssqlConcat(parts []string) string {
	for len(parts) > mssqlMaxConcatArguments {
		var nested []string
		for len(parts) > 0 {
			n := min(len(parts), mssqlMaxConcatArguments)
			if n == 1 {
				nested = append(nested, parts[0])
			} else {
				nested = append(nested, "CONCAT("+strings.Join(parts[:n], ", ")+")")
			}
			parts = parts[n:]
		}
		parts = nested
	}
	if len(parts) == 1 {
		parts = append(parts, d.stringLiteral(""))
	}
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}
