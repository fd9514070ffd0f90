package sink

import (
	"fmt"
	"strings"

	"conduit/internal/dialect"
)

// ColumnDef describes a single column of a table to create.
type ColumnDef struct {
	Name    string
	SQLType string
}

// TableDef holds the table name (dotted for schema-qualified names) and an
// ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// columnKind is the narrowest type that holds every value seen in a column.
type columnKind uint8

const (
	kindUnknown columnKind = iota
	kindInt
	kindDouble
	kindBool
	kindText
)

func widen(k columnKind, v any) columnKind {
	var got columnKind
	switch v.(type) {
	case nil:
		return k
	case int64:
		got = kindInt
	case float64:
		got = kindDouble
	case bool:
		got = kindBool
	default:
		got = kindText
	}
	switch {
	case k == kindUnknown || k == got:
		return got
	case (k == kindInt && got == kindDouble) || (k == kindDouble && got == kindInt):
		return kindDouble
	default:
		return kindText
	}
}

func sqlType(d dialect.Dialect, k columnKind) string {
	switch k {
	case kindInt:
		if d == dialect.SQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case kindDouble:
		switch d {
		case dialect.SQLite:
			return "REAL"
		case dialect.MySQL:
			return "DOUBLE"
		case dialect.MSSQL:
			return "FLOAT"
		}
		return "DOUBLE PRECISION"
	case kindBool:
		switch d {
		case dialect.SQLite:
			return "INTEGER"
		case dialect.MSSQL:
			return "BIT"
		}
		return "BOOLEAN"
	default:
		if d == dialect.MSSQL {
			return "NVARCHAR(MAX)"
		}
		return "TEXT"
	}
}

// InferTableDef picks a column type for every column from a sample of driver
// values. Columns without any non-NULL value become text.
func InferTableDef(d dialect.Dialect, table string, columns []string, sample [][]any) TableDef {
	kinds := make([]columnKind, len(columns))
	for _, row := range sample {
		for i := range kinds {
			if i < len(row) {
				kinds[i] = widen(kinds[i], row[i])
			}
		}
	}
	def := TableDef{FQN: table, Columns: make([]ColumnDef, len(columns))}
	for i, c := range columns {
		def.Columns[i] = ColumnDef{Name: c, SQLType: sqlType(d, kinds[i])}
	}
	return def
}

// BuildCreateTableSQL renders a CREATE TABLE statement with identifiers quoted
// for d. Every column is nullable.
func BuildCreateTableSQL(d dialect.Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		if strings.TrimSpace(c.SQLType) == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", c.Name)
		}
		cols = append(cols, d.Quote(c.Name)+" "+c.SQLType)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteTable(fqn), strings.Join(cols, ", ")), nil
}
