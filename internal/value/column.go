package value

import (
	"fmt"
	"strings"
)

// Column names a position in a schema. Names are case-sensitive.
type Column string

func (c Column) String() string { return string(c) }

// Columns is an ordered schema. A valid schema holds no duplicate names.
type Columns []Column

// NewColumns builds a schema from plain names.
func NewColumns(names ...string) Columns {
	out := make(Columns, len(names))
	for i, n := range names {
		out[i] = Column(n)
	}
	return out
}

// IndexOf returns the position of c, or -1.
func (cs Columns) IndexOf(c Column) int {
	for i, x := range cs {
		if x == c {
			return i
		}
	}
	return -1
}

// Contains reports whether c is part of the schema.
func (cs Columns) Contains(c Column) bool { return cs.IndexOf(c) >= 0 }

// Strings returns the names as plain strings.
func (cs Columns) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// SchemaError reports a duplicate or unknown column, or schemas that cannot
// be reconciled.
type SchemaError struct {
	Column Column
	Msg    string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return e.Msg
	}
	return fmt.Sprintf("column %q: %s", string(e.Column), e.Msg)
}

// Validate fails with a *SchemaError when the schema contains a duplicate
// name.
func (cs Columns) Validate() error {
	seen := make(map[Column]struct{}, len(cs))
	for _, c := range cs {
		if _, dup := seen[c]; dup {
			return &SchemaError{Column: c, Msg: "duplicate column"}
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Equal reports whether both schemas list the same names in the same order.
func (cs Columns) Equal(o Columns) bool {
	if len(cs) != len(o) {
		return false
	}
	for i := range cs {
		if cs[i] != o[i] {
			return false
		}
	}
	return true
}

// Unique returns base if it is not yet part of existing, otherwise the first
// of base_1, base_2, ... that is free.
func Unique(base Column, existing Columns) Column {
	if !existing.Contains(base) {
		return base
	}
	for i := 1; ; i++ {
		c := Column(fmt.Sprintf("%s_%d", base, i))
		if !existing.Contains(c) {
			return c
		}
	}
}

// Uniqued renames duplicates (and empty names) so the result is a valid
// schema. Sources with sloppy headers go through this.
func Uniqued(names []string) Columns {
	out := make(Columns, 0, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			n = fmt.Sprintf("column_%d", i+1)
		}
		out = append(out, Unique(Column(n), out))
	}
	return out
}

// Tuple is one row of values, positionally aligned to a schema.
type Tuple []Value

// Clone returns a copy that does not share backing storage.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// Row couples a tuple with the schema needed to interpret it.
type Row struct {
	Columns Columns
	Values  Tuple
}

// Get returns the value of column c, or Invalid when the column is unknown.
func (r Row) Get(c Column) Value {
	if i := r.Columns.IndexOf(c); i >= 0 && i < len(r.Values) {
		return r.Values[i]
	}
	return Invalid()
}

// Has reports whether the row's schema contains c.
func (r Row) Has(c Column) bool { return r.Columns.IndexOf(c) >= 0 }
