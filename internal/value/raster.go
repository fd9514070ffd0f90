package value

import "fmt"

// Raster is a fully materialized table. Rasters are produced only by running
// a stream to completion and must be treated as immutable once built.
type Raster struct {
	Columns  Columns
	Rows     []Tuple
	ReadOnly bool
}

// NewRaster validates the schema and the width of every row.
func NewRaster(columns Columns, rows []Tuple, readOnly bool) (*Raster, error) {
	if err := columns.Validate(); err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", i, len(r), len(columns))
		}
	}
	return &Raster{Columns: columns, Rows: rows, ReadOnly: readOnly}, nil
}

// RowCount returns the number of rows.
func (r *Raster) RowCount() int { return len(r.Rows) }

// IndexOfColumn returns the position of c, or -1.
func (r *Raster) IndexOfColumn(c Column) int { return r.Columns.IndexOf(c) }

// Value returns the cell at (row, column) or Invalid when out of range.
func (r *Raster) Value(row int, c Column) Value {
	ci := r.Columns.IndexOf(c)
	if ci < 0 || row < 0 || row >= len(r.Rows) {
		return Invalid()
	}
	return r.Rows[row][ci]
}

// Row returns row i with its schema attached.
func (r *Raster) Row(i int) Row { return Row{Columns: r.Columns, Values: r.Rows[i]} }

// Clone deep-copies the raster; the copy is writable.
func (r *Raster) Clone() *Raster {
	rows := make([]Tuple, len(r.Rows))
	for i, t := range r.Rows {
		rows[i] = t.Clone()
	}
	cols := make(Columns, len(r.Columns))
	copy(cols, r.Columns)
	return &Raster{Columns: cols, Rows: rows}
}
