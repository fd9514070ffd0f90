package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"conduit/internal/value"
)

const maxCellWidth = 40

// writeTable prints at most limit rows of r as aligned columns. Invalid
// values print as "!" so they stand apart from empty cells.
func writeTable(w io.Writer, r *value.Raster, limit int, loc value.Locale) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		header[i] = string(c)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	cells := make([]string, len(r.Columns))
	for i, row := range r.Rows {
		if i == limit {
			break
		}
		for ci, v := range row {
			cells[ci] = cell(v, loc)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if more := r.RowCount() - limit; more > 0 {
		_, err := fmt.Fprintf(w, "... %d more\n", more)
		return err
	}
	return nil
}

func cell(v value.Value, loc value.Locale) string {
	if v.Kind() == value.KindInvalid {
		return "!"
	}
	s := strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(loc.Format(v))
	if r := []rune(s); len(r) > maxCellWidth {
		s = string(r[:maxCellWidth-1]) + "…"
	}
	return s
}
