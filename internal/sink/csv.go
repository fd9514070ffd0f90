package sink

import (
	"encoding/csv"
	"fmt"
	"io"

	"conduit/internal/data"
	"conduit/internal/job"
	"conduit/internal/metrics"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// CSVWriter writes delimited text.
type CSVWriter struct {
	W io.Writer
	// Separator defaults to the locale's CSV separator.
	Separator rune
	// Header writes the column names as the first record.
	Header  bool
	Locale  value.Locale
	Metrics *metrics.Recorder
}

var _ Sink = (*CSVWriter)(nil)

func (w *CSVWriter) Write(j *job.Job, d data.Data) (int64, error) {
	n, err := w.write(j, d.Stream())
	w.Metrics.RecordRowsWritten("csv", n)
	return n, err
}

func (w *CSVWriter) write(j *job.Job, s stream.Stream) (int64, error) {
	loc := w.Locale
	if loc.DecimalSeparator == "" {
		loc = value.DefaultLocale()
	}
	cw := csv.NewWriter(w.W)
	switch {
	case w.Separator != 0:
		cw.Comma = w.Separator
	case loc.CSVSeparator != 0:
		cw.Comma = loc.CSVSeparator
	}

	cols, err := s.Columns(j)
	if err != nil {
		stream.Close(s)
		return 0, err
	}
	if w.Header {
		if err := cw.Write(cols.Strings()); err != nil {
			stream.Close(s)
			return 0, fmt.Errorf("csv: write header: %w", err)
		}
	}

	var total int64
	rec := make([]string, len(cols))
	err = stream.Each(j, s, func(_ value.Columns, rows []value.Tuple) error {
		for _, t := range rows {
			for i, v := range t {
				rec[i] = loc.Format(v)
			}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("csv: write: %w", err)
			}
			total++
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return total, err
	}
	cw.Flush()
	return total, cw.Error()
}
