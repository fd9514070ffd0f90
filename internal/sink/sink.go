// Package sink writes the full result of a chain to files and databases.
// Writers pull the façade's stream batch by batch and never hold more than
// one batch in memory.
package sink

import (
	"context"
	"fmt"

	"conduit/internal/data"
	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// DefaultBatchSize is the number of rows per insert or COPY when a writer has
// no batch size configured.
const DefaultBatchSize = 1000

// Sink consumes the full data of a façade.
type Sink interface {
	// Write drains d and returns the number of rows written.
	Write(j *job.Job, d data.Data) (int64, error)
}

// CopyFn writes one batch of driver values. In production it inserts into or
// COPYs to a database; in tests a fake can verify batching.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// WriteBatches drains s, groups rows into batches of batchSize, and calls
// copyFn for each non-empty batch. It returns the total number of rows
// reported by copyFn and the first error encountered.
//
// The row count of s is not known up front, so progress under key (usually
// the target table) stays at 0 until the last batch was written and then
// becomes 1.
func WriteBatches(j *job.Job, s stream.Stream, key string, batchSize int, copyFn CopyFn) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}
	cols, err := s.Columns(j)
	if err != nil {
		stream.Close(s)
		return 0, err
	}
	j.ReportProgress(key, 0)
	names := cols.Strings()

	var (
		total int64
		batch = make([][]any, 0, batchSize)
		flush = func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := copyFn(j.Context(), names, batch)
			total += n
			// reuse backing array
			batch = batch[:0]
			return err
		}
	)
	err = stream.Each(j, s, func(_ value.Columns, rows []value.Tuple) error {
		for _, t := range rows {
			batch = append(batch, DriverRow(t))
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	j.ReportProgress(key, 1)
	return total, nil
}

// DriverRow converts a tuple to values every database/sql driver and pgx
// accept. Empty and Invalid become NULL.
func DriverRow(t value.Tuple) []any {
	out := make([]any, len(t))
	for i, v := range t {
		out[i] = driverValue(v)
	}
	return out
}

func driverValue(v value.Value) any {
	switch v.Kind() {
	case value.KindInt:
		i, _ := v.IntValue()
		return i
	case value.KindDouble:
		f, _ := v.DoubleValue()
		return f
	case value.KindBool:
		b, _ := v.BoolValue()
		return b
	case value.KindString:
		s, _ := v.StringValue()
		return s
	default:
		return nil
	}
}
