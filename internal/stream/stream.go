// Package stream defines the pull-based, batch-oriented row stream that every
// dataset is ultimately evaluated through, and the combinators that wrap one
// stream into another without materializing it.
//
// A Stream is single-consumer: Fetch calls are strictly sequential and a
// stream that reported hasMore=false must not be fetched again. To read the
// same data twice, Clone the stream; the clone restarts from the sources.
package stream

import (
	"errors"

	"conduit/internal/job"
	"conduit/internal/value"
)

// DefaultBatchSize is the number of rows a stream returns per Fetch unless
// the source naturally produces smaller batches.
const DefaultBatchSize = 4096

// Stream is a replayable sequence of row batches.
type Stream interface {
	// Columns returns the schema of every batch this stream emits. It may
	// be called any number of times and always returns the same answer.
	Columns(j *job.Job) (value.Columns, error)
	// Fetch returns the next batch. hasMore=false marks the final batch,
	// which may be empty. The first upstream error is returned unchanged.
	Fetch(j *job.Job) (rows []value.Tuple, hasMore bool, err error)
	// Clone returns an independent stream replaying the same rows from the
	// start, re-executing any underlying I/O.
	Clone() Stream
}

// Closer is implemented by streams holding resources, such as open cursors
// or files, that can be released before the stream is exhausted.
type Closer interface {
	Close() error
}

// Close releases the resources of s early. A stream that was closed must not
// be fetched again.
func Close(s Stream) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Each drives s to completion, handing every non-empty batch to fn. When it
// stops early, on an error, a cancelled job or an error from fn, it closes s
// before returning.
func Each(j *job.Job, s Stream, fn func(cols value.Columns, rows []value.Tuple) error) (err error) {
	defer func() {
		if err == nil {
			return
		}
		if cerr := Close(s); cerr != nil && err == errEnough {
			err = cerr
		}
	}()
	cols, err := s.Columns(j)
	if err != nil {
		return err
	}
	for {
		if err := j.Err(); err != nil {
			return err
		}
		rows, more, err := s.Fetch(j)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := fn(cols, rows); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

// errEnough stops Each early once Collect has its rows.
var errEnough = errors.New("enough rows")

// ProgressCollect is the progress key Collect reports under.
const ProgressCollect = "collect"

// Collect materializes s into a read-only raster. A negative limit reads the
// whole stream. With a limit, progress is the share of it collected so far.
func Collect(j *job.Job, s Stream, limit int) (*value.Raster, error) {
	var rows []value.Tuple
	var columns value.Columns
	j.ReportProgress(ProgressCollect, 0)
	err := Each(j, s, func(cols value.Columns, batch []value.Tuple) error {
		columns = cols
		if limit >= 0 && len(rows)+len(batch) >= limit {
			rows = append(rows, batch[:limit-len(rows)]...)
			return errEnough
		}
		rows = append(rows, batch...)
		if limit > 0 {
			j.ReportProgress(ProgressCollect, float64(len(rows))/float64(limit))
		}
		return nil
	})
	if err == errEnough {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if columns == nil {
		if columns, err = s.Columns(j); err != nil {
			return nil, err
		}
	}
	j.ReportProgress(ProgressCollect, 1)
	return &value.Raster{Columns: columns, Rows: rows, ReadOnly: true}, nil
}

// nextBatch splits off the first n rows.
func nextBatch(rows []value.Tuple, n int) (batch, rest []value.Tuple) {
	if len(rows) <= n {
		return rows, nil
	}
	return rows[:n], rows[n:]
}
