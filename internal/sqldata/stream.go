package sqldata

import (
	"fmt"

	"github.com/go-kit/log/level"

	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// QueryStream streams the result of a query. The query is issued on the
// first Fetch; each clone issues it again.
type QueryStream struct {
	db      Database
	query   string
	columns value.Columns

	rows Rows
	done bool
}

// NewQueryStream creates a lazy stream over query, whose result columns must
// be columns.
func NewQueryStream(db Database, query string, columns value.Columns) *QueryStream {
	return &QueryStream{db: db, query: query, columns: columns}
}

func (s *QueryStream) Columns(*job.Job) (value.Columns, error) { return s.columns, nil }

func (s *QueryStream) fail(j *job.Job, err error) ([]value.Tuple, bool, error) {
	s.Close()
	if j.IsCancelled() {
		return nil, false, job.ErrCancelled
	}
	return nil, false, &stream.SourceError{Source: s.db.Name(), Err: err}
}

func (s *QueryStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if err := j.Err(); err != nil {
		s.Close()
		return nil, false, err
	}
	if s.rows == nil {
		level.Debug(j.Logger()).Log("msg", "query", "db", s.db.Name(), "sql", s.query)
		rows, err := s.db.Query(j.Context(), s.query)
		if err != nil {
			return s.fail(j, err)
		}
		if n := len(rows.Columns()); n != len(s.columns) {
			rows.Close()
			s.done = true
			return nil, false, &value.SchemaError{Msg: fmt.Sprintf("query returned %d columns, expected %d", n, len(s.columns))}
		}
		s.rows = rows
	}

	batch := make([]value.Tuple, 0, 256)
	for len(batch) < stream.DefaultBatchSize {
		if !s.rows.Next() {
			if err := s.rows.Err(); err != nil {
				return s.fail(j, err)
			}
			if err := s.Close(); err != nil {
				return s.fail(j, err)
			}
			return batch, false, nil
		}
		row, err := s.rows.Values()
		if err != nil {
			return s.fail(j, err)
		}
		batch = append(batch, row)
	}
	return batch, true, nil
}

// Close releases the result set; the stream ends.
func (s *QueryStream) Close() error {
	s.done = true
	if s.rows == nil {
		return nil
	}
	rows := s.rows
	s.rows = nil
	return rows.Close()
}

func (s *QueryStream) Clone() stream.Stream { return NewQueryStream(s.db, s.query, s.columns) }
