package stream

import (
	"conduit/internal/job"
	"conduit/internal/value"
)

// Transformer is the per-stream state of a row combinator.
type Transformer interface {
	// Prepare maps the source schema to the output schema. It is called
	// once per stream, before the first Transform.
	Prepare(j *job.Job, source value.Columns) (value.Columns, error)
	// Transform processes one upstream batch; final is set for the last
	// one. done=true ends the output early, even if upstream has more.
	Transform(j *job.Job, rows []value.Tuple, final bool) (out []value.Tuple, done bool, err error)
	// Clone returns a fresh, unprepared transformer with the same settings.
	Clone() Transformer
}

// TransformStream applies a Transformer to an upstream stream.
type TransformStream struct {
	source Stream
	t      Transformer

	columns  value.Columns
	prepared bool
	pending  []value.Tuple
	finished bool
}

// NewTransformStream wraps source. t must be fresh; the stream owns it.
func NewTransformStream(source Stream, t Transformer) *TransformStream {
	return &TransformStream{source: source, t: t}
}

func (s *TransformStream) prepare(j *job.Job) error {
	if s.prepared {
		return nil
	}
	src, err := s.source.Columns(j)
	if err != nil {
		return err
	}
	cols, err := s.t.Prepare(j, src)
	if err != nil {
		return err
	}
	s.columns, s.prepared = cols, true
	return nil
}

func (s *TransformStream) Columns(j *job.Job) (value.Columns, error) {
	if err := s.prepare(j); err != nil {
		return nil, err
	}
	return s.columns, nil
}

func (s *TransformStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if err := s.prepare(j); err != nil {
		return nil, false, err
	}
	for !s.finished && len(s.pending) < DefaultBatchSize {
		if err := j.Err(); err != nil {
			return nil, false, err
		}
		rows, more, err := s.source.Fetch(j)
		if err != nil {
			return nil, false, err
		}
		out, done, err := s.t.Transform(j, rows, !more)
		if err != nil {
			return nil, false, err
		}
		s.pending = append(s.pending, out...)
		if done && more {
			if err := Close(s.source); err != nil {
				return nil, false, err
			}
		}
		if done || !more {
			s.finished = true
		}
		// Hand back whatever we have rather than reading further ahead.
		if len(s.pending) > 0 {
			break
		}
	}
	batch, rest := nextBatch(s.pending, DefaultBatchSize)
	s.pending = rest
	return batch, !s.finished || len(s.pending) > 0, nil
}

func (s *TransformStream) Close() error {
	s.finished, s.pending = true, nil
	return Close(s.source)
}

func (s *TransformStream) Clone() Stream {
	return NewTransformStream(s.source.Clone(), s.t.Clone())
}

// rowTransformer handles combinators whose output depends only on the
// current row.
type rowTransformer struct {
	prepare func(j *job.Job, source value.Columns) (value.Columns, error)
	row     func(in value.Tuple) (value.Tuple, bool)
	clone   func() Transformer
}

func (t *rowTransformer) Prepare(j *job.Job, source value.Columns) (value.Columns, error) {
	return t.prepare(j, source)
}

func (t *rowTransformer) Transform(j *job.Job, rows []value.Tuple, _ bool) ([]value.Tuple, bool, error) {
	out := make([]value.Tuple, 0, len(rows))
	for _, r := range rows {
		if o, keep := t.row(r); keep {
			out = append(out, o)
		}
	}
	return out, false, nil
}

func (t *rowTransformer) Clone() Transformer { return t.clone() }

// MaterializeStream computes its whole output on first use. It backs the
// combinators whose schema depends on the data itself, such as Pivot and
// Transpose.
type MaterializeStream struct {
	source  Stream
	compute func(j *job.Job, in *value.Raster) (*value.Raster, error)

	result *RasterStream
}

// NewMaterializeStream reads source completely and passes it to compute.
func NewMaterializeStream(source Stream, compute func(j *job.Job, in *value.Raster) (*value.Raster, error)) *MaterializeStream {
	return &MaterializeStream{source: source, compute: compute}
}

func (s *MaterializeStream) run(j *job.Job) error {
	if s.result != nil {
		return nil
	}
	in, err := Collect(j, s.source, -1)
	if err != nil {
		return err
	}
	out, err := s.compute(j, in)
	if err != nil {
		return err
	}
	s.result = NewRasterStream(out)
	return nil
}

func (s *MaterializeStream) Columns(j *job.Job) (value.Columns, error) {
	if err := s.run(j); err != nil {
		return nil, err
	}
	return s.result.Columns(j)
}

func (s *MaterializeStream) Fetch(j *job.Job) ([]value.Tuple, bool, error) {
	if err := s.run(j); err != nil {
		return nil, false, err
	}
	return s.result.Fetch(j)
}

func (s *MaterializeStream) Close() error {
	if s.result != nil {
		return nil
	}
	return Close(s.source)
}

func (s *MaterializeStream) Clone() Stream {
	return NewMaterializeStream(s.source.Clone(), s.compute)
}
