// Package data provides the declarative façade over a pipeline. Building a
// Data never executes anything; rows only flow once Stream or Raster is
// called.
package data

import (
	"sync"

	"conduit/internal/expr"
	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

type (
	// SourceError is an I/O or connection failure of an external source.
	SourceError = stream.SourceError
	// SchemaError is a duplicate or unknown column, or a schema mismatch that
	// cannot be reconciled.
	SchemaError = value.SchemaError
)

// Data is a handle over a pipeline producing a table. Every operation returns
// a new Data and leaves the receiver untouched.
type Data interface {
	Columns(j *job.Job) (value.Columns, error)
	Raster(j *job.Job) (*value.Raster, error)
	// Stream returns a fresh stream over the data, replaying from the source.
	Stream() stream.Stream

	Filter(condition expr.Expression) Data
	Limit(n int) Data
	Offset(n int) Data
	Random(n int) Data
	Distinct() Data
	SelectColumns(columns value.Columns, keep bool) Data
	Calculate(calculations []stream.Calculation, insert stream.Insertion) Data
	Sort(orders []stream.Order) Data
	Aggregate(groups []stream.Grouping, aggregations []stream.Aggregation) Data
	Pivot(p stream.Pivot) Data
	Flatten(f stream.Flatten) Data
	Transpose() Data
	Union(other Data) Data
	Join(other Data, join stream.Join) Data
	Crawl(c stream.Crawler) Data
}

// Explainer is implemented by façades that can describe how they will be
// computed, such as SQL-backed data.
type Explainer interface {
	Explain() string
}

// StreamData evaluates every operation client-side by wrapping streams.
type StreamData struct {
	template stream.Stream

	mu      sync.Mutex
	columns value.Columns
}

// NewStreamData wraps s. The stream is used as a template only; consumers
// receive clones.
func NewStreamData(s stream.Stream) *StreamData {
	return &StreamData{template: s}
}

func (d *StreamData) Stream() stream.Stream { return d.template.Clone() }

func (d *StreamData) Columns(j *job.Job) (value.Columns, error) {
	d.mu.Lock()
	cached := d.columns
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	cols, err := d.Stream().Columns(j)
	if err != nil {
		return nil, err
	}
	if cols == nil {
		cols = value.Columns{}
	}
	d.mu.Lock()
	d.columns = cols
	d.mu.Unlock()
	return cols, nil
}

func (d *StreamData) Raster(j *job.Job) (*value.Raster, error) {
	return stream.Collect(j, d.Stream(), -1)
}

func (d *StreamData) wrap(s stream.Stream) Data { return NewStreamData(s) }

func (d *StreamData) Filter(condition expr.Expression) Data {
	return d.wrap(stream.Filter(d.Stream(), condition))
}

func (d *StreamData) Limit(n int) Data  { return d.wrap(stream.Limit(d.Stream(), n)) }
func (d *StreamData) Offset(n int) Data { return d.wrap(stream.Offset(d.Stream(), n)) }
func (d *StreamData) Random(n int) Data { return d.wrap(stream.Random(d.Stream(), n)) }
func (d *StreamData) Distinct() Data    { return d.wrap(stream.Distinct(d.Stream())) }
func (d *StreamData) Transpose() Data   { return d.wrap(stream.Transpose(d.Stream())) }

func (d *StreamData) SelectColumns(columns value.Columns, keep bool) Data {
	return d.wrap(stream.SelectColumns(d.Stream(), columns, keep))
}

func (d *StreamData) Calculate(calculations []stream.Calculation, insert stream.Insertion) Data {
	return d.wrap(stream.Calculate(d.Stream(), calculations, insert))
}

func (d *StreamData) Sort(orders []stream.Order) Data {
	return d.wrap(stream.Sort(d.Stream(), orders))
}

func (d *StreamData) Aggregate(groups []stream.Grouping, aggregations []stream.Aggregation) Data {
	return d.wrap(stream.Aggregate(d.Stream(), groups, aggregations))
}

func (d *StreamData) Pivot(p stream.Pivot) Data {
	return d.wrap(stream.PivotStream(d.Stream(), p))
}

func (d *StreamData) Flatten(f stream.Flatten) Data {
	return d.wrap(stream.FlattenStream(d.Stream(), f))
}

func (d *StreamData) Union(other Data) Data {
	return d.wrap(stream.Union(d.Stream(), other.Stream()))
}

func (d *StreamData) Join(other Data, join stream.Join) Data {
	return d.wrap(stream.JoinStreams(d.Stream(), other.Stream(), join))
}

func (d *StreamData) Crawl(c stream.Crawler) Data {
	return d.wrap(stream.Crawl(d.Stream(), c))
}

// RasterData is a façade over an in-memory table. Slicing operations stay in
// memory; the rest fall back to streams.
type RasterData struct {
	raster *value.Raster
}

// NewRasterData wraps r, which must not be modified afterwards.
func NewRasterData(r *value.Raster) *RasterData {
	return &RasterData{raster: r}
}

func (d *RasterData) Columns(*job.Job) (value.Columns, error) { return d.raster.Columns, nil }

func (d *RasterData) Raster(*job.Job) (*value.Raster, error) { return d.raster, nil }

func (d *RasterData) Stream() stream.Stream { return stream.NewRasterStream(d.raster) }

func (d *RasterData) streamed() *StreamData { return NewStreamData(d.Stream()) }

func (d *RasterData) slice(from, to int) Data {
	n := len(d.raster.Rows)
	from, to = min(max(from, 0), n), min(max(to, 0), n)
	if to < from {
		to = from
	}
	return NewRasterData(&value.Raster{Columns: d.raster.Columns, Rows: d.raster.Rows[from:to], ReadOnly: true})
}

func (d *RasterData) Limit(n int) Data  { return d.slice(0, n) }
func (d *RasterData) Offset(n int) Data { return d.slice(n, len(d.raster.Rows)) }

// Random draws a true sample without replacement.
func (d *RasterData) Random(n int) Data {
	return NewStreamData(stream.NewSampleStream(d.raster, n))
}

func (d *RasterData) SelectColumns(columns value.Columns, keep bool) Data {
	cols, idx := stream.ProjectColumns(d.raster.Columns, columns, keep)
	rows := make([]value.Tuple, len(d.raster.Rows))
	for i, r := range d.raster.Rows {
		row := make(value.Tuple, len(idx))
		for k, c := range idx {
			row[k] = r[c]
		}
		rows[i] = row
	}
	return NewRasterData(&value.Raster{Columns: cols, Rows: rows, ReadOnly: true})
}

func (d *RasterData) Filter(condition expr.Expression) Data { return d.streamed().Filter(condition) }
func (d *RasterData) Distinct() Data                        { return d.streamed().Distinct() }
func (d *RasterData) Transpose() Data                       { return d.streamed().Transpose() }

func (d *RasterData) Calculate(calculations []stream.Calculation, insert stream.Insertion) Data {
	return d.streamed().Calculate(calculations, insert)
}

func (d *RasterData) Sort(orders []stream.Order) Data { return d.streamed().Sort(orders) }

func (d *RasterData) Aggregate(groups []stream.Grouping, aggregations []stream.Aggregation) Data {
	return d.streamed().Aggregate(groups, aggregations)
}

func (d *RasterData) Pivot(p stream.Pivot) Data     { return d.streamed().Pivot(p) }
func (d *RasterData) Flatten(f stream.Flatten) Data { return d.streamed().Flatten(f) }
func (d *RasterData) Union(other Data) Data         { return d.streamed().Union(other) }
func (d *RasterData) Crawl(c stream.Crawler) Data   { return d.streamed().Crawl(c) }

func (d *RasterData) Join(other Data, join stream.Join) Data {
	return d.streamed().Join(other, join)
}

// Example limits d to at most maxInputRows source rows, applies transform and
// returns at most maxOutputRows rows of the result.
func Example(j *job.Job, d Data, maxInputRows, maxOutputRows int, transform func(Data) Data) (*value.Raster, error) {
	in := d
	if maxInputRows >= 0 {
		in = d.Limit(maxInputRows)
	}
	if transform != nil {
		in = transform(in)
	}
	return stream.Collect(j, in.Stream(), maxOutputRows)
}
