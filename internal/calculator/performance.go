package calculator

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"conduit/internal/config"
)

// Settings tune example calculations.
type Settings struct {
	// DesiredExampleRows is the number of output rows a preview aims for.
	DesiredExampleRows int
	// TimeBudget is the time a preview may take.
	TimeBudget time.Duration
	// MinimumExampleInputRows and MaximumExampleInputRows bound the number
	// of source rows a preview reads.
	MinimumExampleInputRows int
	MaximumExampleInputRows int
	// Confidence of the estimates, between 0 and 1.
	Confidence float64
	// Window is the number of past runs estimates are based on.
	Window int
}

// DefaultSettings returns the settings used for a zero configuration.
func DefaultSettings() Settings {
	return SettingsFrom(config.Calculator{})
}

// SettingsFrom converts document settings, filling zero values with the
// defaults.
func SettingsFrom(c config.Calculator) Settings {
	s := Settings{
		DesiredExampleRows:      c.DesiredExampleRows,
		TimeBudget:              c.TimeBudget.Std(),
		MinimumExampleInputRows: c.MinimumExampleInputRows,
		MaximumExampleInputRows: c.MaximumExampleInputRows,
		Confidence:              c.Confidence,
		Window:                  c.Window,
	}
	if s.DesiredExampleRows <= 0 {
		s.DesiredExampleRows = config.DefaultDesiredExampleRows
	}
	if s.TimeBudget <= 0 {
		s.TimeBudget = config.DefaultTimeBudget
	}
	if s.MinimumExampleInputRows <= 0 {
		s.MinimumExampleInputRows = config.DefaultMinimumExampleInputRows
	}
	if s.MaximumExampleInputRows <= 0 {
		s.MaximumExampleInputRows = config.DefaultMaximumExampleInputRows
	}
	if s.MaximumExampleInputRows < s.MinimumExampleInputRows {
		s.MaximumExampleInputRows = s.MinimumExampleInputRows
	}
	if s.Confidence <= 0 || s.Confidence >= 1 {
		s.Confidence = config.DefaultConfidence
	}
	if s.Window <= 0 {
		s.Window = config.DefaultWindow
	}
	return s
}

// Record is the performance history of one step.
type Record struct {
	// Executions counts example runs; EmptyResults those without rows.
	Executions   int
	EmptyResults int

	// Amplification holds output rows per input row of runs with output.
	Amplification *Moving
	// TimePerInputRow holds seconds per requested input row.
	TimePerInputRow *Moving
}

func newRecord(window int) *Record {
	return &Record{Amplification: NewMoving(window), TimePerInputRow: NewMoving(window)}
}

func (r *Record) add(inputRows, outputRows int, elapsed time.Duration) {
	r.Executions++
	if outputRows == 0 {
		r.EmptyResults++
	}
	if inputRows <= 0 {
		return
	}
	if outputRows > 0 {
		r.Amplification.Add(float64(outputRows) / float64(inputRows))
	}
	r.TimePerInputRow.Add(elapsed.Seconds() / float64(inputRows))
}

func (r *Record) clone() *Record {
	return &Record{
		Executions:      r.Executions,
		EmptyResults:    r.EmptyResults,
		Amplification:   r.Amplification.clone(),
		TimePerInputRow: r.TimePerInputRow.clone(),
	}
}

// InputRows picks the number of source rows for an example run of a step
// with the given history, so that the run most likely returns about
// DesiredExampleRows rows within budget. rec may be nil.
func (s Settings) InputRows(rec *Record, budget time.Duration) int {
	var rows float64
	if rec == nil || rec.Amplification.Len() == 0 {
		// Nothing known about the output: back off exponentially.
		execs := 0
		if rec != nil {
			execs = rec.Executions
		}
		rows = float64(s.DesiredExampleRows) * math.Pow(2, float64(min(execs, 62)))
	} else {
		amp := rec.Amplification.UpperBound(s.Confidence)
		if amp > 0 {
			rows = float64(s.DesiredExampleRows) / amp
		} else {
			rows = float64(s.MaximumExampleInputRows)
		}
	}
	if rec != nil && rec.TimePerInputRow.Len() > 0 {
		if perRow := rec.TimePerInputRow.UpperBound(s.Confidence); perRow > 0 && rows*perRow > budget.Seconds() {
			rows = budget.Seconds() / perRow
		}
	}
	switch {
	case math.IsNaN(rows) || rows < float64(s.MinimumExampleInputRows):
		return s.MinimumExampleInputRows
	case rows > float64(s.MaximumExampleInputRows):
		return s.MaximumExampleInputRows
	}
	return int(rows)
}

// Performance keeps the records of all steps. It is safe for concurrent use.
type Performance struct {
	window int

	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

// NewPerformance returns an empty history with the given window size.
func NewPerformance(window int) *Performance {
	return &Performance{window: window, records: map[uuid.UUID]*Record{}}
}

// Record returns a snapshot of the history of a step, or nil.
func (p *Performance) Record(id uuid.UUID) *Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.records[id]; ok {
		return r.clone()
	}
	return nil
}

// Add records one example run of a step.
func (p *Performance) Add(id uuid.UUID, inputRows, outputRows int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[id]
	if !ok {
		r = newRecord(p.window)
		p.records[id] = r
	}
	r.add(inputRows, outputRows, elapsed)
}

// Forget drops the history of a step, e.g. after it was edited.
func (p *Performance) Forget(id uuid.UUID) {
	p.mu.Lock()
	delete(p.records, id)
	p.mu.Unlock()
}
