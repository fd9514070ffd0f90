package stream

import "fmt"

// SourceError is an I/O or connection failure of an external source. Source
// names the origin (file path, table, URL) for display.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
