// Package csv reads delimited text files as streams. Files are never
// buffered whole: every stream (and every clone) reopens the file and parses
// it record by record.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log/level"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/job"
	"conduit/internal/stream"
	"conduit/internal/value"
)

// Options configures how a file is parsed.
type Options struct {
	Path string
	// Separator is the field delimiter; zero uses the locale's separator.
	Separator rune
	// HasHeader takes column names from the first record. Without a header
	// columns are named column_1, column_2, ...
	HasHeader bool
	// Charset names the file encoding (e.g. "windows-1252"); empty means
	// UTF-8. A byte order mark always takes precedence.
	Charset string
	// Trim removes surrounding white space from every field.
	Trim bool
	// Locale infers numbers from text.
	Locale value.Locale
}

// OptionsFrom reads step options: separator, has_header, charset, trim and
// locale (a BCP 47 tag overriding def).
func OptionsFrom(path string, o config.Options, def value.Locale) (Options, error) {
	loc := def
	if tag := o.String("locale", ""); tag != "" {
		l, err := value.LocaleFor(tag)
		if err != nil {
			return Options{}, fmt.Errorf("locale %q: %w", tag, err)
		}
		loc = l
	}
	if loc.DecimalSeparator == "" {
		loc = value.DefaultLocale()
	}
	return Options{
		Path:      path,
		Separator: o.Rune("separator", 0),
		HasHeader: o.Bool("has_header", true),
		Charset:   o.String("charset", ""),
		Trim:      o.Bool("trim", false),
		Locale:    loc,
	}, nil
}

func (o Options) separator() rune {
	switch {
	case o.Separator != 0:
		return o.Separator
	case o.Locale.CSVSeparator != 0:
		return o.Locale.CSVSeparator
	}
	return ','
}

// decoder returns the transformer applied to raw file bytes.
func (o Options) decoder() (transform.Transformer, error) {
	if o.Charset != "" && !strings.EqualFold(o.Charset, "utf-8") && !strings.EqualFold(o.Charset, "utf8") {
		enc, err := htmlindex.Get(o.Charset)
		if err != nil {
			return nil, fmt.Errorf("charset %q: %w", o.Charset, err)
		}
		return unicode.BOMOverride(enc.NewDecoder()), nil
	}
	return unicode.BOMOverride(transform.Nop), nil
}

// reader is an open file positioned after the header, if any.
type reader struct {
	f   *os.File
	r   *csv.Reader
	opt Options
	// first is a record read ahead to size a header-less schema.
	first []string
}

// openFile mirrors a context-aware local open: a cancelled context wins over
// touching the filesystem.
func openFile(ctx context.Context, path string) (*os.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func open(ctx context.Context, opt Options) (*reader, value.Columns, error) {
	dec, err := opt.decoder()
	if err != nil {
		return nil, nil, err
	}
	f, err := openFile(ctx, opt.Path)
	if err != nil {
		return nil, nil, err
	}
	cr := csv.NewReader(transform.NewReader(f, dec))
	cr.Comma = opt.separator()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rd := &reader{f: f, r: cr, opt: opt}
	head, err := cr.Read()
	switch {
	case errors.Is(err, io.EOF):
		return rd, nil, nil
	case err != nil:
		f.Close()
		return nil, nil, fmt.Errorf("read %s: %w", opt.Path, err)
	}
	if opt.HasHeader {
		return rd, headerColumns(head), nil
	}
	rd.first = head
	return rd, value.Uniqued(make([]string, len(head))), nil
}

// headerColumns normalizes header cells to NFC and renames empty or duplicate
// names so the schema is valid.
func headerColumns(head []string) value.Columns {
	names := make([]string, len(head))
	for i, h := range head {
		names[i] = norm.NFC.String(strings.TrimSpace(h))
	}
	return value.Uniqued(names)
}

func (rd *reader) tuple(rec []string, width int) value.Tuple {
	t := make(value.Tuple, width)
	for i := range t {
		if i >= len(rec) {
			t[i] = value.Empty()
			continue
		}
		cell := rec[i]
		if rd.opt.Trim {
			cell = strings.TrimSpace(cell)
		}
		t[i] = rd.opt.Locale.Parse(cell)
	}
	return t
}

type iterator struct {
	rd    *reader
	width int
	line  int
}

func (it *iterator) Next(j *job.Job) (value.Tuple, bool, error) {
	if rec := it.rd.first; rec != nil {
		it.rd.first = nil
		it.line++
		return it.rd.tuple(rec, it.width), true, nil
	}
	rec, err := it.rd.r.Read()
	it.line++
	switch {
	case errors.Is(err, io.EOF):
		return nil, false, nil
	case err != nil:
		var perr *csv.ParseError
		if !errors.As(err, &perr) {
			return nil, false, &stream.SourceError{Source: it.rd.opt.Path, Err: err}
		}
		level.Debug(j.Logger()).Log("msg", "malformed csv record", "path", it.rd.opt.Path, "line", it.line, "err", err)
		row := make(value.Tuple, it.width)
		for i := range row {
			row[i] = value.Invalid()
		}
		return row, true, nil
	}
	return it.rd.tuple(rec, it.width), true, nil
}

func (it *iterator) Close() error { return it.rd.f.Close() }

// NewStream reads the schema of the file and returns a stream over its
// records. Short records are padded with Empty and long records are
// truncated to the schema.
func NewStream(ctx context.Context, opt Options) (stream.Stream, error) {
	rd, cols, err := open(ctx, opt)
	if err != nil {
		return nil, &stream.SourceError{Source: opt.Path, Err: err}
	}
	rd.f.Close()
	width := len(cols)
	return stream.NewSequenceStream(cols, func(j *job.Job) (stream.Iterator, error) {
		rd, _, err := open(j.Context(), opt)
		if err != nil {
			return nil, &stream.SourceError{Source: opt.Path, Err: err}
		}
		return &iterator{rd: rd, width: width}, nil
	}), nil
}

// New returns a façade over the file.
func New(ctx context.Context, opt Options) (data.Data, error) {
	s, err := NewStream(ctx, opt)
	if err != nil {
		return nil, err
	}
	return data.NewStreamData(s), nil
}
