package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/config"
	"conduit/internal/data"
	"conduit/internal/job"
	"conduit/internal/source"
	"conduit/internal/stream"
	"conduit/internal/value"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ints(ns ...int64) value.Tuple {
	t := make(value.Tuple, len(ns))
	for i, n := range ns {
		t[i] = value.Int(n)
	}
	return t
}

func readAll(t *testing.T, opt Options) *value.Raster {
	t.Helper()
	d, err := New(context.Background(), opt)
	require.NoError(t, err)
	r, err := d.Raster(job.Background())
	require.NoError(t, err)
	return r
}

func TestHeaderAndIntegers(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a;b;c\n1;2;3\n4;5;6\n7;8;9\n")
	r := readAll(t, Options{Path: path, Separator: ';', HasHeader: true, Locale: value.DefaultLocale()})

	assert.Equal(t, value.NewColumns("a", "b", "c"), r.Columns)
	assert.Equal(t, []value.Tuple{ints(1, 2, 3), ints(4, 5, 6), ints(7, 8, 9)}, r.Rows)
}

func TestShortRowsArePadded(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a;b;c\n1;2\n1;2;3;4\n")
	r := readAll(t, Options{Path: path, Separator: ';', HasHeader: true, Locale: value.DefaultLocale()})

	require.Equal(t, 2, r.RowCount())
	assert.Equal(t, value.Tuple{value.Int(1), value.Int(2), value.Empty()}, r.Rows[0])
	assert.Equal(t, ints(1, 2, 3), r.Rows[1])
}

func TestWithoutHeader(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "x,1\ny,2\n")
	r := readAll(t, Options{Path: path, Locale: value.DefaultLocale()})

	assert.Equal(t, value.NewColumns("column_1", "column_2"), r.Columns)
	assert.Equal(t, []value.Tuple{
		{value.String("x"), value.Int(1)},
		{value.String("y"), value.Int(2)},
	}, r.Rows)
}

func TestByteOrderMarkAndHeaderCleanup(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "\ufeff id , ,id\n1,2,3\n")
	r := readAll(t, Options{Path: path, HasHeader: true, Locale: value.DefaultLocale()})

	assert.Equal(t, value.NewColumns("id", "column_2", "id_1"), r.Columns)
}

func TestCharset(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "name\ncaf\xe9\n")
	r := readAll(t, Options{Path: path, HasHeader: true, Charset: "windows-1252", Locale: value.DefaultLocale()})

	require.Equal(t, 1, r.RowCount())
	assert.Equal(t, value.String("café"), r.Rows[0][0])

	_, err := New(context.Background(), Options{Path: path, Charset: "klingon"})
	assert.Error(t, err)
}

func TestLocaleAndTrim(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "n;s\n 1,5 ; x \n1.000;y\n")
	opt, err := OptionsFrom(path, config.Options{"locale": "nl-NL", "trim": true}, value.Locale{})
	require.NoError(t, err)
	assert.Equal(t, ';', opt.separator())

	r := readAll(t, opt)
	assert.Equal(t, []value.Tuple{
		{value.Double(1.5), value.String("x")},
		{value.Int(1000), value.String("y")},
	}, r.Rows)

	_, err = OptionsFrom(path, config.Options{"locale": "not a tag!"}, value.Locale{})
	assert.Error(t, err)
}

func TestCloneReopensFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a\n1\n2\n")
	s, err := NewStream(context.Background(), Options{Path: path, HasHeader: true, Locale: value.DefaultLocale()})
	require.NoError(t, err)

	j := job.Background()
	first, err := stream.Collect(j, s, -1)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("a\n1\n2\n3\n"), 0o644))
	second, err := stream.Collect(j, s.Clone(), -1)
	require.NoError(t, err)

	assert.Equal(t, 2, first.RowCount())
	assert.Equal(t, 3, second.RowCount())
}

func TestMissingFileIsSourceError(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Options{Path: filepath.Join(t.TempDir(), "nope.csv")})
	var serr *data.SourceError
	require.True(t, errors.As(err, &serr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDeletedFileFailsOnFetch(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a\n1\n")
	s, err := NewStream(context.Background(), Options{Path: path, HasHeader: true, Locale: value.DefaultLocale()})
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, _, err = s.Fetch(job.Background())
	var serr *stream.SourceError
	assert.True(t, errors.As(err, &serr))
}

func TestRegisteredSource(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a|b\n1|2\n")
	src, err := source.Open(context.Background(), source.Config{
		Kind:    config.KindCSV,
		DSN:     path,
		Options: config.Options{"separator": ","},
	})
	require.NoError(t, err)
	defer src.Close()

	d, err := src.Data(context.Background(), config.Options{"separator": "|"})
	require.NoError(t, err)
	cols, err := d.Columns(job.Background())
	require.NoError(t, err)
	assert.Equal(t, value.NewColumns("a", "b"), cols)
}
