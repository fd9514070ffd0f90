package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/config"
	"conduit/internal/source/sqlite"
)

const ordersCSV = `id,customer,amount
1,ann,50
2,bob,150
3,ann,300
4,cid,120
`

func writeDocument(t *testing.T, mutate func(*config.Document)) string {
	t.Helper()
	dir := t.TempDir()
	orders := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(orders, []byte(ordersCSV), 0o644))

	doc := config.Document{
		Chains: []config.Chain{
			{ID: "orders", Steps: []config.Step{
				{Kind: config.KindCSV, Options: config.Options{"path": orders}},
				{Kind: config.KindFilter, Options: config.Options{"formula": "[@amount] > 100"}},
				{Kind: config.KindSort, Options: config.Options{"orders": []any{
					map[string]any{"formula": "[@amount]", "ascending": false, "numeric": true},
				}}},
			}},
		},
	}
	if mutate != nil {
		mutate(&doc)
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidate(t *testing.T) {
	path := writeDocument(t, nil)
	out, _, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (1 chains)")
}

func TestValidateReportsIssues(t *testing.T) {
	path := writeDocument(t, func(d *config.Document) {
		d.Chains[0].Steps = append(d.Chains[0].Steps, config.Step{Kind: "teleport"})
	})
	out, _, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, out, "teleport")

	_, _, err = execute(t, "preview", "-c", path, "orders")
	assert.ErrorContains(t, err, "invalid")
}

func TestPreview(t *testing.T) {
	path := writeDocument(t, nil)
	out, _, err := execute(t, "preview", "-c", path, "orders")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, out)
	assert.Equal(t, []string{"id", "customer", "amount"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"3", "ann", "300"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"4", "cid", "120"}, strings.Fields(lines[3]))
	assert.Contains(t, lines[4], "3 rows from 500 input rows")
}

func TestPreviewStepAndRows(t *testing.T) {
	path := writeDocument(t, nil)
	out, _, err := execute(t, "preview", "-c", path, "orders", "--step", "1", "--rows", "2", "--full")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, out)
	assert.Equal(t, []string{"1", "ann", "50"}, strings.Fields(lines[1]))
	assert.Equal(t, "... 2 more", lines[3])
	assert.Contains(t, lines[4], "4 rows in")

	_, _, err = execute(t, "preview", "-c", path, "orders", "--step", "9")
	assert.ErrorContains(t, err, "no step 9")
	_, _, err = execute(t, "preview", "-c", path, "shipments")
	assert.ErrorContains(t, err, `unknown chain "shipments"`)
}

func TestExplain(t *testing.T) {
	path := writeDocument(t, nil)
	out, _, err := execute(t, "explain", "-c", path, "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Read file")
	assert.Contains(t, out, "3. ")
}

func TestRunToCSV(t *testing.T) {
	path := writeDocument(t, nil)
	target := filepath.Join(t.TempDir(), "out.csv")
	_, _, err := execute(t, "run", "-c", path, "orders", "--out", target)
	require.NoError(t, err)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "id,customer,amount\n3,ann,300\n2,bob,150\n4,cid,120\n", string(b))
}

func TestRunToStdoutWithoutHeader(t *testing.T) {
	path := writeDocument(t, nil)
	out, _, err := execute(t, "run", "-c", path, "orders", "--no-header", "--separator", ";")
	require.NoError(t, err)
	assert.Equal(t, "3;ann;300\n2;bob;150\n4;cid;120\n", out)

	_, _, err = execute(t, "run", "-c", path, "orders", "--separator", ";;")
	assert.ErrorContains(t, err, "single character")
}

func TestRunToSQLite(t *testing.T) {
	path := writeDocument(t, nil)
	target := filepath.Join(t.TempDir(), "out.db")
	out, _, err := execute(t, "run", "-c", path, "orders", "--to", "sqlite", "--dsn", target, "--table", "big_orders", "--create")
	require.NoError(t, err)
	assert.Equal(t, "3 rows written\n", out)

	db, err := sql.Open(sqlite.DriverName, target)
	require.NoError(t, err)
	defer db.Close()
	var n, total int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(amount) FROM big_orders`).Scan(&n, &total))
	assert.Equal(t, 3, n)
	assert.Equal(t, 570, total)
}

func TestRunNeedsTable(t *testing.T) {
	path := writeDocument(t, nil)
	_, _, err := execute(t, "run", "-c", path, "orders", "--to", "mysql", "--dsn", "u:p@tcp(localhost)/db")
	assert.ErrorContains(t, err, "--table")
	_, _, err = execute(t, "run", "-c", path, "orders", "--to", "parquet", "--dsn", "x", "--table", "t")
	assert.ErrorContains(t, err, `unknown sink "parquet"`)
}

func TestKinds(t *testing.T) {
	out, _, err := execute(t, "kinds")
	require.NoError(t, err)
	for _, k := range []string{config.KindCSV, config.KindSQLite, config.KindPostgres} {
		assert.Contains(t, out, k)
	}
}

func TestBadLogLevel(t *testing.T) {
	path := writeDocument(t, nil)
	_, _, err := execute(t, "validate", "-c", path, "--log-level", "chatty")
	assert.ErrorContains(t, err, "chatty")
}
