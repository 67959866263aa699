package aggregate

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/checkpoint"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

func writeArtifact(t *testing.T, root, country, store, product, body string) {
	t.Helper()
	dir := filepath.Join(root, country, store)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, product+".json"), []byte(body), 0o644))
}

func newAggregator(t *testing.T, root string) *Aggregator {
	t.Helper()
	store, err := checkpoint.New(checkpoint.Config{BaseDir: root})
	require.NoError(t, err)
	return New(store, zap.NewNop())
}

func TestCollect_ShapeTolerance(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "France", "Carrefour", "mango", `{"products":[{"name":"mango","price_per_kg":4.5}]}`)
	writeArtifact(t, root, "France", "Leclerc", "mango", `[{"name":"mango","price_per_kg":3}, "junk", 7]`)
	writeArtifact(t, root, "Spain", "Dia", "mango", `{"name":"mango","bio":true}`)
	writeArtifact(t, root, "Spain", "Dia", "kiwi", `{"products":[]}`)
	writeArtifact(t, root, "Spain", "Dia", "broken", `{"products":[{"name":`)

	rows, err := newAggregator(t, root).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byStore := map[string]Row{}
	for _, r := range rows {
		byStore[r["supermarket_name"].(string)] = r
	}
	assert.Equal(t, "France", byStore["Carrefour"]["country"])
	assert.Equal(t, json.Number("4.5"), byStore["Carrefour"]["price_per_kg"])
	assert.Equal(t, json.Number("3"), byStore["Leclerc"]["price_per_kg"])
	assert.Equal(t, true, byStore["Dia"]["bio"])
	assert.Equal(t, "Spain", byStore["Dia"]["country"])
}

func TestCollect_NullNormalization(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "France", "Carrefour", "mango",
		`{"products":[{"name":"mango","estimation_notes":"","tags":[],"meta":{},"currency":null,"country":"","bio":false}]}`)

	rows, err := newAggregator(t, root).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	for _, k := range []string{"estimation_notes", "tags", "meta", "currency"} {
		v, ok := row[k]
		assert.True(t, ok, k)
		assert.Nil(t, v, k)
	}
	assert.Equal(t, "France", row["country"])
	assert.Equal(t, false, row["bio"])
}

func TestCollect_ExplicitLocationWins(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "France", "Carrefour", "mango", `{"products":[{"name":"mango","supermarket_name":"Carrefour Market"}]}`)

	rows, err := newAggregator(t, root).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Carrefour Market", rows[0]["supermarket_name"])
}

func TestCollect_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := newAggregator(t, filepath.Join(t.TempDir(), "nope")).Collect(context.Background())
	assert.ErrorIs(t, err, checkpoint.ErrRootMissing)
}

func TestColumns_PreferredThenLexical(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{"zeta": 1, "name": "mango", "country": "France", "alpha": nil},
		{"scrapped_date": "2025-03-07", "total_cost": nil, "beta": "x"},
	}
	assert.Equal(t,
		[]string{"scrapped_date", "country", "name", "total_cost", "alpha", "beta", "zeta"},
		Columns(rows))
}

func TestRenderCSV(t *testing.T) {
	t.Parallel()

	table := Table{
		Columns: []string{"name", "bio", "price_per_kg", "estimation_notes", "tags"},
		Rows: []Row{
			{"name": "mango, kent", "bio": false, "price_per_kg": json.Number("4.50"), "estimation_notes": nil, "tags": []any{"a"}},
			{"name": "avocado"},
		},
	}
	data, err := RenderCSV(table)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"name", "bio", "price_per_kg", "estimation_notes", "tags"},
		{"mango, kent", "false", "4.50", "", `["a"]`},
		{"avocado", "", "", "", ""},
	}, records)
}

func TestRenderXLSX(t *testing.T) {
	t.Parallel()

	table := Table{
		Columns: []string{"name", "price_per_kg", "bio"},
		Rows:    []Row{{"name": "mango", "price_per_kg": json.Number("4.5"), "bio": true}},
	}
	data, err := RenderXLSX(table)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"name", "price_per_kg", "bio"}, rows[0])
	assert.Equal(t, "mango", rows[1][0])
	assert.Equal(t, "4.5", rows[1][1])
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", f.Extension())
	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

type recordingSink struct {
	name  string
	err   error
	calls []string
	data  []byte
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Append(_ context.Context, filename string, data []byte) (string, error) {
	s.calls = append(s.calls, filename)
	s.data = data
	if s.err != nil {
		return "", s.err
	}
	return "scrapes/" + filename, nil
}

type recordingRowSink struct{ rows int }

func (s *recordingRowSink) Name() string { return "postgres" }

func (s *recordingRowSink) Upsert(_ context.Context, _ []string, rows []Row) (int, error) {
	s.rows += len(rows)
	return len(rows), nil
}

func TestReporter_WritesLocallyThenUploads(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "France", "Carrefour", "mango", `{"products":[{"name":"mango","bio":false}]}`)
	sink := &recordingSink{name: "foundry"}
	rowSink := &recordingRowSink{}
	local := filepath.Join(root, "last_run.csv")

	r, err := NewReporter(newAggregator(t, root), ReportConfig{LocalPath: local, Filename: "supermarket.csv"},
		[]scrape.ReportSink{sink}, []RowSink{rowSink}, nil)
	require.NoError(t, err)

	res, err := r.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.False(t, res.Breadcrumb)
	assert.Equal(t, []string{"supermarket.csv"}, sink.calls)
	assert.Equal(t, 1, rowSink.rows)
	assert.Equal(t, "scrapes/supermarket.csv", res.Uploaded["foundry"])

	onDisk, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, sink.data, onDisk)
	assert.Contains(t, string(onDisk), "country,supermarket_name,name,bio")
}

func TestReporter_ZeroRowsWritesBreadcrumb(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "France", "Carrefour", "mango", `{"products":[]}`)
	sink := &recordingSink{name: "foundry"}
	local := filepath.Join(root, "last_run.csv")

	r, err := NewReporter(newAggregator(t, root), ReportConfig{LocalPath: local}, []scrape.ReportSink{sink}, nil, nil)
	require.NoError(t, err)
	res, err := r.Report(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Breadcrumb)
	assert.Empty(t, sink.calls)

	onDisk, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "note\nno_rows_found\n", string(onDisk))
}

func TestReporter_SinkFailureKeepsLocalReport(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeArtifact(t, root, "France", "Carrefour", "mango", `{"products":[{"name":"mango"}]}`)
	failing := &recordingSink{name: "foundry", err: errors.New("403 forbidden")}
	healthy := &recordingSink{name: "gcs"}
	local := filepath.Join(root, "last_run.csv")

	r, err := NewReporter(newAggregator(t, root), ReportConfig{LocalPath: local},
		[]scrape.ReportSink{failing, healthy}, nil, nil)
	require.NoError(t, err)
	_, err = r.Report(context.Background())
	require.ErrorIs(t, err, scrape.ErrSinkUpload)
	assert.Len(t, healthy.calls, 1)
	assert.FileExists(t, local)
}

func TestNewReporter_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewReporter(nil, ReportConfig{}, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewReporter(nil, ReportConfig{LocalPath: "x", Format: "pdf"}, nil, nil, nil)
	assert.Error(t, err)
	r, err := NewReporter(nil, ReportConfig{LocalPath: "x", Format: "xlsx"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "supermarket.xlsx", r.cfg.Filename)
}
