// Package aggregate flattens job artifacts into one report table.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/checkpoint"
)

// PreferredColumns lead the report header, in this order, when present.
var PreferredColumns = []string{
	"scrapped_date", "country", "supermarket_name", "name", "subtype",
	"website_product_name", "bio",
	"price_per_kg", "price_per_unit", "currency",
	"original_price_info", "estimation_notes",
	"model_used", "tokens_used", "total_cost",
}

// Row is one flattened record. A nil value is the canonical null.
type Row map[string]any

// Table is a set of rows with a fixed column order.
type Table struct {
	Columns []string
	Rows    []Row
}

// Walker enumerates artifacts.
type Walker interface {
	Walk(ctx context.Context, fn func(checkpoint.Entry) error) error
}

// Aggregator reads every artifact under a checkpoint root.
type Aggregator struct {
	walker Walker
	logger *zap.Logger
}

// New creates an Aggregator.
func New(walker Walker, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{walker: walker, logger: logger.Named("aggregate")}
}

// Collect returns the rows of every readable artifact. Unreadable artifacts
// are logged and skipped; only a missing root is an error.
func (a *Aggregator) Collect(ctx context.Context) ([]Row, error) {
	var rows []Row
	skipped := 0
	err := a.walker.Walk(ctx, func(e checkpoint.Entry) error {
		records, err := readArtifact(e.Path)
		if err != nil {
			skipped++
			a.logger.Warn("skipping unreadable artifact", zap.String("path", e.Path), zap.Error(err))
			return nil
		}
		for _, rec := range records {
			row := normalize(rec)
			inject(row, "country", e.Country)
			inject(row, "supermarket_name", e.Store)
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk artifacts: %w", err)
	}
	a.logger.Info("artifacts collected", zap.Int("rows", len(rows)), zap.Int("skipped", skipped))
	return rows, nil
}

// Table collects rows and orders their columns.
func (a *Aggregator) Table(ctx context.Context) (Table, error) {
	rows, err := a.Collect(ctx)
	if err != nil {
		return Table{}, err
	}
	return Table{Columns: Columns(rows), Rows: rows}, nil
}

func readArtifact(path string) ([]map[string]any, error) {
	// #nosec G304 -- path comes from walking the checkpoint root.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case map[string]any:
		if list, ok := v["products"].([]any); ok {
			items = list
		} else {
			items = []any{v}
		}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("unexpected top-level %T", doc)
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// normalize copies rec, replacing empty strings, lists and objects with nil.
func normalize(rec map[string]any) Row {
	row := make(Row, len(rec))
	for k, v := range rec {
		if isEmpty(v) {
			row[k] = nil
			continue
		}
		row[k] = v
	}
	return row
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// inject fills a missing or null field from the artifact's location.
func inject(row Row, key, value string) {
	if value == "" {
		return
	}
	if current, ok := row[key]; ok && current != nil {
		return
	}
	row[key] = value
}

// Columns returns the union of row keys: preferred columns first, then the
// rest in lexical order.
func Columns(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for _, c := range PreferredColumns {
		if _, ok := seen[c]; ok {
			cols = append(cols, c)
			delete(seen, c)
		}
	}
	extras := make([]string, 0, len(seen))
	for k := range seen {
		extras = append(extras, k)
	}
	slices.Sort(extras)
	return append(cols, extras...)
}

// Breadcrumb is the single-cell table written when there are no rows.
func Breadcrumb() Table {
	return Table{Columns: []string{"note"}, Rows: []Row{{"note": "no_rows_found"}}}
}
