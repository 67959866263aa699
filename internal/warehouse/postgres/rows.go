// Package postgres stores aggregated report rows in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/aggregate"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	CreateTable     bool          `mapstructure:"create_table"`
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// columns maps fixed table columns to report fields, in insert order.
var columns = []struct {
	column string
	field  string
	kind   byte // t=text, b=bool, f=float, i=int, d=date
}{
	{"id", "_id", 't'},
	{"scrapped_date", "scrapped_date", 'd'},
	{"country", "country", 't'},
	{"supermarket_name", "supermarket_name", 't'},
	{"name", "name", 't'},
	{"subtype", "subtype", 't'},
	{"website_product_name", "website_product_name", 't'},
	{"bio", "bio", 'b'},
	{"price_per_kg", "price_per_kg", 'f'},
	{"price_per_unit", "price_per_unit", 'f'},
	{"currency", "currency", 't'},
	{"original_price_info", "original_price_info", 't'},
	{"estimation_notes", "estimation_notes", 't'},
	{"model_used", "model_used", 't'},
	{"tokens_used", "tokens_used", 'i'},
	{"total_cost", "total_cost", 'f'},
}

// RowStore inserts rows keyed by their natural id; existing ids are kept.
type RowStore struct {
	pool   Pool
	table  string
	logger *zap.Logger
}

var _ aggregate.RowSink = (*RowStore)(nil)

// New connects a pool and optionally creates the table.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*RowStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("warehouse.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool builds a store on an existing pool.
func NewWithPool(pool Pool, table string, logger *zap.Logger) (*RowStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "price_observations"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RowStore{pool: pool, table: table, logger: logger.Named("warehouse")}, nil
}

// Close releases the pool.
func (s *RowStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Name implements aggregate.RowSink.
func (s *RowStore) Name() string { return "postgres" }

// EnsureTable creates the table when missing.
func (s *RowStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	scrapped_date DATE,
	country TEXT NOT NULL,
	supermarket_name TEXT NOT NULL,
	name TEXT NOT NULL,
	subtype TEXT,
	website_product_name TEXT,
	bio BOOLEAN,
	price_per_kg DOUBLE PRECISION,
	price_per_unit DOUBLE PRECISION,
	currency TEXT,
	original_price_info TEXT,
	estimation_notes TEXT,
	model_used TEXT,
	tokens_used BIGINT,
	total_cost DOUBLE PRECISION,
	extra JSONB NOT NULL DEFAULT '{}'::jsonb,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *RowStore) insertSQL() string {
	query := "INSERT INTO " + s.table + " ("
	values := ""
	for i, c := range columns {
		query += c.column + ", "
		values += "$" + strconv.Itoa(i+1) + ", "
	}
	query += "extra) VALUES (" + values + "$" + strconv.Itoa(len(columns)+1) + ") ON CONFLICT (id) DO NOTHING"
	return query
}

// Upsert inserts rows in one transaction and returns how many were new. Rows
// without an id are skipped.
func (s *RowStore) Upsert(ctx context.Context, _ []string, rows []aggregate.Row) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	query := s.insertSQL()
	inserted, skipped := 0, 0
	for _, row := range rows {
		args, err := rowArgs(row)
		if err != nil {
			skipped++
			s.logger.Warn("skipping row", zap.Error(err))
			continue
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert row %v: %w", row["_id"], err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.logger.Info("rows stored", zap.Int("inserted", inserted), zap.Int("skipped", skipped), zap.Int("total", len(rows)))
	return inserted, nil
}

func rowArgs(row aggregate.Row) ([]any, error) {
	id, _ := row["_id"].(string)
	if id == "" {
		return nil, fmt.Errorf("row has no _id")
	}
	args := make([]any, 0, len(columns)+1)
	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c.field] = struct{}{}
		v, err := convert(row[c.field], c.kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.field, err)
		}
		args = append(args, v)
	}
	extra := make(map[string]any)
	for k, v := range row {
		if _, ok := known[k]; ok || v == nil {
			continue
		}
		extra[k] = v
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra: %w", err)
	}
	return append(args, raw), nil
}

func convert(v any, kind byte) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case 'b':
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("not a boolean: %v", v)
		}
		return b, nil
	case 'f':
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("not a number: %v", v)
		}
		return n.Float64()
	case 'i':
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("not a number: %v", v)
		}
		return n.Int64()
	case 'd':
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("not a date: %v", v)
		}
		return time.Parse(time.DateOnly, s)
	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case json.Number:
			return t.String(), nil
		default:
			raw, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			return string(raw), nil
		}
	}
}
