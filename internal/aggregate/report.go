package aggregate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/fsutil"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/metrics"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// ReportConfig controls where the report lands.
type ReportConfig struct {
	// LocalPath is the report written next to the artifacts, e.g. output/last_run.csv.
	LocalPath string `mapstructure:"local_path"`
	// Filename is the name used when appending to sinks.
	Filename string `mapstructure:"filename"`
	Format   string `mapstructure:"format"`
}

// RowSink stores rows in a queryable store.
type RowSink interface {
	Name() string
	Upsert(ctx context.Context, columns []string, rows []Row) (int, error)
}

// Result describes a finished report.
type Result struct {
	Rows       int
	Columns    []string
	LocalPath  string
	Breadcrumb bool
	// Uploaded maps sink name to the path or count it reported.
	Uploaded map[string]string
}

// Reporter renders the aggregate table and forwards it to sinks.
type Reporter struct {
	agg      *Aggregator
	cfg      ReportConfig
	format   Format
	sinks    []scrape.ReportSink
	rowSinks []RowSink
	logger   *zap.Logger
}

// NewReporter validates cfg.
func NewReporter(agg *Aggregator, cfg ReportConfig, sinks []scrape.ReportSink, rowSinks []RowSink, logger *zap.Logger) (*Reporter, error) {
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("report local path is required")
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Filename == "" {
		cfg.Filename = "supermarket" + format.Extension()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		agg:      agg,
		cfg:      cfg,
		format:   format,
		sinks:    sinks,
		rowSinks: rowSinks,
		logger:   logger.Named("report"),
	}, nil
}

// Report writes the local report, then forwards it. With zero rows a
// breadcrumb is written locally and sinks are skipped. Sink failures are
// returned after every sink has been tried; the local report is kept.
func (r *Reporter) Report(ctx context.Context) (Result, error) {
	table, err := r.agg.Table(ctx)
	if err != nil {
		return Result{}, err
	}
	metrics.SetReportRows(len(table.Rows))

	res := Result{Rows: len(table.Rows), Columns: table.Columns, LocalPath: r.cfg.LocalPath, Uploaded: map[string]string{}}
	if len(table.Rows) == 0 {
		res.Breadcrumb = true
		data, err := RenderCSV(Breadcrumb())
		if err != nil {
			return res, err
		}
		if err := fsutil.WriteFileAtomic(r.cfg.LocalPath, data, 0o644); err != nil {
			return res, fmt.Errorf("%w: write breadcrumb: %w", scrape.ErrFilesystem, err)
		}
		r.logger.Info("no rows found; wrote breadcrumb and skipped upload", zap.String("path", r.cfg.LocalPath))
		return res, nil
	}

	data, err := Render(table, r.format)
	if err != nil {
		return res, err
	}
	if err := fsutil.WriteFileAtomic(r.cfg.LocalPath, data, 0o644); err != nil {
		return res, fmt.Errorf("%w: write report: %w", scrape.ErrFilesystem, err)
	}
	r.logger.Info("wrote local report",
		zap.String("path", r.cfg.LocalPath),
		zap.Int("rows", res.Rows),
		zap.Int("columns", len(res.Columns)),
	)

	var errs []error
	for _, sink := range r.sinks {
		path, err := sink.Append(ctx, r.cfg.Filename, data)
		metrics.ObserveSinkUpload(sink.Name(), err)
		if err != nil {
			r.logger.Error("report upload failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: %s: %w", scrape.ErrSinkUpload, sink.Name(), err))
			continue
		}
		res.Uploaded[sink.Name()] = path
		r.logger.Info("report uploaded", zap.String("sink", sink.Name()), zap.String("path", path))
	}
	for _, sink := range r.rowSinks {
		n, err := sink.Upsert(ctx, table.Columns, table.Rows)
		metrics.ObserveSinkUpload(sink.Name(), err)
		if err != nil {
			r.logger.Error("row sink failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: %s: %w", scrape.ErrSinkUpload, sink.Name(), err))
			continue
		}
		res.Uploaded[sink.Name()] = fmt.Sprintf("%d rows", n)
	}
	return res, errors.Join(errs...)
}
