// Package local archives appended reports under a directory tree.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/fsutil"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink"
)

// Config captures the archive root.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// Sink writes each report to BaseDir/<partitioned path>.
type Sink struct {
	baseDir string
	clock   scrape.Clock
}

var _ scrape.ReportSink = (*Sink)(nil)

// New creates the archive root if needed and checks that it is writable.
func New(cfg Config, clock scrape.Clock) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	probe, err := os.CreateTemp(cfg.BaseDir, ".writable_test")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Sink{baseDir: cfg.BaseDir, clock: clock}, nil
}

// Name implements scrape.ReportSink.
func (s *Sink) Name() string { return "local" }

// Append writes data and returns a file:// URI.
func (s *Sink) Append(_ context.Context, filename string, data []byte) (string, error) {
	if strings.ContainsAny(filename, `/\`) || filename == "" || filename == "." || filename == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", scrape.ErrSinkUpload, filename)
	}
	now := time.Now()
	if s.clock != nil {
		now = s.clock.Now()
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(sink.PartitionedPath("", filename, now)))
	if _, err := os.Stat(full); err == nil {
		return "", fmt.Errorf("%w: %s already exists", scrape.ErrSinkUpload, full)
	}
	if err := fsutil.WriteFileAtomic(full, data, 0o640); err != nil {
		return "", fmt.Errorf("%w: %w", scrape.ErrSinkUpload, err)
	}
	return "file://" + full, nil
}
