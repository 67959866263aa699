// Package checkpoint persists one JSON artifact per (country, store, product)
// on the local filesystem. Artifact existence marks a job complete.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/fsutil"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// ErrRootMissing is returned by Walk when the output root does not exist.
var ErrRootMissing = errors.New("checkpoint root does not exist")

// Config captures the parameters for the checkpoint store.
type Config struct {
	// BaseDir is the output root under which artifacts are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store reads and writes job artifacts.
type Store struct {
	baseDir string
}

var _ scrape.CheckpointStore = (*Store)(nil)

// New creates a Store rooted at cfg.BaseDir. The directory is created lazily
// on the first write.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the output root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path returns base/country/store/product.json for the key.
func (s *Store) Path(key scrape.Key) string {
	return filepath.Join(s.baseDir, Segment(key.Country), Segment(key.Store), Segment(key.Product)+".json")
}

// Segment neutralizes separators and parent references in a path component.
// Names that map to the same segment share an artifact.
func Segment(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_", "\x00", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return strings.Repeat("_", max(len(s), 1))
	}
	return s
}

// Exists reports whether the artifact for key is present.
func (s *Store) Exists(_ context.Context, key scrape.Key) (bool, error) {
	info, err := os.Stat(s.Path(key))
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat artifact %s: %w", scrape.ErrFilesystem, key, err)
}

// Write serializes the artifact and atomically replaces any previous one.
func (s *Store) Write(ctx context.Context, key scrape.Key, artifact scrape.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := artifact.Encode()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.Path(key), payload, 0o644); err != nil {
		return fmt.Errorf("%w: write artifact %s: %w", scrape.ErrFilesystem, key, err)
	}
	return nil
}

// Pending filters jobs down to those without an artifact.
func (s *Store) Pending(ctx context.Context, jobs []scrape.Job) ([]scrape.Job, error) {
	return Pending(ctx, s, jobs)
}

// Pending filters jobs down to those whose artifact is absent in store.
func Pending(ctx context.Context, store scrape.CheckpointStore, jobs []scrape.Job) ([]scrape.Job, error) {
	pending := make([]scrape.Job, 0, len(jobs))
	for _, j := range jobs {
		done, err := store.Exists(ctx, j.Key())
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, j)
		}
	}
	return pending, nil
}

// Entry describes one artifact found by Walk.
type Entry struct {
	Path    string
	Country string
	Store   string
	Product string
}

// Walk calls fn for every *.json artifact under the root, in lexical order.
// Country and store come from the two directories above the file when present.
func (s *Store) Walk(ctx context.Context, fn func(Entry) error) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootMissing, s.baseDir)
		}
		return fmt.Errorf("%w: stat root: %w", scrape.ErrFilesystem, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootMissing, s.baseDir)
	}

	return filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" || fsutil.IsTemp(path) {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		entry := Entry{
			Path:    path,
			Product: strings.TrimSuffix(parts[len(parts)-1], ".json"),
		}
		if len(parts) >= 3 {
			entry.Country = parts[len(parts)-3]
		}
		if len(parts) >= 2 {
			entry.Store = parts[len(parts)-2]
		}
		return fn(entry)
	})
}
