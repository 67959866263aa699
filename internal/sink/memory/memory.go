// Package memory keeps appended reports in memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink"
)

// Sink stores every appended file under its partitioned path.
type Sink struct {
	mu     sync.RWMutex
	prefix string
	clock  scrape.Clock
	files  map[string][]byte
	order  []string
}

var _ scrape.ReportSink = (*Sink)(nil)

// New creates an empty Sink.
func New(prefix string, clock scrape.Clock) *Sink {
	return &Sink{prefix: prefix, clock: clock, files: make(map[string][]byte)}
}

// Name implements scrape.ReportSink.
func (s *Sink) Name() string { return "memory" }

// Append stores a copy of data. Appending twice at the same instant is an
// error, matching append-only stores.
func (s *Sink) Append(_ context.Context, filename string, data []byte) (string, error) {
	now := time.Now()
	if s.clock != nil {
		now = s.clock.Now()
	}
	path := sink.PartitionedPath(s.prefix, filename, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[path]; exists {
		return "", fmt.Errorf("%w: %s already exists", scrape.ErrSinkUpload, path)
	}
	s.files[path] = append([]byte(nil), data...)
	s.order = append(s.order, path)
	return "memory://" + path, nil
}

// Paths returns stored paths in append order.
func (s *Sink) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Get returns a copy of the stored file.
func (s *Sink) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
