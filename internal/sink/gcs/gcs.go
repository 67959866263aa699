// Package gcs appends report files to a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Sink writes each report as a new object under a partitioned name.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	clock  scrape.Clock
}

var _ scrape.ReportSink = (*Sink)(nil)

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config, clock scrape.Clock) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, clock: clock}, nil
}

// Name implements scrape.ReportSink.
func (s *Sink) Name() string { return "gcs" }

// Append uploads data and returns its gs:// URI.
func (s *Sink) Append(ctx context.Context, filename string, data []byte) (string, error) {
	now := time.Now()
	if s.clock != nil {
		now = s.clock.Now()
	}
	object := sink.PartitionedPath(s.prefix, filename, now)

	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType(filename)
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("%w: copy object: %w (close writer: %v)", scrape.ErrSinkUpload, err, closeErr)
		}
		return "", fmt.Errorf("%w: copy object: %w", scrape.ErrSinkUpload, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: close writer: %w", scrape.ErrSinkUpload, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".csv"):
		return "text/csv"
	case strings.HasSuffix(filename, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
