// Package foundry appends report files to a Foundry dataset over HTTP.
package foundry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink"
)

// Config identifies the dataset and credential.
type Config struct {
	Host         string        `mapstructure:"host"`
	DatasetRID   string        `mapstructure:"dataset_rid"`
	Token        string        `mapstructure:"token"`
	FolderPrefix string        `mapstructure:"folder_prefix"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether all required settings are present.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.DatasetRID) != "" && strings.TrimSpace(c.Token) != ""
}

// Uploader posts bytes to files:upload. It never retries.
type Uploader struct {
	base   *url.URL
	cfg    Config
	client *http.Client
	clock  scrape.Clock
	logger *zap.Logger
}

var _ scrape.ReportSink = (*Uploader)(nil)

// New validates cfg. A nil client gets one with cfg.Timeout (default 120s).
func New(cfg Config, client *http.Client, clock scrape.Clock, logger *zap.Logger) (*Uploader, error) {
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	cfg.DatasetRID = strings.TrimSpace(cfg.DatasetRID)
	cfg.Token = strings.TrimSpace(cfg.Token)
	if !cfg.Enabled() {
		return nil, fmt.Errorf("foundry host, dataset rid and token are required")
	}
	if cfg.FolderPrefix == "" {
		cfg.FolderPrefix = "scrapes"
	}
	cfg.FolderPrefix = strings.Trim(cfg.FolderPrefix, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	base, err := baseURL(cfg.Host)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{base: base, cfg: cfg, client: client, clock: clock, logger: logger.Named("foundry")}, nil
}

// baseURL accepts bare hosts as well as URLs with a scheme.
func baseURL(host string) (*url.URL, error) {
	switch {
	case strings.HasPrefix(host, "http:/") && !strings.HasPrefix(host, "http://"):
		host = "http://" + strings.TrimPrefix(host, "http:/")
	case strings.HasPrefix(host, "https:/") && !strings.HasPrefix(host, "https://"):
		host = "https://" + strings.TrimPrefix(host, "https:/")
	case !strings.Contains(host, "://"):
		host = "https://" + strings.TrimLeft(host, "/")
	}
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid foundry host %q", host)
	}
	return u, nil
}

// Name implements scrape.ReportSink.
func (u *Uploader) Name() string { return "foundry" }

// DatasetPath returns the partitioned path for filename at the current time.
func (u *Uploader) DatasetPath(filename string) string {
	now := time.Now()
	if u.clock != nil {
		now = u.clock.Now()
	}
	return sink.PartitionedPath(u.cfg.FolderPrefix, filename, now)
}

// Append uploads data under a new partitioned path and returns that path.
func (u *Uploader) Append(ctx context.Context, filename string, data []byte) (string, error) {
	path := u.DatasetPath(filename)
	endpoint := u.base.JoinPath("api", "v1", "datasets", u.cfg.DatasetRID, "files:upload")
	q := endpoint.Query()
	q.Set("filePath", path)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: post %s: %w", scrape.ErrSinkUpload, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return "", fmt.Errorf("%w: foundry upload failed %d: %s", scrape.ErrSinkUpload, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	u.logger.Info("uploaded to foundry", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Int("bytes", len(data)))
	return path, nil
}
