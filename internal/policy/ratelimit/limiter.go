// Package ratelimit spaces out the launch of browsing sessions.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/metrics"
)

// Config holds pacer configuration.
type Config struct {
	// Interval is the minimum spacing between two launches. Zero disables pacing.
	Interval time.Duration `mapstructure:"launch_interval"`
}

// Pacer releases at most one launch per interval. The first launch is immediate.
type Pacer struct {
	limiter *rate.Limiter
}

// New creates a Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next launch slot, respecting the context.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("launch pacer wait: %w", err)
	}
	// Only record delay if we actually waited.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveLaunchDelay(waited)
	}
	return nil
}
