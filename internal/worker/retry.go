package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/logging"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/metrics"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Terminal is the end state of one job.
type Terminal int

const (
	// Pending means no artifact was written; a re-run will retry the job.
	Pending Terminal = iota
	// Saved means an artifact with extracted records was written.
	Saved
	// SavedEmpty means the empty fallback artifact was written.
	SavedEmpty
)

func (t Terminal) String() string {
	switch t {
	case Saved:
		return metrics.JobSaved
	case SavedEmpty:
		return metrics.JobSavedEmpty
	default:
		return "pending"
	}
}

// RetryConfig bounds agent retries.
type RetryConfig struct {
	MaxRetries            int           `mapstructure:"max_retries"`
	RateLimitCooldown     time.Duration `mapstructure:"rate_limit_cooldown"`
	ProviderErrorCooldown time.Duration `mapstructure:"provider_error_cooldown"`
}

// Enricher stamps provenance onto extracted records.
type Enricher interface {
	Apply(key scrape.Key, artifact scrape.Artifact, usage scrape.Usage) scrape.Artifact
}

// JobResult summarizes how a job ended.
type JobResult struct {
	Terminal Terminal
	Attempts int
	Records  int
	// Err carries a filesystem fault, if any, even when the empty fallback
	// artifact was written.
	Err error
}

// Retrier runs the agent for one job until an artifact is written.
type Retrier struct {
	agent    scrape.Agent
	store    scrape.CheckpointStore
	enricher Enricher
	cfg      RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// NewRetrier applies defaults and returns a Retrier.
func NewRetrier(agent scrape.Agent, store scrape.CheckpointStore, enricher Enricher, cfg RetryConfig, logger *zap.Logger) *Retrier {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RateLimitCooldown < 0 {
		cfg.RateLimitCooldown = 0
	}
	if cfg.ProviderErrorCooldown < 0 {
		cfg.ProviderErrorCooldown = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		agent:    agent,
		store:    store,
		enricher: enricher,
		cfg:      cfg,
		sleep:    sleepCtx,
		logger:   logger.Named("retry"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run invokes the agent up to MaxRetries times and writes exactly one artifact
// unless ctx is canceled first.
func (r *Retrier) Run(ctx context.Context, job scrape.Job, inv scrape.Invocation) JobResult {
	key := job.Key()
	logger := r.logger.With(logging.JobFields(key)...)
	var (
		attempts int
		fault    error
	)

loop:
	for attempts < r.cfg.MaxRetries {
		if ctx.Err() != nil {
			break
		}
		attempts++
		out := r.agent.Run(ctx, inv)
		metrics.ObserveAttempt(out.Kind.String())
		attemptLog := logger.With(zap.Int("attempt", attempts), zap.String("outcome", out.Kind.String()))

		switch out.Kind {
		case scrape.OutcomeStructured, scrape.OutcomeText:
			artifact := out.Artifact
			if r.enricher != nil {
				artifact = r.enricher.Apply(key, artifact, out.Usage)
			}
			if err := r.store.Write(ctx, key, artifact); err != nil {
				attemptLog.Error("artifact write failed; falling back to empty artifact", zap.Error(err))
				fault = err
				break loop
			}
			attemptLog.Info("artifact saved", zap.Int("records", len(artifact.Products)))
			return JobResult{Terminal: Saved, Attempts: attempts, Records: len(artifact.Products)}

		case scrape.OutcomeParseFailure, scrape.OutcomeNoOutput:
			attemptLog.Warn("agent output unusable", zap.Error(out.Err), zap.Int("text_len", len(out.Text)))

		case scrape.OutcomeProviderError:
			cooldown := r.cfg.ProviderErrorCooldown
			if out.Provider == scrape.ProviderRateLimited {
				cooldown = r.cfg.RateLimitCooldown
			}
			attemptLog.Warn("provider error; cooling down",
				zap.String("class", out.Provider.String()),
				zap.Duration("cooldown", cooldown),
				zap.Error(out.Err),
			)
			if err := r.sleep(ctx, cooldown); err != nil {
				break loop
			}

		case scrape.OutcomeUnknownError:
			attemptLog.Error("unexpected agent failure; aborting retries", zap.Error(out.Err))
			break loop

		default:
			attemptLog.Error("unrecognized agent outcome; aborting retries")
			break loop
		}
	}

	if ctx.Err() != nil {
		logger.Warn("run canceled; job left pending", zap.Int("attempts", attempts))
		return JobResult{Terminal: Pending, Attempts: attempts, Err: fault}
	}
	if err := r.store.Write(ctx, key, scrape.EmptyArtifact()); err != nil {
		logger.Error("empty artifact write failed", zap.Error(err))
		return JobResult{Terminal: Pending, Attempts: attempts, Err: errors.Join(fault, err)}
	}
	logger.Info("saved empty artifact", zap.Int("attempts", attempts))
	if fault != nil {
		fault = fmt.Errorf("record artifact lost: %w", fault)
	}
	return JobResult{Terminal: SavedEmpty, Attempts: attempts, Err: fault}
}
