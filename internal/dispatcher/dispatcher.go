// Package dispatcher fans scopes out to workers under a concurrency gate and
// a launch pacer.
package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/worker"
)

// Config bounds concurrent sessions.
type Config struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// ScopeRunner runs the pending jobs of one scope.
type ScopeRunner interface {
	Pending(ctx context.Context, scope scrape.Scope) ([]scrape.Job, error)
	RunScope(ctx context.Context, scope scrape.Scope) worker.ScopeReport
}

// Pacer spaces successive launches.
type Pacer interface {
	Wait(ctx context.Context) error
}

// RunSummary totals one Run call.
type RunSummary struct {
	ScopesLaunched int       `json:"scopes_launched"`
	ScopesSkipped  int       `json:"scopes_skipped"`
	JobsPending    int       `json:"jobs_pending"`
	JobsSaved      int       `json:"jobs_saved"`
	JobsSavedEmpty int       `json:"jobs_saved_empty"`
	JobsUnfinished int       `json:"jobs_unfinished"`
	SessionErrors  int       `json:"session_errors"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Running      bool       `json:"running"`
	ActiveScopes []string   `json:"active_scopes"`
	Summary      RunSummary `json:"summary"`
}

// Dispatcher launches one goroutine per scope with pending work.
type Dispatcher struct {
	runner ScopeRunner
	pacer  Pacer
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	active  map[string]struct{}
	summary RunSummary
}

// New creates a Dispatcher. MaxConcurrent below 1 is treated as 1.
func New(runner ScopeRunner, pacer Pacer, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner: runner,
		pacer:  pacer,
		cfg:    cfg,
		logger: logger.Named("dispatcher"),
		active: make(map[string]struct{}),
	}
}

// Run processes every scope and blocks until all launched workers finish.
// Job failures never surface as errors; an error means the run itself could
// not proceed (already running).
func (d *Dispatcher) Run(ctx context.Context, scopes []scrape.Scope) (RunSummary, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return RunSummary{}, fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.summary = RunSummary{StartedAt: time.Now().UTC()}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.summary.FinishedAt = time.Now().UTC()
		d.mu.Unlock()
	}()

	todo := d.pendingScopes(ctx, scopes)
	d.logger.Info("dispatch starting",
		zap.Int("scopes", len(scopes)),
		zap.Int("scopes_with_work", len(todo)),
		zap.Int("max_concurrent", d.cfg.MaxConcurrent),
	)

	gate := semaphore.NewWeighted(int64(d.cfg.MaxConcurrent))
	var wg sync.WaitGroup
	for _, scope := range todo {
		if err := gate.Acquire(ctx, 1); err != nil {
			d.logger.Warn("dispatch interrupted; remaining scopes stay pending", zap.Error(err))
			break
		}
		if d.pacer != nil {
			if err := d.pacer.Wait(ctx); err != nil {
				gate.Release(1)
				d.logger.Warn("dispatch interrupted; remaining scopes stay pending", zap.Error(err))
				break
			}
		}
		d.begin(scope.ID())
		wg.Add(1)
		go func(scope scrape.Scope) {
			defer wg.Done()
			defer gate.Release(1)
			report := d.runner.RunScope(ctx, scope)
			d.end(scope.ID(), report)
		}(scope)
	}
	wg.Wait()

	summary := d.Snapshot().Summary
	d.logger.Info("dispatch finished",
		zap.Int("scopes_launched", summary.ScopesLaunched),
		zap.Int("scopes_skipped", summary.ScopesSkipped),
		zap.Int("jobs_saved", summary.JobsSaved),
		zap.Int("jobs_saved_empty", summary.JobsSavedEmpty),
		zap.Int("jobs_unfinished", summary.JobsUnfinished),
	)
	return summary, nil
}

func (d *Dispatcher) pendingScopes(ctx context.Context, scopes []scrape.Scope) []scrape.Scope {
	todo := make([]scrape.Scope, 0, len(scopes))
	for _, scope := range scopes {
		pending, err := d.runner.Pending(ctx, scope)
		if err != nil {
			// Let the worker surface the error for this scope.
			d.logger.Warn("pending check failed", zap.String("scope", scope.ID()), zap.Error(err))
			todo = append(todo, scope)
			continue
		}
		d.mu.Lock()
		if len(pending) == 0 {
			d.summary.ScopesSkipped++
		} else {
			d.summary.JobsPending += len(pending)
		}
		d.mu.Unlock()
		if len(pending) > 0 {
			todo = append(todo, scope)
		}
	}
	return todo
}

func (d *Dispatcher) begin(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[id] = struct{}{}
	d.summary.ScopesLaunched++
}

func (d *Dispatcher) end(id string, report worker.ScopeReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, id)
	d.summary.JobsSaved += report.Saved
	d.summary.JobsSavedEmpty += report.SavedEmpty
	d.summary.JobsUnfinished += report.Unfinished
	if report.SessionErr != nil {
		d.summary.SessionErrors++
	}
}

// Snapshot returns the current status; safe to call while Run is active.
func (d *Dispatcher) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	active := make([]string, 0, len(d.active))
	for id := range d.active {
		active = append(active, id)
	}
	slices.Sort(active)
	return Status{Running: d.running, ActiveScopes: active, Summary: d.summary}
}
