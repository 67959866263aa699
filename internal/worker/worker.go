// Package worker drives the jobs of one scope through a shared browsing session.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/checkpoint"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/logging"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/metrics"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/network"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/policy/navigation"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

var tracer = otel.Tracer("github.com/ahgcrowdfarming/agentic-browsing/internal/worker")

// Config controls Worker behavior.
type Config struct {
	// ProfileRoot holds one persistent browser profile per scope. Empty means
	// a throwaway profile per session.
	ProfileRoot string `mapstructure:"profile_root"`
	// ArtifactRoot is where the agent may keep its own run artifacts.
	ArtifactRoot  string            `mapstructure:"artifact_root"`
	Headless      bool              `mapstructure:"headless"`
	InterJobPause time.Duration     `mapstructure:"inter_job_pause"`
	MaxSteps      int               `mapstructure:"max_steps"`
	Model         string            `mapstructure:"model"`
	Topic         string            `mapstructure:"topic"`
	Navigation    navigation.Config `mapstructure:"navigation"`
}

// Prompter renders agent tasks.
type Prompter interface {
	Build(job scrape.Job, first bool) (string, error)
}

// NetworkStrategy resolves per-country browser networking.
type NetworkStrategy interface {
	For(country string) network.Settings
}

// ScopeReport summarizes one RunScope call.
type ScopeReport struct {
	Scope      string
	Pending    int
	Saved      int
	SavedEmpty int
	// Unfinished counts jobs still without an artifact afterwards.
	Unfinished int
	SessionErr error
}

// Worker owns the session lifecycle of a scope.
type Worker struct {
	store     scrape.CheckpointStore
	sessions  scrape.SessionFactory
	retrier   *Retrier
	prompts   Prompter
	network   NetworkStrategy
	publisher scrape.Publisher
	ids       scrape.IDGenerator
	clock     scrape.Clock
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// New constructs a Worker. publisher and network may be nil.
func New(
	store scrape.CheckpointStore,
	sessions scrape.SessionFactory,
	retrier *Retrier,
	prompts Prompter,
	network NetworkStrategy,
	publisher scrape.Publisher,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     store,
		sessions:  sessions,
		retrier:   retrier,
		prompts:   prompts,
		network:   network,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		sleep:     sleepCtx,
		logger:    logger.Named("worker"),
	}
}

// Pending returns the scope's jobs that have no artifact yet.
func (w *Worker) Pending(ctx context.Context, scope scrape.Scope) ([]scrape.Job, error) {
	return checkpoint.Pending(ctx, w.store, scope.Jobs)
}

// RunScope processes every pending job of scope in one session. Job failures
// are contained; the report says how each job ended.
func (w *Worker) RunScope(ctx context.Context, scope scrape.Scope) ScopeReport {
	ctx, span := tracer.Start(ctx, "worker.RunScope", trace.WithAttributes(
		attribute.String("scope", scope.ID()),
		attribute.Int("jobs", len(scope.Jobs)),
	))
	defer span.End()

	logger := w.logger.With(
		zap.String("scope", scope.ID()),
		zap.String("country", scope.Country),
		zap.String("store", scope.Store),
	)
	report := ScopeReport{Scope: scope.ID()}

	pending, err := w.Pending(ctx, scope)
	if err != nil {
		logger.Error("pending check failed", zap.Error(err))
		report.SessionErr = err
		report.Unfinished = len(scope.Jobs)
		return report
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		logger.Info("no pending jobs; skipping browser startup")
		return report
	}

	sess, err := w.sessions.Open(ctx, w.sessionSpec(scope))
	if err != nil {
		logger.Error("session open failed; jobs stay pending", zap.Error(err), zap.Int("jobs", len(pending)))
		for range pending {
			metrics.ObserveJob(metrics.JobSessionLost)
		}
		report.SessionErr = fmt.Errorf("open session: %w", err)
		report.Unfinished = len(pending)
		span.RecordError(err)
		span.SetStatus(codes.Error, "session open failed")
		return report
	}
	metrics.IncActiveSessions()
	defer func() {
		metrics.DecActiveSessions()
		w.release(sess, logger)
	}()

	w.sanitize(ctx, sess, scope, logger)

	for i, job := range pending {
		if ctx.Err() != nil {
			report.Unfinished += len(pending) - i
			break
		}
		res := w.runJob(ctx, sess, job, i == 0)
		switch res.Terminal {
		case Saved:
			report.Saved++
		case SavedEmpty:
			report.SavedEmpty++
		default:
			report.Unfinished++
		}
		if i < len(pending)-1 && w.cfg.InterJobPause > 0 {
			if err := w.sleep(ctx, w.cfg.InterJobPause); err != nil {
				report.Unfinished += len(pending) - i - 1
				break
			}
		}
	}

	logger.Info("scope finished",
		zap.Int("pending", report.Pending),
		zap.Int("saved", report.Saved),
		zap.Int("saved_empty", report.SavedEmpty),
		zap.Int("unfinished", report.Unfinished),
	)
	return report
}

func (w *Worker) sessionSpec(scope scrape.Scope) scrape.SessionSpec {
	spec := scrape.SessionSpec{
		ID:       scope.ID(),
		Country:  scope.Country,
		Headless: w.cfg.Headless,
	}
	if w.cfg.ProfileRoot != "" {
		spec.ProfileDir = filepath.Join(w.cfg.ProfileRoot, scope.ID())
	}
	if w.network != nil {
		settings := w.network.For(scope.Country)
		spec.Args = settings.Args
		spec.Proxy = settings.Proxy
		spec.UserAgent = settings.UserAgent
		spec.Locale = settings.Locale
	}
	return spec
}

// sanitize resets a reused session that starts off-site or in an unrelated
// section. Failures are logged only; the prompts still navigate on their own.
func (w *Worker) sanitize(ctx context.Context, sess scrape.Session, scope scrape.Scope, logger *zap.Logger) {
	policy, err := navigation.New(scope.EntryURL, w.cfg.Navigation)
	if err != nil {
		logger.Warn("session sanitization skipped", zap.Error(err))
		return
	}
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		logger.Warn("session sanitization skipped", zap.Error(err))
		return
	}
	reset, reason := policy.NeedsReset(current)
	if !reset {
		return
	}
	logger.Info("resetting session to entry page",
		zap.String("current_url", current),
		zap.String("reason", reason),
		zap.String("entry_url", scope.EntryURL),
	)
	if err := sess.Navigate(ctx, scope.EntryURL); err != nil {
		logger.Warn("session reset failed", zap.Error(err))
	}
}

// runJob executes one job; a panic is contained and treated like an agent
// failure, leaving an empty artifact behind.
func (w *Worker) runJob(ctx context.Context, sess scrape.Session, job scrape.Job, first bool) (res JobResult) {
	ctx, span := tracer.Start(ctx, "worker.runJob", trace.WithAttributes(
		attribute.String("country", job.Country),
		attribute.String("store", job.Store),
		attribute.String("product", job.Product),
	))
	defer func() {
		span.SetAttributes(attribute.String("terminal", res.Terminal.String()))
		span.End()
	}()

	logger := w.logger.With(logging.JobFields(job.Key())...)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", zap.Any("panic", rec), zap.Stack("stack"))
			res = w.saveEmpty(ctx, job)
			w.finish(ctx, job, res, logger)
		}
	}()

	prompt, err := w.prompts.Build(job, first)
	if err != nil {
		logger.Error("prompt build failed; saving empty artifact", zap.Error(err))
		res = w.saveEmpty(ctx, job)
		w.finish(ctx, job, res, logger)
		return res
	}

	inv := scrape.Invocation{
		ID:          w.invocationID(job),
		Task:        prompt,
		Session:     sess,
		Schema:      scrape.OutputSchema,
		ArtifactDir: w.artifactDir(job),
		MaxSteps:    w.cfg.MaxSteps,
		Model:       w.cfg.Model,
	}
	res = w.retrier.Run(ctx, job, inv)
	w.finish(ctx, job, res, logger)
	return res
}

// saveEmpty writes the empty artifact for a job that could not run, unless
// an artifact already exists or the run is canceled.
func (w *Worker) saveEmpty(ctx context.Context, job scrape.Job) JobResult {
	if ctx.Err() != nil {
		return JobResult{Terminal: Pending}
	}
	exists, err := w.store.Exists(ctx, job.Key())
	if err != nil {
		return JobResult{Terminal: Pending, Err: err}
	}
	if exists {
		return JobResult{Terminal: Saved}
	}
	if err := w.store.Write(ctx, job.Key(), scrape.EmptyArtifact()); err != nil {
		return JobResult{Terminal: Pending, Err: err}
	}
	return JobResult{Terminal: SavedEmpty}
}

func (w *Worker) finish(ctx context.Context, job scrape.Job, res JobResult, logger *zap.Logger) {
	switch res.Terminal {
	case Saved, SavedEmpty:
		metrics.ObserveJob(res.Terminal.String())
		w.publish(ctx, job, res, logger)
	default:
		if res.Err != nil {
			metrics.ObserveJob(metrics.JobWriteFailed)
		}
	}
}

func (w *Worker) publish(ctx context.Context, job scrape.Job, res JobResult, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	path := ""
	if p, ok := w.store.(interface{ Path(scrape.Key) string }); ok {
		path = p.Path(job.Key())
	}
	event := scrape.ArtifactEvent{
		Country:  job.Country,
		Store:    job.Store,
		Product:  job.Product,
		Path:     path,
		Records:  res.Records,
		Empty:    res.Terminal == SavedEmpty,
		Attempts: res.Attempts,
		SavedAt:  w.now(),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Warn("artifact event publish failed", zap.Error(err))
		return
	}
	logger.Debug("artifact event published", zap.String("message_id", id))
}

func (w *Worker) invocationID(job scrape.Job) string {
	if w.ids == nil {
		return job.ID()
	}
	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Warn("invocation id generation failed", zap.Error(err))
		return job.ID()
	}
	return job.ID() + "_" + id
}

func (w *Worker) artifactDir(job scrape.Job) string {
	if w.cfg.ArtifactRoot == "" {
		return ""
	}
	return filepath.Join(w.cfg.ArtifactRoot, job.ID())
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

// release closes the session gracefully, then forcibly. Both steps run on
// every path and their errors are only logged.
func (w *Worker) release(sess scrape.Session, logger *zap.Logger) {
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := sess.Stop(stopCtx); err != nil {
		logger.Warn("graceful browser stop failed", zap.Error(err))
	}
	if err := sess.Kill(); err != nil {
		logger.Warn("browser kill failed", zap.Error(err))
	}
}
