// Package app builds the long-lived services of a crawl run from configuration
// and exposes the operations the CLI commands drive.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/agent"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/aggregate"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/api"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/catalog"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/checkpoint"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/clock/system"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/config"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/cost"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/dispatcher"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/id/uuid"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/network"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/policy/ratelimit"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/provenance"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/publisher/pubsub"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/session/chromedp"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink/foundry"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink/gcs"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/sink/local"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/warehouse/postgres"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/worker"
)

// ErrNoCatalog is returned by Crawl when no stores or products are configured.
var ErrNoCatalog = errors.New("no catalog configured")

// Option overrides a collaborator, mainly for tests.
type Option func(*options)

type options struct {
	agent      scrape.Agent
	sessions   scrape.SessionFactory
	clock      scrape.Clock
	ids        scrape.IDGenerator
	publisher  scrape.Publisher
	sinks      []scrape.ReportSink
	pacer      dispatcher.Pacer
	httpClient *http.Client
}

// WithAgent replaces the command-line agent.
func WithAgent(a scrape.Agent) Option { return func(o *options) { o.agent = a } }

// WithSessionFactory replaces the Chrome session factory.
func WithSessionFactory(f scrape.SessionFactory) Option { return func(o *options) { o.sessions = f } }

// WithClock replaces the wall clock.
func WithClock(c scrape.Clock) Option { return func(o *options) { o.clock = c } }

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(g scrape.IDGenerator) Option { return func(o *options) { o.ids = g } }

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p scrape.Publisher) Option { return func(o *options) { o.publisher = p } }

// WithReportSinks appends extra report sinks after the configured ones.
func WithReportSinks(s ...scrape.ReportSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// WithPacer replaces the launch pacer.
func WithPacer(p dispatcher.Pacer) Option { return func(o *options) { o.pacer = p } }

// WithHTTPClient sets the client used by HTTP report sinks.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// App holds the services shared by the commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      *checkpoint.Store
	catalog    *catalog.Catalog
	dispatcher *dispatcher.Dispatcher
	reporter   *aggregate.Reporter
	server     *api.Server

	closers []func() error
}

// New builds the App. The crawl side is only assembled when a catalog is
// configured; report-only commands work on existing artifacts alone.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}

	store, err := checkpoint.New(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, store: store}

	if cfg.RequireCatalog() == nil {
		if err := a.buildCrawl(ctx, &o); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.buildReport(ctx, &o); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Server.Enabled {
		var status api.StatusSource
		var progress *api.ProgressHandler
		if a.dispatcher != nil {
			status = a.dispatcher
			progress = api.NewProgressHandler(a.catalog.Jobs(), store, logger)
		}
		a.server = api.NewServer(status, progress, cfg.Server, logger)
	}
	return a, nil
}

func (a *App) buildCrawl(ctx context.Context, o *options) error {
	cfg := a.cfg
	cat, err := cfg.Catalog.BuildCatalog()
	if err != nil {
		return err
	}
	a.catalog = cat
	a.logger.Info("catalog loaded",
		zap.Strings("countries", cat.Countries()),
		zap.Int("jobs", len(cat.Jobs())),
		zap.String("granularity", cfg.Catalog.Granularity),
	)

	prices, err := cost.NewTable(cfg.Pricing, a.logger)
	if err != nil {
		return fmt.Errorf("pricing table: %w", err)
	}
	prompts, err := agent.LoadPromptBuilder(cfg.Prompts)
	if err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	netStrategy, err := network.New(cfg.Network)
	if err != nil {
		return fmt.Errorf("network strategy: %w", err)
	}

	runner := o.agent
	if runner == nil {
		cmd, err := agent.NewCommandRunner(cfg.Agent, a.logger)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		runner = cmd
	}
	sessions := o.sessions
	if sessions == nil {
		sessions = chromedp.NewFactory(cfg.Session, a.logger)
	}

	publisher := o.publisher
	if publisher == nil && cfg.Worker.Topic != "" {
		p, err := pubsub.Dial(ctx, cfg.PubSub)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		publisher = p
	}

	workerCfg := cfg.Worker
	if workerCfg.Model == "" {
		workerCfg.Model = cfg.Agent.Model
	}
	if workerCfg.MaxSteps <= 0 {
		workerCfg.MaxSteps = cfg.Agent.MaxSteps
	}

	enricher := provenance.New(o.clock, prices, a.logger)
	retrier := worker.NewRetrier(runner, a.store, enricher, cfg.Retry, a.logger)
	w := worker.New(a.store, sessions, retrier, prompts, netStrategy, publisher, o.ids, o.clock, workerCfg, a.logger)

	pacer := o.pacer
	if pacer == nil {
		pacer = ratelimit.New(cfg.Pacer)
	}
	a.dispatcher = dispatcher.New(w, pacer, cfg.Dispatcher, a.logger)
	return nil
}

func (a *App) buildReport(ctx context.Context, o *options) error {
	cfg := a.cfg
	var sinks []scrape.ReportSink

	if cfg.Archive.BaseDir != "" {
		archive, err := local.New(cfg.Archive, o.clock)
		if err != nil {
			return fmt.Errorf("archive sink: %w", err)
		}
		sinks = append(sinks, archive)
	}
	if cfg.Foundry.Enabled() {
		up, err := foundry.New(cfg.Foundry, o.httpClient, o.clock, a.logger)
		if err != nil {
			return fmt.Errorf("foundry sink: %w", err)
		}
		sinks = append(sinks, up)
	}
	if cfg.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		bucketSink, err := gcs.New(client, cfg.GCS, o.clock)
		if err != nil {
			return fmt.Errorf("gcs sink: %w", err)
		}
		sinks = append(sinks, bucketSink)
	}
	sinks = append(sinks, o.sinks...)

	var rowSinks []aggregate.RowSink
	if cfg.Warehouse.DSN != "" {
		rows, err := postgres.New(ctx, cfg.Warehouse, a.logger)
		if err != nil {
			return fmt.Errorf("warehouse: %w", err)
		}
		a.closers = append(a.closers, func() error { rows.Close(); return nil })
		rowSinks = append(rowSinks, rows)
	}

	reporter, err := aggregate.NewReporter(aggregate.New(a.store, a.logger), cfg.Report, sinks, rowSinks, a.logger)
	if err != nil {
		return fmt.Errorf("reporter: %w", err)
	}
	a.reporter = reporter
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the checkpoint store.
func (a *App) Store() *checkpoint.Store {
	return a.store
}

// Crawl schedules every catalog job that has no artifact yet and waits for
// the run to finish. The HTTP surface, when enabled, serves for its duration.
func (a *App) Crawl(ctx context.Context) (dispatcher.RunSummary, error) {
	if a.dispatcher == nil {
		return dispatcher.RunSummary{}, ErrNoCatalog
	}
	granularity, err := catalog.ParseGranularity(a.cfg.Catalog.Granularity)
	if err != nil {
		return dispatcher.RunSummary{}, err
	}

	serverErr := make(chan error, 1)
	runCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if a.server != nil {
		go func() { serverErr <- a.server.ListenAndServe(runCtx, a.cfg.Server) }()
	} else {
		serverErr <- nil
	}

	summary, err := a.dispatcher.Run(ctx, a.catalog.Scopes(granularity))
	stopServer()
	if srvErr := <-serverErr; srvErr != nil {
		a.logger.Warn("http server stopped with error", zap.Error(srvErr))
	}
	if err != nil {
		return summary, fmt.Errorf("dispatch: %w", err)
	}
	a.logger.Info("crawl finished",
		zap.Int("scopes_launched", summary.ScopesLaunched),
		zap.Int("scopes_skipped", summary.ScopesSkipped),
		zap.Int("jobs_saved", summary.JobsSaved),
		zap.Int("jobs_saved_empty", summary.JobsSavedEmpty),
		zap.Int("jobs_unfinished", summary.JobsUnfinished),
	)
	return summary, nil
}

// Report aggregates the artifacts into the local report and uploads it.
func (a *App) Report(ctx context.Context) (aggregate.Result, error) {
	res, err := a.reporter.Report(ctx)
	if err != nil {
		return res, fmt.Errorf("report: %w", err)
	}
	return res, nil
}

// Publish crawls, then reports. A canceled crawl skips the report.
func (a *App) Publish(ctx context.Context) (dispatcher.RunSummary, aggregate.Result, error) {
	summary, err := a.Crawl(ctx)
	if err != nil {
		return summary, aggregate.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return summary, aggregate.Result{}, fmt.Errorf("crawl interrupted: %w", err)
	}
	res, err := a.Report(ctx)
	return summary, res, err
}

// Close releases clients in reverse order of creation and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
