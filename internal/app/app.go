// Package app wires configuration into a runnable crawl: browser sessions,
// the export fan-out, progress reporting and the optional status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/api"
	"github.com/JakeFAU/clinical-trials-crawler/internal/config"
	"github.com/JakeFAU/clinical-trials-crawler/internal/crawler"
	"github.com/JakeFAU/clinical-trials-crawler/internal/export"
	"github.com/JakeFAU/clinical-trials-crawler/internal/headless"
	iduuid "github.com/JakeFAU/clinical-trials-crawler/internal/id/uuid"
	"github.com/JakeFAU/clinical-trials-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/clinical-trials-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/clinical-trials-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/clinical-trials-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/clinical-trials-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/clinical-trials-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/clinical-trials-crawler/internal/storage/postgres"
	"github.com/JakeFAU/clinical-trials-crawler/internal/store"
)

const closeTimeout = 10 * time.Second

// App contains the crawl's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	launcher   headless.Launcher
	registerer prometheus.Registerer
	extra      []export.Mirror
	runs       store.RunRepository

	managers []*headless.Manager
	engine   *crawler.Engine
	hub      *progress.Hub
	snapshot *progresssinks.SnapshotSink
	server   *api.Server
	closers  []func(context.Context) error
}

// Option customizes Build.
type Option func(*App)

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l headless.Launcher) Option {
	return func(a *App) {
		if l != nil {
			a.launcher = l
		}
	}
}

// WithRegisterer sets where run-level progress metrics are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		if reg != nil {
			a.registerer = reg
		}
	}
}

// WithMirror adds an export mirror in addition to the configured ones.
func WithMirror(m export.Mirror) Option {
	return func(a *App) {
		if m != nil {
			a.extra = append(a.extra, m)
		}
	}
}

// Build validates cfg and constructs every component. Resources opened here
// are released by Close, including when Build itself fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		launcher:   headless.LaunchChrome,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		return nil, errors.Join(err, a.Close(closeCtx))
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	ids, err := iduuid.Allocate(iduuid.New())
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}
	a.runID = string(ids)
	a.logger = a.logger.With(zap.String("run_id", a.runID))

	exporter, err := a.setupExport(ctx)
	if err != nil {
		return err
	}
	emitter, err := a.setupProgress()
	if err != nil {
		return err
	}
	browsers := a.setupBrowsers()

	a.engine, err = crawler.NewEngine(crawler.EngineConfig{
		Queries:                     a.cfg.Crawler.Queries,
		MaxPages:                    a.cfg.Crawler.MaxPages,
		FlushEvery:                  a.cfg.Crawler.FlushEvery,
		MaxConsecutiveFlushFailures: a.cfg.Persistence.MaxConsecutiveFailures,
		Paginator: crawler.PaginatorConfig{
			BaseURL:     a.cfg.Crawler.BaseURL,
			WaitTimeout: a.cfg.Browser.WaitTimeout,
			Settle:      a.cfg.Browser.ListingSettle,
		},
		Extractor: crawler.ExtractorConfig{
			WaitTimeout: a.cfg.Browser.WaitTimeout,
			Settle:      a.cfg.Browser.DetailSettle,
		},
	}, browsers, exporter,
		crawler.WithLogger(a.logger.Named("engine")),
		crawler.WithEmitter(emitter),
		crawler.WithIDGenerator(ids),
	)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}

	if a.cfg.Server.Addr != "" {
		var source api.ProgressSource
		if a.snapshot != nil {
			source = a.snapshot
		}
		a.server = api.NewServer(source, a.logger.Named("api"))
	}
	return nil
}

func (a *App) setupExport(ctx context.Context) (crawler.Exporter, error) {
	primary, err := export.NewCSVExporter(a.cfg.Persistence.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("csv exporter init failed: %w", err)
	}
	mirrors, err := a.setupMirrors(ctx)
	if err != nil {
		return nil, err
	}
	mirrors = append(mirrors, a.extra...)
	fanout, err := export.NewFanout(a.runID, primary, mirrors,
		export.WithFanoutLogger(a.logger.Named("export")))
	if err != nil {
		return nil, fmt.Errorf("export fanout init failed: %w", err)
	}
	a.logger.Info("export configured",
		zap.String("path", primary.Path()),
		zap.Int("mirrors", len(mirrors)),
	)
	return fanout, nil
}

func (a *App) setupMirrors(ctx context.Context) ([]export.Mirror, error) {
	var mirrors []export.Mirror
	switch a.cfg.Storage.Backend {
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local storage init failed: %w", err)
		}
		mirrors = append(mirrors, export.NewBlobMirror("local", blobs, a.cfg.Storage.Prefix, a.logger.Named("local_mirror")))
		a.logger.Info("using local export mirror", zap.String("base_dir", a.cfg.Storage.Local.BaseDir))
	case "gcs":
		blobs, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs storage init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return blobs.Close() })
		mirrors = append(mirrors, export.NewBlobMirror("gcs", blobs, a.cfg.Storage.Prefix, a.logger.Named("gcs_mirror")))
		a.logger.Info("using gcs export mirror", zap.String("bucket", a.cfg.Storage.Bucket))
	}

	if a.cfg.Database.DSN != "" {
		trials, err := pgstore.NewTrialStore(ctx, pgstore.TrialStoreConfig{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("trial store init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { trials.Close(); return nil })
		if err := trials.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("trial store schema: %w", err)
		}
		mirrors = append(mirrors, trials)

		runs, err := trials.Runs(a.cfg.Database.RunsTable)
		if err != nil {
			return nil, fmt.Errorf("run store init failed: %w", err)
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("run store schema: %w", err)
		}
		a.runs = runs
		a.logger.Info("trial store initialized",
			zap.String("table", a.cfg.Database.Table),
			zap.String("runs_table", a.cfg.Database.RunsTable),
		)
	}

	switch {
	case a.cfg.PubSub.Backend == "memory":
		pub := memorypublisher.New()
		topic := a.cfg.PubSub.TopicName
		a.closers = append(a.closers, func(context.Context) error {
			a.logger.Info("flush notifications recorded in memory",
				zap.String("topic", topic),
				zap.Int("messages", len(pub.Messages())),
			)
			return nil
		})
		mirrors = append(mirrors, export.NewNotifier(pub, topic, a.cfg.Persistence.OutputPath))
	case a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.TopicName != "":
		pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		mirrors = append(mirrors, export.NewNotifier(pub, a.cfg.PubSub.TopicName, a.cfg.Persistence.OutputPath))
		a.logger.Info("Pub/Sub flush notifications enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	return mirrors, nil
}

func (a *App) setupProgress() (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.NopEmitter{}, nil
	}
	a.snapshot = progresssinks.NewSnapshotSink()
	sinkList := []progress.Sink{a.snapshot}

	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize: a.cfg.ProgressBuffer(),
		Logger:     a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", a.cfg.ProgressBuffer()),
		zap.Int("sinks", len(sinkList)),
	)
	return a.hub, nil
}

func (a *App) setupBrowsers() []crawler.Browser {
	launch := headless.LaunchConfig{
		Headless:   a.cfg.Browser.Headless,
		UserAgent:  a.cfg.Browser.UserAgent,
		Width:      a.cfg.Browser.ViewportWidth,
		Height:     a.cfg.Browser.ViewportHeight,
		ExecPath:   a.cfg.Browser.ExecPath,
		NoSandbox:  a.cfg.Browser.NoSandbox,
		NavTimeout: a.cfg.Browser.NavTimeout,
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Crawler.NavigationRPS,
		Burst: a.cfg.Crawler.NavigationBurst,
	})
	browsers := make([]crawler.Browser, 0, a.cfg.Crawler.Workers)
	for i := 0; i < a.cfg.Crawler.Workers; i++ {
		opts := []headless.ManagerOption{
			headless.WithProbeTimeout(a.cfg.Browser.ProbeTimeout),
			headless.WithLogger(a.logger.Named("browser").With(zap.Int("worker", i))),
		}
		if limiter != nil {
			opts = append(opts, headless.WithNavigationLimiter(limiter))
		}
		m := headless.NewManager(a.launcher, launch, opts...)
		a.managers = append(a.managers, m)
		browsers = append(browsers, m)
	}
	a.logger.Info("browser sessions configured",
		zap.Int("workers", len(browsers)),
		zap.Bool("headless", launch.Headless),
		zap.Float64("navigation_rps", a.cfg.Crawler.NavigationRPS),
	)
	return browsers
}

// RunID returns the identifier shared by progress events and export mirrors.
func (a *App) RunID() string { return a.runID }

// Progress returns the live run snapshot source, or nil when disabled.
func (a *App) Progress() *progresssinks.SnapshotSink { return a.snapshot }

// Run crawls until every query is done or ctx is canceled. The status
// server, when configured, lives exactly as long as the crawl.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	srvDone := make(chan error, 1)
	if a.server != nil {
		go func() { srvDone <- a.server.Serve(srvCtx, a.cfg.Server.Addr) }()
	} else {
		srvDone <- nil
	}

	summary, err := a.engine.Run(ctx)

	stopServer()
	if srvErr := <-srvDone; srvErr != nil {
		a.logger.Warn("status server stopped with error", zap.Error(srvErr))
	}
	return summary, err
}

// Close shuts down browsers, drains progress sinks and releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, m := range a.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
