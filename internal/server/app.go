// Package server wires configuration into a runnable pricing database builder.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/api"
	"github.com/JakeFAU/vm-pricedb/internal/build"
	"github.com/JakeFAU/vm-pricedb/internal/clock/system"
	"github.com/JakeFAU/vm-pricedb/internal/config"
	"github.com/JakeFAU/vm-pricedb/internal/database"
	"github.com/JakeFAU/vm-pricedb/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/vm-pricedb/internal/fetcher/colly"
	"github.com/JakeFAU/vm-pricedb/internal/hash/sha256"
	"github.com/JakeFAU/vm-pricedb/internal/id/uuid"
	"github.com/JakeFAU/vm-pricedb/internal/logging"
	"github.com/JakeFAU/vm-pricedb/internal/policy/ratelimit"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/processor"
	"github.com/JakeFAU/vm-pricedb/internal/progress"
	progresssinks "github.com/JakeFAU/vm-pricedb/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/vm-pricedb/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/vm-pricedb/internal/publisher/pubsub"
	"github.com/JakeFAU/vm-pricedb/internal/regions"
	"github.com/JakeFAU/vm-pricedb/internal/retail"
	"github.com/JakeFAU/vm-pricedb/internal/skus"
	gcsstorage "github.com/JakeFAU/vm-pricedb/internal/storage/gcs"
	localstorage "github.com/JakeFAU/vm-pricedb/internal/storage/local"
	memorystorage "github.com/JakeFAU/vm-pricedb/internal/storage/memory"
	pgstore "github.com/JakeFAU/vm-pricedb/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	baseCtx     context.Context
	cancel      context.CancelFunc
	builder     *build.Builder
	apiServer   *api.Server
	runs        *memorystorage.RunStore
	blobs       pricedb.BlobStore
	progressHub *progress.Hub
	gcs         *gcsstorage.BlobStore
	pg          *pgstore.Store
	pubsub      *gcppublisher.Publisher
	registerer  prometheus.Registerer
}

// Option customizes Build.
type Option func(*App)

// WithLogger skips logger construction and uses logger instead.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets where progress metrics are registered. Nil disables them.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. Builds started by the App
// outlive ctx only until Close is called.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			File:        cfg.Logging.File,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			MaxBackups:  cfg.Logging.MaxBackups,
			MaxAgeDays:  cfg.Logging.MaxAgeDays,
			Compress:    cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
	}
	zap.ReplaceGlobals(app.logger)
	app.baseCtx, app.cancel = context.WithCancel(context.WithoutCancel(ctx))

	app.logger.Info("building application dependencies",
		zap.String("output_backend", cfg.Output.Backend),
		zap.Int("concurrency", cfg.Scheduler.Concurrency),
		zap.Int("static_regions", len(cfg.Regions)),
	)

	abort := func(err error) (*App, error) {
		app.cancel()
		app.closeInfrastructure(ctx)
		return nil, err
	}

	if err := app.setupStorage(ctx); err != nil {
		return abort(err)
	}
	records, err := app.setupDatabase(ctx)
	if err != nil {
		return abort(err)
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return abort(err)
	}
	emitter, err := app.setupProgress(ctx)
	if err != nil {
		return abort(err)
	}

	writer, err := database.NewWriter(database.Config{
		Path:        cfg.Output.Path,
		ContentType: cfg.Output.ContentType,
		Indent:      cfg.Output.Indent,
	}, app.blobs, sha256.New(), records, app.logger)
	if err != nil {
		return abort(fmt.Errorf("database writer init failed: %w", err))
	}

	getter := app.setupFetcher()
	creds := cfg.Credentials()
	lister := app.setupRegions(getter)
	proc := processor.New(
		skus.New(getter, skus.Config{
			Endpoint:   cfg.Azure.ManagementEndpoint,
			APIVersion: cfg.Azure.SKUsAPIVersion,
			MaxPages:   cfg.HTTP.MaxPages,
		}, app.logger),
		retail.New(getter, retail.Config{
			Endpoint:      cfg.Azure.RetailEndpoint,
			ServiceName:   cfg.Azure.ServiceName,
			PriceType:     cfg.Azure.PriceType,
			CurrencyCode:  cfg.Azure.CurrencyCode,
			ExcludeMeters: cfg.Azure.ExcludeMeterPatterns,
			MaxPages:      cfg.HTTP.MaxPages,
		}, app.logger),
		creds,
		app.logger,
	)
	scheduler := dispatcher.New(dispatcher.Config{
		Concurrency:   cfg.Scheduler.Concurrency,
		ProgressEvery: cfg.Scheduler.ProgressEvery,
	}, proc, emitter, app.logger)

	app.runs = memorystorage.NewRunStore(cfg.Server.RetainRuns)
	app.builder, err = build.New(build.Deps{
		Credentials: creds,
		Regions:     lister,
		Scheduler:   scheduler,
		Writer:      writer,
		Runs:        app.runs,
		Publisher:   publisher,
		Topic:       cfg.PubSub.TopicName,
		Emitter:     emitter,
		IDs:         uuid.New(),
		Clock:       system.New(),
		Logger:      app.logger,
	})
	if err != nil {
		return abort(fmt.Errorf("builder init failed: %w", err))
	}

	app.apiServer = api.NewServer(app.baseCtx, app.builder, app.runs, cfg, app.logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce performs a single build and returns its run record.
func (a *App) RunOnce(ctx context.Context) (pricedb.Run, error) {
	run, err := a.builder.Build(ctx)
	if err != nil {
		return run, fmt.Errorf("build %s: %w", run.ID, err)
	}
	return run, nil
}

// Serve starts the HTTP API and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close cancels in-flight builds, waits for them to settle and releases
// every client.
func (a *App) Close(ctx context.Context) error {
	a.cancel()
	a.waitForBuild(ctx)
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) waitForBuild(ctx context.Context) {
	if a.builder == nil || !a.builder.Running() {
		return
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for a.builder.Running() {
		select {
		case <-ctx.Done():
			a.logger.Warn("build still running at shutdown")
			return
		case <-ticker.C:
		}
	}
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

func (a *App) setupFetcher() *collyfetcher.Fetcher {
	cfg := collyfetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		ConnectTimeout: a.cfg.ConnectTimeout(),
		Timeout:        a.cfg.RequestTimeout(),
		MaxBodySize:    a.cfg.HTTP.MaxBodyBytes,
		Logger:         a.logger,
	}
	if a.cfg.RateLimit.Enabled {
		cfg.Limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		})
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("burst", a.cfg.RateLimit.DefaultBurst),
		)
	}
	return collyfetcher.New(cfg)
}

func (a *App) setupRegions(getter pricedb.Getter) pricedb.RegionLister {
	if len(a.cfg.Regions) > 0 {
		a.logger.Info("using configured regions", zap.Strings("regions", a.cfg.Regions))
		return regions.Static(a.cfg.Regions)
	}
	return regions.NewARM(getter, regions.ARMConfig{
		Endpoint:   a.cfg.Azure.ManagementEndpoint,
		APIVersion: a.cfg.Azure.LocationsAPIVersion,
		MaxPages:   a.cfg.HTTP.MaxPages,
	})
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Output.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:       a.cfg.Output.Bucket,
			Prefix:       a.cfg.Output.Prefix,
			CacheControl: a.cfg.Output.CacheControl,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.blobs = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Output.Bucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local storage backend", zap.String("base_dir", a.cfg.Output.BaseDir))
	default:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) (pricedb.RecordStore, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Debug("no database DSN configured, skipping postgres mirror")
		return nil, nil
	}
	store, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		RecordsTable:    a.cfg.Database.RecordsTable,
		RunsTable:       a.cfg.Database.RunsTable,
		OutcomesTable:   a.cfg.Database.OutcomesTable,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pg = store
	if a.cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
	}
	a.logger.Info("postgres mirror initialized", zap.String("table", a.cfg.Database.RecordsTable))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) (pricedb.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if a.pg != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.pg, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.Progress.BarEnabled {
		sinkList = append(sinkList, progresssinks.NewBarSink(nil))
	}
	if a.registerer != nil {
		promSink, err := progresssinks.NewPrometheusSink(a.registerer)
		if err != nil {
			return nil, fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}
