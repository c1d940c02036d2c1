// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/clock/system"
	"github.com/JakeFAU/polla-consensus/internal/config"
	collyfetcher "github.com/JakeFAU/polla-consensus/internal/fetcher/colly"
	"github.com/JakeFAU/polla-consensus/internal/hash/sha256"
	"github.com/JakeFAU/polla-consensus/internal/id/uuid"
	"github.com/JakeFAU/polla-consensus/internal/metrics"
	"github.com/JakeFAU/polla-consensus/internal/pipeline"
	"github.com/JakeFAU/polla-consensus/internal/policy/ratelimit"
	"github.com/JakeFAU/polla-consensus/internal/polla"
	"github.com/JakeFAU/polla-consensus/internal/progress"
	"github.com/JakeFAU/polla-consensus/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/polla-consensus/internal/publisher/pubsub"
	"github.com/JakeFAU/polla-consensus/internal/sources"
	"github.com/JakeFAU/polla-consensus/internal/storage/gcs"
	"github.com/JakeFAU/polla-consensus/internal/storage/local"
	"github.com/JakeFAU/polla-consensus/internal/storage/memory"
	"github.com/JakeFAU/polla-consensus/internal/storage/postgres"
)

// App holds the shared services. It is built once per process.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Fetcher  *collyfetcher.Fetcher
	Registry *sources.Registry
	Raw      polla.BlobStore
	// History is nil when db.dsn is empty.
	History *postgres.RunStore
	// Publisher is nil when pubsub.topic_name is empty.
	Publisher *pubsubpublisher.Publisher
	Runner    *pipeline.Runner

	closers []func() error
}

// New builds every collaborator from cfg. reg receives the progress
// collectors; nil means the default Prometheus registerer. It fails fast if
// a configured backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics.Init()
	logger.Info("initializing application services",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("history", cfg.DB.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
	)

	a := &App{Config: cfg, Logger: logger}
	a.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.Fetch.UserAgent,
		AcceptLanguage:  cfg.Fetch.AcceptLanguage,
		RespectRobots:   cfg.Fetch.RespectRobots,
		Timeout:         cfg.Run.Timeout,
		ThrottleBackoff: cfg.Fetch.ThrottleBackoff,
	}, sha256.New(), system.New(), ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Fetch.DomainQPS,
		DefaultBurst: cfg.Fetch.DomainBurst,
	}), logger.Named("fetcher"))
	a.Registry = sources.NewDefaultRegistry(cfg.Sources, a.Fetcher, logger.Named("sources"))

	raw, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Raw = raw

	deps := pipeline.Deps{
		Registry:        a.Registry,
		Raw:             a.Raw,
		Clock:           system.New(),
		IDs:             uuid.New(),
		MetricsTextfile: cfg.Metrics.TextfilePath,
	}

	if cfg.DB.DSN != "" {
		history, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init run history: %w", err)
		}
		a.History = history
		a.closers = append(a.closers, func() error { history.Close(); return nil })
		deps.Runs = history
	}

	if cfg.PubSub.TopicName != "" {
		publisher, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.Publisher = publisher
		a.closers = append(a.closers, publisher.Close)
		deps.Publisher = publisher
	}

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	deps.Sinks = []progress.Sink{promSink, sinks.NewLogSink(logger.Named("events"))}

	runner, err := pipeline.New(deps, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	a.Runner = runner

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildBlobStore(ctx context.Context) (polla.BlobStore, error) {
	switch a.Config.Storage.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.Config.Storage.GCSBucket, Prefix: a.Config.Storage.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.Logger.Info("using gcs raw storage", zap.String("bucket", a.Config.Storage.GCSBucket))
		return store, nil
	case "memory":
		a.Logger.Info("using in-memory raw storage; raw outputs are discarded on exit")
		return memory.NewBlobStore(), nil
	case "local", "":
		store, err := local.New(local.Config{BaseDir: a.Config.Output.RawDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.Config.Storage.Backend)
	}
}

// RunOptions returns the configured run options.
func (a *App) RunOptions() pipeline.Options {
	return pipeline.OptionsFromConfig(a.Config)
}

// Close releases every backend in reverse construction order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
	}
}
