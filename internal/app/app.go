// Package app builds and holds the long-lived services of a crawl run.
package app

import (
	"context"
	"errors"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/classify"
	"github.com/JakeFAU/popup-crawler/internal/config"
	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/dispatcher"
	"github.com/JakeFAU/popup-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/popup-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/popup-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/popup-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/popup-crawler/internal/sitemap"
	"github.com/JakeFAU/popup-crawler/internal/storage/gcs"
	"github.com/JakeFAU/popup-crawler/internal/storage/local"
	"github.com/JakeFAU/popup-crawler/internal/storage/memory"
	"github.com/JakeFAU/popup-crawler/internal/storage/postgres"
	"github.com/JakeFAU/popup-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/popup-crawler/internal/validate"
	"github.com/JakeFAU/popup-crawler/internal/worker"
)

// App holds the services shared by the CLI commands. It is built once per
// command invocation and closed when the command returns.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	cache      crawler.ConditionalCache
	discovery  *sitemap.Discovery
	dispatcher *dispatcher.Dispatcher

	closers []func() error
}

// New initializes every service described by cfg. Storage initialization
// failures are fatal because no record could be saved.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.initCache(ctx); err != nil {
		return nil, err
	}

	sink, err := local.New(local.Config{BaseDir: cfg.Storage.RecordsDir})
	if err != nil {
		return nil, fmt.Errorf("init record sink: %w", err)
	}

	store, err := a.initStore(ctx)
	if err != nil {
		return nil, err
	}

	deps := worker.Deps{
		Classifier: classify.New(cfg.Rules),
		Validator:  validate.New(),
		Sink:       sink,
		Store:      store,
	}

	if cfg.Storage.GCSBucket != "" {
		mirror, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		a.closers = append(a.closers, mirror.Close)
		deps.Mirror = mirror
		logger.Info("mirroring records to gcs", zap.String("bucket", cfg.Storage.GCSBucket))
	}

	if cfg.PubSub.TopicName != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		pub := pubsub.New(client, cfg.PubSub.TopicName)
		a.closers = append(a.closers, func() error {
			pub.Close()
			return client.Close()
		})
		deps.Publisher = pub
		logger.Info("publishing record events", zap.String("topic", cfg.PubSub.TopicName))
	}

	limiter := ratelimit.New(ratelimit.Config{QPS: cfg.RateLimit.QPS})
	transport := collyfetcher.New(collyfetcher.Config{UserAgent: cfg.HTTP.UserAgent, Timeout: cfg.HTTP.Timeout})
	fetch := fetcher.New(transport, limiter, a.cache, cfg.RetryPolicy(), logger.Named("fetcher"))
	deps.Fetcher = fetch

	a.discovery, err = sitemap.New(fetch, sitemap.Config{
		IndexURL:       cfg.Sitemap.IndexURL,
		IncludePattern: cfg.Sitemap.IncludePattern,
		IDPattern:      cfg.Sitemap.IDPattern,
	}, logger.Named("sitemap"))
	if err != nil {
		return nil, fmt.Errorf("init sitemap discovery: %w", err)
	}

	w, err := worker.New(deps, worker.Config{
		Locales:           cfg.Crawl.Locales,
		DetailURLTemplate: cfg.Crawl.DetailURLTemplate,
		Fast:              cfg.Crawl.Fast,
		PopupsOnly:        cfg.Crawl.PopupsOnly,
		Topic:             cfg.PubSub.TopicName,
	}, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("init worker: %w", err)
	}
	a.dispatcher = dispatcher.New(w, a.cache, dispatcher.Config{Workers: cfg.Crawl.Workers}, logger.Named("dispatcher"))
	return a, nil
}

func (a *App) initCache(ctx context.Context) error {
	if a.cfg.Storage.CachePath == "" {
		a.logger.Info("durable http cache disabled; using in-memory cache")
		a.cache = memory.NewCache()
		return nil
	}
	cache, err := sqlite.NewCache(ctx, a.cfg.Storage.CachePath)
	if err != nil {
		return fmt.Errorf("init http cache: %w", err)
	}
	a.closers = append(a.closers, cache.Close)
	a.cache = cache
	return nil
}

func (a *App) initStore(ctx context.Context) (crawler.RecordStore, error) {
	var (
		store crawler.RecordStore
		err   error
	)
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite:
		store, err = sqlite.NewRecordStore(ctx, a.cfg.Storage.SQLitePath)
	case config.DriverPostgres:
		store, err = postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{DSN: a.cfg.Storage.PostgresDSN})
	case config.DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s record store: %w", a.cfg.Storage.Driver, err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Crawl discovers IDs, runs the dispatcher over them and writes the report.
func (a *App) Crawl(ctx context.Context) (*crawler.Report, error) {
	ids, err := a.discovery.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover ids: %w", err)
	}
	if n := a.cfg.Crawl.MaxItems; n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	a.logger.Info("ids discovered", zap.Int("count", len(ids)))

	report, err := a.dispatcher.Run(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("run crawl: %w", err)
	}
	if err := local.WriteReport(a.cfg.Storage.ReportPath, report); err != nil {
		return report, fmt.Errorf("write report: %w", err)
	}
	return report, nil
}

// FailureReport lists persisted per-URL failure counters.
func (a *App) FailureReport(ctx context.Context) ([]crawler.HTTPFailure, error) {
	return a.cache.FailureReport(ctx)
}

// Close releases every service in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
		return err
	}
	return nil
}
