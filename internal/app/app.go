// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autoria-crawler/internal/config"
	"autoria-crawler/internal/export"
	"autoria-crawler/internal/logging"
	"autoria-crawler/internal/metrics"
	"autoria-crawler/internal/scraper"
	"autoria-crawler/internal/store"
)

// App holds the shared, long-lived services: configuration, logger, the
// Postgres store and the dump writer. It is built once at startup and
// closed by a cobra hook when the command finishes.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Store  *store.CarStore
	Dumper *export.Dumper
}

// New loads configuration, builds the logger and connects the store.
// It fails fast when any critical service cannot be initialized.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics.Init()

	logger.Info("connecting to postgres")
	carStore, err := store.New(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := carStore.EnsureSchema(ctx); err != nil {
		carStore.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("application services initialized")
	return &App{
		Config: cfg,
		Logger: logger,
		Store:  carStore,
		Dumper: export.NewDumper(cfg.Export.Dir, logger),
	}, nil
}

// NewEngine assembles a crawl engine over the app's services. The caller
// runs it; the engine owns fetcher setup and teardown per run.
func (a *App) NewEngine() (*scraper.Engine, error) {
	fetcher, err := scraper.NewChromedpFetcher(scraper.FetcherConfig{
		NavigationTimeout: a.Config.Crawler.RequestTimeout(),
		SiteQPS:           a.Config.Crawler.SiteQPS,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	gateway := scraper.NewGateway(a.Store, a.Logger)
	rotator := scraper.NewRotator(fetcher, a.Logger)

	engine, err := scraper.NewEngine(scraper.Config{
		StartURL:        a.Config.Crawler.StartURL,
		SiteOrigin:      a.Config.Crawler.SiteOrigin,
		PageConcurrency: a.Config.Crawler.PageConcurrency,
		ItemConcurrency: a.Config.Crawler.ItemConcurrency,
		BaseDelay:       a.Config.Crawler.BaseDelay(),
		RetryAttempts:   a.Config.Crawler.RetryAttempts,
		RetryDelay:      a.Config.Crawler.RetryDelay(),
		MarkupVersion:   a.Config.Crawler.MarkupVersion,
	}, fetcher, gateway, rotator, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return engine, nil
}

// Backup dumps every stored listing to JSON and CSV files.
func (a *App) Backup(ctx context.Context) error {
	_, _, err := a.Dumper.Backup(ctx, a.Store)
	return err
}

// Close shuts the services down and flushes the logger.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.Store.Close()
	_ = a.Logger.Sync()
}
