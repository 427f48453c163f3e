package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GautamJagannath/entrada/internal/autosave"
	"github.com/GautamJagannath/entrada/internal/cache"
	"github.com/GautamJagannath/entrada/internal/cases"
	"github.com/GautamJagannath/entrada/internal/completion"
	"github.com/GautamJagannath/entrada/internal/config"
	"github.com/GautamJagannath/entrada/internal/database"
	"github.com/GautamJagannath/entrada/internal/forms"
	"github.com/GautamJagannath/entrada/internal/generate"
	"github.com/GautamJagannath/entrada/internal/postgres"
	"github.com/GautamJagannath/entrada/internal/render"
	"github.com/GautamJagannath/entrada/internal/server"
	"github.com/GautamJagannath/entrada/internal/users"
)

// application holds the wired services shared by the serve and generate commands.
type application struct {
	cases        *cases.Service
	owners       *users.Service
	registry     *autosave.Registry
	orchestrator *generate.Orchestrator
	renderer     *render.Renderer
	realtime     *server.RealtimeDispatcher
	closers      []func()
}

func buildApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	app := &application{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = sqlDB.Close() })

	store, err := openCaseStore(ctx, appConfig, logger, app, db)
	if err != nil {
		return nil, err
	}

	estimator := completion.NewEstimator(appConfig.ExpectedFields)
	app.cases, err = cases.NewService(cases.ServiceConfig{
		Store:      store,
		IDProvider: cases.NewUUIDProvider(),
		Estimator:  estimator,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	app.owners, err = users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(appConfig.CatalogPath)
	if err != nil {
		return nil, err
	}
	mapper, err := forms.NewMapper(forms.MapperConfig{
		Catalog:       catalog,
		DefaultState:  appConfig.DefaultState,
		DefaultCounty: appConfig.DefaultCounty,
	})
	if err != nil {
		return nil, err
	}
	app.renderer, err = render.New(render.Config{
		Enabled:      appConfig.RenderEnabled,
		TemplatesDir: appConfig.TemplatesDir,
		Catalog:      catalog,
		Compress:     appConfig.CompressOutput,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	documentCache, err := openDocumentCache(ctx, appConfig, logger, app)
	if err != nil {
		return nil, err
	}
	generateConfig := generate.Config{
		Mapper:      mapper,
		Renderer:    app.renderer,
		Types:       catalog.Types(),
		Concurrency: appConfig.GenerateWorkers,
		Logger:      logger,
	}
	if documentCache != nil {
		generateConfig.Cache = documentCache
	}
	app.orchestrator, err = generate.NewOrchestrator(generateConfig)
	if err != nil {
		return nil, err
	}

	app.realtime = server.NewRealtimeDispatcher()
	app.registry, err = autosave.NewRegistry(autosave.RegistryConfig{
		Loader:      app.cases,
		Persister:   app.cases,
		Estimator:   estimator,
		Sink:        app.realtime,
		Clock:       clockwork.NewRealClock(),
		Debounce:    appConfig.AutosaveDebounce,
		RetryDelay:  appConfig.AutosaveRetryDelay,
		IdleTimeout: appConfig.AutosaveIdleTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return app, nil
}

// Close releases connections in reverse order of acquisition.
func (a *application) Close() {
	for index := len(a.closers) - 1; index >= 0; index-- {
		a.closers[index]()
	}
	a.closers = nil
}

func openCaseStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, app *application, db *gorm.DB) (cases.Store, error) {
	if appConfig.DatabaseDriver != config.DatabaseDriverPostgres {
		return cases.NewGormStore(db)
	}
	if err := postgres.Migrate(ctx, appConfig.DatabaseDSN, logger); err != nil {
		return nil, err
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: appConfig.DatabaseDSN})
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)
	logger.Info("case store initialized", zap.String("driver", config.DatabaseDriverPostgres))
	return postgres.NewCaseStore(pool)
}

func openDocumentCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger, app *application) (*cache.DocumentCache, error) {
	if appConfig.ValkeyAddress == "" {
		return nil, nil
	}
	client, err := cache.NewClient(appConfig.ValkeyAddress)
	if err != nil {
		return nil, err
	}
	documentCache, err := cache.NewDocumentCache(client, appConfig.CacheTTL)
	if err != nil {
		client.Close()
		return nil, err
	}
	app.closers = append(app.closers, documentCache.Close)
	if err := documentCache.Ping(ctx); err != nil {
		logger.Warn("document cache unreachable at startup; lookups will miss until it recovers", zap.Error(err))
	}
	return documentCache, nil
}

func loadCatalog(path string) (*forms.Catalog, error) {
	if path == "" {
		return forms.DefaultCatalog()
	}
	catalog, err := forms.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load form catalog %s: %w", path, err)
	}
	return catalog, nil
}
