package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/batch"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/handlers"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/providers"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/services/scheduler"
	badgerstore "github.com/ternarybob/fabrica/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	Providers      *providers.Factory
	BatchService   interfaces.BatchService
	Janitor        *scheduler.Janitor

	// HTTP handlers
	BatchHandler  *handlers.BatchHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager
	logger.Debug().
		Str("storage", "badger").
		Str("path", cfg.Storage.Badger.Path).
		Msg("Storage layer initialized")

	app.EventService = events.NewService(logger)

	app.Providers = providers.NewFactory(cfg, logger)

	app.BatchService = batch.NewRunner(
		cfg,
		storageManager.BatchStorage(),
		app.Providers,
		app.EventService,
		logger,
	)
	logger.Debug().Msg("Batch runner initialized")

	app.Janitor = scheduler.NewJanitor(
		&cfg.Scheduler,
		app.BatchService,
		storageManager.BatchStorage(),
		logger,
	)
	if err := app.Janitor.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start stale batch janitor")
	}

	app.ctx, app.cancelCtx = context.WithCancel(context.Background())
	go app.runStorageMaintenance()

	app.BatchHandler = handlers.NewBatchHandler(app.BatchService, logger)
	app.StatusHandler = handlers.NewStatusHandler(cfg, storageManager.BatchStorage(), logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, logger, &cfg.WebSocket)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("default_provider", cfg.Providers.Default).
		Msg("Application initialization complete")

	return app, nil
}

// runStorageMaintenance periodically reclaims Badger value log space.
func (a *App) runStorageMaintenance() {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.StorageManager.RunGC(); err != nil {
				a.Logger.Warn().Err(err).Msg("Storage maintenance pass failed")
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Close closes all application resources in reverse dependency order.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Janitor != nil {
		a.Janitor.Stop()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.Providers != nil {
		if err := a.Providers.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close provider clients")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
