package unitrt

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
)

// Application is the process entry point. Init loads the configuration and
// builds the bootstrap context, Start deploys the units, Stop tears them
// down again.
type Application struct {
	logger  Logger
	catalog *Catalog
	bus     bus.Bus
	loader  *config.Loader
	metrics *metrics.Metrics
	signals []os.Signal

	mu           sync.Mutex
	tree         *config.Tree
	appConfig    *config.ApplicationConfig
	contexts     *ContextRegistry
	factory      *ContextFactory
	bootstrap    *Context
	orchestrator *Orchestrator
	watcher      *config.Watcher
	started      bool
	stopOnce     sync.Once
	stopErr      error
}

// Init loads the configuration, creates the missing collaborators and
// validates every unit's definitions.
func (app *Application) Init() error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.factory != nil {
		return nil
	}

	if app.loader == nil {
		app.loader = config.NewLoader()
	}
	tree, err := app.loader.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	appConfig, err := config.LoadApplicationConfig(tree)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	app.tree, app.appConfig = tree, appConfig

	if app.logger == nil {
		zl, err := NewZapLoggerFromConfig(appConfig.Log)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfigLoad, err)
		}
		app.logger = zl
	}
	if app.metrics == nil {
		app.metrics = metrics.New(nil)
	}
	if app.bus == nil {
		app.bus = app.newBus()
	}
	if src, ok := app.bus.(metrics.StatsSource); ok {
		if err := app.metrics.RegisterBus(map[string]metrics.StatsSource{"default": src}); err != nil {
			app.logger.Warn("Bus metrics unavailable", "error", err)
		}
	}

	app.contexts = NewContextRegistry()
	factory, err := NewContextFactory(app.catalog, ContextDeps{
		Bus:       app.bus,
		Tree:      tree,
		AppConfig: appConfig,
		Logger:    app.logger,
		Metrics:   app.metrics,
		Contexts:  app.contexts,
	})
	if err != nil {
		return err
	}
	if err := factory.Validate(); err != nil {
		return err
	}
	app.factory = factory
	app.logger.Info("Application initialized", "name", appConfig.Name, "profile", appConfig.Profile, "units", len(factory.Units()))
	return nil
}

func (app *Application) newBus() bus.Bus {
	cluster := app.appConfig.Cluster
	if cluster.Enable {
		return bus.NewNatsBus(bus.NatsConfig{
			URL:        cluster.NatsURL,
			ClientName: app.appConfig.Name,
			Queue:      cluster.Queue,
			Timeout:    5 * time.Second,
		}, app.logger)
	}
	return bus.NewMemoryBus(bus.MemoryConfig{}, app.logger)
}

// Start refreshes the bootstrap context and deploys the units. A failed
// deployment has already been stopped when Start returns.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	if app.factory == nil {
		app.mu.Unlock()
		return ErrApplicationNotInitialized
	}
	if app.started {
		app.mu.Unlock()
		return ErrApplicationStarted
	}
	app.started = true
	app.mu.Unlock()

	if err := app.bus.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	boot, err := app.factory.Bootstrap()
	if err != nil {
		return err
	}
	if err := boot.Prepare(); err != nil {
		return err
	}
	if err := boot.Bind(); err != nil {
		return err
	}
	if err := boot.Refresh(ctx); err != nil {
		return err
	}
	orch, err := Resolve[*Orchestrator](boot)
	if err != nil {
		return fmt.Errorf("resolve orchestrator: %w", err)
	}
	app.contexts.Register(boot.Tag(), boot)

	app.mu.Lock()
	app.bootstrap, app.orchestrator = boot, orch
	app.mu.Unlock()

	if err := boot.FinishRefresh(ctx); err != nil {
		return err
	}
	if app.appConfig.AutoUpdate.Enable {
		if err := app.startWatcher(ctx, boot); err != nil {
			return err
		}
	}
	return orch.Start(ctx)
}

func (app *Application) startWatcher(ctx context.Context, boot *Context) error {
	w := config.NewWatcher(app.loader, app.tree, app.appConfig.AutoUpdate, app.logger, func(changed []string) {
		app.metrics.ConfigUpdated()
		if err := boot.PublishEvent(context.Background(), &ConfigUpdatedEvent{Changed: changed}); err != nil {
			app.logger.Warn("Failed to publish configuration update", "error", err)
		}
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start configuration watcher: %w", err)
	}
	app.mu.Lock()
	app.watcher = w
	app.mu.Unlock()
	return nil
}

// Stop stops the units, closes the bootstrap context and stops the bus. It
// runs once.
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(ctx)
	})
	return app.stopErr
}

func (app *Application) stop(ctx context.Context) error {
	app.mu.Lock()
	w, orch, boot := app.watcher, app.orchestrator, app.bootstrap
	app.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	var err error
	if orch != nil {
		err = orch.Shutdown(ctx)
	}
	if boot != nil {
		if cerr := boot.Close(); cerr != nil {
			app.logger.Warn("Failed to close bootstrap context", "error", cerr)
		}
		app.contexts.Deregister(boot.Tag(), boot)
	}
	if app.bus != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if berr := app.bus.Stop(stopCtx); berr != nil {
			app.logger.Warn("Failed to stop bus", "error", berr)
		}
	}
	if s, ok := app.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	return err
}

// Run initializes and starts the application, then blocks until a shutdown
// signal arrives, a unit requests shutdown, or ctx is done.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Init(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		if app.logger != nil {
			app.logger.Error("Application failed to start", "error", err)
		}
		if serr := app.Stop(context.WithoutCancel(ctx)); serr != nil {
			app.logger.Error("Stop after failed start failed", "error", serr)
		}
		return err
	}

	signals := app.signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		app.logger.Info("Received signal, shutting down", "signal", sig)
	case <-app.orchestrator.Done():
		app.logger.Info("Orchestrator stopped, shutting down")
	case <-ctx.Done():
		app.logger.Info("Context done, shutting down", "cause", context.Cause(ctx))
	}
	return app.Stop(context.WithoutCancel(ctx))
}

// Logger returns the application logger.
func (app *Application) Logger() Logger { return app.logger }

// Config returns the configuration tree. It is nil before Init.
func (app *Application) Config() *config.Tree { return app.tree }

// AppConfig returns the process configuration. It is nil before Init.
func (app *Application) AppConfig() *config.ApplicationConfig { return app.appConfig }

// Metrics returns the metrics sink.
func (app *Application) Metrics() *metrics.Metrics { return app.metrics }

// Contexts returns the registry of live contexts.
func (app *Application) Contexts() *ContextRegistry { return app.contexts }

// Bootstrap returns the bootstrap context. It is nil before Start.
func (app *Application) Bootstrap() *Context {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.bootstrap
}

// Orchestrator returns the orchestrator. It is nil before Start.
func (app *Application) Orchestrator() *Orchestrator {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.orchestrator
}
