package unitrt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
	"github.com/GoCodeAlone/unitrt/registry"
)

// BootstrapTag is the tag of the unit running the orchestrator.
const BootstrapTag = "bootstrap"

// ContextDeps are the runtime handles shared by every context.
type ContextDeps struct {
	Bus       bus.Bus
	Tree      *config.Tree
	AppConfig *config.ApplicationConfig
	Logger    Logger
	Metrics   *metrics.Metrics
	Contexts  *ContextRegistry
}

// ContextFactory builds a fresh context for each unit instance from the
// scanned catalog. The framework registrations (orchestrator, executor
// configuration) are added to the catalog it is given.
type ContextFactory struct {
	scanner *Scanner
	deps    ContextDeps
}

// NewContextFactory indexes catalog and fills unset dependencies with
// defaults.
func NewContextFactory(catalog *Catalog, deps ContextDeps) (*ContextFactory, error) {
	scanner, err := NewScanner(frameworkCatalog().Merge(catalog))
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Tree == nil {
		deps.Tree = config.NewTree(nil)
	}
	if deps.AppConfig == nil {
		if deps.AppConfig, err = config.LoadApplicationConfig(deps.Tree); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
		}
	}
	if deps.Contexts == nil {
		deps.Contexts = NewContextRegistry()
	}
	return &ContextFactory{scanner: scanner, deps: deps}, nil
}

// Scanner returns the scanner contexts are prepared with.
func (f *ContextFactory) Scanner() *Scanner { return f.scanner }

// Contexts returns the registry of live contexts.
func (f *ContextFactory) Contexts() *ContextRegistry { return f.deps.Contexts }

// Units returns the deployable units ordered by priority.
func (f *ContextFactory) Units() []*UnitDefinition { return f.scanner.Units() }

// Validate scans every unit so that definition errors surface before
// anything is deployed.
func (f *ContextFactory) Validate() error { return f.scanner.Validate() }

// NewContext creates an unprepared context for one instance of unit.
func (f *ContextFactory) NewContext(unit *UnitDefinition) *Context {
	id := newInstanceID()
	return &Context{
		unit:        unit,
		instanceID:  id,
		displayName: unit.Tag + "#" + id[len(id)-8:],
		startedAt:   time.Now(),
		scanner:     f.scanner,
		reg:         registry.NewRegistry(),
		bus:         f.deps.Bus,
		tree:        f.deps.Tree,
		appConfig:   f.deps.AppConfig,
		logger:      f.deps.Logger,
		metrics:     f.deps.Metrics,
		contexts:    f.deps.Contexts,
		factory:     f,
	}
}

// Bootstrap creates the context of the bootstrap unit.
func (f *ContextFactory) Bootstrap() (*Context, error) {
	def := f.scanner.Bootstrap()
	if def == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, BootstrapTag)
	}
	c := f.NewContext(def)
	c.displayName = BootstrapTag
	return c, nil
}

func newInstanceID() string {
	return strings.ReplaceAll(bus.NewID(), "-", "")
}

func frameworkCatalog() *Catalog {
	return NewCatalog(
		Properties[ExecutorConfig](ExecutorConfigPrefix),
		DeployUnit[*Orchestrator](newOrchestrator, bootstrapUnit(), UnitTag(BootstrapTag), EventSource(BootstrapTag)),
		OnEvent(func(_ context.Context, o *Orchestrator, e *UnitStoppedEvent) error {
			o.unitStopped(e)
			return nil
		}, Local()),
		OnEvent(func(ctx context.Context, o *Orchestrator, e *ShutdownRequestedEvent) error {
			o.logger.Info("Shutdown requested", "source", e.EventSource(), "reason", e.Reason)
			go func() {
				if err := o.Shutdown(context.WithoutCancel(ctx)); err != nil {
					o.logger.Error("Shutdown failed", "error", err)
				}
			}()
			return nil
		}, Local()),
	)
}
