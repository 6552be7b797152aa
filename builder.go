package unitrt

import (
	"errors"
	"os"

	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
	"github.com/GoCodeAlone/unitrt/metrics"
)

// Option represents a functional option for configuring applications
type Option func(*ApplicationBuilder) error

// ApplicationBuilder collects the collaborators of an Application. Anything
// left unset is created from the loaded configuration during Init.
type ApplicationBuilder struct {
	logger  Logger
	catalog *Catalog
	bus     bus.Bus
	loader  *config.Loader
	metrics *metrics.Metrics
	signals []os.Signal
	errs    []error
}

// NewApplicationBuilder creates an empty builder.
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{catalog: NewCatalog()}
}

// NewApplication creates an application with the provided options.
func NewApplication(opts ...Option) (*Application, error) {
	b := NewApplicationBuilder()
	for _, opt := range opts {
		b.WithOption(opt)
	}
	return b.Build()
}

// WithOption applies opt. Errors are reported by Build.
func (b *ApplicationBuilder) WithOption(opt Option) *ApplicationBuilder {
	if err := opt(b); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Build returns the configured application.
func (b *ApplicationBuilder) Build() (*Application, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return &Application{
		logger:  b.logger,
		catalog: b.catalog,
		bus:     b.bus,
		loader:  b.loader,
		metrics: b.metrics,
		signals: b.signals,
	}, nil
}

// WithLogger sets the logger for the application
func WithLogger(logger Logger) Option {
	return func(b *ApplicationBuilder) error {
		if logger == nil {
			return ErrLoggerNotSet
		}
		b.logger = logger
		return nil
	}
}

// WithCatalog adds the registrations of catalog
func WithCatalog(catalog *Catalog) Option {
	return func(b *ApplicationBuilder) error {
		b.catalog.Merge(catalog)
		return nil
	}
}

// WithBus sets the message bus, overriding the cluster configuration
func WithBus(mb bus.Bus) Option {
	return func(b *ApplicationBuilder) error {
		b.bus = mb
		return nil
	}
}

// WithConfigLoader sets the configuration loader
func WithConfigLoader(loader *config.Loader) Option {
	return func(b *ApplicationBuilder) error {
		b.loader = loader
		return nil
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *ApplicationBuilder) error {
		b.metrics = m
		return nil
	}
}

// WithShutdownSignals replaces the signals Run stops on
func WithShutdownSignals(signals ...os.Signal) Option {
	return func(b *ApplicationBuilder) error {
		b.signals = append([]os.Signal(nil), signals...)
		return nil
	}
}
