// Package metrics exposes runtime instrumentation as Prometheus metrics.
//
// All recording methods are safe on a nil *Metrics, so components can take
// an optional *Metrics without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unitrt"

// Metrics holds the runtime collectors.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished  *prometheus.CounterVec
	eventsBuffered   prometheus.Counter
	listenerInvoked  *prometheus.CounterVec
	listenerDuration *prometheus.HistogramVec
	unitInstances    *prometheus.GaugeVec
	deployDuration   prometheus.Histogram
	unitStops        *prometheus.CounterVec
	configReloads    prometheus.Counter
}

// New registers the runtime collectors on reg, or on a fresh registry when
// reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published, by delivery mode.",
		}, []string{"mode"}),
		eventsBuffered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "early_buffered_total",
			Help:      "Events buffered before the multicaster was ready.",
		}),
		listenerInvoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "invocations_total",
			Help:      "Listener invocations, by outcome.",
		}, []string{"outcome"}),
		listenerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "duration_seconds",
			Help:      "Listener execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		unitInstances: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "instances",
			Help:      "Running unit instances, by unit tag.",
		}, []string{"unit"}),
		deployDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "deploy_duration_seconds",
			Help:      "Time to deploy every unit wave.",
			Buckets:   prometheus.DefBuckets,
		}),
		unitStops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "stops_total",
			Help:      "Unit instance stop attempts, by outcome.",
		}, []string{"outcome"}),
		configReloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "updates_total",
			Help:      "Configuration reloads that changed the tree.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventPublished counts a publish; direct selects the point-to-point label.
func (m *Metrics) EventPublished(direct bool) {
	if m == nil {
		return
	}
	mode := "broadcast"
	if direct {
		mode = "direct"
	}
	m.eventsPublished.WithLabelValues(mode).Inc()
}

// EventBuffered counts an event held in the early buffer.
func (m *Metrics) EventBuffered() {
	if m == nil {
		return
	}
	m.eventsBuffered.Inc()
}

// ListenerInvoked records one listener invocation.
func (m *Metrics) ListenerInvoked(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.listenerInvoked.WithLabelValues(outcome).Inc()
	m.listenerDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// UnitInstances sets the running instance count for a unit.
func (m *Metrics) UnitInstances(unit string, n int) {
	if m == nil {
		return
	}
	m.unitInstances.WithLabelValues(unit).Set(float64(n))
}

// DeployCompleted records the duration of a full deployment.
func (m *Metrics) DeployCompleted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.deployDuration.Observe(elapsed.Seconds())
}

// UnitStopped counts an instance stop attempt.
func (m *Metrics) UnitStopped(outcome string) {
	if m == nil {
		return
	}
	m.unitStops.WithLabelValues(outcome).Inc()
}

// ConfigUpdated counts a configuration change.
func (m *Metrics) ConfigUpdated() {
	if m == nil {
		return
	}
	m.configReloads.Inc()
}
