package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource reports cumulative bus delivery counts.
type StatsSource interface {
	Stats() (delivered, dropped uint64)
}

// BusCollector implements prometheus.Collector for bus delivery stats. The
// counts are read on scrape, so the bus hot path carries no extra work:
//
//	unitrt_bus_delivered_total{bus="<name>"}
//	unitrt_bus_dropped_total{bus="<name>"}
type BusCollector struct {
	sources       map[string]StatsSource
	deliveredDesc *prometheus.Desc
	droppedDesc   *prometheus.Desc
}

// NewBusCollector creates a collector over the named sources.
func NewBusCollector(sources map[string]StatsSource) *BusCollector {
	return &BusCollector{
		sources: sources,
		deliveredDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_bus_delivered_total", namespace),
			"Total handled bus deliveries (cumulative)",
			[]string{"bus"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_bus_dropped_total", namespace),
			"Total dropped bus deliveries (cumulative)",
			[]string{"bus"}, nil,
		),
	}
}

// Describe sends metric descriptors.
func (c *BusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deliveredDesc
	ch <- c.droppedDesc
}

// Collect gathers current stats and emits ConstMetrics.
func (c *BusCollector) Collect(ch chan<- prometheus.Metric) {
	for name, src := range c.sources {
		delivered, dropped := src.Stats()
		ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(delivered), name)
		ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(dropped), name)
	}
}

// RegisterBus adds a BusCollector for the named sources.
func (m *Metrics) RegisterBus(sources map[string]StatsSource) error {
	if m == nil || len(sources) == 0 {
		return nil
	}
	if err := m.registry.Register(NewBusCollector(sources)); err != nil {
		return fmt.Errorf("register bus collector: %w", err)
	}
	return nil
}
