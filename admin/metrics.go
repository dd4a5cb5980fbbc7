package admin

import (
	"net/http"
	"slices"

	"github.com/GoCodeAlone/modubot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// capabilityCollector forwards to every prometheus.Collector currently
// published in the metrics capability namespace. Modules come and go, so it
// registers as an unchecked collector and describes nothing up front.
type capabilityCollector struct {
	caps *modubot.CapabilityRegistry
}

func (c capabilityCollector) Describe(chan<- *prometheus.Desc) {}

func (c capabilityCollector) Collect(ch chan<- prometheus.Metric) {
	entries := c.caps.Namespace(modubot.MetricsNamespace)
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if collector, ok := entries[key].(prometheus.Collector); ok {
			collector.Collect(ch)
		}
	}
}

// NewMetricsRegistry builds a registry with Go runtime and process metrics and the
// collectors modules publish under the metrics namespace of caps.
func NewMetricsRegistry(caps *modubot.CapabilityRegistry) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		capabilityCollector{caps: caps},
	)
	return registry
}

// MetricsHandler serves the metrics of caps in the Prometheus text format.
func MetricsHandler(caps *modubot.CapabilityRegistry) http.Handler {
	registry := NewMetricsRegistry(caps)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
