package rescache

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by every Cache instantiation.
type StatsSource interface {
	Stats() Stats
	Len() int
	Pending() int
}

// PrometheusCollector exposes cache counters as
// <namespace>_{producers,waiters,hits,failures,timeouts,evictions}_total
// plus <namespace>_ready_entries and <namespace>_preparing_entries gauges,
// all labelled with the cache name. Values are read on scrape.
type PrometheusCollector struct {
	name   string
	source StatsSource

	producers, waiters, hits, failures, timeouts, evictions *prometheus.Desc
	ready, preparing                                        *prometheus.Desc
}

// NewPrometheusCollector creates a collector for source. namespace defaults
// to modubot_rescache.
func NewPrometheusCollector(source StatsSource, namespace, name string) *PrometheusCollector {
	if namespace == "" {
		namespace = "modubot_rescache"
	}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(fmt.Sprintf("%s_%s", namespace, metric), help, nil, prometheus.Labels{"cache": name})
	}
	return &PrometheusCollector{
		name:      name,
		source:    source,
		producers: desc("producers_total", "Callers that became the producer for a key"),
		waiters:   desc("waiters_total", "Callers that waited on another producer"),
		hits:      desc("hits_total", "Callers served from a ready artifact"),
		failures:  desc("failures_total", "Productions resolved with an error"),
		timeouts:  desc("timeouts_total", "Productions abandoned after the production timeout"),
		evictions: desc("evictions_total", "Artifacts removed from the ready set"),
		ready:     desc("ready_entries", "Artifacts currently ready"),
		preparing: desc("preparing_entries", "Keys currently being produced"),
	}
}

// Describe sends metric descriptors.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.producers, c.waiters, c.hits, c.failures, c.timeouts, c.evictions, c.ready, c.preparing} {
		ch <- d
	}
}

// Collect emits the current values.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.producers, s.Producers)
	counter(c.waiters, s.Waiters)
	counter(c.hits, s.Hits)
	counter(c.failures, s.Failures)
	counter(c.timeouts, s.Timeouts)
	counter(c.evictions, s.Evictions)
	ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, float64(c.source.Len()))
	ch <- prometheus.MustNewConstMetric(c.preparing, prometheus.GaugeValue, float64(c.source.Pending()))
}
