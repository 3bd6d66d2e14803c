// Package metrics exposes store statistics as prometheus metrics. The
// collector pulls counters from the store on scrape; the engine is a
// library and never binds a listener, so the embedding application mounts
// Handler wherever it serves metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tierstore/tierstore/pkg/types"
)

// Collector implements prometheus.Collector over a store's statistics.
type Collector struct {
	source func() types.StoreStats

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	faults      *prometheus.Desc
	puts        *prometheus.Desc
	removes     *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	occupancy   *prometheus.Desc
	capacity    *prometheus.Desc
	hitRate     *prometheus.Desc
	utilization *prometheus.Desc
}

// NewCollector creates a collector reading from source on every scrape.
func NewCollector(namespace string, source func() types.StoreStats) *Collector {
	if namespace == "" {
		namespace = "tierstore"
	}
	labels := []string{"tier"}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", name), help, labels, nil)
	}

	return &Collector{
		source:      source,
		hits:        desc("hits_total", "Reads served by the tier."),
		misses:      desc("misses_total", "Reads the tier could not serve."),
		faults:      desc("faults_total", "Loads triggered by tier misses."),
		puts:        desc("puts_total", "Entries installed in the tier."),
		removes:     desc("removes_total", "Entries explicitly removed from the tier."),
		evictions:   desc("evictions_total", "Entries evicted to stay within capacity."),
		expirations: desc("expirations_total", "Entries dropped because they expired."),
		occupancy:   desc("occupancy", "Current occupancy in the tier's capacity unit."),
		capacity:    desc("capacity", "Configured capacity in the tier's capacity unit."),
		hitRate:     desc("hit_rate", "Fraction of reads served by the tier."),
		utilization: desc("utilization", "Occupancy as a fraction of capacity."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.faults
	ch <- c.puts
	ch <- c.removes
	ch <- c.evictions
	ch <- c.expirations
	ch <- c.occupancy
	ch <- c.capacity
	ch <- c.hitRate
	ch <- c.utilization
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source()
	c.collectTier(ch, "caching", stats.Caching)
	c.collectTier(ch, "authority", stats.Authority)
}

func (c *Collector) collectTier(ch chan<- prometheus.Metric, tier string, s types.TierStats) {
	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), tier)
	}
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, tier)
	}

	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.faults, s.Faults)
	counter(c.puts, s.Puts)
	counter(c.removes, s.Removes)
	counter(c.evictions, s.Evictions)
	counter(c.expirations, s.Expirations)
	gauge(c.occupancy, float64(s.Occupancy))
	gauge(c.capacity, float64(s.Capacity))
	gauge(c.hitRate, s.HitRate)
	gauge(c.utilization, s.Utilization)
}

// Handler returns an http.Handler serving this collector from a private
// registry, ready to mount on the application's mux.
func (c *Collector) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
