package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wellintake/manifestcache/internal/cache"
)

// PrometheusCollector exposes the cache client's metrics block through a
// prometheus registry. Counters are read from atomic snapshots on scrape,
// nothing in the hot path touches prometheus directly.
type PrometheusCollector struct {
	client *cache.Client

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	errors      *prometheus.Desc
	connFails   *prometheus.Desc
	timeoutFail *prometheus.Desc
	fallbacks   *prometheus.Desc
	hitRate     *prometheus.Desc
	savingsUSD  *prometheus.Desc
	breakerOpen *prometheus.Desc
	fallbackNow *prometheus.Desc
}

// NewPrometheusCollector creates a collector bound to one cache client
func NewPrometheusCollector(client *cache.Client) *PrometheusCollector {
	return &PrometheusCollector{
		client: client,
		hits: prometheus.NewDesc("manifestcache_hits_total",
			"Cumulative cache hits", nil, nil),
		misses: prometheus.NewDesc("manifestcache_misses_total",
			"Cumulative cache misses", nil, nil),
		errors: prometheus.NewDesc("manifestcache_errors_total",
			"Cumulative cache operation errors", nil, nil),
		connFails: prometheus.NewDesc("manifestcache_connection_failures_total",
			"Cumulative connection failures", nil, nil),
		timeoutFail: prometheus.NewDesc("manifestcache_timeout_failures_total",
			"Cumulative operation timeouts", nil, nil),
		fallbacks: prometheus.NewDesc("manifestcache_fallback_activations_total",
			"Times the client entered fallback mode", nil, nil),
		hitRate: prometheus.NewDesc("manifestcache_hit_rate",
			"Hits over hits plus misses", nil, nil),
		savingsUSD: prometheus.NewDesc("manifestcache_estimated_savings_usd",
			"Estimated generation cost avoided by cache hits", nil, nil),
		breakerOpen: prometheus.NewDesc("manifestcache_circuit_breaker_open",
			"1 when the circuit breaker is open", nil, nil),
		fallbackNow: prometheus.NewDesc("manifestcache_fallback_mode",
			"1 when the client is serving from fallback mode", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.errors
	ch <- c.connFails
	ch <- c.timeoutFail
	ch <- c.fallbacks
	ch <- c.hitRate
	ch <- c.savingsUSD
	ch <- c.breakerOpen
	ch <- c.fallbackNow
}

// Collect implements prometheus.Collector
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.client.Metrics().Snapshot()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(snap.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(snap.Misses))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(snap.Errors))
	ch <- prometheus.MustNewConstMetric(c.connFails, prometheus.CounterValue, float64(snap.ConnectionFailures))
	ch <- prometheus.MustNewConstMetric(c.timeoutFail, prometheus.CounterValue, float64(snap.TimeoutFailures))
	ch <- prometheus.MustNewConstMetric(c.fallbacks, prometheus.CounterValue, float64(snap.FallbackActivations))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, snap.HitRate)
	ch <- prometheus.MustNewConstMetric(c.savingsUSD, prometheus.GaugeValue, snap.EstimatedSavingsUSD)

	breaker := c.client.BreakerState()
	open := 0.0
	if breaker.Open {
		open = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.breakerOpen, prometheus.GaugeValue, open)

	fallback, _ := c.client.FallbackState()
	fb := 0.0
	if fallback {
		fb = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.fallbackNow, prometheus.GaugeValue, fb)
}

// NewRegistry builds a dedicated prometheus registry holding the cache
// collector
func NewRegistry(client *cache.Client) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPrometheusCollector(client))
	return reg
}
