// Package metrics provides Prometheus metrics collection for docbase.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/docbase/core/module"
)

// Collector holds all Prometheus metrics for the call pipeline. It
// implements module.Observer.
type Collector struct {
	// Call metrics
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	CallsInFlight prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docbase",
				Name:      "calls_total",
				Help:      "Total number of module calls processed",
			},
			[]string{"module", "method", "status"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "docbase",
				Name:      "call_duration_seconds",
				Help:      "Module call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"module", "method"},
		),
		CallsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "docbase",
				Name:      "calls_in_flight",
				Help:      "Number of module calls currently being processed",
			},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docbase",
				Name:      "cache_hits_total",
				Help:      "Total number of read-cache hits",
			},
			[]string{"module"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "docbase",
				Name:      "cache_misses_total",
				Help:      "Total number of read-cache misses",
			},
			[]string{"module"},
		),
	}
}

// CallStarted records a call entering the pipeline.
func (c *Collector) CallStarted(module, method string) {
	c.CallsInFlight.Inc()
}

// CallFinished records a completed call with its status class.
func (c *Collector) CallFinished(module, method string, status int, elapsed time.Duration) {
	c.CallsInFlight.Dec()
	c.CallsTotal.WithLabelValues(module, method, statusClass(status)).Inc()
	c.CallDuration.WithLabelValues(module, method).Observe(elapsed.Seconds())
}

// CacheHit records a cache hit for a module's read cache.
func (c *Collector) CacheHit(module string) {
	c.CacheHits.WithLabelValues(module).Inc()
}

// CacheMiss records a cache miss for a module's read cache.
func (c *Collector) CacheMiss(module string) {
	c.CacheMisses.WithLabelValues(module).Inc()
}

// statusClass reduces cardinality by grouping statuses into classes.
// e.g., 404 -> 4xx
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Ensure interface compliance.
var _ module.Observer = (*Collector)(nil)
