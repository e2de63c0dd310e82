// Package metrics exposes prometheus counters for the tokenization engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeOK     = "ok"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

// Collector holds the engine metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	recomputesTotal   *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
	settlementsTotal  prometheus.Counter
	copiesTotal       *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
}

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.recomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputes_total",
			Help:      "Total number of result set recomputations",
		},
		[]string{"mode", "outcome"},
	)

	c.recomputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Time spent computing a result set",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"mode"},
	)

	c.settlementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Total number of debounced input settlements",
		},
	)

	c.copiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copies_total",
			Help:      "Total number of clipboard export attempts",
		},
		[]string{"outcome"},
	)

	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Encode cache lookups by result",
		},
		[]string{"result"},
	)

	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.registry.MustRegister(
		c.recomputesTotal,
		c.recomputeDuration,
		c.settlementsTotal,
		c.copiesTotal,
		c.cacheLookups,
		c.httpRequestsTotal,
	)
	return c
}

// RecordRecompute records one recomputation.
func (c *Collector) RecordRecompute(mode, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.recomputesTotal.WithLabelValues(mode, outcome).Inc()
	c.recomputeDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordSettlement records a debounce settlement.
func (c *Collector) RecordSettlement() {
	if c == nil {
		return
	}
	c.settlementsTotal.Inc()
}

// RecordCopy records a clipboard export attempt.
func (c *Collector) RecordCopy(outcome string) {
	if c == nil {
		return
	}
	c.copiesTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records an encode cache hit or miss.
func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
