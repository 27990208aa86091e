// Package metrics exposes Prometheus counters for strategy outcomes, cache
// writes and lifecycle transitions. A nil *Metrics is valid and records
// nothing, so components can be built without observability in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	strategyResults *prometheus.CounterVec
	cacheWrites     *prometheus.CounterVec
	precacheEntries *prometheus.CounterVec
	storesEvicted   prometheus.Counter
	requestDuration *prometheus.HistogramVec
	versionInfo     *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	strategyResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_strategy_results_total",
		Help: "Strategy executions by outcome",
	}, []string{"strategy", "outcome"})

	cacheWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_cache_writes_total",
		Help: "Cache puts by store and result",
	}, []string{"store", "result"})

	precacheEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_precache_entries_total",
		Help: "Precache entries processed during install",
	}, []string{"result"})

	storesEvicted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edge_stores_evicted_total",
		Help: "Stale cache stores deleted during activate",
	})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_request_duration_seconds",
		Help:    "Edge request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	versionInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_active_version_info",
		Help: "Active cache version and lifecycle state",
	}, []string{"version", "state"})

	registry.MustRegister(strategyResults, cacheWrites, precacheEntries, storesEvicted, requestDuration, versionInfo)

	return &Metrics{
		registry:        registry,
		strategyResults: strategyResults,
		cacheWrites:     cacheWrites,
		precacheEntries: precacheEntries,
		storesEvicted:   storesEvicted,
		requestDuration: requestDuration,
		versionInfo:     versionInfo,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordStrategy(strategy string, outcome string) {
	if m == nil {
		return
	}
	m.strategyResults.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) RecordCacheWrite(store string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cacheWrites.WithLabelValues(store, result).Inc()
}

func (m *Metrics) RecordPrecache(result string) {
	if m == nil {
		return
	}
	m.precacheEntries.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEviction(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.storesEvicted.Add(float64(count))
}

func (m *Metrics) ObserveRequest(route string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetLifecycle keeps a single series per version, flipping the state label.
func (m *Metrics) SetLifecycle(version string, state string) {
	if m == nil {
		return
	}
	m.versionInfo.Reset()
	m.versionInfo.WithLabelValues(version, state).Set(1)
}
