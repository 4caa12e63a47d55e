package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the application metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Report storage metrics
	StorageOperationTotal *prometheus.CounterVec
	QuotaEvictionTotal    prometheus.Counter

	// Ingredient health cache metrics
	CacheLookupTotal   *prometheus.CounterVec
	CacheEvictionTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance backed by its own registry
func New() *Metrics {
	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_storage_operations_total",
			Help: "Total number of report storage operations per backend",
		}, []string{"backend", "operation", "status"}),

		QuotaEvictionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kv_quota_evictions_total",
			Help: "Total number of records evicted by key-value quota cleanup",
		}),

		CacheLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingredient_cache_lookups_total",
			Help: "Ingredient health cache lookups by result",
		}, []string{"result"}),

		CacheEvictionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingredient_cache_evictions_total",
			Help: "Ingredient health cache evictions by reason",
		}, []string{"reason"}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestTotal,
		m.HTTPRequestDuration,
		m.StorageOperationTotal,
		m.QuotaEvictionTotal,
		m.CacheLookupTotal,
		m.CacheEvictionTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.HTTPRequestTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

// ObserveStorage records one backend operation and its outcome
func (m *Metrics) ObserveStorage(backend, operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StorageOperationTotal.WithLabelValues(backend, operation, status).Inc()
}

// QuotaEvicted records records removed by quota cleanup
func (m *Metrics) QuotaEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QuotaEvictionTotal.Add(float64(n))
}

// CacheLookup records a cache lookup result: hit, miss or coalesced
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupTotal.WithLabelValues(result).Inc()
}

// CacheEvicted records cache entries removed for the given reason
func (m *Metrics) CacheEvicted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictionTotal.WithLabelValues(reason).Add(float64(n))
}
