package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the assignment
// engine. All methods are nil-safe so instrumentation stays optional in tests.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	batchFailures   prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "substitution_assignments_total",
		Help: "Total substitute assignments committed",
	}, []string{"mode"})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "substitution_conflict_resolutions_total",
		Help: "Conflicts resolved, labelled by winning strategy",
	}, []string{"strategy"})

	batchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "substitution_batch_failures_total",
		Help: "Requests that failed during batch auto-assignment",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, assignments, resolutions, batchFailures, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		assignments:     assignments,
		resolutions:     resolutions,
		batchFailures:   batchFailures,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordAssignment counts a committed assignment.
func (m *MetricsService) RecordAssignment(auto bool) {
	if m == nil {
		return
	}
	mode := "manual"
	if auto {
		mode = "auto"
	}
	m.assignments.WithLabelValues(mode).Inc()
}

// RecordConflictResolution counts a cascade success by strategy.
func (m *MetricsService) RecordConflictResolution(strategy string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(strategy).Inc()
}

// RecordBatchFailure counts one failed request in a batch run.
func (m *MetricsService) RecordBatchFailure() {
	if m == nil {
		return
	}
	m.batchFailures.Inc()
}

// RecordCacheOperation counts stats-cache hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}
