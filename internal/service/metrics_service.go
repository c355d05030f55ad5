package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the fee ledger.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	paymentsRecorded *prometheus.CounterVec
	paymentsDeleted  prometheus.Counter
	ledgerRecomputes prometheus.Counter
	cascadeRefreshes prometheus.Counter
	cascadeSkips     prometheus.Counter
	graduations      prometheus.Counter
	archivals        prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
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

	paymentsRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Total payments appended to the journal",
	}, []string{"method"})

	paymentsDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_deleted_total",
		Help: "Total payments removed from the journal",
	})

	ledgerRecomputes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_recomputes_total",
		Help: "Total balance recomputations",
	})

	cascadeRefreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_refreshes_total",
		Help: "Total future ledger rows refreshed by the forward cascade",
	})

	cascadeSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cascade_skips_total",
		Help: "Total cascade refreshes skipped due to errors",
	})

	graduations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graduations_total",
		Help: "Total students graduated",
	})

	archivals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archivals_total",
		Help: "Total students archived",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total balance cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total balance cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, paymentsRecorded, paymentsDeleted, ledgerRecomputes, cascadeRefreshes, cascadeSkips, graduations, archivals, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		paymentsRecorded: paymentsRecorded,
		paymentsDeleted:  paymentsDeleted,
		ledgerRecomputes: ledgerRecomputes,
		cascadeRefreshes: cascadeRefreshes,
		cascadeSkips:     cascadeSkips,
		graduations:      graduations,
		archivals:        archivals,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
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

// RecordPayment counts a journal append by method.
func (m *MetricsService) RecordPayment(method string) {
	if m == nil {
		return
	}
	m.paymentsRecorded.WithLabelValues(method).Inc()
}

// RecordPaymentDeleted counts a journal removal.
func (m *MetricsService) RecordPaymentDeleted() {
	if m == nil {
		return
	}
	m.paymentsDeleted.Inc()
}

// RecordRecompute counts a balance recomputation.
func (m *MetricsService) RecordRecompute() {
	if m == nil {
		return
	}
	m.ledgerRecomputes.Inc()
}

// RecordCascade counts refreshed and skipped rows from one cascade run.
func (m *MetricsService) RecordCascade(refreshed, skipped int) {
	if m == nil {
		return
	}
	m.cascadeRefreshes.Add(float64(refreshed))
	m.cascadeSkips.Add(float64(skipped))
}

// RecordGraduation counts a student graduation.
func (m *MetricsService) RecordGraduation() {
	if m == nil {
		return
	}
	m.graduations.Inc()
}

// RecordArchival counts a student archival.
func (m *MetricsService) RecordArchival() {
	if m == nil {
		return
	}
	m.archivals.Inc()
}

// RecordCacheLookup counts a balance cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
