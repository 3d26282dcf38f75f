package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API, the
// ledger workflow and the notification fanout.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	ledgerTransitions   *prometheus.CounterVec
	balanceAnomalies    prometheus.Counter
	deliveries          *prometheus.CounterVec
	droppedEvents       prometheus.Counter
	subscribers         prometheus.Gauge
	redemptionRejection *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	ledgerTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transitions_total",
		Help: "Ledger submissions and decisions by event type",
	}, []string{"event"})

	balanceAnomalies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_balance_anomalies_total",
		Help: "Balance computations that produced a negative raw result",
	})

	redemptionRejection := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_redemption_rejections_total",
		Help: "Redemptions refused by the balance engine by reason",
	}, []string{"reason"})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Per-connection notification deliveries by result",
	}, []string{"result"})

	droppedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_events_dropped_total",
		Help: "Events dropped because the fanout queue was full",
	})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_subscribers",
		Help: "Live notification subscribers",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHits, cacheMisses,
		ledgerTransitions, balanceAnomalies, redemptionRejection,
		deliveries, droppedEvents, subscribers,
		goroutines,
	)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheLatency:        cacheLatency,
		cacheWrite:          cacheWrite,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		ledgerTransitions:   ledgerTransitions,
		balanceAnomalies:    balanceAnomalies,
		redemptionRejection: redemptionRejection,
		deliveries:          deliveries,
		droppedEvents:       droppedEvents,
		subscribers:         subscribers,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordLedgerTransition counts a submission or decision by its event type.
func (m *MetricsService) RecordLedgerTransition(event string) {
	if m == nil {
		return
	}
	m.ledgerTransitions.WithLabelValues(event).Inc()
}

// RecordBalanceAnomaly counts a negative raw balance.
func (m *MetricsService) RecordBalanceAnomaly() {
	if m == nil {
		return
	}
	m.balanceAnomalies.Inc()
}

// RecordRedemptionRejection counts a refused redemption.
func (m *MetricsService) RecordRedemptionRejection(reason string) {
	if m == nil {
		return
	}
	m.redemptionRejection.WithLabelValues(reason).Inc()
}

// RecordDelivery counts one per-connection delivery attempt.
func (m *MetricsService) RecordDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// RecordDroppedEvent counts an event the fanout could not queue.
func (m *MetricsService) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

// SetSubscribers reports the live subscriber count.
func (m *MetricsService) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
