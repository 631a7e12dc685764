package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and pipeline flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	unitsCompletedTotal     prometheus.Counter
	unitsFailedTotal        *prometheus.CounterVec
	unitsAbortedTotal       prometheus.Counter
	unitsInflight           prometheus.Gauge
	stageDuration           *prometheus.HistogramVec
	acquireDuration         *prometheus.HistogramVec
	notifyPushesTotal       prometheus.Counter
	notifyDispatchFailures  prometheus.Counter
	batchesFinalizedTotal   *prometheus.CounterVec
	resultsPublishedTotal   prometheus.Counter
	resultsPublishFailures  prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "provengine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		unitsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "units_completed_total",
				Help:      "Total number of units that reached COMPLETED.",
			},
		),
		unitsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "units_failed_total",
				Help:      "Total number of units that ended in FAILED, by stage and failure kind.",
			},
			[]string{"stage", "kind"},
		),
		unitsAbortedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "units_aborted_total",
				Help:      "Total number of units aborted by batch cancellation.",
			},
		),
		unitsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "provengine",
				Name:      "units_inflight",
				Help:      "Current number of units holding an admission slot.",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "provengine",
				Name:      "stage_duration_seconds",
				Help:      "Duration of the backend operation behind each stage transition.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		),
		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "provengine",
				Name:      "acquire_duration_seconds",
				Help:      "Resource acquisition duration in seconds grouped by capability.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"capability"},
		),
		notifyPushesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "notify_pushes_total",
				Help:      "Total number of progress updates delivered to the chat channel.",
			},
		),
		notifyDispatchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "notify_dispatch_failures_total",
				Help:      "Total number of progress update pushes that failed and were deferred to the next tick.",
			},
		),
		batchesFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "batches_finalized_total",
				Help:      "Total number of batches that reached a terminal state, by outcome.",
			},
			[]string{"outcome"},
		),
		resultsPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "results_published_total",
				Help:      "Total number of unit result records published to the export queue.",
			},
		),
		resultsPublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "provengine",
				Name:      "results_publish_failures_total",
				Help:      "Total number of export queue publishes that failed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.unitsCompletedTotal,
		m.unitsFailedTotal,
		m.unitsAbortedTotal,
		m.unitsInflight,
		m.stageDuration,
		m.acquireDuration,
		m.notifyPushesTotal,
		m.notifyDispatchFailures,
		m.batchesFinalizedTotal,
		m.resultsPublishedTotal,
		m.resultsPublishFailures,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncUnitCompleted() {
	if m == nil {
		return
	}
	m.unitsCompletedTotal.Inc()
}

func (m *Metrics) IncUnitFailed(stage string, kind string) {
	if m == nil {
		return
	}
	m.unitsFailedTotal.WithLabelValues(normalizeLabel(stage), normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncUnitAborted() {
	if m == nil {
		return
	}
	m.unitsAbortedTotal.Inc()
}

func (m *Metrics) IncUnitInFlight() {
	if m == nil {
		return
	}
	m.unitsInflight.Inc()
}

func (m *Metrics) DecUnitInFlight() {
	if m == nil {
		return
	}
	m.unitsInflight.Dec()
}

func (m *Metrics) ObserveStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveAcquireDuration(capability string, duration time.Duration) {
	if m == nil {
		return
	}
	m.acquireDuration.WithLabelValues(normalizeLabel(capability)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncNotifyPush() {
	if m == nil {
		return
	}
	m.notifyPushesTotal.Inc()
}

func (m *Metrics) IncNotifyDispatchFailure() {
	if m == nil {
		return
	}
	m.notifyDispatchFailures.Inc()
}

func (m *Metrics) IncBatchFinalized(outcome string) {
	if m == nil {
		return
	}
	m.batchesFinalizedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncResultPublished() {
	if m == nil {
		return
	}
	m.resultsPublishedTotal.Inc()
}

func (m *Metrics) IncResultPublishFailure() {
	if m == nil {
		return
	}
	m.resultsPublishFailures.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
