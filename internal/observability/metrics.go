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

// Metrics stores Prometheus collectors for the relay API and gateway sends.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	gatewayRequestDuration   *prometheus.HistogramVec
	sendsInflight            *prometheus.GaugeVec
	invalidDeviceTokensTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apns_gateway",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apns_gateway",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apns_gateway",
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications accepted by the gateway.",
			},
			[]string{"environment"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apns_gateway",
				Name:      "notifications_failed_total",
				Help:      "Total number of failed sends grouped by error kind.",
			},
			[]string{"environment", "kind"},
		),
		gatewayRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apns_gateway",
				Name:      "gateway_request_duration_seconds",
				Help:      "Gateway exchange duration in seconds grouped by environment.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"environment"},
		),
		sendsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "apns_gateway",
				Name:      "sends_inflight",
				Help:      "Current number of in-flight gateway sends grouped by environment.",
			},
			[]string{"environment"},
		),
		invalidDeviceTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apns_gateway",
				Name:      "invalid_device_tokens_total",
				Help:      "Total number of device tokens the gateway reported as no longer valid.",
			},
			[]string{"environment"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.gatewayRequestDuration,
		m.sendsInflight,
		m.invalidDeviceTokensTotal,
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

func (m *Metrics) IncNotificationSent(environment string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(environment)).Inc()
}

// IncNotificationFailed counts a failed send. kind is the apns.ErrorKind name
// and is kept as-is since gateway reasons are case sensitive.
func (m *Metrics) IncNotificationFailed(environment string, kind string) {
	if m == nil {
		return
	}
	kindLabel := strings.TrimSpace(kind)
	if kindLabel == "" {
		kindLabel = "Unknown"
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(environment), kindLabel).Inc()
}

func (m *Metrics) ObserveGatewayDuration(environment string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.gatewayRequestDuration.WithLabelValues(normalizeLabel(environment)).Observe(seconds)
}

func (m *Metrics) IncSendInFlight(environment string) {
	if m == nil {
		return
	}
	m.sendsInflight.WithLabelValues(normalizeLabel(environment)).Inc()
}

func (m *Metrics) DecSendInFlight(environment string) {
	if m == nil {
		return
	}
	m.sendsInflight.WithLabelValues(normalizeLabel(environment)).Dec()
}

func (m *Metrics) IncInvalidDeviceToken(environment string) {
	if m == nil {
		return
	}
	m.invalidDeviceTokensTotal.WithLabelValues(normalizeLabel(environment)).Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
