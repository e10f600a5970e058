// Package metrics is the Metrics Collector (C8): CORTEX's own Prometheus
// series plus the per-model engine metrics aggregation the admin UI reads.
//
// Grounded on r3e-network-service_layer's pkg/metrics package (a private
// prometheus.Registry, CounterVec/HistogramVec/GaugeVec series registered in
// init-style construction, an http.Handler built from promhttp.HandlerFor)
// generalized from that package's HTTP/automation/oracle domains to the
// series named in §4.8.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every CORTEX-native Prometheus series and satisfies both
// gateway.Metrics and selector.blockedCounter structurally.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	upstreamLatency   *prometheus.HistogramVec
	upstreamLatencyBy *prometheus.HistogramVec
	streamTTFT        *prometheus.HistogramVec
	upstreamSelected  *prometheus.CounterVec
	keyAuthAllowed    *prometheus.CounterVec
	keyAuthBlocked    *prometheus.CounterVec
	upstreamBlocked   *prometheus.CounterVec
	upstreamHealth    *prometheus.GaugeVec
}

// New constructs a Collector with its own private registry so test
// instances never collide with each other or with a process-wide default
// registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total number of /v1 requests handled, by route and status.",
		}, []string{"route", "status"}),

		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "upstream_latency_seconds",
			Help:      "Upstream round-trip latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		upstreamLatencyBy: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "upstream_latency_by_upstream_seconds",
			Help:      "Upstream round-trip latency by route and backend base URL.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "backend"}),

		streamTTFT: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "stream_ttft_seconds",
			Help:      "Time to first streamed token by route.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"route"}),

		upstreamSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "upstream_selected_total",
			Help:      "Number of times a backend was selected to serve a route.",
		}, []string{"route", "backend"}),

		keyAuthAllowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "key_auth_allowed_total",
			Help:      "Number of requests that passed authentication and rate limiting.",
		}, []string{"reason"}),

		keyAuthBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "key_auth_blocked_total",
			Help:      "Number of requests rejected during authentication or rate limiting, by reason.",
		}, []string{"reason"}),

		upstreamBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "upstream_blocked_total",
			Help:      "Number of times the circuit breaker refused a candidate backend.",
		}, []string{"route"}),

		upstreamHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "upstream_health",
			Help:      "Most recent health probe result per backend (1=healthy, 0=unhealthy).",
		}, []string{"backend"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestLatency,
		c.upstreamLatency,
		c.upstreamLatencyBy,
		c.streamTTFT,
		c.upstreamSelected,
		c.keyAuthAllowed,
		c.keyAuthBlocked,
		c.upstreamBlocked,
		c.upstreamHealth,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return c
}

// Handler returns the /metrics endpoint's http.Handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRequest(route string, status int, latency time.Duration) {
	c.requestsTotal.WithLabelValues(route, statusBucket(status)).Inc()
	c.requestLatency.WithLabelValues(route).Observe(latency.Seconds())
}

func (c *Collector) ObserveUpstreamLatency(route string, latency time.Duration) {
	c.upstreamLatency.WithLabelValues(route).Observe(latency.Seconds())
}

func (c *Collector) ObserveUpstreamLatencyByUpstream(route, backend string, latency time.Duration) {
	c.upstreamLatencyBy.WithLabelValues(route, backend).Observe(latency.Seconds())
}

func (c *Collector) ObserveStreamTTFT(route string, ttft time.Duration) {
	c.streamTTFT.WithLabelValues(route).Observe(ttft.Seconds())
}

func (c *Collector) IncUpstreamSelected(route, backend string) {
	c.upstreamSelected.WithLabelValues(route, backend).Inc()
}

func (c *Collector) IncKeyAuthAllowed(reason string) {
	c.keyAuthAllowed.WithLabelValues(reason).Inc()
}

func (c *Collector) IncKeyAuthBlocked(reason string) {
	c.keyAuthBlocked.WithLabelValues(reason).Inc()
}

// IncUpstreamBlocked satisfies the Upstream Selector's narrow
// blockedCounter interface (internal/selector).
func (c *Collector) IncUpstreamBlocked(route string) {
	c.upstreamBlocked.WithLabelValues(route).Inc()
}

// SetUpstreamHealth publishes the health poller's most recent snapshot for
// a backend (§4.8: "per-upstream health gauge").
func (c *Collector) SetUpstreamHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.upstreamHealth.WithLabelValues(backend).Set(v)
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
