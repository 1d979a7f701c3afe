// Package metrics provides Prometheus metrics collection for poolgate.
package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/poolgate/ports"
)

const namespace = "poolgate"

// Collector holds all Prometheus metrics for poolgate.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RequestFailures  *prometheus.CounterVec

	// Upstream metrics
	UpstreamAttempts *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	// Alert metrics
	AlertsTotal *prometheus.CounterVec

	// Usage metrics
	UsageTokens *prometheus.CounterVec
	UsageCost   *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector on a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		RequestFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_failures_total",
				Help:      "Relay requests no account could serve, by failure kind",
			},
			[]string{"reason"},
		),
		UpstreamAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_attempts_total",
				Help:      "Upstream attempts by platform and outcome",
			},
			[]string{"platform", "outcome"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream attempt duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"platform"},
		),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failure_alerts_total",
				Help:      "Failure alerts by kind and whether they were throttled",
			},
			[]string{"kind", "throttled"},
		),
		UsageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_tokens_total",
				Help:      "Tokens metered by platform and model",
			},
			[]string{"platform", "model"},
		),
		UsageCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_cost_usd_total",
				Help:      "Cost metered in USD by platform and model",
			},
			[]string{"platform", "model"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// UpstreamAttempt records one relay call.
func (c *Collector) UpstreamAttempt(platform, outcome string, seconds float64) {
	c.UpstreamAttempts.WithLabelValues(platform, outcome).Inc()
	c.UpstreamDuration.WithLabelValues(platform).Observe(seconds)
}

// RequestFailed records a request that exhausted failover.
func (c *Collector) RequestFailed(reason string) {
	c.RequestFailures.WithLabelValues(reason).Inc()
}

// AlertSent records a delivered or throttled alert.
func (c *Collector) AlertSent(final, throttled bool) {
	kind := "recoverable"
	if final {
		kind = "final"
	}
	c.AlertsTotal.WithLabelValues(kind, strconv.FormatBool(throttled)).Inc()
}

// UsageCharged records metered usage.
func (c *Collector) UsageCharged(platform, model string, tokens int64, cost float64) {
	if tokens > 0 {
		c.UsageTokens.WithLabelValues(platform, model).Add(float64(tokens))
	}
	if cost > 0 {
		c.UsageCost.WithLabelValues(platform, model).Add(cost)
	}
}

// StatusClass reduces a status code to "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// NormalizePath reduces cardinality of unmatched paths.
// Routed requests should use the router pattern instead.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}

// Ensure interface compliance.
var _ ports.Metrics = (*Collector)(nil)
