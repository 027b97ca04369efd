// Package metrics exposes Prometheus instrumentation for every subsystem:
// Token Manager refreshes, Model Registry refresh outcomes, Load Balancer
// selections, and per-family proxy request latency/usage, the same way the
// teacher wires a private registry and a fasthttp-adapted /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry wraps a private prometheus.Registry plus every metric the
// gateway records.
type Registry struct {
	reg *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	tokenRefreshTotal    *prometheus.CounterVec
	tokenRefreshDuration *prometheus.HistogramVec

	registryRefreshTotal    *prometheus.CounterVec
	registryRefreshDuration prometheus.Histogram
	registryAvailableModels prometheus.Gauge

	lbSelections *prometheus.CounterVec

	proxyRequestsTotal *prometheus.CounterVec
	proxyDuration      *prometheus.HistogramVec
	proxyTokensTotal   *prometheus.CounterVec
	failoverAttempts   *prometheus.CounterVec
}

// New builds a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total inbound HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request handler duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		tokenRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_token_refresh_total",
			Help: "OAuth token refreshes by provider and outcome.",
		}, []string{"provider", "outcome"}),
		tokenRefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_token_refresh_duration_seconds",
			Help:    "OAuth token exchange duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		registryRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_registry_refresh_total",
			Help: "Model Registry refresh iterations by provider and outcome.",
		}, []string{"provider", "outcome"}),
		registryRefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_registry_refresh_duration_seconds",
			Help:    "Model Registry full refresh iteration duration.",
			Buckets: prometheus.DefBuckets,
		}),
		registryAvailableModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_registry_available_models",
			Help: "Number of canonical models with at least one resolved deployment.",
		}),

		lbSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_loadbalancer_selections_total",
			Help: "Load Balancer head-of-list selections by provider.",
		}, []string{"provider"}),

		proxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Proxied requests by family, provider, and outcome.",
		}, []string{"family", "provider", "outcome"}),
		proxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "Upstream proxy request duration by family.",
			Buckets: prometheus.DefBuckets,
		}, []string{"family"}),
		proxyTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_proxy_tokens_total",
			Help: "Usage tokens observed in proxied responses.",
		}, []string{"family", "provider", "direction"}),
		failoverAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_failover_attempts_total",
			Help: "Per-request failover attempts by resulting reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		r.httpRequestsTotal, r.httpDuration,
		r.tokenRefreshTotal, r.tokenRefreshDuration,
		r.registryRefreshTotal, r.registryRefreshDuration, r.registryAvailableModels,
		r.lbSelections,
		r.proxyRequestsTotal, r.proxyDuration, r.proxyTokensTotal, r.failoverAttempts,
	)

	return r
}

func (r *Registry) RecordHTTPRequest(route, status string, seconds float64) {
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(seconds)
}

func (r *Registry) RecordTokenRefresh(provider, outcome string, seconds float64) {
	r.tokenRefreshTotal.WithLabelValues(provider, outcome).Inc()
	r.tokenRefreshDuration.WithLabelValues(provider).Observe(seconds)
}

func (r *Registry) RecordRegistryRefresh(provider, outcome string) {
	r.registryRefreshTotal.WithLabelValues(provider, outcome).Inc()
}

func (r *Registry) ObserveRegistryRefreshDuration(seconds float64) {
	r.registryRefreshDuration.Observe(seconds)
}

func (r *Registry) SetAvailableModels(n int) {
	r.registryAvailableModels.Set(float64(n))
}

func (r *Registry) RecordLoadBalancerSelection(provider string) {
	r.lbSelections.WithLabelValues(provider).Inc()
}

func (r *Registry) RecordProxyRequest(family, provider, outcome string, seconds float64) {
	r.proxyRequestsTotal.WithLabelValues(family, provider, outcome).Inc()
	r.proxyDuration.WithLabelValues(family).Observe(seconds)
}

func (r *Registry) RecordTokens(family, provider string, input, output int) {
	r.proxyTokensTotal.WithLabelValues(family, provider, "input").Add(float64(input))
	r.proxyTokensTotal.WithLabelValues(family, provider, "output").Add(float64(output))
}

func (r *Registry) RecordFailoverAttempt(reason string) {
	r.failoverAttempts.WithLabelValues(reason).Inc()
}

// Handler returns a fasthttp handler serving this registry's metrics.
func (r *Registry) Handler() fasthttp.RequestHandler {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// PromRegistry exposes the underlying prometheus.Registry for advanced use.
func (r *Registry) PromRegistry() *prometheus.Registry {
	return r.reg
}
