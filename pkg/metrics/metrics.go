package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 核心监控指标集合
type Metrics struct {
	registry *prometheus.Registry

	ActiveCalls        prometheus.Gauge
	CallsInitiated     prometheus.Counter
	CallsCompleted     *prometheus.CounterVec
	AdmissionsRejected prometheus.Counter
	ProviderRetries    *prometheus.CounterVec
	WebhooksReceived   *prometheus.CounterVec
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
}

// New 创建并注册全部指标
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voxen_active_calls",
			Help: "Number of calls currently holding a concurrency token.",
		}),
		CallsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxen_calls_initiated_total",
			Help: "Total calls admitted and placed.",
		}),
		CallsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxen_calls_terminal_total",
			Help: "Calls reaching a terminal status.",
		}, []string{"status"}),
		AdmissionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxen_admissions_rejected_total",
			Help: "Call initiations rejected by rate limit or concurrency cap.",
		}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxen_provider_retries_total",
			Help: "Retry attempts against external providers.",
		}, []string{"service"}),
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxen_webhooks_received_total",
			Help: "Provider webhooks received, by reported status.",
		}, []string{"status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxen_response_cache_hits_total",
			Help: "Response cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxen_response_cache_misses_total",
			Help: "Response cache misses.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxen_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	registry.MustRegister(
		m.ActiveCalls,
		m.CallsInitiated,
		m.CallsCompleted,
		m.AdmissionsRejected,
		m.ProviderRetries,
		m.WebhooksReceived,
		m.CacheHits,
		m.CacheMisses,
		m.RequestDuration,
	)

	return m
}

// Handler 返回 /metrics 的 gin 处理器
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
