// Package metrics holds the Prometheus collectors of the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxaar/luxaar/core/aichat"
)

const namespace = "luxaar"

type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	aiStreams     *prometheus.CounterVec
	aiTTFT        *prometheus.HistogramVec
	aiTokens      *prometheus.CounterVec
	aiFallbacks   *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	wsConnections prometheus.Gauge
}

var _ aichat.StreamObserver = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		aiStreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ai", Name: "streams_total",
			Help: "AI chat streams by provider and final status.",
		}, []string{"provider", "status"}),
		aiTTFT: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ai", Name: "time_to_first_token_seconds",
			Help:    "Latency until the first streamed token.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 9),
		}, []string{"provider"}),
		aiTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ai", Name: "completion_tokens_total",
			Help: "Completion tokens streamed to students.",
		}, []string{"provider"}),
		aiFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ai", Name: "fallbacks_total",
			Help: "Provider fallbacks before the first token.",
		}, []string{"from", "to"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "runs_total",
			Help: "Scheduled job runs.",
		}, []string{"job", "success"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "run_duration_seconds",
			Help:    "Duration of scheduled job runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"job"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "notifications", Name: "websocket_connections",
			Help: "Open notification websockets.",
		}),
	}
	m.Registry.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.aiStreams, m.aiTTFT, m.aiTokens, m.aiFallbacks,
		m.jobRuns, m.jobDuration, m.wsConnections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RequestStarted returns the func to call once the request is served.
func (m *Metrics) RequestStarted() func(method, route string, status int) {
	start := time.Now()
	m.httpInFlight.Inc()
	return func(method, route string, status int) {
		m.httpInFlight.Dec()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveStream(status string, am aichat.Metrics) {
	provider := am.Provider
	if provider == "" {
		provider = "none"
	}
	m.aiStreams.WithLabelValues(provider, status).Inc()
	if am.TimeToFirstToken > 0 {
		m.aiTTFT.WithLabelValues(provider).Observe(float64(am.TimeToFirstToken) / 1000)
	}
	if am.CompletionTokens > 0 {
		m.aiTokens.WithLabelValues(provider).Add(float64(am.CompletionTokens))
	}
}

func (m *Metrics) ObserveFallback(from, to string, _ error) {
	m.aiFallbacks.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveJob(job string, d time.Duration, err error) {
	m.jobRuns.WithLabelValues(job, strconv.FormatBool(err == nil)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) WebsocketOpened() { m.wsConnections.Inc() }
func (m *Metrics) WebsocketClosed() { m.wsConnections.Dec() }
