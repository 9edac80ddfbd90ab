package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics owns its own registry so each Server (and each test fixture)
// registers collectors without colliding on the global default.
type ServerMetrics struct {
	Registry    *prometheus.Registry
	Requests    *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
	Webhooks    *prometheus.CounterVec
	Idempotency *prometheus.CounterVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentcheckout",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentcheckout",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentcheckout",
		Subsystem: service,
		Name:      "webhook_events_total",
		Help:      "Webhook events by type and final status.",
	}, []string{"event_type", "status"})
	idem := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentcheckout",
		Subsystem: service,
		Name:      "idempotency_requests_total",
		Help:      "Idempotency outcomes (miss/replay/conflict/in_flight).",
	}, []string{"outcome"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(requests, latency, webhooks, idem)
	return &ServerMetrics{
		Registry:    reg,
		Requests:    requests,
		LatencyMS:   latency,
		Webhooks:    webhooks,
		Idempotency: idem,
	}
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
