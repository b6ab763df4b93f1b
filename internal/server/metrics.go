package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry          *prometheus.Registry
	invocationsTotal  *prometheus.CounterVec
	invocationSeconds *prometheus.HistogramVec
	rejectedTotal     *prometheus.CounterVec
}

func newMetricsRegistry() *metricsRegistry {
	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftcore_invocations_total",
		Help: "Invocations handled, by operation and resulting workflow status",
	}, []string{"operation", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nftcore_invocation_duration_seconds",
		Help:    "Time spent handling one invocation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nftcore_rejected_requests_total",
		Help: "Requests rejected before reaching the dispatcher",
	}, []string{"reason"})

	r := prometheus.NewRegistry()
	r.MustRegister(invocations, duration, rejected)

	return &metricsRegistry{
		registry:          r,
		invocationsTotal:  invocations,
		invocationSeconds: duration,
		rejectedTotal:     rejected,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observe(operation, status string, elapsed time.Duration) {
	m.invocationsTotal.WithLabelValues(operation, status).Inc()
	m.invocationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *metricsRegistry) incRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}
