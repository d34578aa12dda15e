// Package metrics exposes the service's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"repohub/internal/domain/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "repohub"

// Metrics implements service.AuthMetrics.
type Metrics struct {
	registry          *prometheus.Registry
	authEvents        *prometheus.CounterVec
	rateLimitRequests *prometheus.CounterVec
	revocationsPruned prometheus.Counter
}

// New registers all collectors, including the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "auth_events_total", Help: "Auth operations by outcome."},
			[]string{"operation", "outcome"},
		),
		rateLimitRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_requests_total", Help: "Rate limiter decisions by backing store."},
			[]string{"limiter", "result"},
		),
		revocationsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "revocations_pruned_total", Help: "Expired revocation entries deleted."},
		),
	}

	m.registry.MustRegister(
		m.authEvents,
		m.rateLimitRequests,
		m.revocationsPruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// AsAuthMetrics exposes m through the domain interface for fx.
func AsAuthMetrics(m *Metrics) service.AuthMetrics {
	return m
}

func (m *Metrics) RecordAuthEvent(operation, outcome string) {
	m.authEvents.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordRateLimit(limiter string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.rateLimitRequests.WithLabelValues(limiter, result).Inc()
}

func (m *Metrics) RecordRevocationsPruned(count int64) {
	if count > 0 {
		m.revocationsPruned.Add(float64(count))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
