// Package metrics exposes Prometheus counters for account activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the custom counters recorded by handlers and middleware.
// A nil *Metrics records nothing.
type Metrics struct {
	AuthEvents  *prometheus.CounterVec
	RateLimited *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the counters and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risto_auth_events_total",
				Help: "Total number of account operations by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risto_rate_limited_total",
				Help: "Total number of requests rejected by a rate limiter, by scope",
			},
			[]string{"scope"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.AuthEvents, m.RateLimited)
	return m
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func (m *Metrics) AuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Throttled(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
