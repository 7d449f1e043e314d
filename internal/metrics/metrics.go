// Package metrics holds the Prometheus instruments of the worker. Every
// method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes
const (
	OutcomeRejected = "rejected"
	OutcomeSolved   = "solved"
	OutcomeFailed   = "failed"
)

// Metrics provides observability for the enrichment worker
type Metrics struct {
	// Records handled, by outcome and the rule or error type behind it
	Records *prometheus.CounterVec

	// Upstream call latency by decision kind and status class
	UpstreamLatency *prometheus.HistogramVec

	// Token fetches by result
	TokenRefreshes *prometheus.CounterVec

	// Records currently held by the worker pool
	InFlight prometheus.Gauge
}

// New registers the worker's metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "benefit_worker_need_records_total",
			Help: "Need records handled, by outcome",
		}, []string{"outcome", "reason"}),

		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "benefit_worker_upstream_request_duration_seconds",
			Help:    "Duration of calls to the benefits provider",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "status"}),

		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "benefit_worker_token_refresh_total",
			Help: "Bearer token fetches, by result",
		}, []string{"result"}),

		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "benefit_worker_records_in_flight",
			Help: "Need records currently being processed",
		}),
	}
}

// IncRecord counts one handled record
func (m *Metrics) IncRecord(outcome, reason string) {
	if m != nil {
		m.Records.WithLabelValues(outcome, reason).Inc()
	}
}

// ObserveUpstream records the duration of one upstream call
func (m *Metrics) ObserveUpstream(kind, status string, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(kind, status).Observe(d.Seconds())
	}
}

// IncTokenRefresh counts one token fetch
func (m *Metrics) IncTokenRefresh(result string) {
	if m != nil {
		m.TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
