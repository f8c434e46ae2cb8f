// Package metrics defines the Prometheus instrumentation surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service emits. Construct once at
// startup and pass by pointer; promauto registers against the default
// registry.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	MatchOutcomes   *prometheus.CounterVec
	DriftScores     prometheus.Histogram
	Reliability     prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	AuthFailures    *prometheus.CounterVec
	WorkflowTasks   *prometheus.CounterVec
	ActivityRetries prometheus.Counter
}

// New registers all collectors under the preflight namespace.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "decisions_total",
			Help:      "Governance decisions by verdict.",
		}, []string{"decision"}),

		MatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "template_matches_total",
			Help:      "Template matcher outcomes.",
		}, []string{"outcome"}),

		DriftScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "preflight",
			Name:      "drift_score",
			Help:      "Drift score distribution for matched evaluations.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		Reliability: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "preflight",
			Name:      "reliability_score",
			Help:      "Reliability score distribution for matched evaluations.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "preflight",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),

		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "auth_failures_total",
			Help:      "Authentication failures by reason.",
		}, []string{"reason"}),

		WorkflowTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "workflow_tasks_total",
			Help:      "Workflow tasks by terminal state.",
		}, []string{"state"}),

		ActivityRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "preflight",
			Name:      "workflow_activity_retries_total",
			Help:      "Workflow activity retry attempts.",
		}),
	}
}

// ObserveDecision records the per-request scoring metrics. Drift and
// reliability are only meaningful when a template matched.
func (m *Metrics) ObserveDecision(decision string, matched bool, drift, reliability float64) {
	m.Decisions.WithLabelValues(decision).Inc()
	if matched {
		m.MatchOutcomes.WithLabelValues("matched").Inc()
		m.DriftScores.Observe(drift)
		m.Reliability.Observe(reliability)
	} else {
		m.MatchOutcomes.WithLabelValues("unmatched").Inc()
	}
}
