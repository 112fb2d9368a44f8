package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for the submissions counter.
const (
	OutcomeCompleted        = "completed"
	OutcomeInvalid          = "invalid"
	OutcomeClassifierFailed = "classifier_failed"
	OutcomeResolutionFailed = "resolution_failed"
	OutcomeStoreFailed      = "store_failed"
)

// Metrics holds the pipeline's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Submissions       *prometheus.CounterVec
	ClassifierSeconds prometheus.Histogram
	LedgerFailures    prometheus.Counter
	PublishFailures   prometheus.Counter
	PointsAwarded     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecowatch",
			Name:      "submissions_total",
			Help:      "Observation submissions by terminal outcome.",
		}, []string{"outcome"}),
		ClassifierSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ecowatch",
			Name:      "classifier_request_seconds",
			Help:      "Latency of classifier calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		LedgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecowatch",
			Name:      "ledger_failures_total",
			Help:      "Score increments that failed after a successful store.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecowatch",
			Name:      "publish_failures_total",
			Help:      "Alert events the bus did not accept.",
		}),
		PointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecowatch",
			Name:      "points_awarded_total",
			Help:      "Gamification points credited to submitters.",
		}),
	}
	registry.MustRegister(
		m.Submissions,
		m.ClassifierSeconds,
		m.LedgerFailures,
		m.PublishFailures,
		m.PointsAwarded,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
