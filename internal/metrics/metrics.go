// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillroute_classifications_total",
			Help: "Requests classified, by path (trained or rules) and chosen tool",
		},
		[]string{"path", "tool"},
	)

	ClassifierFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillroute_classifier_faults_total",
			Help: "Trained-path failures recovered by the rule path",
		},
	)

	Adjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillroute_adjustments_total",
			Help: "Adjustment rules fired on adaptive recommendations",
		},
		[]string{"rule"},
	)

	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillroute_executions_total",
			Help: "Commands executed, by outcome",
		},
		[]string{"outcome"},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skillroute_execution_duration_seconds",
			Help:    "Subprocess wall time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	Fallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skillroute_fallbacks_total",
			Help: "Executions where an alternative replaced a failed primary",
		},
	)

	FeedbackRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillroute_feedback_total",
			Help: "Feedback records written, by source and score",
		},
		[]string{"source", "score"},
	)

	PendingFollowUps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skillroute_pending_follow_ups",
			Help: "Conversations with buffered, unanalyzed follow-ups",
		},
	)

	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skillroute_catalog_reloads_total",
			Help: "Catalog reload attempts, by result",
		},
		[]string{"result"},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
