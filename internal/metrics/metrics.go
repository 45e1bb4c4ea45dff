// Package metrics exposes the Prometheus collectors for the screening
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsScreened counts scoring requests by terminal action.
	RequestsScreened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screening",
		Name:      "requests_total",
		Help:      "Scoring requests by terminal action",
	}, []string{"action"})

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "screening",
		Name:      "scoring_duration_seconds",
		Help:      "End-to-end scoring latency",
		Buckets:   []float64{.005, .01, .025, .05, .1, .15, .2, .5, 1},
	})

	// DetectorTimeouts counts neutral substitutions by detector.
	DetectorTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screening",
		Name:      "detector_timeouts_total",
		Help:      "Detector deadline misses substituted with a neutral subscore",
	}, []string{"detector"})

	// ReviewsEnqueued counts review-queue entries by priority.
	ReviewsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screening",
		Name:      "reviews_enqueued_total",
		Help:      "Review queue entries created, by priority",
	}, []string{"priority"})

	// EnqueueFailures counts reviews that could not be persisted.
	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screening",
		Name:      "review_enqueue_failures_total",
		Help:      "Reviews intended but not persisted after retries",
	})

	// PendingReviews gauges the current queue depth.
	PendingReviews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screening",
		Name:      "pending_reviews",
		Help:      "Unreviewed entries in the review queue",
	})
)
