package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_insight_jobs_enqueued_total",
		Help: "Interpretation jobs accepted by the enqueuer.",
	})
	jobsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_insight_jobs_succeeded_total",
		Help: "Interpretation jobs that produced a persisted insight.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_insight_jobs_failed_total",
		Help: "Interpretation jobs that exhausted retries or failed permanently.",
	})
	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcana_insight_jobs_retried_total",
		Help: "Transient failures that scheduled a redelivery.",
	})
	modelCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arcana_model_call_duration_seconds",
		Help:    "Wall time of external model invocations.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
