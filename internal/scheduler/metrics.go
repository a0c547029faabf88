package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_decisions_total",
		Help: "Number of scheduling decisions by outcome.",
	},
	[]string{"outcome"},
)

var decisionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "scheduler_decision_duration_seconds",
		Help:    "Time taken to process one scheduling job.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	},
)

var preemptedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "scheduler_preempted_deployments_total",
		Help: "Number of deployments evicted to admit higher priority work.",
	},
)

var sweeperRequeuedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "scheduler_sweeper_requeued_total",
		Help: "Number of lost deployments re-enqueued by the sweeper.",
	},
)
