package pruner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prunesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "optuna",
		Subsystem: "pruner",
		Name:      "prunes_total",
		Help:      "Number of prune decisions returned.",
	})

	promotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "optuna",
		Subsystem: "pruner",
		Name:      "promotions_total",
		Help:      "Number of rung promotions granted.",
	})

	rungCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "optuna",
		Subsystem: "pruner",
		Name:      "rung_completions_total",
		Help:      "Number of rung completion markers written.",
	})

	decisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "optuna",
		Subsystem: "pruner",
		Name:      "decision_duration_seconds",
		Help:      "Wall time spent per prune decision.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
	})
)
