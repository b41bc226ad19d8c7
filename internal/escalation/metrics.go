package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oncallgarden"

var (
	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent per scheduler sweep",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	stepsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "steps_fired_total",
			Help:      "Escalation steps that notified at least one recipient",
		},
	)

	stepsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "steps_skipped_total",
			Help:      "Escalation steps skipped because no recipient resolved",
		},
	)

	claimConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "claim_conflicts_total",
			Help:      "Due incidents already claimed by another worker",
		},
	)
)
