package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts scheduled sweeps.
	// Labels: job, status (ok, error, panic)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of scheduled sweeps by job and status",
		},
		[]string{"job", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patternd",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled sweeps in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)
