package quality

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decayApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "quality",
		Name:      "decay_applied_total",
		Help:      "Total number of decay applications that changed a pattern score",
	})

	thresholdCrossings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "quality",
		Name:      "threshold_crossings_total",
		Help:      "Total number of patterns whose score decayed below the quality threshold",
	})

	decaySkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "quality",
		Name:      "decay_skipped_total",
		Help:      "Total number of malformed patterns skipped by decay sweeps",
	})

	usageBoosts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "quality",
		Name:      "usage_boosts_total",
		Help:      "Total number of usage boosts applied",
	})

	decaySweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "patternd",
		Subsystem: "quality",
		Name:      "decay_sweep_duration_seconds",
		Help:      "Duration of decay sweeps in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)
