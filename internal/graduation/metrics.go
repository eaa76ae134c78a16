package graduation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// graduationsTotal counts completed transitions.
	// Labels: from, to
	graduationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "graduation",
			Name:      "graduations_total",
			Help:      "Total number of pattern level transitions",
		},
		[]string{"from", "to"},
	)

	// graduationsRejected counts refused transitions and approvals.
	// Labels: kind
	graduationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "graduation",
			Name:      "rejected_total",
			Help:      "Total number of graduation attempts refused by kind",
		},
		[]string{"kind"},
	)

	pendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "patternd",
		Subsystem: "graduation",
		Name:      "pending_approvals",
		Help:      "Number of patterns waiting for admin approval",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "patternd",
		Subsystem: "graduation",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of graduation sweeps in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)
