package clustering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patternsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "clustering",
		Name:      "patterns_created_total",
		Help:      "Total number of patterns created from orphan clusters",
	})

	observationsRelinked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "clustering",
		Name:      "observations_relinked_total",
		Help:      "Total number of orphan observations relinked to a learned pattern",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "patternd",
		Subsystem: "clustering",
		Name:      "similarity_search_duration_seconds",
		Help:      "Duration of similarity searches issued during clustering",
		Buckets:   prometheus.DefBuckets,
	})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "patternd",
		Subsystem: "clustering",
		Name:      "pass_duration_seconds",
		Help:      "Duration of clustering passes including pattern creation",
		Buckets:   prometheus.DefBuckets,
	})
)
