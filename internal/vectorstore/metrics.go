package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts index operations.
	// Labels: backend (chromem, qdrant), operation (upsert, delete, search),
	// result (success, error)
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patternd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of similarity index operations",
		},
		[]string{"backend", "operation", "result"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "patternd",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// indexFailures counts observations persisted but not indexed.
	indexFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "vectorstore",
		Name:      "index_failures_total",
		Help:      "Observations persisted without a similarity index entry",
	})
)

func recordOp(backend, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(backend, operation, result).Inc()
}
