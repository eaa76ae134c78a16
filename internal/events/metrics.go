package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Lifecycle events by sink, type and result.",
	},
	[]string{"sink", "type", "result"},
)
