package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "appends_total",
		Help:      "Case appends by status.",
	}, []string{"status"})

	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "feedback_total",
		Help:      "Feedback submissions by value.",
	}, []string{"feedback"})

	casesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mentor",
		Subsystem: "memory",
		Name:      "cases",
		Help:      "Cases currently held in memory.",
	})
)
