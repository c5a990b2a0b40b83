package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome.",
	}, []string{"outcome"})

	stageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "stage_seconds",
		Help:      "Stage latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	stageFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "stage_fallbacks_total",
		Help:      "Stages that degraded to a fallback value.",
	}, []string{"stage"})

	hitlTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "pipeline",
		Name:      "hitl_total",
		Help:      "Runs flagged for human review by kind.",
	}, []string{"kind"})
)
