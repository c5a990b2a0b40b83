package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// indexChunks: число кусков в активной сборке.
	indexChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mentor",
		Subsystem: "rag",
		Name:      "index_chunks",
		Help:      "Chunks in the active retrieval index",
	})

	// indexBuildsTotal. Labels: mode (full, reload, ann_repair, persist), status (ok, error)
	indexBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "rag",
		Name:      "builds_total",
		Help:      "Retrieval index builds and reloads",
	}, []string{"mode", "status"})

	// searchesTotal. Labels: backend (ann, brute)
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentor",
		Subsystem: "rag",
		Name:      "searches_total",
		Help:      "Retrieval queries by ranking backend",
	}, []string{"backend"})

	searchLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentor",
		Subsystem: "rag",
		Name:      "search_latency_seconds",
		Help:      "Query embedding plus ranking latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

func recordBuild(mode string, err error, chunks int) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		indexChunks.Set(float64(chunks))
	}
	indexBuildsTotal.WithLabelValues(mode, status).Inc()
}
