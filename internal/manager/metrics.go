package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Model load attempts by outcome",
		},
		[]string{"config", "outcome"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "cache_hits_total",
			Help:      "EnsureLoaded calls served by the resident model",
		},
	)

	unloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "unloads_total",
			Help:      "Model unloads by reason",
		},
		[]string{"reason"},
	)

	placementNotesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "placement_notes_total",
			Help:      "Non-fatal vision placement failures",
		},
	)

	inferTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "infer_total",
			Help:      "Inference calls by outcome",
		},
		[]string{"outcome"},
	)

	inferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "infer_duration_seconds",
			Help:      "Duration of successful inference calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	modelLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "captiond",
			Subsystem: "manager",
			Name:      "model_loaded",
			Help:      "1 while a model is resident",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, cacheHitsTotal, unloadsTotal, placementNotesTotal, inferTotal, inferDuration, modelLoaded)
}

func setLoadedGauge(loaded bool) {
	if loaded {
		modelLoaded.Set(1)
		return
	}
	modelLoaded.Set(0)
}
