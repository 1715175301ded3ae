// Package metrics holds the Prometheus collectors for the generation
// pipeline. Exposed on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UnitsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_units_processed_total",
		Help: "Total number of units reaching a terminal state, by status",
	}, []string{"status"})

	BatchesReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_batches_released_total",
		Help: "Total number of batches released by the scheduler",
	})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reelforge_retries_total",
		Help: "Total number of unit retry attempts started",
	})

	ActiveUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelforge_active_units",
		Help: "Number of units currently in flight",
	})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reelforge_unit_duration_seconds",
		Help:    "Wall time from submission to terminal state per unit",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
	})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_merges_total",
		Help: "Total number of merge operations, by status",
	}, []string{"status"})
)
