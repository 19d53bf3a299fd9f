// Package metrics provides Prometheus metrics for talking-head generation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no tokens or file names.

var (
	// GenerationTotal counts finished generations by outcome kind ("ok" on success).
	GenerationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talkinghead_generation_total",
		Help: "Total number of finished generation requests, by outcome kind.",
	}, []string{"kind"})

	// GenerationDuration tracks end-to-end generation latency, queue wait excluded.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talkinghead_generation_duration_seconds",
		Help:    "Duration of generation requests from admission to completion.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 180, 300},
	}, []string{"kind"})

	// StageDuration tracks the duration of each pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talkinghead_stage_duration_seconds",
		Help:    "Duration of generation pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.005, 3, 12), // 5ms to ~15min
	}, []string{"stage"})

	// InFlight tracks generations currently holding an admission slot.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talkinghead_generation_in_flight",
		Help: "Current number of generations holding an admission slot.",
	})

	// QueueWait tracks time spent waiting for an admission slot.
	QueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talkinghead_queue_wait_seconds",
		Help:    "Time spent waiting for an admission slot.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// CleanupFailures counts workspaces that could not be removed.
	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talkinghead_cleanup_failures_total",
		Help: "Total number of request workspaces that could not be removed.",
	})

	// OutputBytes tracks the size of produced videos.
	OutputBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talkinghead_output_bytes",
		Help:    "Size of produced videos in bytes.",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KiB to 256MiB
	})

	// CheckpointPresent is 1 when the model checkpoint exists on disk.
	CheckpointPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talkinghead_checkpoint_present",
		Help: "Whether the model checkpoint is present (1) or not (0).",
	})
)

// RecordGeneration records a finished generation.
func RecordGeneration(kind string, d time.Duration) {
	GenerationTotal.WithLabelValues(kind).Inc()
	GenerationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordStage records the duration of one pipeline stage.
func RecordStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCheckpoint records checkpoint presence.
func RecordCheckpoint(present bool) {
	if present {
		CheckpointPresent.Set(1)
		return
	}
	CheckpointPresent.Set(0)
}
