package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pcb-inspect/internal/board"
	"pcb-inspect/internal/inspect"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbinspect_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pcbinspect_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pcbinspect_upload_size_bytes",
			Help:    "Size of uploaded board frames in bytes",
			Buckets: []float64{64 * 1024, 256 * 1024, 1024 * 1024, 4 * 1024 * 1024, 16 * 1024 * 1024, 64 * 1024 * 1024},
		},
	)

	// Inspection metrics
	inspectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbinspect_inspections_total",
			Help: "Completed inspections by decision",
		},
		[]string{"decision"},
	)

	stageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbinspect_stage_failures_total",
			Help: "Pipeline stage failures",
		},
		[]string{"stage", "side"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pcbinspect_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	alignmentAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbinspect_alignment_attempts_total",
			Help: "Fiducial strategy attempts by outcome",
		},
		[]string{"strategy", "result"}, // result: ok, failed
	)
)

// ObserveStage records one pipeline stage. It is registered as the service's
// StageObserver.
func ObserveStage(stage inspect.Stage, side board.Side, d time.Duration, err error) {
	stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	if err != nil {
		stageFailuresTotal.WithLabelValues(string(stage), string(side)).Inc()
	}
}

// ObserveStrategy records one locator attempt. Pass it to Chain.OnAttempt.
func ObserveStrategy(strategy string, ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	alignmentAttemptsTotal.WithLabelValues(strategy, result).Inc()
}
