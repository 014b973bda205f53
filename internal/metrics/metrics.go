// Package metrics holds the Prometheus collectors of the report service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adreports",
		Name:      "pipeline_runs_total",
		Help:      "Pipeline runs by final status",
	}, []string{"status"})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adreports",
		Name:      "pipeline_run_duration_seconds",
		Help:      "Wall time of a full pipeline run",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adreports",
		Name:      "source_fetch_duration_seconds",
		Help:      "Time spent fetching one source, pending retries included",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source_type"})

	DirectPendingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adreports",
		Name:      "direct_pending_retries_total",
		Help:      "Report resubmissions after a 201/202 pending answer",
	})

	DirectFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adreports",
		Name:      "direct_fallbacks_total",
		Help:      "Direct fetches served from the campaign listing instead of a report",
	})

	TransformSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adreports",
		Name:      "transform_steps_total",
		Help:      "Transformation steps executed by kind",
	}, []string{"kind"})
)
