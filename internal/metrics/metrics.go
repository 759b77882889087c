// Package metrics exposes the pipeline's Prometheus series. Series are
// registered once on the default registry at init.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inferenceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_inference_calls_total",
		Help: "Inference calls by task and endpoint role (primary, fallback)",
	}, []string{"task", "endpoint"})

	inferenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_inference_failures_total",
		Help: "Inference failures by task and failure kind",
	}, []string{"task", "kind"})

	inferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusion_inference_duration_seconds",
		Help:    "Latency of a single inference call",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 180},
	}, []string{"task"})

	inferenceCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_inference_cache_total",
		Help: "Inference cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	storyAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_story_assignments_total",
		Help: "Story grouping outcomes (matched, new)",
	}, []string{"outcome"})

	fusionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_actions_total",
		Help: "Content fusion actions (created, updated, created_new_version, skipped)",
	}, []string{"action"})

	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_classifications_total",
		Help: "Categorization outcomes by method (keyword, ai, none, failed)",
	}, []string{"method"})

	ingestItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_ingest_items_total",
		Help: "Ingested items by source type and outcome",
	}, []string{"source_type", "outcome"})

	ingestBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fusion_ingest_batch_size",
		Help:    "Raw items fetched per source batch",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordInferenceCall(task, endpoint string, elapsed time.Duration) {
	inferenceCalls.WithLabelValues(task, endpoint).Inc()
	inferenceDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

func RecordInferenceFailure(task, kind string) {
	inferenceFailures.WithLabelValues(task, kind).Inc()
}

func RecordCacheLookup(result string) {
	inferenceCacheHits.WithLabelValues(result).Inc()
}

func RecordStoryAssignment(isNew bool) {
	outcome := "matched"
	if isNew {
		outcome = "new"
	}
	storyAssignments.WithLabelValues(outcome).Inc()
}

func RecordFusionAction(action string) {
	fusionActions.WithLabelValues(action).Inc()
}

func RecordClassification(method string) {
	classifications.WithLabelValues(method).Inc()
}

func RecordIngestItem(sourceType, outcome string) {
	ingestItems.WithLabelValues(sourceType, outcome).Inc()
}

func ObserveBatchSize(n int) {
	ingestBatchSize.Observe(float64(n))
}
