// Package metrics exposes Prometheus instrumentation, grounded on the
// teacher's metrics package (one struct of vectors per subsystem, built
// once via promauto and exposed as a package-level singleton).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PipelineMetrics struct {
	StepDuration   *prometheus.HistogramVec
	StepFailures   *prometheus.CounterVec
	ChainsStarted  prometheus.Counter
	RecordingsInFlight prometheus.Gauge
}

type QueueMetrics struct {
	Enqueued  *prometheus.CounterVec
	Dequeued  *prometheus.CounterVec
	Retried   *prometheus.CounterVec
	DeadLettered *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec
}

type QuotaMetrics struct {
	AdmissionRejected *prometheus.CounterVec
	UsageRecordings   *prometheus.GaugeVec
	UsageStorageBytes *prometheus.GaugeVec
}

type TokenMetrics struct {
	Fetches   *prometheus.CounterVec
	Coalesced *prometheus.CounterVec
	Failures  *prometheus.CounterVec
}

type Registry struct {
	Pipeline PipelineMetrics
	Queue    QueueMetrics
	Quota    QuotaMetrics
	Token    TokenMetrics
}

var stepLabels = []string{"stage", "outcome"}

func New() *Registry {
	return &Registry{
		Pipeline: PipelineMetrics{
			StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pipeline_step_duration_seconds",
				Help:    "Time taken to execute one pipeline step",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
			}, stepLabels),
			StepFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_step_failures_total",
				Help: "Number of pipeline step failures by stage",
			}, []string{"stage"}),
			ChainsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pipeline_chains_started_total",
				Help: "Number of orchestrator chains submitted",
			}),
			RecordingsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pipeline_recordings_in_flight",
				Help: "Recordings with at least one non-terminal stage",
			}),
		},
		Queue: QueueMetrics{
			Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "queue_enqueued_total",
				Help: "Tasks enqueued by queue name",
			}, []string{"queue"}),
			Dequeued: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "queue_dequeued_total",
				Help: "Tasks dequeued by queue name",
			}, []string{"queue"}),
			Retried: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "queue_retried_total",
				Help: "Task retries by queue name",
			}, []string{"queue"}),
			DeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "queue_dead_lettered_total",
				Help: "Tasks moved to a dead-letter queue",
			}, []string{"queue"}),
			QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Approximate queue depth by queue name",
			}, []string{"queue"}),
		},
		Quota: QuotaMetrics{
			AdmissionRejected: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quota_admission_rejected_total",
				Help: "Admission checks rejected by quota kind",
			}, []string{"quota"}),
			UsageRecordings: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "quota_usage_recordings",
				Help: "Current period recordings_count by user",
			}, []string{"user_id"}),
			UsageStorageBytes: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "quota_usage_storage_bytes",
				Help: "Current storage_bytes by user",
			}, []string{"user_id"}),
		},
		Token: TokenMetrics{
			Fetches: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "token_fetches_total",
				Help: "Outbound token fetches by account",
			}, []string{"account"}),
			Coalesced: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "token_fetch_coalesced_total",
				Help: "Token fetch calls that joined an in-flight singleflight group",
			}, []string{"account"}),
			Failures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "token_fetch_failures_total",
				Help: "Token fetch failures by account",
			}, []string{"account"}),
		},
	}
}

// Metrics is the process-wide singleton, matching the teacher's
// package-level `var Metrics = NewMetrics()`.
var Metrics = New()
