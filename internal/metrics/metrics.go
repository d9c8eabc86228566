package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics represents the collection of all Prometheus metrics.
type Metrics struct {
	ArtifactsIngested  prometheus.Counter
	ArtifactDuplicates prometheus.Counter

	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobRetries    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	QueueDepth        prometheus.Gauge
	WorkersBusy       prometheus.Gauge
	DefinitionVersion prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ArtifactsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sbomscan_artifacts_ingested_total",
		Help: "Total number of new artifacts accepted",
	})
	m.ArtifactDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sbomscan_artifact_duplicates_total",
		Help: "Total number of uploads deduplicated against an existing artifact",
	})

	m.JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbomscan_jobs_completed_total",
		Help: "Total number of jobs that reached the completed state",
	}, []string{"kind"})

	m.JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbomscan_jobs_failed_total",
		Help: "Total number of jobs that reached the failed state",
	}, []string{"kind", "reason"})

	m.JobRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sbomscan_job_retries_total",
		Help: "Total number of transient-failure retries scheduled",
	}, []string{"kind"})

	m.JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sbomscan_job_duration_seconds",
		Help:    "Duration of job executions in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbomscan_queue_depth",
		Help: "Number of jobs waiting in the queue",
	})

	m.WorkersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbomscan_workers_busy",
		Help: "Number of workers currently executing a job",
	})

	m.DefinitionVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sbomscan_definition_version",
		Help: "Version token of the active vulnerability-definition corpus",
	})

	m.registry.MustRegister(
		m.ArtifactsIngested,
		m.ArtifactDuplicates,
		m.JobsCompleted,
		m.JobsFailed,
		m.JobRetries,
		m.JobDuration,
		m.QueueDepth,
		m.WorkersBusy,
		m.DefinitionVersion,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
