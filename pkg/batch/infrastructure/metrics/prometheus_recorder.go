package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/batchimport/pkg/batch/core/metrics"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepStatusCounter *prometheus.CounterVec
	stepReadCount     *prometheus.CounterVec
	stepWriteCount    *prometheus.CounterVec

	// Chunk Metrics
	chunkDurationSeconds *prometheus.HistogramVec
	chunkCommitCount     *prometheus.CounterVec
	chunkRecordCount     *prometheus.CounterVec
	chunkRollbackCount   *prometheus.CounterVec
	chunkRetryCount      *prometheus.CounterVec

	// Item Metrics
	itemSkipCounter   *prometheus.CounterVec
	itemFilterCounter *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Total number of batch job executions by status.",
		}, []string{"job_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Total number of batch step executions by final status.",
		}, []string{"step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_read_total",
			Help: "Total records read by finished step executions.",
		}, []string{"step_name"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_write_total",
			Help: "Total records written by finished step executions.",
		}, []string{"step_name"}),
		chunkDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_chunk_commit_duration_seconds",
			Help:    "Duration of chunk commits.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step_name"}),
		chunkCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_commit_total",
			Help: "Total chunk commits by step.",
		}, []string{"step_name"}),
		chunkRecordCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_records_total",
			Help: "Total records written by committed chunks.",
		}, []string{"step_name"}),
		chunkRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_rollback_total",
			Help: "Total chunk rollbacks by step and reason.",
		}, []string{"step_name", "reason"}),
		chunkRetryCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_retry_total",
			Help: "Total chunk retries by step and reason.",
		}, []string{"step_name", "reason"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_skip_total",
			Help: "Total records skipped by step and reason.",
		}, []string{"step_name", "reason"}),
		itemFilterCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_filter_total",
			Help: "Total records filtered by step.",
		}, []string{"step_name"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepStatusCounter,
		r.stepReadCount,
		r.stepWriteCount,
		r.chunkDurationSeconds,
		r.chunkCommitCount,
		r.chunkRecordCount,
		r.chunkRollbackCount,
		r.chunkRetryCount,
		r.itemSkipCounter,
		r.itemFilterCounter,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	if execution.EndTime == nil {
		return
	}
	duration := execution.Duration().Seconds()
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, execution.Status.String()).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepEnd records the final counters of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.StepName, execution.Status.String()).Inc()
	r.stepReadCount.WithLabelValues(execution.StepName).Add(float64(execution.ReadCount))
	r.stepWriteCount.WithLabelValues(execution.StepName).Add(float64(execution.WriteCount))
}

// RecordChunkCommit records a committed chunk.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int, duration time.Duration) {
	r.chunkCommitCount.WithLabelValues(stepName).Inc()
	r.chunkRecordCount.WithLabelValues(stepName).Add(float64(count))
	r.chunkDurationSeconds.WithLabelValues(stepName).Observe(duration.Seconds())
}

// RecordChunkRollback records a rolled back chunk.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.chunkRollbackCount.WithLabelValues(stepName, reason).Inc()
}

// RecordItemSkip records a skipped record.
func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName string, reason string) {
	r.itemSkipCounter.WithLabelValues(stepName, reason).Inc()
}

// RecordItemFilter records a filtered record.
func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.itemFilterCounter.WithLabelValues(stepName).Inc()
}

// RecordChunkRetry records a retried chunk.
func (r *PrometheusRecorder) RecordChunkRetry(ctx context.Context, stepName string, reason string) {
	r.chunkRetryCount.WithLabelValues(stepName, reason).Inc()
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
