package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder discards every metric. It is used when metrics are disabled and in tests.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution)   {}
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution)     {}
func (r *NoOpMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution)   {}
func (r *NoOpMetricRecorder) RecordChunkRollback(ctx context.Context, stepName, reason string)   {}
func (r *NoOpMetricRecorder) RecordItemSkip(ctx context.Context, stepName, reason string)        {}
func (r *NoOpMetricRecorder) RecordItemFilter(ctx context.Context, stepName string)              {}
func (r *NoOpMetricRecorder) RecordChunkRetry(ctx context.Context, stepName, reason string)      {}
func (r *NoOpMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int, duration time.Duration) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer creates no spans.
type NoOpTracer struct{}

// NewNoOpTracer creates a NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartJobSpan returns ctx unchanged.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartChunkSpan returns ctx unchanged.
func (t *NoOpTracer) StartChunkSpan(ctx context.Context, execution *model.StepExecution, chunk int) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

var _ Tracer = (*NoOpTracer)(nil)
