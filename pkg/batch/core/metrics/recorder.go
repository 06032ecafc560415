// Package metrics defines the observability ports of the import engine.
// Backends live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// MetricRecorder records job, step and chunk level metrics.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution, with its final status and duration.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepEnd records the final counters of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordChunkCommit records a committed chunk of count records that took duration.
	RecordChunkCommit(ctx context.Context, stepName string, count int, duration time.Duration)

	// RecordChunkRollback records a rolled back chunk.
	RecordChunkRollback(ctx context.Context, stepName string, reason string)

	// RecordItemSkip records a skipped record. reason is usually the error type.
	RecordItemSkip(ctx context.Context, stepName string, reason string)

	// RecordItemFilter records a record filtered out by the processor.
	RecordItemFilter(ctx context.Context, stepName string)

	// RecordChunkRetry records a retried chunk commit.
	RecordChunkRetry(ctx context.Context, stepName string, reason string)
}
