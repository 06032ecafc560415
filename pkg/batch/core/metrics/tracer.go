package metrics

import (
	"context"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// Tracer creates spans for job executions and chunks.
type Tracer interface {
	// StartJobSpan starts a span for a JobExecution. The returned function ends it.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())

	// StartChunkSpan starts a span for the chunk with the given sequence number.
	StartChunkSpan(ctx context.Context, execution *model.StepExecution, chunk int) (context.Context, func())

	// RecordError records err on the current span.
	RecordError(ctx context.Context, module string, err error)
}
