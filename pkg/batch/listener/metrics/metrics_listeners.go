// Package metrics provides the listener that forwards the job lifecycle to the MetricRecorder.
// Chunk and record level metrics are recorded by the chunk loop itself.
package metrics

import (
	"context"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/core/metrics"
)

// --- Job Execution Listener ---

type MetricsJobListener struct {
	recorder metrics.MetricRecorder
}

func NewMetricsJobListener(recorder metrics.MetricRecorder) *MetricsJobListener {
	return &MetricsJobListener{recorder: recorder}
}

func (l *MetricsJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	l.recorder.RecordJobStart(ctx, jobExecution)
}

// AfterJob records the job outcome and the final counters of each of its steps.
func (l *MetricsJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	for _, se := range jobExecution.StepExecutions {
		l.recorder.RecordStepEnd(ctx, se)
	}
	l.recorder.RecordJobEnd(ctx, jobExecution)
}

var _ port.JobExecutionListener = (*MetricsJobListener)(nil)
