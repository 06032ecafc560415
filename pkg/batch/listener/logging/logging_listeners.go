// Package logging provides listeners that write the job lifecycle to the log.
package logging

import (
	"context"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/serialization"
)

// --- Job Execution Listener ---

// LoggingJobListener logs the start of a job and, at its end, the elapsed time.
type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("Job[%s] start!", jobExecution.JobName)
	logger.Debugf("Job[%s] execution %s parameters: %v", jobExecution.JobName, jobExecution.ID,
		serialization.GetMaskedJobParametersMap(jobExecution.Parameters.Values()))
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("Job[%s] end! Spend times: %dms", jobExecution.JobName, jobExecution.Duration().Milliseconds())
	if jobExecution.Status != model.BatchStatusCompleted {
		logger.Warnf("Job[%s] execution %s ended %s: %s", jobExecution.JobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitDescription)
	}
	for _, se := range jobExecution.StepExecutions {
		logger.Infof("Job[%s] step '%s' %s: read=%d write=%d skip=%d filter=%d commits=%d rollbacks=%d",
			jobExecution.JobName, se.StepName, se.Status, se.ReadCount, se.WriteCount, se.SkipCount, se.FilterCount, se.CommitCount, se.RollbackCount)
	}
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Chunk Listener ---

type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s, after position %d", stepExecution.StepName, stepExecution.LastCommittedPosition)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Read: %d, Write: %d, Position: %d",
		stepExecution.StepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.LastCommittedPosition)
}

func (l *LoggingChunkListener) OnChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	logger.Errorf("ChunkListener: OnChunkError - StepName: %s, chunk after position %d rolled back: %v",
		stepExecution.StepName, stepExecution.LastCommittedPosition, err)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)

// --- Skip Listener ---

type LoggingSkipListener struct{}

func NewLoggingSkipListener() *LoggingSkipListener {
	return &LoggingSkipListener{}
}

func (l *LoggingSkipListener) OnSkip(ctx context.Context, position int64, err error) {
	logger.Warnf("SkipListener: OnSkip - record %d skipped: %v", position, err)
}

var _ port.SkipListener = (*LoggingSkipListener)(nil)
