// Package item implements the chunk loop: records are read one at a time, validated and
// transformed, buffered, and committed to the sink in fixed-size chunks together with the
// step progress.
package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchimport/pkg/batch/core/metrics"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/retry"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// StopSignal reports whether a stop was requested. It is polled between chunks only.
type StopSignal func() bool

// NeverStop is the StopSignal of executions that cannot be stopped.
func NeverStop() bool { return false }

// Options holds the optional collaborators of a ChunkStep.
type Options struct {
	SkipPolicy     skip.SkipPolicy
	RetryPolicy    retry.RetryPolicy
	CommitTimeout  time.Duration // 0 disables the timeout.
	ChunkListeners []port.ChunkListener
	SkipListeners  []port.SkipListener
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// ChunkStep is the chunk loop of one step. It is safe to reuse across executions;
// the per-execution state lives in the StepExecution and the RecordStream.
type ChunkStep[I, O any] struct {
	name      string
	chunkSize int
	processor port.ItemProcessor[I, O]
	sink      port.BatchSink[O]
	repo      repository.StepExecution
	txManager tx.TransactionManager

	skipPolicy     skip.SkipPolicy
	retryPolicy    retry.RetryPolicy
	commitTimeout  time.Duration
	chunkListeners []port.ChunkListener
	skipListeners  []port.SkipListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// NewChunkStep creates a ChunkStep. Missing options default to fail-fast, no retry, no timeout.
func NewChunkStep[I, O any](
	name string,
	chunkSize int,
	processor port.ItemProcessor[I, O],
	sink port.BatchSink[O],
	repo repository.StepExecution,
	txManager tx.TransactionManager,
	opts Options,
) (*ChunkStep[I, O], error) {
	if chunkSize <= 0 {
		return nil, exception.NewBatchErrorf(name, "chunk size must be positive, got %d", chunkSize)
	}
	if processor == nil || sink == nil || repo == nil || txManager == nil {
		return nil, exception.NewBatchErrorf(name, "processor, sink, repository and transaction manager are required")
	}
	s := &ChunkStep[I, O]{
		name:           name,
		chunkSize:      chunkSize,
		processor:      processor,
		sink:           sink,
		repo:           repo,
		txManager:      txManager,
		skipPolicy:     opts.SkipPolicy,
		retryPolicy:    opts.RetryPolicy,
		commitTimeout:  opts.CommitTimeout,
		chunkListeners: opts.ChunkListeners,
		skipListeners:  opts.SkipListeners,
		metricRecorder: opts.MetricRecorder,
		tracer:         opts.Tracer,
	}
	if s.skipPolicy == nil {
		s.skipPolicy = skip.NewFailFastPolicy()
	}
	if s.retryPolicy == nil {
		s.retryPolicy = retry.NoRetry()
	}
	if s.metricRecorder == nil {
		s.metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if s.tracer == nil {
		s.tracer = metrics.NewNoOpTracer()
	}
	return s, nil
}

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.name
}

// ChunkSize returns the commit interval.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.chunkSize
}

// chunk is the uncommitted work of one iteration.
type chunk[O any] struct {
	batch    port.Batch[O]
	progress model.StepProgress // progress including this chunk, applied on commit only
	eos      bool
}

// Execute runs the loop over stream for stepExecution. When the step execution carries
// progress of a previous attempt the stream is positioned after its last committed record.
// The step ends COMPLETED, STOPPED (stop requested between chunks) or FAILED; in the last
// case the triggering error is returned.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, stream port.RecordStream[I], stepExecution *model.StepExecution, stop StopSignal) (err error) {
	if stop == nil {
		stop = NeverStop
	}
	logger.Infof("ChunkStep '%s' executing (chunk size %d, resume after position %d).", s.name, s.chunkSize, stepExecution.LastCommittedPosition)

	stepExecution.MarkAsStarted()
	if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		return s.fail(ctx, stepExecution, exception.NewBatchError(s.name, "failed to update StepExecution status to STARTED", err, false, false))
	}

	if err := stream.Open(ctx); err != nil {
		return s.fail(ctx, stepExecution, exception.NewBatchError(s.name, "failed to open record stream", err, false, false))
	}
	if err := s.sink.Open(ctx); err != nil {
		closeErr := stream.Close(ctx)
		return s.fail(ctx, stepExecution, exception.Append(exception.NewBatchError(s.name, "failed to open batch sink", err, false, false), closeErr))
	}
	defer func() {
		closeErr := exception.Append(stream.Close(ctx), s.sink.Close(ctx))
		if closeErr != nil {
			logger.Warnf("ChunkStep '%s': failed to close resources: %v", s.name, closeErr)
		}
	}()

	if pos := stepExecution.LastCommittedPosition; pos > 0 {
		if err := stream.Seek(ctx, pos); err != nil {
			return s.fail(ctx, stepExecution, exception.NewBatchError(s.name, fmt.Sprintf("failed to seek record stream to position %d", pos), err, false, false))
		}
		logger.Infof("ChunkStep '%s': resuming after committed position %d.", s.name, pos)
	}

	for chunkNo := 1; ; chunkNo++ {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, stepExecution, exception.NewBatchError(s.name, "step interrupted", err, false, false))
		}
		if stop() {
			logger.Infof("ChunkStep '%s': stop requested, ending after %d commits.", s.name, stepExecution.CommitCount)
			stepExecution.MarkAsStopped()
			if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
				return exception.NewBatchError(s.name, "failed to update StepExecution status to STOPPED", err, false, false)
			}
			return nil
		}

		done, err := s.runChunk(ctx, stream, stepExecution, chunkNo)
		if err != nil {
			return s.fail(ctx, stepExecution, err)
		}
		if done {
			break
		}
	}

	stepExecution.MarkAsCompleted()
	if err := s.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		return s.fail(ctx, stepExecution, exception.NewBatchError(s.name, "failed to update StepExecution status to COMPLETED", err, false, false))
	}
	logger.Infof("ChunkStep '%s' completed. read=%d write=%d skip=%d filter=%d commits=%d",
		s.name, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.SkipCount, stepExecution.FilterCount, stepExecution.CommitCount)
	return nil
}

// runChunk reads and commits one chunk. It reports done once the stream is exhausted.
func (s *ChunkStep[I, O]) runChunk(ctx context.Context, stream port.RecordStream[I], stepExecution *model.StepExecution, chunkNo int) (bool, error) {
	spanCtx, endSpan := s.tracer.StartChunkSpan(ctx, stepExecution, chunkNo)
	defer endSpan()

	for _, l := range s.chunkListeners {
		l.BeforeChunk(spanCtx, stepExecution)
	}

	c, err := s.readChunk(spanCtx, stream, stepExecution.StepProgress)
	if err != nil {
		s.onChunkError(spanCtx, stepExecution, err)
		return false, err
	}
	if c.eos && c.progress.ReadCount == stepExecution.ReadCount {
		// Nothing was read since the last commit.
		return true, nil
	}

	if err := s.commitWithRetry(spanCtx, stepExecution, c); err != nil {
		s.onChunkError(spanCtx, stepExecution, err)
		return false, err
	}

	for _, l := range s.chunkListeners {
		l.AfterChunk(spanCtx, stepExecution)
	}
	return c.eos, nil
}

// readChunk buffers up to chunkSize accepted records. Counters are accumulated on a copy
// of the committed progress so that a failed chunk leaves the step untouched.
func (s *ChunkStep[I, O]) readChunk(ctx context.Context, stream port.RecordStream[I], committed model.StepProgress) (*chunk[O], error) {
	c := &chunk[O]{
		batch: port.Batch[O]{
			Records:   make([]O, 0, min(s.chunkSize, 4096)),
			Positions: make([]int64, 0, min(s.chunkSize, 4096)),
		},
		progress: committed,
	}

	for c.batch.Len() < s.chunkSize {
		record, err := stream.Next(ctx)
		if errors.Is(err, port.ErrEndOfStream) {
			c.eos = true
			break
		}
		if err != nil {
			return nil, exception.NewBatchError(s.name, fmt.Sprintf("failed to read record after position %d", stream.CurrentPosition()), err, false, false)
		}
		position := stream.CurrentPosition()
		c.progress.ReadCount++
		c.progress.LastCommittedPosition = position

		out, err := s.processor.Process(ctx, record)
		if err != nil {
			if errors.Is(err, port.ErrFilterRecord) {
				c.progress.FilterCount++
				s.metricRecorder.RecordItemFilter(ctx, s.name)
				continue
			}
			exception.StampPosition(err, position)
			if s.skipPolicy.ShouldSkip(err, c.progress.SkipCount) {
				c.progress.SkipCount++
				logger.Warnf("ChunkStep '%s': record %d skipped (skip count %d/%d): %v", s.name, position, c.progress.SkipCount, s.skipPolicy.SkipLimit(), err)
				s.notifySkip(ctx, position, err)
				continue
			}
			return nil, err
		}

		c.batch.Records = append(c.batch.Records, out)
		c.batch.Positions = append(c.batch.Positions, position)
	}
	return c, nil
}

// commitWithRetry commits c, retrying per the retry policy. Each attempt runs in a fresh transaction.
func (s *ChunkStep[I, O]) commitWithRetry(ctx context.Context, stepExecution *model.StepExecution, c *chunk[O]) error {
	for attempt := 1; ; attempt++ {
		err := s.commit(ctx, stepExecution, c)
		if err == nil {
			return nil
		}
		stepExecution.RollbackCount++
		s.metricRecorder.RecordChunkRollback(ctx, s.name, errorReason(err))
		if !s.retryPolicy.ShouldRetry(err, attempt) {
			return err
		}

		wait := s.retryPolicy.BackoffInterval(attempt)
		logger.Warnf("ChunkStep '%s': chunk commit failed (attempt %d/%d), retrying in %s: %v", s.name, attempt, s.retryPolicy.MaxAttempts()+1, wait, err)
		s.metricRecorder.RecordChunkRetry(ctx, s.name, errorReason(err))
		select {
		case <-ctx.Done():
			return exception.Append(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// commit writes the batch and the progress in one transaction, then applies the progress
// to stepExecution.
func (s *ChunkStep[I, O]) commit(ctx context.Context, stepExecution *model.StepExecution, c *chunk[O]) (err error) {
	started := time.Now()
	commitCtx := ctx
	if s.commitTimeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(ctx, s.commitTimeout)
		defer cancel()
	}
	defer func() {
		if err != nil && s.commitTimeout > 0 && errors.Is(commitCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", exception.ErrCommitTimeout, s.commitTimeout, err)
		}
	}()

	t, err := s.txManager.Begin(commitCtx)
	if err != nil {
		return exception.NewBatchError(s.name, "failed to begin chunk transaction", err, false, true)
	}
	txCtx := tx.WithTx(commitCtx, t)

	progress := c.progress
	progress.WriteCount += c.batch.Len()
	progress.CommitCount++
	progress.RollbackCount = stepExecution.RollbackCount

	if c.batch.Len() > 0 {
		if err := s.sink.Commit(txCtx, c.batch); err != nil {
			s.rollback(t)
			return asSinkError(c.batch, err)
		}
	}
	if err := s.repo.UpdateStepProgress(txCtx, stepExecution.ID, progress); err != nil {
		s.rollback(t)
		return exception.NewBatchError(s.name, "failed to record step progress", err, false, false)
	}
	if err := s.txManager.Commit(t); err != nil {
		s.rollback(t)
		return asSinkError(c.batch, err)
	}

	stepExecution.StepProgress = progress
	stepExecution.LastUpdated = time.Now()
	logger.Debugf("ChunkStep '%s': chunk %d committed %d records, last position %d.", s.name, progress.CommitCount, c.batch.Len(), progress.LastCommittedPosition)
	s.metricRecorder.RecordChunkCommit(ctx, s.name, c.batch.Len(), time.Since(started))
	return nil
}

func (s *ChunkStep[I, O]) rollback(t tx.Tx) {
	if err := s.txManager.Rollback(t); err != nil {
		logger.Errorf("ChunkStep '%s': rollback failed: %v", s.name, err)
	}
}

// Abort marks stepExecution FAILED with err and persists it. It serves failures that
// happen before the loop could start, such as a record stream that cannot be built.
func (s *ChunkStep[I, O]) Abort(ctx context.Context, stepExecution *model.StepExecution, err error) error {
	return s.fail(ctx, stepExecution, err)
}

func (s *ChunkStep[I, O]) fail(ctx context.Context, stepExecution *model.StepExecution, err error) error {
	logger.Errorf("ChunkStep '%s' failed: %v", s.name, err)
	s.tracer.RecordError(ctx, s.name, err)
	stepExecution.MarkAsFailed(err)
	if updErr := s.repo.UpdateStepExecution(ctx, stepExecution); updErr != nil {
		logger.Errorf("ChunkStep '%s': failed to persist FAILED status: %v", s.name, updErr)
		return exception.Append(err, updErr)
	}
	return err
}

func (s *ChunkStep[I, O]) onChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	for _, l := range s.chunkListeners {
		l.OnChunkError(ctx, stepExecution, err)
	}
}

func (s *ChunkStep[I, O]) notifySkip(ctx context.Context, position int64, err error) {
	s.tracer.RecordError(ctx, s.name, err)
	s.metricRecorder.RecordItemSkip(ctx, s.name, errorReason(err))
	for _, l := range s.skipListeners {
		l.OnSkip(ctx, position, err)
	}
}

// asSinkError makes sure a commit failure carries the position range of the batch.
func asSinkError[O any](batch port.Batch[O], err error) error {
	var se *exception.SinkError
	if errors.As(err, &se) {
		return err
	}
	return &exception.SinkError{
		FirstPosition:  batch.FirstPosition(),
		LastPosition:   batch.LastPosition(),
		RecordPosition: -1,
		Cause:          err,
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, exception.ErrValidation):
		return "validation"
	case errors.Is(err, exception.ErrCommitTimeout):
		return "commit_timeout"
	case errors.Is(err, exception.ErrSinkCommit):
		return "sink"
	default:
		return "other"
	}
}
