// Package port defines the collaborator interfaces of the chunk loop and the job controller:
// the Record Stream, the Validator/Transformer, the Batch Sink and the listeners.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// ErrEndOfStream is returned by RecordStream.Next once the source is exhausted.
var ErrEndOfStream = errors.New("end of stream")

// ErrFilterRecord is returned by an ItemProcessor to drop a record without counting it as a skip.
var ErrFilterRecord = errors.New("record filtered")

// RecordStream produces the records of one JobExecution.
//
// Positions are 1-based ordinals of the records in the source. After Next returned the
// record at position n, CurrentPosition returns n. Seek(p) arranges for the next call to
// Next to return the record at position p+1; Seek(0) rewinds to the beginning.
type RecordStream[T any] interface {
	// Open acquires the underlying source.
	Open(ctx context.Context) error

	// Next returns the next record, or ErrEndOfStream.
	Next(ctx context.Context) (T, error)

	// CurrentPosition returns the position of the last record returned by Next, 0 before the first.
	CurrentPosition() int64

	// Seek repositions the stream so that reading resumes after position.
	Seek(ctx context.Context, position int64) error

	// Close releases the underlying source.
	Close(ctx context.Context) error
}

// ItemProcessor validates and transforms one record.
// It returns a *exception.ValidationError (or an aggregate of them) to reject the record
// and ErrFilterRecord to drop it silently. It must not perform I/O.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc[I, O any] func(ctx context.Context, item I) (O, error)

// Process implements ItemProcessor.
func (f ItemProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

// Batch is one chunk handed to a BatchSink. Positions[i] is the stream position of Records[i].
type Batch[T any] struct {
	Records   []T
	Positions []int64
}

// Len returns the number of records in the batch.
func (b Batch[T]) Len() int { return len(b.Records) }

// FirstPosition returns the position of the first record, or 0 for an empty batch.
func (b Batch[T]) FirstPosition() int64 {
	if len(b.Positions) == 0 {
		return 0
	}
	return b.Positions[0]
}

// LastPosition returns the position of the last record, or 0 for an empty batch.
func (b Batch[T]) LastPosition() int64 {
	if len(b.Positions) == 0 {
		return 0
	}
	return b.Positions[len(b.Positions)-1]
}

// BatchSink commits batches to the persistent store, atomically per call.
// When ctx carries a transaction (see tx.FromContext) the sink must join it.
// A rejected batch is reported as *exception.SinkError.
type BatchSink[T any] interface {
	Open(ctx context.Context) error
	Commit(ctx context.Context, batch Batch[T]) error
	Close(ctx context.Context) error
}

// JobExecutionListener observes the job lifecycle. Listeners receive snapshots and
// cannot influence the outcome of the execution.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// ChunkListener observes chunk boundaries.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called once the chunk committed.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// OnChunkError is called after the chunk was rolled back.
	OnChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener observes records skipped by the skip policy.
type SkipListener interface {
	OnSkip(ctx context.Context, position int64, err error)
}

// JobParametersIncrementer derives the parameters of the next instance of a job.
type JobParametersIncrementer interface {
	GetNext(params model.JobParameters) model.JobParameters
}
