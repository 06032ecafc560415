package usecase

import (
	"context"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/item"
	exception "github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// StepRunner runs the step of one JobExecution.
type StepRunner interface {
	StepName() string
	// Run drives stepExecution to COMPLETED, STOPPED or FAILED. stop is polled between chunks.
	Run(ctx context.Context, params model.JobParameters, stepExecution *model.StepExecution, stop item.StopSignal) error
}

// StreamFactory builds the RecordStream of one execution from its parameters,
// for instance a CSV stream over the file named by "input.file.name".
type StreamFactory[I any] func(ctx context.Context, params model.JobParameters) (port.RecordStream[I], error)

// JobDefinition is a job the controller can launch.
type JobDefinition struct {
	Name string
	Step StepRunner
	// Incrementer derives fresh parameters on StartNext. Nil means StartNext runs params as given.
	Incrementer port.JobParametersIncrementer
	// Listeners are notified in addition to the controller-wide listeners.
	Listeners []port.JobExecutionListener
}

// Validate reports a definition the controller cannot run.
func (d JobDefinition) Validate() error {
	if d.Name == "" {
		return exception.NewBatchErrorf("job_controller", "job definition has no name")
	}
	if d.Step == nil {
		return exception.NewBatchErrorf("job_controller", "job '%s' has no step", d.Name)
	}
	return nil
}

type chunkStepRunner[I, O any] struct {
	step    *item.ChunkStep[I, O]
	streams StreamFactory[I]
}

// NewChunkStepRunner adapts a ChunkStep to StepRunner. A new stream is built for every execution.
func NewChunkStepRunner[I, O any](step *item.ChunkStep[I, O], streams StreamFactory[I]) StepRunner {
	return &chunkStepRunner[I, O]{step: step, streams: streams}
}

func (r *chunkStepRunner[I, O]) StepName() string {
	return r.step.StepName()
}

func (r *chunkStepRunner[I, O]) Run(ctx context.Context, params model.JobParameters, stepExecution *model.StepExecution, stop item.StopSignal) error {
	stream, err := r.streams(ctx, params)
	if err != nil {
		return r.step.Abort(ctx, stepExecution, exception.NewBatchError(r.step.StepName(), "failed to create record stream", err, false, false))
	}
	return r.step.Execute(ctx, stream, stepExecution, stop)
}
