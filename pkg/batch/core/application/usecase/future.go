package usecase

import (
	"context"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// JobExecutionFuture resolves when an asynchronously started execution finished.
type JobExecutionFuture struct {
	executionID string
	done        chan struct{}
	execution   *model.JobExecution
	err         error
}

func newJobExecutionFuture(executionID string) *JobExecutionFuture {
	return &JobExecutionFuture{executionID: executionID, done: make(chan struct{})}
}

func (f *JobExecutionFuture) resolve(je *model.JobExecution, err error) {
	f.execution, f.err = je, err
	close(f.done)
}

// ExecutionID returns the id of the execution, known as soon as Start returned.
func (f *JobExecutionFuture) ExecutionID() string {
	return f.executionID
}

// Done is closed once the execution finished.
func (f *JobExecutionFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the execution finished or ctx is done. The result has the same
// meaning as the result of JobOperator.Run.
func (f *JobExecutionFuture) Wait(ctx context.Context) (*model.JobExecution, error) {
	select {
	case <-f.done:
		return f.execution, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
