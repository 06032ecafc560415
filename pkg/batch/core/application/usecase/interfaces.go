// Package usecase implements the Job Controller: it resolves job instances, creates
// executions through the Execution Repository, runs the chunk step of a registered job
// and notifies job listeners. Executions run synchronously (Run) or on a bounded pool
// (Start).
package usecase

import (
	"context"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// JobOperator launches, stops and abandons job executions.
type JobOperator interface {
	// Run executes jobName with params and returns once the execution finished.
	// The returned error reports a launch failure (unknown job, completed instance,
	// concurrent execution, repository failure); the outcome of the job itself is the
	// status of the returned JobExecution.
	Run(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// Start launches jobName asynchronously. Launch failures are returned immediately.
	Start(ctx context.Context, jobName string, params model.JobParameters) (*JobExecutionFuture, error)

	// StartNext applies the job's incrementer to params and runs a new instance.
	StartNext(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// Stop requests a running execution to stop at the next chunk boundary.
	Stop(ctx context.Context, executionID string) error

	// Abandon releases an execution left unfinished by a process that is gone, so that
	// its instance can be restarted from the last committed chunk.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer queries the Execution Repository.
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution with its step executions.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindJobExecutions retrieves the executions of an instance, newest first.
	FindJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)

	// FindJobInstance retrieves the instance of jobName for params.
	FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// GetLastStepExecution returns the most recent step execution of a JobExecution.
	GetLastStepExecution(ctx context.Context, executionID string) (*model.StepExecution, error)
}
