// Package repository defines the Execution Repository: the durable store of job
// and step identity, status and progress that restart decisions are based on.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

var (
	// ErrJobInstanceNotFound is returned when no JobInstance matches.
	ErrJobInstanceNotFound = errors.New("job instance not found")
	// ErrJobExecutionNotFound is returned when no JobExecution matches.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepExecutionNotFound is returned when no StepExecution matches.
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// JobInstance groups the instance identity operations.
type JobInstance interface {
	// FindOrCreateInstance looks up the JobInstance for (jobName, hash(params)) and creates it
	// when absent. The existing executions of the instance are returned newest first,
	// each with its step executions loaded.
	FindOrCreateInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, []*model.JobExecution, error)

	// FindJobInstance returns the instance for (jobName, params) or ErrJobInstanceNotFound.
	FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// FindJobInstanceByID returns the instance with the given id or ErrJobInstanceNotFound.
	FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error)
}

// JobExecution groups the execution lifecycle operations.
type JobExecution interface {
	// CreateExecution creates a new execution of instance in STARTING state.
	// It fails with exception.ErrInstanceAlreadyComplete when the instance already completed,
	// and with exception.ErrJobExecutionAlreadyRunning when another execution is in flight.
	// The exclusion is enforced by a storage-level uniqueness constraint.
	// A FAILED or STOPPED predecessor is marked ABANDONED in the same transaction.
	CreateExecution(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error)

	// UpdateExecutionStatus atomically persists status, exit status, exit description and times of je.
	UpdateExecutionStatus(ctx context.Context, je *model.JobExecution) error

	// GetJobExecution returns the execution with its step executions or ErrJobExecutionNotFound.
	GetJobExecution(ctx context.Context, id string) (*model.JobExecution, error)

	// FindJobExecutions returns the executions of an instance, newest first.
	FindJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)
}

// StepExecution groups the step bookkeeping operations.
type StepExecution interface {
	// SaveStepExecution inserts a new step execution.
	SaveStepExecution(ctx context.Context, se *model.StepExecution) error

	// UpdateStepExecution persists status, exit information and progress of se.
	UpdateStepExecution(ctx context.Context, se *model.StepExecution) error

	// UpdateStepProgress records the progress of a committed chunk. When ctx carries a
	// transaction the write joins it, so progress and sink data commit together.
	UpdateStepProgress(ctx context.Context, stepExecutionID string, progress model.StepProgress) error

	// GetStepExecution returns the step execution or ErrStepExecutionNotFound.
	GetStepExecution(ctx context.Context, id string) (*model.StepExecution, error)
}

// JobRepository is the complete Execution Repository.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close releases resources held by the repository.
	Close() error
}
