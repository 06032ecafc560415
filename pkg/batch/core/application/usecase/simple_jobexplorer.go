package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchimport/pkg/batch/support/util/logger"
)

// SimpleJobExplorer is a JobExplorer reading through a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

// Verify that SimpleJobExplorer implements the JobExplorer interface.
var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

// GetJobExecution retrieves a JobExecution by its ID.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecution called. Execution ID: %s", executionID)
	je, err := e.jobRepository.GetJobExecution(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	return je, nil
}

// FindJobExecutions retrieves the executions of an instance, newest first.
func (e *SimpleJobExplorer) FindJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	logger.Debugf("JobExplorer: FindJobExecutions called. Instance ID: %s", instanceID)
	executions, err := e.jobRepository.FindJobExecutions(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecutions of JobInstance (ID: %s)", instanceID), err, false, false)
	}
	return executions, nil
}

// FindJobInstance retrieves the instance of jobName for params.
func (e *SimpleJobExplorer) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	ji, err := e.jobRepository.FindJobInstance(ctx, jobName, params)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance of '%s'", jobName), err, false, false)
	}
	return ji, nil
}

// GetLastStepExecution returns the most recent step execution of a JobExecution.
func (e *SimpleJobExplorer) GetLastStepExecution(ctx context.Context, executionID string) (*model.StepExecution, error) {
	je, err := e.GetJobExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(je.StepExecutions) == 0 {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("JobExecution (ID: %s) has no step execution", executionID), repository.ErrStepExecutionNotFound, false, false)
	}
	return je.StepExecutions[len(je.StepExecutions)-1], nil
}
