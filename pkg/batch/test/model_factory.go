package test

import (
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// NewTestJobParameters creates string JobParameters from a map.
func NewTestJobParameters(params map[string]string) model.JobParameters {
	b := model.NewJobParametersBuilder()
	for k, v := range params {
		b.AddString(k, v)
	}
	return b.ToJobParameters()
}

// NewTestJobExecution creates an instance and its first execution.
func NewTestJobExecution(jobName string, params model.JobParameters) (*model.JobInstance, *model.JobExecution) {
	ji := model.NewJobInstance(jobName, params)
	return ji, model.NewJobExecution(ji)
}

// NewTestStepExecution creates a StepExecution attached to je.
func NewTestStepExecution(je *model.JobExecution, stepName string) *model.StepExecution {
	se := model.NewStepExecution(stepName, je.ID)
	je.AddStepExecution(se)
	return se
}
