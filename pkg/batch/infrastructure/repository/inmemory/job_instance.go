package inmemory

import (
	"context"
	"sort"
	"time"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
)

// FindOrCreateInstance implements repository.JobInstance.
func (r *InMemoryJobRepository) FindOrCreateInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, []*model.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := params.Hash()
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			cp := *ji
			return &cp, r.executionsOf(ji.ID), nil
		}
	}

	ji := model.NewJobInstance(jobName, params)
	r.jobInstances[ji.ID] = ji
	cp := *ji
	return &cp, []*model.JobExecution{}, nil
}

// FindJobInstance implements repository.JobInstance.
func (r *InMemoryJobRepository) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hash := params.Hash()
	for _, ji := range r.jobInstances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			cp := *ji
			return &cp, nil
		}
	}
	return nil, repository.ErrJobInstanceNotFound
}

// FindJobInstanceByID implements repository.JobInstance.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	cp := *ji
	return &cp, nil
}

// executionsOf returns copies of the executions of an instance, newest first. Callers hold the lock.
func (r *InMemoryJobRepository) executionsOf(instanceID string) []*model.JobExecution {
	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if je.JobInstanceID == instanceID {
			executions = append(executions, r.cloneExecution(je))
		}
	}
	sort.SliceStable(executions, func(i, j int) bool {
		return executions[j].CreateTime.Before(executions[i].CreateTime)
	})
	return executions
}

func sortSteps(steps []*model.StepExecution) {
	sort.SliceStable(steps, func(i, j int) bool {
		return startOf(steps[i]).Before(startOf(steps[j]))
	})
}

func startOf(se *model.StepExecution) time.Time {
	if se.StartTime == nil {
		return se.LastUpdated
	}
	return *se.StartTime
}
