// Package inmemory provides a map-backed Execution Repository for tests and for runs
// that do not need durable restart.
package inmemory

import (
	"sync"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
)

const moduleName = "inmemory_repository"

// InMemoryJobRepository implements repository.JobRepository with maps.
// The instance guard map plays the role of the unique column of the SQL schema:
// it holds the execution that owns an instance while that execution is running or COMPLETED.
type InMemoryJobRepository struct {
	mu             sync.RWMutex
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	instanceGuard  map[string]string // instance id -> execution id
}

// NewInMemoryJobRepository creates an empty repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
		instanceGuard:  make(map[string]string),
	}
}

// Close implements repository.JobRepository. It holds no resources.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

// cloneExecution copies je and attaches copies of its step executions. Callers hold the lock.
func (r *InMemoryJobRepository) cloneExecution(je *model.JobExecution) *model.JobExecution {
	cp := *je
	cp.StepExecutions = make([]*model.StepExecution, 0, 1)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == je.ID {
			s := *se
			cp.StepExecutions = append(cp.StepExecutions, &s)
		}
	}
	sortSteps(cp.StepExecutions)
	return &cp
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
