package sql

import (
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	if ji == nil {
		return nil
	}
	return &JobInstanceEntity{
		ID:             ji.ID,
		JobName:        ji.JobName,
		Parameters:     ji.Parameters,
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}
}

func toDomainJobInstance(entity *JobInstanceEntity) *model.JobInstance {
	if entity == nil {
		return nil
	}
	return &model.JobInstance{
		ID:             entity.ID,
		JobName:        entity.JobName,
		Parameters:     entity.Parameters,
		ParametersHash: entity.ParametersHash,
		CreateTime:     entity.CreateTime,
		Version:        entity.Version,
	}
}

// guardFor returns the instance_guard value for an execution in its current status.
func guardFor(je *model.JobExecution) *string {
	if !je.Status.HoldsInstanceGuard() {
		return nil
	}
	id := je.JobInstanceID
	return &id
}

func fromDomainJobExecution(je *model.JobExecution) *JobExecutionEntity {
	if je == nil {
		return nil
	}
	return &JobExecutionEntity{
		ID:              je.ID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		Parameters:      je.Parameters,
		Status:          je.Status,
		ExitStatus:      je.ExitStatus,
		ExitDescription: je.ExitDescription,
		CreateTime:      je.CreateTime,
		StartTime:       je.StartTime,
		EndTime:         je.EndTime,
		LastUpdated:     je.LastUpdated,
		Version:         je.Version,
		InstanceGuard:   guardFor(je),
	}
}

func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	if entity == nil {
		return nil
	}
	return &model.JobExecution{
		ID:              entity.ID,
		JobInstanceID:   entity.JobInstanceID,
		JobName:         entity.JobName,
		Parameters:      entity.Parameters,
		Status:          entity.Status,
		ExitStatus:      entity.ExitStatus,
		ExitDescription: entity.ExitDescription,
		CreateTime:      entity.CreateTime,
		StartTime:       entity.StartTime,
		EndTime:         entity.EndTime,
		LastUpdated:     entity.LastUpdated,
		Version:         entity.Version,
		StepExecutions:  make([]*model.StepExecution, 0, 1),
	}
}

func fromDomainStepExecution(se *model.StepExecution) *StepExecutionEntity {
	if se == nil {
		return nil
	}
	return &StepExecutionEntity{
		ID:                    se.ID,
		StepName:              se.StepName,
		JobExecutionID:        se.JobExecutionID,
		Status:                se.Status,
		ExitStatus:            se.ExitStatus,
		ExitDescription:       se.ExitDescription,
		ReadCount:             se.ReadCount,
		WriteCount:            se.WriteCount,
		SkipCount:             se.SkipCount,
		FilterCount:           se.FilterCount,
		CommitCount:           se.CommitCount,
		RollbackCount:         se.RollbackCount,
		LastCommittedPosition: se.LastCommittedPosition,
		StartTime:             se.StartTime,
		EndTime:               se.EndTime,
		LastUpdated:           se.LastUpdated,
		Version:               se.Version,
	}
}

func toDomainStepExecution(entity *StepExecutionEntity) *model.StepExecution {
	if entity == nil {
		return nil
	}
	return &model.StepExecution{
		ID:              entity.ID,
		StepName:        entity.StepName,
		JobExecutionID:  entity.JobExecutionID,
		Status:          entity.Status,
		ExitStatus:      entity.ExitStatus,
		ExitDescription: entity.ExitDescription,
		StepProgress: model.StepProgress{
			ReadCount:             entity.ReadCount,
			WriteCount:            entity.WriteCount,
			SkipCount:             entity.SkipCount,
			FilterCount:           entity.FilterCount,
			CommitCount:           entity.CommitCount,
			RollbackCount:         entity.RollbackCount,
			LastCommittedPosition: entity.LastCommittedPosition,
		},
		StartTime:   entity.StartTime,
		EndTime:     entity.EndTime,
		LastUpdated: entity.LastUpdated,
		Version:     entity.Version,
	}
}

// progressColumns maps a StepProgress to its column assignments.
func progressColumns(p model.StepProgress) map[string]interface{} {
	return map[string]interface{}{
		"read_count":              p.ReadCount,
		"write_count":             p.WriteCount,
		"skip_count":              p.SkipCount,
		"filter_count":            p.FilterCount,
		"commit_count":            p.CommitCount,
		"rollback_count":          p.RollbackCount,
		"last_committed_position": p.LastCommittedPosition,
	}
}
