package sql

import (
	"time"

	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
)

// JobInstanceEntity is the persistent form of a JobInstance.
type JobInstanceEntity struct {
	ID             string              `gorm:"column:id;primaryKey;size:36"`
	JobName        string              `gorm:"column:job_name;size:100;not null;uniqueIndex:uk_job_instance_identity,priority:1"`
	Parameters     model.JobParameters `gorm:"column:parameters;type:text"`
	ParametersHash string              `gorm:"column:parameters_hash;size:64;not null;uniqueIndex:uk_job_instance_identity,priority:2"`
	CreateTime     time.Time           `gorm:"column:create_time;not null"`
	Version        int                 `gorm:"column:version;not null;default:0"`
}

func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is the persistent form of a JobExecution.
//
// InstanceGuard holds the instance id while the execution runs or after it completed, and
// NULL otherwise. Its unique index admits one such execution per instance.
type JobExecutionEntity struct {
	ID              string              `gorm:"column:id;primaryKey;size:36"`
	JobInstanceID   string              `gorm:"column:job_instance_id;size:36;not null;index:ix_job_execution_instance"`
	JobName         string              `gorm:"column:job_name;size:100;not null"`
	Parameters      model.JobParameters `gorm:"column:parameters;type:text"`
	Status          model.JobStatus     `gorm:"column:status;size:20;not null"`
	ExitStatus      model.ExitStatus    `gorm:"column:exit_status;size:20"`
	ExitDescription string              `gorm:"column:exit_description;type:text"`
	CreateTime      time.Time           `gorm:"column:create_time;not null"`
	StartTime       *time.Time          `gorm:"column:start_time"`
	EndTime         *time.Time          `gorm:"column:end_time"`
	LastUpdated     time.Time           `gorm:"column:last_updated;not null"`
	Version         int                 `gorm:"column:version;not null;default:0"`
	InstanceGuard   *string             `gorm:"column:instance_guard;size:36;uniqueIndex:uk_job_execution_guard"`
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the persistent form of a StepExecution, including the restart cursor.
type StepExecutionEntity struct {
	ID                    string           `gorm:"column:id;primaryKey;size:36"`
	StepName              string           `gorm:"column:step_name;size:100;not null"`
	JobExecutionID        string           `gorm:"column:job_execution_id;size:36;not null;index:ix_step_execution_job"`
	Status                model.JobStatus  `gorm:"column:status;size:20;not null"`
	ExitStatus            model.ExitStatus `gorm:"column:exit_status;size:20"`
	ExitDescription       string           `gorm:"column:exit_description;type:text"`
	ReadCount             int              `gorm:"column:read_count;not null;default:0"`
	WriteCount            int              `gorm:"column:write_count;not null;default:0"`
	SkipCount             int              `gorm:"column:skip_count;not null;default:0"`
	FilterCount           int              `gorm:"column:filter_count;not null;default:0"`
	CommitCount           int              `gorm:"column:commit_count;not null;default:0"`
	RollbackCount         int              `gorm:"column:rollback_count;not null;default:0"`
	LastCommittedPosition int64            `gorm:"column:last_committed_position;not null;default:0"`
	StartTime             *time.Time       `gorm:"column:start_time"`
	EndTime               *time.Time       `gorm:"column:end_time"`
	LastUpdated           time.Time        `gorm:"column:last_updated;not null"`
	Version               int              `gorm:"column:version;not null;default:0"`
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}

// Entities lists the schema models in dependency order.
func Entities() []interface{} {
	return []interface{}{&JobInstanceEntity{}, &JobExecutionEntity{}, &StepExecutionEntity{}}
}
