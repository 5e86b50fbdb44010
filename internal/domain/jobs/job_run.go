package jobs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type JobRun struct {
	ID          string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	JobType     string         `gorm:"column:job_type;not null;size:64;index" json:"job_type"`
	EntityType  string         `gorm:"column:entity_type;size:32;index:idx_job_run_entity,priority:1" json:"entity_type,omitempty"`
	EntityID    string         `gorm:"column:entity_id;size:64;index:idx_job_run_entity,priority:2" json:"entity_id,omitempty"`
	Status      string         `gorm:"column:status;not null;size:16;index" json:"status"`
	Stage       string         `gorm:"column:stage;not null;size:64" json:"stage"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	RunAfter    *time.Time     `gorm:"column:run_after;index" json:"run_after,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result" json:"result"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }

func (j *JobRun) Terminal() bool {
	return j != nil && (j.Status == StatusSucceeded || j.Status == StatusFailed)
}

// StepCheckpoint is the durable result of one named step of a job. A row is
// written once; later attempts of the same job read it back instead of running
// the step again.
type StepCheckpoint struct {
	JobID     string         `gorm:"column:job_id;primaryKey;size:64" json:"job_id"`
	StepName  string         `gorm:"column:step_name;primaryKey;size:128" json:"step_name"`
	Result    datatypes.JSON `gorm:"column:result" json:"result"`
	CreatedAt time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (StepCheckpoint) TableName() string { return "job_step_checkpoint" }
