package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the job model
const (
	// JobStatusField is the field name for job status
	JobStatusField = "status"
	// JobLogsField is the field name for the persisted log tail
	JobLogsField = "logs"
)

// LogTailLimit is the maximum number of log records persisted on a job row.
// Earlier records are considered lost from the store; consumers read them
// from the bus in real time.
const LogTailLimit = 500

// JobType distinguishes compile jobs from deploy jobs.
type JobType string

// Job type constants
const (
	// JobTypeCompile builds a source tree into a WASM artifact
	JobTypeCompile JobType = "compile"
	// JobTypeDeploy publishes a WASM artifact on chain
	JobTypeDeploy JobType = "deploy"
)

// ParseJobType converts a string to a JobType
func ParseJobType(str string) (JobType, error) {
	switch str {
	case string(JobTypeCompile):
		return JobTypeCompile, nil
	case string(JobTypeDeploy):
		return JobTypeDeploy, nil
	default:
		return "", fmt.Errorf("invalid job type: %s", str)
	}
}

// JobStatus represents the current state of a job.
type JobStatus string

// Job status constants
const (
	// JobStatusQueued indicates the job is waiting for a worker
	JobStatusQueued JobStatus = "queued"
	// JobStatusActive indicates a worker is processing the job
	JobStatusActive JobStatus = "active"
	// JobStatusCompleted indicates the job finished successfully
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed
	JobStatusFailed JobStatus = "failed"
)

// ParseJobStatus converts a string to a JobStatus
func ParseJobStatus(str string) (JobStatus, error) {
	switch str {
	case string(JobStatusQueued):
		return JobStatusQueued, nil
	case string(JobStatusActive):
		return JobStatusActive, nil
	case string(JobStatusCompleted):
		return JobStatusCompleted, nil
	case string(JobStatusFailed):
		return JobStatusFailed, nil
	default:
		return "", fmt.Errorf("invalid job status: %s", str)
	}
}

// String returns the string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the durable record of a compile or deploy operation.
type Job struct {
	ID           string          `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Type         JobType         `json:"type" gorm:"not null;index"`
	Status       JobStatus       `json:"status" gorm:"not null;index"`
	OwnerID      uint            `json:"owner_id" gorm:"not null;index"`
	ProjectID    string          `json:"project_id" gorm:"not null;index"`
	BrokerHandle string          `json:"broker_handle" gorm:"uniqueIndex;not null"`
	Result       json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	Error        string          `json:"error,omitempty" gorm:"type:text"`
	Logs         LogTail         `json:"logs" gorm:"type:jsonb"`
	LogsCount    int             `json:"logs_count" gorm:"not null;default:0"`
	CreatedAt    time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate ensures that the job data is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if j.BrokerHandle == "" {
		return fmt.Errorf("broker handle cannot be empty")
	}
	if j.Type != JobTypeCompile && j.Type != JobTypeDeploy {
		return fmt.Errorf("invalid job type: %s", j.Type)
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a new job
func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusQueued
	}
	return j.Validate()
}
