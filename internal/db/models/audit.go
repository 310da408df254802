package models

import (
	"gorm.io/gorm"
)

// AuditOutcome is the recorded outcome of an audited action.
type AuditOutcome string

// Audit outcome constants
const (
	// AuditOutcomeSuccess records a successful action
	AuditOutcomeSuccess AuditOutcome = "success"
	// AuditOutcomeFailure records a failed action
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditEntry is a post-terminal side-effect record written by the worker
// after a job reaches a terminal state.
type AuditEntry struct {
	gorm.Model
	JobID   string       `json:"job_id" gorm:"not null;index"`
	OwnerID uint         `json:"owner_id" gorm:"not null;index"`
	Action  string       `json:"action" gorm:"not null"`
	Outcome AuditOutcome `json:"outcome" gorm:"not null"`
	Detail  string       `json:"detail" gorm:"type:text"`
}
