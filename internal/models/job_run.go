package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobRunStatus string

const (
	JobRunStatusQueued  JobRunStatus = "queued"
	JobRunStatusRunning JobRunStatus = "running"
	JobRunStatusSuccess JobRunStatus = "success"
	JobRunStatusFailed  JobRunStatus = "failed"
	JobRunStatusUnknown JobRunStatus = "unknown"
)

// Terminal reports whether the status can no longer change.
func (s JobRunStatus) Terminal() bool {
	return s == JobRunStatusSuccess || s == JobRunStatusFailed
}

const DefaultTriggeredBy = "manual"

// JobRun records one triggered execution of a workflow. Runs outlive edits
// to their workflow and are kept when it is deleted.
type JobRun struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	WorkflowID  uuid.UUID         `gorm:"type:uuid;index;not null" json:"workflow_id"`
	DagRunID    string            `gorm:"type:varchar(255);uniqueIndex;not null" json:"dag_run_id"`
	Status      JobRunStatus      `gorm:"type:text;index;not null" json:"status"`
	TriggeredBy string            `gorm:"type:varchar(100);not null;default:manual" json:"triggered_by"`
	StartedAt   *time.Time        `json:"started_at"`
	EndedAt     *time.Time        `json:"ended_at"`
	Revisions   datatypes.JSONMap `gorm:"type:json" json:"revisions,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}
