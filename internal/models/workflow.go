package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeployState mirrors the scheduler's pause flag for a workflow. A workflow
// starts as draft and, once deployed, only moves between paused and running.
type DeployState string

const (
	DeployStateDraft   DeployState = "draft"
	DeployStatePaused  DeployState = "paused"
	DeployStateRunning DeployState = "running"
)

// DeployStateFromPaused converts a scheduler pause flag into a deployed state.
func DeployStateFromPaused(paused bool) DeployState {
	if paused {
		return DeployStatePaused
	}
	return DeployStateRunning
}

// Deployed reports whether the workflow has been registered with the scheduler.
func (s DeployState) Deployed() bool {
	return s == DeployStatePaused || s == DeployStateRunning
}

// Paused returns the pause flag and whether it is known.
func (s DeployState) Paused() (paused bool, known bool) {
	switch s {
	case DeployStatePaused:
		return true, true
	case DeployStateRunning:
		return false, true
	default:
		return false, false
	}
}

// MarshalJSON renders draft as null and deployed states as the pause flag.
func (s DeployState) MarshalJSON() ([]byte, error) {
	paused, known := s.Paused()
	if !known {
		return []byte("null"), nil
	}
	return json.Marshal(paused)
}

func (s *DeployState) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = DeployStateDraft
		return nil
	}

	var paused bool
	if err := json.Unmarshal(data, &paused); err != nil {
		return fmt.Errorf("deploy state must be null, true or false: %w", err)
	}
	*s = DeployStateFromPaused(paused)
	return nil
}

type Workflow struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string      `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string      `gorm:"type:text" json:"description"`
	Schedule    string      `gorm:"type:varchar(100)" json:"schedule"`
	IsActive    bool        `gorm:"not null;default:true" json:"is_active"`
	DeployState DeployState `gorm:"type:text;not null;default:draft;index" json:"is_paused_in_airflow"`
	CreatedAt   time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"not null" json:"updated_at"`
	Tasks       []*Task     `gorm:"foreignKey:WorkflowID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
}

// DagID is the scheduler-side identifier of the workflow.
func (w *Workflow) DagID() string {
	return DagID(w.ID)
}

// DagID derives the scheduler DAG identifier from a workflow id.
func DagID(id uuid.UUID) string {
	return "workflow_" + id.String()
}
