package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExecutionMode string

const (
	ExecutionModeInline ExecutionMode = "inline"
	ExecutionModeGit    ExecutionMode = "git"
)

const (
	DefaultDockerImage = "python:3.9-slim"
	DefaultGitBranch   = "main"
	DefaultRetryDelay  = 300
)

// Task is the persisted form of a workflow step. The execution payload is
// flattened into nullable columns; exactly one mode's fields are set.
type Task struct {
	ID             uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	WorkflowID     uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:idx_tasks_workflow_name" json:"workflow_id"`
	Name           string                      `gorm:"type:varchar(255);not null;uniqueIndex:idx_tasks_workflow_name" json:"name"`
	Position       int                         `gorm:"not null;default:0" json:"-"`
	ExecutionMode  ExecutionMode               `gorm:"type:text;not null" json:"execution_mode"`
	PythonCallable *string                     `gorm:"type:text" json:"python_callable"`
	GitRepository  *string                     `gorm:"type:text" json:"git_repository"`
	GitBranch      *string                     `gorm:"type:text" json:"git_branch"`
	GitCommitSHA   *string                     `gorm:"column:git_commit_sha;type:varchar(40)" json:"git_commit_sha"`
	ScriptPath     *string                     `gorm:"type:text" json:"script_path"`
	FunctionName   *string                     `gorm:"type:text" json:"function_name"`
	DockerImage    string                      `gorm:"type:text;not null" json:"docker_image"`
	Params         datatypes.JSONMap           `gorm:"type:json" json:"params"`
	Dependencies   datatypes.JSONSlice[string] `gorm:"type:json" json:"dependencies"`
	RetryCount     int                         `gorm:"not null;default:0" json:"retry_count"`
	RetryDelay     int                         `gorm:"not null" json:"retry_delay"`
	CreatedAt      time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null" json:"updated_at"`
}

// DependsOn reports whether the task lists name as a dependency.
func (t *Task) DependsOn(name string) bool {
	for _, dep := range t.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// Pinned reports whether a git task is fixed to an exact commit.
func (t *Task) Pinned() bool {
	return t.ExecutionMode == ExecutionModeGit && t.GitCommitSHA != nil && *t.GitCommitSHA != ""
}
