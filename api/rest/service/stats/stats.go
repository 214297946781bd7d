// Package stats aggregates workflow and job run statistics for monitoring.
package stats

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/internal/models"
	"gorm.io/gorm"
)

// Response is the monitoring statistics payload.
type Response struct {
	Workflows  WorkflowStats     `json:"workflows"`
	Runs       RunStats          `json:"runs"`
	TopFailing []FailingWorkflow `json:"top_failing"`
}

// WorkflowStats counts workflows by activity and deploy state.
type WorkflowStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
	Draft    int64 `json:"draft"`
	Paused   int64 `json:"paused"`
	Running  int64 `json:"running"`
}

// RunStats aggregates job runs.
type RunStats struct {
	Total              int64                         `json:"total"`
	ByStatus           map[models.JobRunStatus]int64 `json:"by_status"`
	Last24h            int64                         `json:"last_24h"`
	SuccessRate        float64                       `json:"success_rate"`
	AvgDurationSeconds float64                       `json:"avg_duration_seconds"`
}

// FailingWorkflow describes a workflow with failed runs.
type FailingWorkflow struct {
	WorkflowID   string     `json:"workflow_id"`
	Name         string     `json:"name"`
	FailureCount int64      `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure"`
}

// Service computes statistics.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Service over db.
func New(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) durationExpr() string {
	if s.db.Dialector.Name() == "postgres" {
		return "EXTRACT(EPOCH FROM (ended_at - started_at))"
	}
	return "(JULIANDAY(ended_at) - JULIANDAY(started_at)) * 86400"
}

// Get computes the statistics.
func (s *Service) Get(ctx context.Context) (*Response, error) {
	db := s.db.WithContext(ctx)
	resp := &Response{
		Runs:       RunStats{ByStatus: map[models.JobRunStatus]int64{}},
		TopFailing: []FailingWorkflow{},
	}

	var workflowRows []struct {
		IsActive    bool
		DeployState models.DeployState
		Count       int64
	}
	if err := db.Model(&models.Workflow{}).
		Select("is_active, deploy_state, COUNT(*) as count").
		Group("is_active, deploy_state").
		Scan(&workflowRows).Error; err != nil {
		return nil, err
	}
	for _, row := range workflowRows {
		w := &resp.Workflows
		w.Total += row.Count
		if row.IsActive {
			w.Active += row.Count
		} else {
			w.Inactive += row.Count
		}
		switch row.DeployState {
		case models.DeployStatePaused:
			w.Paused += row.Count
		case models.DeployStateRunning:
			w.Running += row.Count
		default:
			w.Draft += row.Count
		}
	}

	var statusRows []struct {
		Status models.JobRunStatus
		Count  int64
	}
	if err := db.Model(&models.JobRun{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, row := range statusRows {
		resp.Runs.ByStatus[row.Status] = row.Count
		resp.Runs.Total += row.Count
	}

	finished := resp.Runs.ByStatus[models.JobRunStatusSuccess] + resp.Runs.ByStatus[models.JobRunStatusFailed]
	if finished > 0 {
		resp.Runs.SuccessRate = float64(resp.Runs.ByStatus[models.JobRunStatusSuccess]) / float64(finished)
	}

	since := s.now().UTC().Add(-24 * time.Hour)
	if err := db.Model(&models.JobRun{}).
		Where("created_at >= ?", since).
		Count(&resp.Runs.Last24h).Error; err != nil {
		return nil, err
	}

	var avg struct{ Avg *float64 }
	if err := db.Model(&models.JobRun{}).
		Select("AVG("+s.durationExpr()+") as avg").
		Where("started_at IS NOT NULL AND ended_at IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg.Avg != nil {
		resp.Runs.AvgDurationSeconds = *avg.Avg
	}

	var failRows []struct {
		WorkflowID string
		Name       string
		Count      int64
	}
	if err := db.Table("job_runs").
		Select("job_runs.workflow_id, workflows.name, COUNT(*) as count").
		Joins("JOIN workflows ON workflows.id = job_runs.workflow_id").
		Where("job_runs.status = ?", models.JobRunStatusFailed).
		Group("job_runs.workflow_id, workflows.name").
		Order("count DESC").
		Order("workflows.name ASC").
		Limit(5).
		Scan(&failRows).Error; err != nil {
		return nil, err
	}
	for _, row := range failRows {
		var last models.JobRun
		if err := db.Where("workflow_id = ? AND status = ?", row.WorkflowID, models.JobRunStatusFailed).
			Order("created_at DESC").
			First(&last).Error; err != nil {
			return nil, err
		}
		failedAt := last.CreatedAt
		if last.EndedAt != nil {
			failedAt = *last.EndedAt
		}
		resp.TopFailing = append(resp.TopFailing, FailingWorkflow{
			WorkflowID:   row.WorkflowID,
			Name:         row.Name,
			FailureCount: row.Count,
			LastFailure:  &failedAt,
		})
	}

	return resp, nil
}
