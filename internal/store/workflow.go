package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/log"
	"gorm.io/gorm"
)

// CreateWorkflow persists a new workflow in the draft state.
func (s *Store) CreateWorkflow(ctx context.Context, draft WorkflowDraft) (*models.Workflow, error) {
	name, err := validateWorkflowName(draft.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchedule(draft.Schedule); err != nil {
		return nil, err
	}

	wf := &models.Workflow{
		ID:          uuid.New(),
		Name:        name,
		Description: draft.Description,
		Schedule:    strings.TrimSpace(draft.Schedule),
		IsActive:    true,
		DeployState: models.DeployStateDraft,
	}
	if draft.IsActive != nil {
		wf.IsActive = *draft.IsActive
	}

	s.nameMu.Lock()
	defer s.nameMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUniqueName(tx, name, uuid.Nil); err != nil {
			return err
		}
		return createWorkflowRow(tx, wf)
	})
	if err = nameConflict(err, name); err != nil {
		return nil, err
	}

	log.Info("created workflow", "id", wf.ID, "name", wf.Name)
	s.publish(event.TypeWorkflowCreated, wf.ID, wf)

	return wf, nil
}

// GetWorkflow returns a workflow with its tasks in stored order.
func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	wf := &models.Workflow{}
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, created_at ASC") }).
		First(wf, "id = ?", id).Error
	if err != nil {
		return nil, notFound("workflow", id, err)
	}
	return wf, nil
}

// GetWorkflowByName returns the workflow with the given unique name.
func (s *Store) GetWorkflowByName(ctx context.Context, name string) (*models.Workflow, error) {
	wf := &models.Workflow{}
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, created_at ASC") }).
		First(wf, "name = ?", strings.TrimSpace(name)).Error
	if err != nil {
		return nil, notFound("workflow", name, err)
	}
	return wf, nil
}

// ListWorkflows returns workflows ordered by name.
func (s *Store) ListWorkflows(ctx context.Context, filter ListFilter) ([]*models.Workflow, error) {
	q := s.db.WithContext(ctx).Model(&models.Workflow{}).Order("name ASC")
	if filter.IsActive != nil {
		q = q.Where("is_active = ?", *filter.IsActive)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var workflows []*models.Workflow
	if err := q.Find(&workflows).Error; err != nil {
		return nil, err
	}
	return workflows, nil
}

// UpdateWorkflow applies a patch to the workflow's own fields. The deploy
// state is owned by the lifecycle controller and cannot be patched.
func (s *Store) UpdateWorkflow(ctx context.Context, id uuid.UUID, patch WorkflowPatch) (*models.Workflow, error) {
	updates := map[string]any{}

	if patch.Name != nil {
		name, err := validateWorkflowName(*patch.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if patch.Schedule != nil {
		if err := ValidateSchedule(*patch.Schedule); err != nil {
			return nil, err
		}
		updates["schedule"] = strings.TrimSpace(*patch.Schedule)
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	if _, ok := updates["name"]; ok {
		s.nameMu.Lock()
		defer s.nameMu.Unlock()
	}

	unlock := s.Lock(id)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wf := &models.Workflow{}
		if err := tx.First(wf, "id = ?", id).Error; err != nil {
			return notFound("workflow", id, err)
		}
		if name, ok := updates["name"].(string); ok {
			if err := s.ensureUniqueName(tx, name, id); err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(wf).Updates(updates).Error
	})
	if name, ok := updates["name"].(string); ok {
		err = nameConflict(err, name)
	}
	if err != nil {
		return nil, err
	}

	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Info("updated workflow", "id", id, "fields", len(updates))
	s.publish(event.TypeWorkflowUpdated, id, wf)

	return wf, nil
}

// DeleteWorkflow removes a workflow and all of its tasks. Job runs are kept
// as history.
func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	unlock := s.Lock(id)
	defer unlock()

	return s.DeleteWorkflowLocked(ctx, id)
}

// DeleteWorkflowLocked is DeleteWorkflow for callers already holding
// Lock(id).
func (s *Store) DeleteWorkflowLocked(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("workflow_id = ?", id).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Workflow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &errdefs.NotFoundError{Kind: "workflow", ID: id.String()}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("deleted workflow", "id", id)
	s.publish(event.TypeWorkflowDeleted, id, nil)

	return nil
}

// SetDeployState records the scheduler's acknowledged pause state. A
// deployed workflow never returns to draft.
func (s *Store) SetDeployState(ctx context.Context, id uuid.UUID, state models.DeployState) error {
	if !state.Deployed() {
		return &errdefs.InvalidFieldError{Field: "is_paused_in_airflow", Reason: "cannot return to draft"}
	}

	res := s.db.WithContext(ctx).Model(&models.Workflow{}).Where("id = ?", id).Update("deploy_state", state)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &errdefs.NotFoundError{Kind: "workflow", ID: id.String()}
	}
	return nil
}

// createWorkflowRow inserts wf. gorm skips zero values for columns with a
// default and reads the default back, so is_active is restored and written
// explicitly afterwards.
func createWorkflowRow(tx *gorm.DB, wf *models.Workflow) error {
	active := wf.IsActive
	if err := tx.Create(wf).Error; err != nil {
		return err
	}
	wf.IsActive = active
	return tx.Model(&models.Workflow{}).Where("id = ?", wf.ID).Update("is_active", active).Error
}
