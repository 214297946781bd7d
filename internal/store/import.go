package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/definition"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/task"
	"github.com/pipewright/pipewright/pkg/log"
	"gorm.io/gorm"
)

// ImportWorkflow persists an imported workflow and its tasks in one
// transaction. An existing workflow with the same name is a conflict.
func (s *Store) ImportWorkflow(ctx context.Context, draft *definition.Draft) (*models.Workflow, error) {
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
		IsActive:    draft.IsActive,
		DeployState: models.DeployStateDraft,
		Tasks:       make([]*models.Task, 0, len(draft.Tasks)),
	}

	seen := make(map[string]struct{}, len(draft.Tasks))
	for i, d := range draft.Tasks {
		t, err := task.Validate(d)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[t.Name]; ok {
			return nil, &errdefs.ConflictError{Kind: "task", Name: t.Name}
		}
		seen[t.Name] = struct{}{}

		t.ID = uuid.New()
		t.WorkflowID = wf.ID
		t.Position = i
		wf.Tasks = append(wf.Tasks, t)
	}

	if err := graph.Validate(graph.Nodes(wf.Tasks)); err != nil {
		return nil, err
	}

	s.nameMu.Lock()
	defer s.nameMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUniqueName(tx, name, uuid.Nil); err != nil {
			return err
		}
		tasks := wf.Tasks
		wf.Tasks = nil
		defer func() { wf.Tasks = tasks }()

		if err := createWorkflowRow(tx, wf); err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		return tx.Create(&tasks).Error
	})
	if err = nameConflict(err, name); err != nil {
		return nil, err
	}

	log.Info("imported workflow", "id", wf.ID, "name", wf.Name, "tasks", len(wf.Tasks))
	s.publish(event.TypeWorkflowCreated, wf.ID, wf)

	return wf, nil
}
