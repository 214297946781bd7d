package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/task"
	"github.com/pipewright/pipewright/pkg/log"
	"gorm.io/gorm"
)

// DeleteTaskOptions controls how DeleteTask treats dependents.
type DeleteTaskOptions struct {
	// Cascade strips the deleted task's name from every dependent instead
	// of rejecting the delete.
	Cascade bool
}

func loadTasks(tx *gorm.DB, workflowID uuid.UUID) ([]*models.Task, error) {
	if err := tx.Select("id").First(&models.Workflow{}, "id = ?", workflowID).Error; err != nil {
		return nil, notFound("workflow", workflowID, err)
	}

	var tasks []*models.Task
	if err := tx.Where("workflow_id = ?", workflowID).Order("position ASC, created_at ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateTask validates a draft and appends it to the workflow's task set.
func (s *Store) CreateTask(ctx context.Context, workflowID uuid.UUID, draft task.Draft) (*models.Task, error) {
	t, err := task.Validate(draft)
	if err != nil {
		return nil, err
	}

	unlock := s.Lock(workflowID)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks, err := loadTasks(tx, workflowID)
		if err != nil {
			return err
		}

		position := 0
		for _, existing := range tasks {
			if existing.Name == t.Name {
				return &errdefs.ConflictError{Kind: "task", Name: t.Name}
			}
			if existing.Position >= position {
				position = existing.Position + 1
			}
		}

		if err := graph.Validate(graph.Nodes(append(tasks, t))); err != nil {
			return err
		}

		t.ID = uuid.New()
		t.WorkflowID = workflowID
		t.Position = position
		return tx.Create(t).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info("created task", "workflow_id", workflowID, "task", t.Name)
	s.publish(event.TypeTaskCreated, workflowID, t)

	return t, nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t := &models.Task{}
	if err := s.db.WithContext(ctx).First(t, "id = ?", id).Error; err != nil {
		return nil, notFound("task", id, err)
	}
	return t, nil
}

// ListTasks returns a workflow's tasks in stored order.
func (s *Store) ListTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	return loadTasks(s.db.WithContext(ctx), workflowID)
}

// UpdateTask replaces a task's definition. A rename rewrites the
// dependency lists of every dependent in the same transaction.
func (s *Store) UpdateTask(ctx context.Context, id uuid.UUID, draft task.Draft) (*models.Task, error) {
	updated, err := task.Validate(draft)
	if err != nil {
		return nil, err
	}

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.Lock(current.WorkflowID)
	defer unlock()

	var renamed []*models.Task
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks, err := loadTasks(tx, current.WorkflowID)
		if err != nil {
			return err
		}

		var existing *models.Task
		for _, t := range tasks {
			if t.ID == id {
				existing = t
			}
		}
		if existing == nil {
			return &errdefs.NotFoundError{Kind: "task", ID: id.String()}
		}

		oldName := existing.Name
		updated.ID = existing.ID
		updated.WorkflowID = existing.WorkflowID
		updated.Position = existing.Position
		updated.CreatedAt = existing.CreatedAt

		prospective := make([]*models.Task, len(tasks))
		renamed = renamed[:0]
		for i, t := range tasks {
			switch {
			case t.ID == id:
				prospective[i] = updated
			case t.Name == updated.Name:
				return &errdefs.ConflictError{Kind: "task", Name: updated.Name}
			case oldName != updated.Name && t.DependsOn(oldName):
				cp := *t
				cp.Dependencies = renameDependency(t.Dependencies, oldName, updated.Name)
				prospective[i] = &cp
				renamed = append(renamed, &cp)
			default:
				prospective[i] = t
			}
		}

		if err := graph.Validate(graph.Nodes(prospective)); err != nil {
			return err
		}

		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		for _, dep := range renamed {
			if err := tx.Model(&models.Task{}).Where("id = ?", dep.ID).Update("dependencies", dep.Dependencies).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(renamed) > 0 {
		log.Info("renamed task", "workflow_id", updated.WorkflowID, "task", updated.Name, "rewritten_dependents", len(renamed))
	}
	s.publish(event.TypeTaskUpdated, updated.WorkflowID, updated)

	return updated, nil
}

func renameDependency(deps []string, from, to string) []string {
	out := make([]string, 0, len(deps))
	seen := map[string]struct{}{}
	for _, d := range deps {
		if d == from {
			d = to
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// DeleteTask removes a task. A task other tasks still depend on is
// rejected with ReferencedDependencyError unless opts.Cascade is set.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID, opts DeleteTaskOptions) error {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.Lock(current.WorkflowID)
	defer unlock()

	var stripped int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tasks, err := loadTasks(tx, current.WorkflowID)
		if err != nil {
			return err
		}

		var (
			target     *models.Task
			dependents []*models.Task
			remaining  []*models.Task
		)
		for _, t := range tasks {
			if t.ID == id {
				target = t
				continue
			}
			remaining = append(remaining, t)
		}
		if target == nil {
			return &errdefs.NotFoundError{Kind: "task", ID: id.String()}
		}
		for _, t := range remaining {
			if t.DependsOn(target.Name) {
				dependents = append(dependents, t)
			}
		}

		if len(dependents) > 0 && !opts.Cascade {
			names := make([]string, len(dependents))
			for i, d := range dependents {
				names[i] = d.Name
			}
			return &errdefs.ReferencedDependencyError{Task: target.Name, Dependents: names}
		}

		for _, d := range dependents {
			kept := make([]string, 0, len(d.Dependencies))
			for _, name := range d.Dependencies {
				if name != target.Name {
					kept = append(kept, name)
				}
			}
			d.Dependencies = kept
		}

		if err := graph.Validate(graph.Nodes(remaining)); err != nil {
			return err
		}

		for _, d := range dependents {
			if err := tx.Model(&models.Task{}).Where("id = ?", d.ID).Update("dependencies", d.Dependencies).Error; err != nil {
				return err
			}
		}
		stripped = len(dependents)
		return tx.Delete(&models.Task{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}

	log.Info("deleted task", "workflow_id", current.WorkflowID, "task", current.Name, "stripped_dependents", stripped)
	s.publish(event.TypeTaskDeleted, current.WorkflowID, map[string]string{"name": current.Name})

	return nil
}
