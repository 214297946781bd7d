// Package task serves the tasks of a workflow.
package task

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/httperr"
	"github.com/pipewright/pipewright/api/rest/request"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/task"
)

// Controller handles /workflows/:id/tasks and /tasks/:id.
type Controller struct {
	store *store.Store
}

// New returns a task controller.
func New(s *store.Store) *Controller {
	return &Controller{store: s}
}

// Request is the task body accepted by create and update. Mode specific
// field checks are left to task validation so the API and imports report
// the same errors.
type Request struct {
	task.Draft
	Name          string `json:"name" validate:"required,max=100"`
	ExecutionMode string `json:"execution_mode" validate:"omitempty,oneof=inline git"`
	RetryCount    int    `json:"retry_count" validate:"gte=0"`
}

func (r *Request) draft() task.Draft {
	d := r.Draft
	d.Name = r.Name
	d.ExecutionMode = r.ExecutionMode
	if d.ExecutionMode == "" {
		d.ExecutionMode = string(models.ExecutionModeInline)
	}
	d.RetryCount = r.RetryCount
	return d
}

type ListResponse struct {
	Tasks []*models.Task `json:"tasks"`
}

func (ctrl *Controller) List(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := ctrl.store.GetWorkflow(ctx, id); err != nil {
		return httperr.From(err)
	}
	tasks, err := ctrl.store.ListTasks(ctx, id)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, ListResponse{Tasks: tasks})
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	t, err := ctrl.store.GetTask(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (ctrl *Controller) Post(c echo.Context) error {
	workflowID, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	req := &Request{}
	if err := request.Bind(c, req); err != nil {
		return err
	}
	t, err := ctrl.store.CreateTask(c.Request().Context(), workflowID, req.draft())
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// Put replaces a task. Renaming rewrites the dependency lists of its
// dependents.
func (ctrl *Controller) Put(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	req := &Request{}
	if err := request.Bind(c, req); err != nil {
		return err
	}
	t, err := ctrl.store.UpdateTask(c.Request().Context(), id, req.draft())
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, t)
}

// Delete removes a task. A task other tasks depend on is rejected unless
// ?cascade=true.
func (ctrl *Controller) Delete(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	cascade, err := request.Bool(c, "cascade", false)
	if err != nil {
		return err
	}
	if err := ctrl.store.DeleteTask(c.Request().Context(), id, store.DeleteTaskOptions{Cascade: cascade}); err != nil {
		return httperr.From(err)
	}
	return c.NoContent(http.StatusNoContent)
}
