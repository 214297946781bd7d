// Package workflow serves workflow CRUD, definition import/export and the
// deploy lifecycle.
package workflow

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/httperr"
	"github.com/pipewright/pipewright/api/rest/request"
	"github.com/pipewright/pipewright/internal/definition"
	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/pkg/log"
)

const maxDocumentBytes = 1 << 20

// Controller handles /workflows.
type Controller struct {
	store     *store.Store
	lifecycle *lifecycle.Controller
}

// New returns a workflow controller.
func New(s *store.Store, lc *lifecycle.Controller) *Controller {
	return &Controller{store: s, lifecycle: lc}
}

type CreateRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
	Schedule    string `json:"schedule" validate:"max=100"`
	IsActive    *bool  `json:"is_active"`
}

type PatchRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Description *string `json:"description"`
	Schedule    *string `json:"schedule" validate:"omitempty,max=100"`
	IsActive    *bool   `json:"is_active"`
}

type ListResponse struct {
	Workflows []*models.Workflow `json:"workflows"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

func (ctrl *Controller) List(c echo.Context) error {
	filter := store.ListFilter{}
	if raw := c.QueryParam("is_active"); raw != "" {
		active, err := request.Bool(c, "is_active", true)
		if err != nil {
			return err
		}
		filter.IsActive = &active
	}

	var err error
	if filter.Limit, err = request.Int(c, "limit", 0); err != nil {
		return err
	}
	if filter.Offset, err = request.Int(c, "offset", 0); err != nil {
		return err
	}

	workflows, err := ctrl.store.ListWorkflows(c.Request().Context(), filter)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, ListResponse{Workflows: workflows, Limit: filter.Limit, Offset: filter.Offset})
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	wf, err := ctrl.store.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (ctrl *Controller) Post(c echo.Context) error {
	req := &CreateRequest{}
	if err := request.Bind(c, req); err != nil {
		return err
	}

	wf, err := ctrl.store.CreateWorkflow(c.Request().Context(), store.WorkflowDraft{
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

func (ctrl *Controller) Patch(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	req := &PatchRequest{}
	if err := request.Bind(c, req); err != nil {
		return err
	}

	wf, err := ctrl.store.UpdateWorkflow(c.Request().Context(), id, store.WorkflowPatch{
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (ctrl *Controller) Delete(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	if err := ctrl.lifecycle.Delete(c.Request().Context(), id); err != nil {
		return httperr.From(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Export renders the workflow as a YAML definition document.
func (ctrl *Controller) Export(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	wf, err := ctrl.store.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err)
	}
	data, err := definition.Export(wf)
	if err != nil {
		return httperr.From(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+wf.Name+`.yaml"`)
	return c.Blob(http.StatusOK, "application/yaml", data)
}

// Import creates a workflow from a YAML definition document in the body.
func (ctrl *Controller) Import(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDocumentBytes+1))
	if err != nil {
		return httperr.BadRequest(err)
	}
	if len(data) > maxDocumentBytes {
		return echo.ErrStatusRequestEntityTooLarge
	}

	draft, err := definition.Import(data)
	if err != nil {
		return httperr.From(err)
	}
	wf, err := ctrl.store.ImportWorkflow(c.Request().Context(), draft)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

func (ctrl *Controller) Deploy(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	wf, err := ctrl.lifecycle.Deploy(c.Request().Context(), id)
	if err != nil {
		log.Warn("deploy failed", "id", id, "error", err)
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (ctrl *Controller) Pause(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	wf, err := ctrl.lifecycle.Pause(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (ctrl *Controller) Unpause(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	wf, err := ctrl.lifecycle.Unpause(c.Request().Context(), id)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// UnpauseActive unpauses every active workflow. Per-workflow failures are
// part of a 200 response.
func (ctrl *Controller) UnpauseActive(c echo.Context) error {
	result, err := ctrl.lifecycle.UnpauseAllActive(c.Request().Context())
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, result)
}
