// Package jobrun serves triggering workflows and reading job runs.
package jobrun

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/httperr"
	"github.com/pipewright/pipewright/api/rest/request"
	"github.com/pipewright/pipewright/internal/jobrun"
	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/log"
)

// Controller handles /jobs.
type Controller struct {
	lifecycle *lifecycle.Controller
	tracker   *jobrun.Tracker
}

// New returns a job run controller.
func New(lc *lifecycle.Controller, tracker *jobrun.Tracker) *Controller {
	return &Controller{lifecycle: lc, tracker: tracker}
}

type TriggerRequest struct {
	TriggeredBy string         `json:"triggered_by" validate:"max=100"`
	Conf        map[string]any `json:"conf"`
}

type ListResponse struct {
	Runs   []*models.JobRun `json:"runs"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type LogsResponse struct {
	JobRunID string `json:"job_run_id"`
	Task     string `json:"task"`
	Try      int    `json:"try"`
	Content  string `json:"content"`
}

// Trigger starts a run of the workflow named by :id. An empty body is
// accepted.
func (ctrl *Controller) Trigger(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}

	req := &TriggerRequest{}
	if c.Request().ContentLength != 0 {
		if err := request.Bind(c, req); err != nil {
			return err
		}
	}

	run, err := ctrl.lifecycle.Trigger(c.Request().Context(), id, lifecycle.TriggerOptions{
		TriggeredBy: strings.TrimSpace(req.TriggeredBy),
		Conf:        req.Conf,
	})
	if err != nil {
		log.Warn("trigger failed", "workflow_id", id, "error", err)
		return httperr.From(err)
	}
	return c.JSON(http.StatusCreated, run)
}

func (ctrl *Controller) List(c echo.Context) error {
	workflowID, err := request.OptionalID(c, "workflow_id")
	if err != nil {
		return err
	}
	limit, err := request.Int(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := request.Int(c, "offset", 0)
	if err != nil {
		return err
	}

	filter := jobrun.Filter{
		WorkflowID: workflowID,
		Status:     models.JobRunStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
		Limit:      limit,
		Offset:     offset,
	}
	runs, total, err := ctrl.tracker.List(c.Request().Context(), filter)
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, ListResponse{Runs: runs, Total: total, Limit: limit, Offset: offset})
}

// Get returns a run after refreshing it from the scheduler. A failed
// refresh is logged and the stored record is returned.
func (ctrl *Controller) Get(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	run, err := ctrl.tracker.Sync(ctx, id)
	if err != nil {
		stored, getErr := ctrl.tracker.Get(ctx, id)
		if getErr != nil {
			return httperr.From(getErr)
		}
		log.Warn("refresh job run", "id", id, "error", err)
		run = stored
	}
	return c.JSON(http.StatusOK, run)
}

func (ctrl *Controller) Logs(c echo.Context) error {
	id, err := request.ID(c, "id")
	if err != nil {
		return err
	}
	try, err := request.Int(c, "try", 1)
	if err != nil {
		return err
	}
	taskName := c.Param("task")

	text, err := ctrl.tracker.TaskLog(c.Request().Context(), id, taskName, try)
	if err != nil {
		return httperr.From(err)
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextPlain) {
		return c.String(http.StatusOK, text)
	}
	if try < 1 {
		try = 1
	}
	return c.JSON(http.StatusOK, LogsResponse{JobRunID: id.String(), Task: taskName, Try: try, Content: text})
}
