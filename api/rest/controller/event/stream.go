// Package event streams bus events to clients over server-sent events.
package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/httperr"
	"github.com/pipewright/pipewright/api/rest/request"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/pkg/log"
)

// Controller handles /events.
type Controller struct {
	bus       event.Bus
	keepalive time.Duration
}

// New returns an event stream controller.
func New(bus event.Bus) *Controller {
	return &Controller{bus: bus, keepalive: 15 * time.Second}
}

// Stream writes matching events until the client disconnects. Filters:
// workflow_id, job_run_id and a comma separated types list.
func (ctrl *Controller) Stream(c echo.Context) error {
	ctx := c.Request().Context()

	filter := event.Filter{}
	var err error
	if filter.WorkflowID, err = request.OptionalID(c, "workflow_id"); err != nil {
		return err
	}
	if filter.JobRunID, err = request.OptionalID(c, "job_run_id"); err != nil {
		return err
	}
	for _, t := range strings.Split(c.QueryParam("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.Types = append(filter.Types, event.Type(t))
		}
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return httperr.From(err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
		return nil
	}
	res.Flush()

	ticker := time.NewTicker(ctrl.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Error("marshal event for stream", "type", e.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
