// Package monitoring serves aggregate statistics and component health.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/api/rest/httperr"
	"github.com/pipewright/pipewright/api/rest/service/stats"
	"github.com/pipewright/pipewright/pkg/log"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Controller handles /monitoring.
type Controller struct {
	stats  *stats.Service
	checks map[string]Checker
}

// New returns a monitoring controller running checks on health requests.
func New(svc *stats.Service, checks map[string]Checker) *Controller {
	return &Controller{stats: svc, checks: checks}
}

type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

func (ctrl *Controller) Stats(c echo.Context) error {
	resp, err := ctrl.stats.Get(c.Request().Context())
	if err != nil {
		return httperr.From(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Health runs every check and answers 503 when any fails.
func (ctrl *Controller) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Components: make(map[string]ComponentHealth, len(ctrl.checks))}
	code := http.StatusOK
	for name, check := range ctrl.checks {
		if err := check(ctx); err != nil {
			log.Warn("health check failed", "component", name, "error", err)
			resp.Components[name] = ComponentHealth{Status: "unhealthy", Error: err.Error()}
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = ComponentHealth{Status: "healthy"}
	}
	return c.JSON(code, resp)
}
