package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var startedAt = time.Now()

// HealthResponse defines the data the Health
// REST endpoint returns.
type HealthResponse struct {
	Status Status        `json:"status"`
	Uptime time.Duration `json:"uptime"`
}

// Health is the liveness probe. Dependency checks live under
// /v1/monitoring/health.
func Health(c echo.Context) error {
	return c.JSON(
		http.StatusOK,
		HealthResponse{
			Status: Healthy,
			Uptime: time.Since(startedAt),
		},
	)
}

// Status enumerates the health statuses of pipewright.
type Status string

const (
	// Healthy implies pipewright is serving requests.
	Healthy Status = "healthy"
)
