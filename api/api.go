// Package api serves pipewright's HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pipewright/pipewright/api/rest/request"
	rest "github.com/pipewright/pipewright/api/rest/v1"
	"github.com/pipewright/pipewright/pkg/log"
)

// New builds the echo instance with health, metrics and the REST API.
func New(svc rest.Services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = request.NewValidator()
	e.Use(middleware.Recover())

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("pipewright", nil).Use(e)

	// REST
	rest.Bind(e.Group("/v1"), svc)

	return e
}

// Start serves e on port until ctx is cancelled, then shuts down.
func Start(ctx context.Context, e *echo.Echo, port int) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting api", "port", port)
		errCh <- e.Start(fmt.Sprintf(":%v", port))
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return context.Cause(ctx)
	}
}
