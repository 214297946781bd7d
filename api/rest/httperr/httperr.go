// Package httperr maps domain errors onto HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/pkg/log"
)

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	// a blocked deploy wraps the graph error it was blocked by
	case errors.Is(err, errdefs.ErrLifecycle):
		return http.StatusConflict
	case errors.Is(err, errdefs.ErrValidation), errors.Is(err, errdefs.ErrGraph):
		return http.StatusBadRequest
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrConflict), errors.Is(err, errdefs.ErrLogsUnavailable):
		return http.StatusConflict
	case errdefs.IsRetryable(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, errdefs.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// From converts err into an *echo.HTTPError carrying err as its internal
// error. Unclassified errors are logged and reported without detail.
func From(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	code := Status(err)
	if code == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

// BadRequest wraps a malformed request parameter.
func BadRequest(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
}
