package httperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&errdefs.InvalidNameError{Field: "name", Value: "1x"}, http.StatusBadRequest},
		{&errdefs.CycleError{Members: []string{"a", "b"}}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &errdefs.DanglingReferenceError{Task: "a", Missing: "b"}), http.StatusBadRequest},
		{&errdefs.NotFoundError{Kind: "workflow", ID: "x"}, http.StatusNotFound},
		{&errdefs.ConflictError{Kind: "workflow", Name: "x"}, http.StatusConflict},
		{&errdefs.NotDeployedError{WorkflowID: "x"}, http.StatusConflict},
		{&errdefs.GraphInvalidError{Err: &errdefs.CycleError{}}, http.StatusConflict},
		{fmt.Errorf("deploy: %w", &errdefs.GraphInvalidError{Err: &errdefs.DanglingReferenceError{Task: "a", Missing: "b"}}), http.StatusConflict},
		{&errdefs.LogsUnavailableError{Reason: errdefs.LogsNotFlushed}, http.StatusConflict},
		{&errdefs.SchedulerRejectedError{Op: "trigger", StatusCode: 409}, http.StatusBadGateway},
		{&errdefs.SchedulerUnreachableError{Op: "trigger", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Status(tc.err), tc.err.Error())
	}
}

func TestFrom(t *testing.T) {
	require.NoError(t, From(nil))

	err := From(&errdefs.NotFoundError{Kind: "job run", ID: "abc"})
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	require.Equal(t, http.StatusNotFound, he.Code)
	require.Equal(t, "job run abc not found", he.Message)
	require.ErrorIs(t, he.Internal, errdefs.ErrNotFound)

	err = From(errors.New("secret internal detail"))
	require.True(t, errors.As(err, &he))
	require.Equal(t, http.StatusInternalServerError, he.Code)
	require.NotContains(t, fmt.Sprint(he.Message), "secret internal detail")

	passthrough := echo.NewHTTPError(http.StatusTeapot, "teapot")
	require.Same(t, passthrough, From(passthrough))
}
