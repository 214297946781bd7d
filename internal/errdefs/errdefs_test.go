package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategories(t *testing.T) {
	cases := []struct {
		err      error
		category error
	}{
		{&InvalidNameError{Field: "name", Value: "1x"}, ErrValidation},
		{&MissingRequiredFieldError{Field: "python_callable", Mode: "inline"}, ErrValidation},
		{&OutOfRangeError{Field: "retry_count", Value: 11, Max: 10}, ErrValidation},
		{&InvalidFieldError{Field: "git_commit_sha", Reason: "bad"}, ErrValidation},
		{&CycleError{Members: []string{"A", "B"}}, ErrGraph},
		{&DanglingReferenceError{Task: "A", Missing: "Z"}, ErrGraph},
		{&ReferencedDependencyError{Task: "A", Dependents: []string{"B"}}, ErrGraph},
		{&EmptyWorkflowError{}, ErrLifecycle},
		{&InactiveWorkflowError{}, ErrLifecycle},
		{&NotDeployedError{}, ErrLifecycle},
		{&GraphInvalidError{Err: &CycleError{Members: []string{"A"}}}, ErrLifecycle},
		{&SchedulerUnreachableError{Op: "trigger", Err: errors.New("timeout")}, ErrRemote},
		{&SchedulerRejectedError{Op: "trigger", StatusCode: 409}, ErrRemote},
		{&LogsUnavailableError{Reason: LogsNotFlushed}, ErrLogsUnavailable},
		{&NotFoundError{Kind: "workflow", ID: "x"}, ErrNotFound},
		{&ConflictError{Kind: "workflow", Name: "x"}, ErrConflict},
	}

	for _, tc := range cases {
		wrapped := fmt.Errorf("op: %w", tc.err)
		require.ErrorIs(t, wrapped, tc.category, tc.err.Error())
		require.NotEmpty(t, tc.err.Error())
	}
}

func TestGraphInvalidUnwrapsGraphError(t *testing.T) {
	err := &GraphInvalidError{Err: &CycleError{Members: []string{"A", "B", "C"}}}

	require.ErrorIs(t, err, ErrLifecycle)
	require.ErrorIs(t, err, ErrGraph)

	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	require.Equal(t, []string{"A", "B", "C"}, cycle.Members)
	require.Contains(t, err.Error(), "A -> B -> C -> A")
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(fmt.Errorf("wrap: %w", &SchedulerUnreachableError{Op: "pause"})))
	require.False(t, IsRetryable(&SchedulerRejectedError{Op: "pause", StatusCode: 400}))
	require.False(t, IsRetryable(errors.New("boom")))
}
