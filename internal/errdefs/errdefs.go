// Package errdefs defines the error taxonomy shared by the store, the
// lifecycle controller, the job run tracker and the HTTP layer.
//
// Every typed error reports its category through errors.Is, so callers can
// branch on the category sentinel or unpack the concrete type with
// errors.As when they need the details.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels.
var (
	ErrValidation      = errors.New("validation error")
	ErrGraph           = errors.New("graph error")
	ErrLifecycle       = errors.New("lifecycle error")
	ErrRemote          = errors.New("remote error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrLogsUnavailable = errors.New("logs unavailable")
)

// InvalidNameError reports a name that does not match the allowed pattern.
type InvalidNameError struct {
	Field string
	Value string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s %q: must start with a letter and contain only letters, digits and underscores", e.Field, e.Value)
}

func (e *InvalidNameError) Is(target error) bool { return target == ErrValidation }

// MissingRequiredFieldError reports an absent field required by the
// selected execution mode.
type MissingRequiredFieldError struct {
	Field string
	Mode  string
}

func (e *MissingRequiredFieldError) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s is required for %s tasks", e.Field, e.Mode)
}

func (e *MissingRequiredFieldError) Is(target error) bool { return target == ErrValidation }

// OutOfRangeError reports a numeric field outside its bounds.
type OutOfRangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s must be between %d and %d, got %d", e.Field, e.Min, e.Max, e.Value)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrValidation }

// InvalidFieldError reports a field whose value is malformed or not
// allowed in its context.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidFieldError) Is(target error) bool { return target == ErrValidation }

// CycleError lists the members of a dependency cycle in discovery order.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	if len(e.Members) == 0 {
		return "dependency cycle detected"
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(append(append([]string{}, e.Members...), e.Members[0]), " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrGraph }

// DanglingReferenceError reports a dependency on a task that does not exist.
type DanglingReferenceError struct {
	Task    string
	Missing string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.Task, e.Missing)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrGraph }

// ReferencedDependencyError reports a delete of a task other tasks still
// depend on.
type ReferencedDependencyError struct {
	Task       string
	Dependents []string
}

func (e *ReferencedDependencyError) Error() string {
	return fmt.Sprintf("task %q is still a dependency of %s", e.Task, strings.Join(e.Dependents, ", "))
}

func (e *ReferencedDependencyError) Is(target error) bool { return target == ErrGraph }

// EmptyWorkflowError is returned when deploying a workflow without tasks.
type EmptyWorkflowError struct {
	WorkflowID string
}

func (e *EmptyWorkflowError) Error() string {
	return fmt.Sprintf("workflow %s has no tasks", e.WorkflowID)
}

func (e *EmptyWorkflowError) Is(target error) bool { return target == ErrLifecycle }

// InactiveWorkflowError is returned when triggering a workflow whose
// is_active flag is off.
type InactiveWorkflowError struct {
	WorkflowID string
}

func (e *InactiveWorkflowError) Error() string {
	return fmt.Sprintf("workflow %s is not active", e.WorkflowID)
}

func (e *InactiveWorkflowError) Is(target error) bool { return target == ErrLifecycle }

// NotDeployedError is returned when an operation needs a deployed workflow.
type NotDeployedError struct {
	WorkflowID string
}

func (e *NotDeployedError) Error() string {
	return fmt.Sprintf("workflow %s has not been deployed", e.WorkflowID)
}

func (e *NotDeployedError) Is(target error) bool { return target == ErrLifecycle }

// GraphInvalidError wraps the graph error that blocked a deploy.
type GraphInvalidError struct {
	Err error
}

func (e *GraphInvalidError) Error() string {
	return fmt.Sprintf("cannot deploy invalid task graph: %v", e.Err)
}

func (e *GraphInvalidError) Unwrap() error { return e.Err }

func (e *GraphInvalidError) Is(target error) bool { return target == ErrLifecycle }

// SchedulerUnreachableError reports a timeout or transport failure. The
// call may be retried.
type SchedulerUnreachableError struct {
	Op  string
	Err error
}

func (e *SchedulerUnreachableError) Error() string {
	return fmt.Sprintf("scheduler unreachable during %s: %v", e.Op, e.Err)
}

func (e *SchedulerUnreachableError) Unwrap() error { return e.Err }

func (e *SchedulerUnreachableError) Is(target error) bool { return target == ErrRemote }

// SchedulerRejectedError reports an error response from the scheduler.
type SchedulerRejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *SchedulerRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("scheduler rejected %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("scheduler rejected %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *SchedulerRejectedError) Is(target error) bool { return target == ErrRemote }

// Reasons carried by LogsUnavailableError.
const (
	LogsNotStarted  = "not_started"
	LogsUnknownTask = "unknown_task"
	LogsNotFlushed  = "not_flushed"
)

// LogsUnavailableError reports why a task log cannot be returned.
type LogsUnavailableError struct {
	JobRunID string
	Task     string
	Reason   string
}

func (e *LogsUnavailableError) Error() string {
	switch e.Reason {
	case LogsNotStarted:
		return fmt.Sprintf("job run %s has not started", e.JobRunID)
	case LogsUnknownTask:
		return fmt.Sprintf("task %q is not part of the workflow for job run %s", e.Task, e.JobRunID)
	default:
		return fmt.Sprintf("logs for task %q in job run %s are not available yet", e.Task, e.JobRunID)
	}
}

func (e *LogsUnavailableError) Is(target error) bool { return target == ErrLogsUnavailable }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Kind string
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsRetryable reports whether err is safe to retry without changing input.
func IsRetryable(err error) bool {
	var unreachable *SchedulerUnreachableError
	return errors.As(err, &unreachable)
}
