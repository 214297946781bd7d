// Package task validates individual task definitions and converts them into
// their persisted form.
package task

import (
	"regexp"
	"strings"

	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/jsonmap"
	"gorm.io/datatypes"
)

const (
	MaxRetryCount = 10
	MaxRetryDelay = 3600
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	shaPattern  = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
)

// Draft is an unvalidated task as submitted over the API or read from a
// definition document.
type Draft struct {
	Name           string         `json:"name" yaml:"name"`
	ExecutionMode  string         `json:"execution_mode" yaml:"execution_mode"`
	PythonCallable *string        `json:"python_callable,omitempty" yaml:"python_callable,omitempty"`
	GitRepository  *string        `json:"git_repository,omitempty" yaml:"git_repository,omitempty"`
	GitBranch      *string        `json:"git_branch,omitempty" yaml:"git_branch,omitempty"`
	GitCommitSHA   *string        `json:"git_commit_sha,omitempty" yaml:"git_commit_sha,omitempty"`
	ScriptPath     *string        `json:"script_path,omitempty" yaml:"script_path,omitempty"`
	FunctionName   *string        `json:"function_name,omitempty" yaml:"function_name,omitempty"`
	DockerImage    string         `json:"docker_image,omitempty" yaml:"docker_image,omitempty"`
	Params         map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	RetryCount     int            `json:"retry_count" yaml:"retry_count"`
	RetryDelay     *int           `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
}

// Validate checks a draft and returns the task it describes. The returned
// task has no ID or workflow assigned. Checks run in a fixed order: name,
// execution mode payload, retry bounds, then commit format.
func Validate(d Draft) (*models.Task, error) {
	if !namePattern.MatchString(d.Name) {
		return nil, &errdefs.InvalidNameError{Field: "name", Value: d.Name}
	}

	payload, err := buildPayload(d)
	if err != nil {
		return nil, err
	}

	if d.RetryCount < 0 || d.RetryCount > MaxRetryCount {
		return nil, &errdefs.OutOfRangeError{Field: "retry_count", Value: d.RetryCount, Min: 0, Max: MaxRetryCount}
	}

	retryDelay := models.DefaultRetryDelay
	if d.RetryDelay != nil {
		retryDelay = *d.RetryDelay
	}
	if retryDelay < 0 || retryDelay > MaxRetryDelay {
		return nil, &errdefs.OutOfRangeError{Field: "retry_delay", Value: retryDelay, Min: 0, Max: MaxRetryDelay}
	}

	if g, ok := payload.(Git); ok && g.CommitSHA != "" && !shaPattern.MatchString(g.CommitSHA) {
		return nil, &errdefs.InvalidFieldError{Field: "git_commit_sha", Reason: "must be exactly 40 hexadecimal characters"}
	}

	image := strings.TrimSpace(d.DockerImage)
	if image == "" {
		image = models.DefaultDockerImage
	}

	params, err := jsonmap.Normalize(d.Params)
	if err != nil {
		return nil, &errdefs.InvalidFieldError{Field: "params", Reason: err.Error()}
	}

	t := &models.Task{
		Name:         d.Name,
		DockerImage:  image,
		Params:       params,
		Dependencies: datatypes.JSONSlice[string](dedupe(d.Dependencies)),
		RetryCount:   d.RetryCount,
		RetryDelay:   retryDelay,
	}
	payload.apply(t)

	return t, nil
}

func buildPayload(d Draft) (Payload, error) {
	var callable string
	if present(d.PythonCallable) != "" {
		callable = *d.PythonCallable
	}
	gitFields := map[string]string{
		"git_repository": present(d.GitRepository),
		"git_branch":     present(d.GitBranch),
		"git_commit_sha": present(d.GitCommitSHA),
		"script_path":    present(d.ScriptPath),
		"function_name":  present(d.FunctionName),
	}

	switch mode := models.ExecutionMode(strings.ToLower(strings.TrimSpace(d.ExecutionMode))); mode {
	case "":
		return nil, &errdefs.MissingRequiredFieldError{Field: "execution_mode"}

	case models.ExecutionModeInline:
		for _, field := range gitFieldOrder {
			if gitFields[field] != "" {
				return nil, &errdefs.InvalidFieldError{Field: field, Reason: "not allowed for inline tasks"}
			}
		}
		if callable == "" {
			return nil, &errdefs.MissingRequiredFieldError{Field: "python_callable", Mode: string(mode)}
		}
		return Inline{PythonCallable: callable}, nil

	case models.ExecutionModeGit:
		if callable != "" {
			return nil, &errdefs.InvalidFieldError{Field: "python_callable", Reason: "not allowed for git tasks"}
		}
		for _, field := range []string{"git_repository", "script_path", "function_name"} {
			if gitFields[field] == "" {
				return nil, &errdefs.MissingRequiredFieldError{Field: field, Mode: string(mode)}
			}
		}
		g := Git{
			Repository:   gitFields["git_repository"],
			Branch:       gitFields["git_branch"],
			CommitSHA:    gitFields["git_commit_sha"],
			ScriptPath:   gitFields["script_path"],
			FunctionName: gitFields["function_name"],
		}
		if g.CommitSHA == "" && g.Branch == "" {
			g.Branch = models.DefaultGitBranch
		}
		return g, nil

	default:
		return nil, &errdefs.InvalidFieldError{Field: "execution_mode", Reason: "must be inline or git"}
	}
}

var gitFieldOrder = []string{"git_repository", "git_branch", "git_commit_sha", "script_path", "function_name"}

// present returns the trimmed value of an optional field, or "" when the
// field is absent or blank.
func present(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return ""
	}
	return strings.TrimSpace(*s)
}

func dedupe(deps []string) []string {
	out := make([]string, 0, len(deps))
	seen := make(map[string]struct{}, len(deps))
	for _, dep := range deps {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			continue
		}
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		out = append(out, dep)
	}
	return out
}

// FromModel converts a persisted task back into a draft.
func FromModel(t *models.Task) Draft {
	d := Draft{
		Name:          t.Name,
		ExecutionMode: string(t.ExecutionMode),
		DockerImage:   t.DockerImage,
		RetryCount:    t.RetryCount,
		RetryDelay:    intPtr(t.RetryDelay),
		Dependencies:  append([]string{}, t.Dependencies...),
		Params:        map[string]any{},
	}
	for k, v := range t.Params {
		d.Params[k] = v
	}
	jsonmap.Canonical(d.Params)

	switch p := PayloadOf(t).(type) {
	case Inline:
		d.PythonCallable = ptr(p.PythonCallable)
	case Git:
		d.GitRepository = ptr(p.Repository)
		d.GitBranch = ptrOrNil(p.Branch)
		d.GitCommitSHA = ptrOrNil(p.CommitSHA)
		d.ScriptPath = ptr(p.ScriptPath)
		d.FunctionName = ptr(p.FunctionName)
	}

	return d
}

func intPtr(i int) *int { return &i }
