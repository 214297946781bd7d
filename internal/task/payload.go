package task

import "github.com/pipewright/pipewright/internal/models"

// Payload is the execution-mode specific part of a task. Exactly one
// variant is active per task.
type Payload interface {
	Mode() models.ExecutionMode
	apply(t *models.Task)
}

// Inline runs python source embedded in the definition.
type Inline struct {
	PythonCallable string
}

func (Inline) Mode() models.ExecutionMode { return models.ExecutionModeInline }

func (p Inline) apply(t *models.Task) {
	t.ExecutionMode = models.ExecutionModeInline
	t.PythonCallable = ptr(p.PythonCallable)
	t.GitRepository, t.GitBranch, t.GitCommitSHA, t.ScriptPath, t.FunctionName = nil, nil, nil, nil, nil
}

// Git runs a function from a script checked out of a repository. When
// CommitSHA is set it pins the revision and Branch is informational.
type Git struct {
	Repository   string
	Branch       string
	CommitSHA    string
	ScriptPath   string
	FunctionName string
}

func (Git) Mode() models.ExecutionMode { return models.ExecutionModeGit }

// Pinned reports whether the payload names an exact commit.
func (p Git) Pinned() bool { return p.CommitSHA != "" }

// Ref returns the revision a run should check out when nothing more
// specific was resolved.
func (p Git) Ref() string {
	if p.Pinned() {
		return p.CommitSHA
	}
	return p.Branch
}

func (p Git) apply(t *models.Task) {
	t.ExecutionMode = models.ExecutionModeGit
	t.PythonCallable = nil
	t.GitRepository = ptr(p.Repository)
	t.GitBranch = ptrOrNil(p.Branch)
	t.GitCommitSHA = ptrOrNil(p.CommitSHA)
	t.ScriptPath = ptr(p.ScriptPath)
	t.FunctionName = ptr(p.FunctionName)
}

// PayloadOf rebuilds the payload variant of a persisted task.
func PayloadOf(t *models.Task) Payload {
	if t.ExecutionMode == models.ExecutionModeGit {
		return Git{
			Repository:   deref(t.GitRepository),
			Branch:       deref(t.GitBranch),
			CommitSHA:    deref(t.GitCommitSHA),
			ScriptPath:   deref(t.ScriptPath),
			FunctionName: deref(t.FunctionName),
		}
	}
	return Inline{PythonCallable: deref(t.PythonCallable)}
}

func ptr(s string) *string { return &s }

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
