// Package dagfile compiles a workflow into the Python DAG module the
// scheduler loads from its DAGs folder.
package dagfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strconv"
	"text/template"

	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/task"
)

// DefaultSchedule is used for workflows without a schedule.
const DefaultSchedule = "@once"

//go:embed dag.py.tmpl
var source string

var tmpl = template.Must(template.New("dag").Funcs(template.FuncMap{
	"py":     strconv.Quote,
	"pybool": pyBool,
}).Parse(source))

// Options tune the compiled module.
type Options struct {
	PausedAtCreation bool
}

type dagData struct {
	DagID            string
	Name             string
	Description      string
	Schedule         string
	PausedAtCreation bool
	Tasks            []taskData
	Edges            []edge
}

type taskData struct {
	Var          string
	Name         string
	Inline       bool
	Source       string
	Repository   string
	Ref          string
	Pinned       bool
	ScriptPath   string
	FunctionName string
	ParamsJSON   string
	DockerImage  string
	RetryCount   int
	RetryDelay   int
}

type edge struct {
	From string
	To   string
}

// Compile renders the DAG module for wf. Tasks are emitted in dependency
// order and every dependency becomes an upstream edge.
func Compile(wf *models.Workflow, opts Options) ([]byte, error) {
	if len(wf.Tasks) == 0 {
		return nil, &errdefs.EmptyWorkflowError{WorkflowID: wf.ID.String()}
	}

	order, err := graph.Order(graph.Nodes(wf.Tasks))
	if err != nil {
		return nil, &errdefs.GraphInvalidError{Err: err}
	}

	byName := make(map[string]*models.Task, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byName[t.Name] = t
	}

	data := dagData{
		DagID:            wf.DagID(),
		Name:             wf.Name,
		Description:      wf.Description,
		Schedule:         wf.Schedule,
		PausedAtCreation: opts.PausedAtCreation,
	}
	if data.Schedule == "" {
		data.Schedule = DefaultSchedule
	}

	for _, name := range order {
		t := byName[name]
		td, err := compileTask(t)
		if err != nil {
			return nil, err
		}
		data.Tasks = append(data.Tasks, td)
		for _, dep := range t.Dependencies {
			data.Edges = append(data.Edges, edge{From: varName(dep), To: td.Var})
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compileTask(t *models.Task) (taskData, error) {
	params := map[string]any(t.Params)
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return taskData{}, &errdefs.InvalidFieldError{Field: "params", Reason: err.Error()}
	}

	td := taskData{
		Var:         varName(t.Name),
		Name:        t.Name,
		ParamsJSON:  string(raw),
		DockerImage: t.DockerImage,
		RetryCount:  t.RetryCount,
		RetryDelay:  t.RetryDelay,
	}
	if td.DockerImage == "" {
		td.DockerImage = models.DefaultDockerImage
	}

	switch p := task.PayloadOf(t).(type) {
	case task.Inline:
		td.Inline = true
		td.Source = p.PythonCallable
	case task.Git:
		td.Repository = p.Repository
		td.Ref = p.Ref()
		td.Pinned = p.Pinned()
		td.ScriptPath = p.ScriptPath
		td.FunctionName = p.FunctionName
	default:
		return taskData{}, &errdefs.InvalidFieldError{Field: "execution_mode", Reason: "unsupported execution mode " + strconv.Quote(string(t.ExecutionMode))}
	}

	return td, nil
}

// task names are identifiers already; the prefix keeps them clear of the
// module's own names and Python keywords.
func varName(name string) string {
	return "task_" + name
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
