// Package definition converts workflows to and from their YAML document.
// Import applies the same task and graph validation as interactive edits.
package definition

import (
	"fmt"
	"strings"

	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/task"
	schema "github.com/pipewright/pipewright/pkg/definition"
)

// Draft is a parsed, validated workflow ready to be persisted.
type Draft struct {
	Name        string
	Description string
	Schedule    string
	IsActive    bool
	Tasks       []task.Draft
}

// Import parses a YAML document and validates it.
func Import(data []byte) (*Draft, error) {
	doc, err := schema.Parse(data)
	if err != nil {
		return nil, &errdefs.InvalidFieldError{Field: "document", Reason: err.Error()}
	}
	return FromDocument(doc)
}

// FromDocument validates an already parsed document.
func FromDocument(doc *schema.Document) (*Draft, error) {
	if doc.Version != schema.Version {
		return nil, &errdefs.InvalidFieldError{Field: "version", Reason: fmt.Sprintf("unsupported version %q", doc.Version)}
	}
	if strings.TrimSpace(doc.Workflow.Name) == "" {
		return nil, &errdefs.MissingRequiredFieldError{Field: "workflow.name"}
	}

	d := &Draft{
		Name:        strings.TrimSpace(doc.Workflow.Name),
		Description: doc.Workflow.Description,
		Schedule:    doc.Workflow.Schedule,
		IsActive:    doc.Workflow.Active(),
		Tasks:       make([]task.Draft, 0, len(doc.Tasks)),
	}

	if err := d.validateTasks(doc.Tasks); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Draft) validateTasks(tasks []schema.Task) error {
	validated := make([]*models.Task, 0, len(tasks))
	seen := make(map[string]struct{}, len(tasks))

	for _, t := range tasks {
		draft := toDraft(t)
		m, err := task.Validate(draft)
		if err != nil {
			return err
		}
		if _, ok := seen[m.Name]; ok {
			return &errdefs.ConflictError{Kind: "task", Name: m.Name}
		}
		seen[m.Name] = struct{}{}
		validated = append(validated, m)
		d.Tasks = append(d.Tasks, draft)
	}

	return graph.Validate(graph.Nodes(validated))
}

func toDraft(t schema.Task) task.Draft {
	return task.Draft{
		Name:           t.Name,
		ExecutionMode:  t.ExecutionMode,
		PythonCallable: t.PythonCallable,
		GitRepository:  t.GitRepository,
		GitBranch:      t.GitBranch,
		GitCommitSHA:   t.GitCommitSHA,
		ScriptPath:     t.ScriptPath,
		FunctionName:   t.FunctionName,
		DockerImage:    t.DockerImage,
		Params:         t.Params,
		Dependencies:   t.Dependencies,
		RetryCount:     t.RetryCount,
		RetryDelay:     t.RetryDelay,
	}
}

// ToDocument renders a workflow and its tasks, in stored order, as a document.
func ToDocument(wf *models.Workflow) *schema.Document {
	active := wf.IsActive
	doc := &schema.Document{
		Version: schema.Version,
		Workflow: schema.Workflow{
			Name:        wf.Name,
			Description: wf.Description,
			Schedule:    wf.Schedule,
			IsActive:    &active,
		},
		Tasks: make([]schema.Task, 0, len(wf.Tasks)),
	}

	for _, t := range wf.Tasks {
		d := task.FromModel(t)
		st := schema.Task{
			Name:           d.Name,
			ExecutionMode:  d.ExecutionMode,
			PythonCallable: d.PythonCallable,
			GitRepository:  d.GitRepository,
			GitBranch:      d.GitBranch,
			GitCommitSHA:   d.GitCommitSHA,
			ScriptPath:     d.ScriptPath,
			FunctionName:   d.FunctionName,
			DockerImage:    d.DockerImage,
			Dependencies:   d.Dependencies,
			RetryCount:     d.RetryCount,
			RetryDelay:     d.RetryDelay,
		}
		if len(d.Params) > 0 {
			st.Params = d.Params
		}
		doc.Tasks = append(doc.Tasks, st)
	}

	return doc
}

// Export renders a workflow as YAML. wf.Tasks must be loaded.
func Export(wf *models.Workflow) ([]byte, error) {
	return schema.Marshal(ToDocument(wf))
}
