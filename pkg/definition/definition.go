// Package definition holds the portable YAML document describing one
// workflow and its ordered task list.
package definition

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	Version = "1.0"

	ModeInline = "inline"
	ModeGit    = "git"
)

// Document models the root workflow document.
type Document struct {
	Version  string   `yaml:"version" json:"version"`
	Workflow Workflow `yaml:"workflow" json:"workflow"`
	Tasks    []Task   `yaml:"tasks" json:"tasks"`
}

// Workflow contains the workflow level fields.
type Workflow struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Schedule    string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	IsActive    *bool  `yaml:"is_active,omitempty" json:"is_active,omitempty"`
}

// Active returns is_active, which defaults to true.
func (w Workflow) Active() bool {
	return w.IsActive == nil || *w.IsActive
}

// Task defines one task. Only the fields of its execution mode are set.
type Task struct {
	Name           string         `yaml:"name" json:"name"`
	ExecutionMode  string         `yaml:"execution_mode" json:"execution_mode"`
	PythonCallable *string        `yaml:"python_callable,omitempty" json:"python_callable,omitempty"`
	GitRepository  *string        `yaml:"git_repository,omitempty" json:"git_repository,omitempty"`
	GitBranch      *string        `yaml:"git_branch,omitempty" json:"git_branch,omitempty"`
	GitCommitSHA   *string        `yaml:"git_commit_sha,omitempty" json:"git_commit_sha,omitempty"`
	ScriptPath     *string        `yaml:"script_path,omitempty" json:"script_path,omitempty"`
	FunctionName   *string        `yaml:"function_name,omitempty" json:"function_name,omitempty"`
	DockerImage    string         `yaml:"docker_image,omitempty" json:"docker_image,omitempty"`
	Params         map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Dependencies   []string       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	RetryCount     int            `yaml:"retry_count" json:"retry_count"`
	RetryDelay     *int           `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
}

// Parse parses a single YAML document. Unknown fields are rejected and
// tasks without an execution_mode default to inline.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	doc.applyDefaults()
	return &doc, nil
}

// ParseAll parses every document of a multi-document YAML stream, skipping
// empty documents.
func ParseAll(data []byte) ([]*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var docs []*Document
	for {
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if doc.blank() {
			continue
		}
		doc.applyDefaults()
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (d *Document) applyDefaults() {
	for i := range d.Tasks {
		if d.Tasks[i].ExecutionMode == "" {
			d.Tasks[i].ExecutionMode = ModeInline
		}
	}
}

func (d *Document) blank() bool {
	return d.Version == "" && d.Workflow.Name == "" && len(d.Tasks) == 0
}

// Marshal renders a Document as YAML with two-space indentation.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
