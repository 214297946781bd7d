// Package diff compares workflow definition documents with the workflows
// currently stored.
package diff

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pipewright/pipewright/internal/definition"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/internal/task"
	schema "github.com/pipewright/pipewright/pkg/definition"
)

// WorkflowSpec captures the fields that participate in diffing. Tasks are
// normalized so defaults compare equal to explicit values.
type WorkflowSpec struct {
	Name        string
	Description string
	Schedule    string
	IsActive    bool
	Tasks       []task.Draft
}

// Diff captures the comparison between desired and stored workflows.
type Diff struct {
	Creates []WorkflowSpec
	Updates []Update
	Deletes []WorkflowSpec
}

// Update captures the differences for an existing workflow.
type Update struct {
	Name string
	Diff string
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.Creates) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0
}

// Compare generates a diff between desired and actual workflow specs.
func Compare(desired, actual map[string]WorkflowSpec) Diff {
	result := Diff{}
	opts := []cmp.Option{
		cmpopts.EquateEmpty(),
	}

	remaining := make(map[string]WorkflowSpec, len(actual))
	for k, v := range actual {
		remaining[k] = v
	}

	for name, spec := range desired {
		if _, ok := remaining[name]; !ok {
			result.Creates = append(result.Creates, spec)
			continue
		}

		if diff := cmp.Diff(remaining[name], spec, opts...); diff != "" {
			result.Updates = append(result.Updates, Update{Name: name, Diff: diff})
		}
		delete(remaining, name)
	}

	for _, spec := range remaining {
		result.Deletes = append(result.Deletes, spec)
	}

	return result
}

// FromDraft normalizes a validated import draft.
func FromDraft(d *definition.Draft) (WorkflowSpec, error) {
	spec := WorkflowSpec{
		Name:        d.Name,
		Description: d.Description,
		Schedule:    strings.TrimSpace(d.Schedule),
		IsActive:    d.IsActive,
		Tasks:       make([]task.Draft, 0, len(d.Tasks)),
	}
	for _, td := range d.Tasks {
		t, err := task.Validate(td)
		if err != nil {
			return WorkflowSpec{}, err
		}
		spec.Tasks = append(spec.Tasks, task.FromModel(t))
	}
	return spec, nil
}

// FromWorkflow normalizes a stored workflow. wf.Tasks must be loaded.
func FromWorkflow(wf *models.Workflow) WorkflowSpec {
	spec := WorkflowSpec{
		Name:        wf.Name,
		Description: wf.Description,
		Schedule:    wf.Schedule,
		IsActive:    wf.IsActive,
		Tasks:       make([]task.Draft, 0, len(wf.Tasks)),
	}
	for _, t := range wf.Tasks {
		spec.Tasks = append(spec.Tasks, task.FromModel(t))
	}
	return spec
}

// LoadDefinitions walks the provided paths collecting workflow documents.
func LoadDefinitions(paths []string) (map[string]WorkflowSpec, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	specs := make(map[string]WorkflowSpec)
	for _, p := range paths {
		if err := collectPath(p, func(path string, doc *schema.Document) error {
			draft, err := definition.FromDocument(doc)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if _, exists := specs[draft.Name]; exists {
				return fmt.Errorf("%s: duplicate workflow name %q", path, draft.Name)
			}
			spec, err := FromDraft(draft)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			specs[draft.Name] = spec
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// LoadStoreSpecs loads every stored workflow keyed by name.
func LoadStoreSpecs(ctx context.Context, s *store.Store) (map[string]WorkflowSpec, error) {
	workflows, err := s.ListWorkflows(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}

	specs := make(map[string]WorkflowSpec, len(workflows))
	for _, wf := range workflows {
		full, err := s.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		specs[full.Name] = FromWorkflow(full)
	}
	return specs, nil
}

func collectPath(path string, fn func(string, *schema.Document) error) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !IsYAML(p) {
				return nil
			}
			return decodeDocuments(p, fn)
		})
	}
	if !IsYAML(path) {
		return fmt.Errorf("%s is not a YAML file", path)
	}
	return decodeDocuments(path, fn)
}

func decodeDocuments(path string, fn func(string, *schema.Document) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	docs, err := schema.ParseAll(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, doc := range docs {
		if err := fn(path, doc); err != nil {
			return err
		}
	}
	return nil
}

// IsYAML reports whether path has a YAML extension.
func IsYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
