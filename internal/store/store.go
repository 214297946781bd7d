// Package store persists workflows and their tasks. Every task-set edit is
// validated against the full prospective task set inside one transaction,
// serialized per workflow.
package store

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/models"
	"gorm.io/gorm"
)

const maxNameLength = 255

// Store coordinates persistence of workflow definitions.
type Store struct {
	db     *gorm.DB
	bus    event.Bus
	locks  sync.Map
	nameMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithBus publishes workflow and task changes to bus.
func WithBus(bus event.Bus) Option {
	return func(s *Store) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// New creates a new store. The provided db connection must be non-nil.
func New(dbConn *gorm.DB, opts ...Option) *Store {
	if dbConn == nil {
		panic("workflow store requires a database connection")
	}
	s := &Store{db: dbConn, bus: event.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection for read-side collaborators.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Lock acquires the per-workflow lock and returns its release function.
// Task-set edits and lifecycle transitions on one workflow hold it.
func (s *Store) Lock(workflowID uuid.UUID) (unlock func()) {
	v, _ := s.locks.LoadOrStore(workflowID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// WorkflowDraft holds the fields of a new workflow.
type WorkflowDraft struct {
	Name        string
	Description string
	Schedule    string
	IsActive    *bool
}

// WorkflowPatch holds the fields to change on a workflow. Nil fields are
// left untouched.
type WorkflowPatch struct {
	Name        *string
	Description *string
	Schedule    *string
	IsActive    *bool
}

// ListFilter narrows ListWorkflows.
type ListFilter struct {
	IsActive *bool
	Limit    int
	Offset   int
}

func validateWorkflowName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &errdefs.MissingRequiredFieldError{Field: "name"}
	}
	if len(name) > maxNameLength {
		return "", &errdefs.InvalidFieldError{Field: "name", Reason: "must be at most 255 characters"}
	}
	return name, nil
}

func notFound(kind string, id any, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &errdefs.NotFoundError{Kind: kind, ID: toString(id)}
	}
	return err
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case uuid.UUID:
		return t.String()
	default:
		return ""
	}
}

func (s *Store) ensureUniqueName(tx *gorm.DB, name string, except uuid.UUID) error {
	var count int64
	q := tx.Model(&models.Workflow{}).Where("name = ?", name)
	if except != uuid.Nil {
		q = q.Where("id <> ?", except)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return &errdefs.ConflictError{Kind: "workflow", Name: name}
	}
	return nil
}

// nameConflict maps a unique violation on the workflow name, raised when
// another process inserts the same name after ensureUniqueName, to a
// ConflictError.
func nameConflict(err error, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &errdefs.ConflictError{Kind: "workflow", Name: name}
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return &errdefs.ConflictError{Kind: "workflow", Name: name}
	}
	return err
}

func (s *Store) publish(t event.Type, workflowID uuid.UUID, payload any) {
	s.bus.Publish(event.NewEvent(t, workflowID, payload))
}
