package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type represents the type of event.
type Type string

const (
	TypeWorkflowCreated  Type = "workflow_created"
	TypeWorkflowUpdated  Type = "workflow_updated"
	TypeWorkflowDeleted  Type = "workflow_deleted"
	TypeTaskCreated      Type = "task_created"
	TypeTaskUpdated      Type = "task_updated"
	TypeTaskDeleted      Type = "task_deleted"
	TypeWorkflowDeployed Type = "workflow_deployed"
	TypeWorkflowPaused   Type = "workflow_paused"
	TypeWorkflowUnpaused Type = "workflow_unpaused"
	TypeRunTriggered     Type = "run_triggered"
	TypeRunStatus        Type = "run_status"
)

// Event represents a system event.
type Event struct {
	Type       Type            `json:"type"`
	WorkflowID uuid.UUID       `json:"workflow_id,omitempty"`
	TaskID     uuid.UUID       `json:"task_id,omitempty"`
	JobRunID   uuid.UUID       `json:"job_run_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current time. The payload is
// marshalled to JSON; a value that cannot be marshalled is dropped.
func NewEvent(t Type, workflowID uuid.UUID, payload any) Event {
	e := Event{Type: t, WorkflowID: workflowID, Timestamp: time.Now().UTC()}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}

// Filter defines criteria for receiving events.
type Filter struct {
	WorkflowID uuid.UUID
	JobRunID   uuid.UUID
	Types      []Type
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(e Event)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}

type bus struct {
	subscribers map[chan Event]Filter
	mu          sync.RWMutex
}

// New creates a new event bus.
func New() Bus {
	return &bus{
		subscribers: make(map[chan Event]Filter),
	}
}

// Nop returns a bus that discards every event.
func Nop() Bus {
	return nopBus{}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(ctx context.Context, _ Filter) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if b.matches(filter, e) {
			select {
			case ch <- e:
			default:
				// slow subscriber
			}
		}
	}
}

func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *bus) matches(filter Filter, e Event) bool {
	if filter.WorkflowID != uuid.Nil && filter.WorkflowID != e.WorkflowID {
		return false
	}
	if filter.JobRunID != uuid.Nil && filter.JobRunID != e.JobRunID {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
