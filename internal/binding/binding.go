// Package binding manages playbook bindings: the rules that map an event
// type plus predicate to a playbook, ordered by priority.
package binding

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a binding does not exist.
var ErrNotFound = errors.New("binding not found")

// Binding maps an event type and optional predicate to a playbook.
// Read-only to the trigger engine; operators create and edit bindings.
type Binding struct {
	ID             uuid.UUID `json:"id"`
	EventType      string    `json:"event_type" validate:"required,event_type"`
	Predicate      string    `json:"predicate,omitempty" validate:"max=4096"`
	PlaybookID     string    `json:"playbook_id" validate:"required,max=256"`
	Priority       int       `json:"priority"`
	IsActive       bool      `json:"is_active"`
	OrganizationID string    `json:"organization_id" validate:"required,max=128"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists bindings. Implementations must be safe for concurrent use.
type Store interface {
	Insert(b *Binding) error
	Update(b *Binding) error
	Delete(id uuid.UUID) error
	Get(id uuid.UUID) (*Binding, error)
	List(organizationID string) []*Binding
	ListByEventType(eventType, organizationID string) []*Binding
}
