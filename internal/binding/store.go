package binding

import (
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory binding store. The durable store is an
// external collaborator; this implementation backs tests and single-node
// deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	bindings map[uuid.UUID]*Binding
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[uuid.UUID]*Binding)}
}

// Insert adds a binding.
func (s *MemoryStore) Insert(b *Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bindings[b.ID] = &cp
	return nil
}

// Update replaces an existing binding.
func (s *MemoryStore) Update(b *Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[b.ID]; !ok {
		return ErrNotFound
	}
	cp := *b
	s.bindings[b.ID] = &cp
	return nil
}

// Delete removes a binding.
func (s *MemoryStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[id]; !ok {
		return ErrNotFound
	}
	delete(s.bindings, id)
	return nil
}

// Get returns a copy of a binding by id.
func (s *MemoryStore) Get(id uuid.UUID) (*Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// List returns copies of all bindings for an organization.
func (s *MemoryStore) List(organizationID string) []*Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Binding
	for _, b := range s.bindings {
		if b.OrganizationID != organizationID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// ListByEventType returns copies of bindings for an event type and
// organization, in no particular order.
func (s *MemoryStore) ListByEventType(eventType, organizationID string) []*Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Binding
	for _, b := range s.bindings {
		if b.EventType != eventType || b.OrganizationID != organizationID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out
}
