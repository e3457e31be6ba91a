// Package action defines the executable units playbook steps invoke,
// plus the registry playbooks resolve them from.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Action is a single automated-response capability. Execute receives the
// step's resolved inputs and returns outputs that later steps can
// reference. Implementations must honor ctx cancellation.
type Action interface {
	ID() string
	Execute(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Compensator is implemented by actions whose effect can be undone
// during playbook rollback. Compensate receives the inputs and outputs
// of the original execution.
type Compensator interface {
	Compensate(ctx context.Context, inputs, outputs map[string]any) error
}

// Registry holds the available actions by ID.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action, replacing any existing one with the same ID.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.ID()] = a
}

// Get returns the action with the given ID.
func (r *Registry) Get(id string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	if !ok {
		return nil, fmt.Errorf("action: unknown action %q", id)
	}
	return a, nil
}

// IDs returns registered action IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// stringInput pulls a required string input.
func stringInput(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key]
	if !ok {
		return "", fmt.Errorf("action: missing input %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("action: input %q must be a non-empty string", key)
	}
	return s, nil
}

// optionalString pulls an optional string input with a default.
func optionalString(inputs map[string]any, key, def string) string {
	if v, ok := inputs[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}
