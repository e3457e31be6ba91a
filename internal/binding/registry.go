package binding

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"watchtower-soar/internal/predicate"
	"watchtower-soar/internal/schema"
)

// predicateCacheSize bounds the compiled-predicate cache. Bindings are few
// relative to events, so hot predicates stay resident.
const predicateCacheSize = 1024

// Registry validates and serves bindings. Predicates are checked at
// create/update time; a stored binding never fails to parse at match time.
type Registry struct {
	store     Store
	validator *schema.Validator
	programs  *lru.Cache[string, *predicate.Program]
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store, validator *schema.Validator) (*Registry, error) {
	cache, err := lru.New[string, *predicate.Program](predicateCacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{store: store, validator: validator, programs: cache}, nil
}

// Create validates and persists a new binding. Returns
// *predicate.SyntaxError (wrapped) when the predicate is malformed.
func (r *Registry) Create(b *Binding) error {
	if err := r.validateBinding(b); err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := r.store.Insert(b); err != nil {
		return err
	}
	slog.Info("binding created",
		"binding_id", b.ID,
		"event_type", b.EventType,
		"playbook_id", b.PlaybookID,
		"priority", b.Priority)
	return nil
}

// Update validates and persists changes to an existing binding.
func (r *Registry) Update(b *Binding) error {
	if err := r.validateBinding(b); err != nil {
		return err
	}
	existing, err := r.store.Get(b.ID)
	if err != nil {
		return err
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	return r.store.Update(b)
}

// Delete removes a binding.
func (r *Registry) Delete(id uuid.UUID) error {
	return r.store.Delete(id)
}

// Get returns a binding by id.
func (r *Registry) Get(id uuid.UUID) (*Binding, error) {
	return r.store.Get(id)
}

// List returns all bindings for an organization, priority order.
func (r *Registry) List(organizationID string) []*Binding {
	out := r.store.List(organizationID)
	sortBindings(out)
	return out
}

// FindMatches returns the active bindings for an event type and
// organization, ordered by descending priority with ties broken by
// ascending id. The order is deterministic for a given binding set.
func (r *Registry) FindMatches(eventType, organizationID string) []*Binding {
	all := r.store.ListByEventType(eventType, organizationID)
	out := all[:0]
	for _, b := range all {
		if b.IsActive {
			out = append(out, b)
		}
	}
	sortBindings(out)
	return out
}

// Matches reports whether the binding's predicate accepts the event.
// A binding without a predicate matches every event of its type.
// Evaluation errors count as non-matches.
func (r *Registry) Matches(b *Binding, event *schema.Event) bool {
	if b.Predicate == "" {
		return true
	}
	prog, err := r.compiled(b.Predicate)
	if err != nil {
		// Cannot happen for bindings created through the registry.
		slog.Error("stored binding has unparsable predicate",
			"binding_id", b.ID, "error", err)
		return false
	}
	env := predicate.MapEnv(event.PredicateEnv())
	ok, err := prog.Eval(env)
	if err != nil {
		slog.Warn("predicate evaluation failed, treating as non-match",
			"binding_id", b.ID, "error", err)
		return false
	}
	return ok
}

func (r *Registry) compiled(src string) (*predicate.Program, error) {
	if prog, ok := r.programs.Get(src); ok {
		return prog, nil
	}
	prog, err := predicate.Parse(src)
	if err != nil {
		return nil, err
	}
	r.programs.Add(src, prog)
	return prog, nil
}

func (r *Registry) validateBinding(b *Binding) error {
	if err := r.validator.ValidateStruct(b); err != nil {
		return fmt.Errorf("invalid binding: %w", err)
	}
	if b.Predicate != "" {
		if _, err := r.compiled(b.Predicate); err != nil {
			return fmt.Errorf("invalid binding predicate: %w", err)
		}
	}
	return nil
}

func sortBindings(bindings []*Binding) {
	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].Priority != bindings[j].Priority {
			return bindings[i].Priority > bindings[j].Priority
		}
		return strings.Compare(bindings[i].ID.String(), bindings[j].ID.String()) < 0
	})
}
