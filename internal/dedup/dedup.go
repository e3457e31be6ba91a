// Package dedup provides exactly-once firing guards for trigger dispatch.
// A binding fires at most once per event: the dispatcher reserves the
// (event, binding) pair before enqueueing work, and redeliveries of the
// same event hit the existing reservation and are skipped.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key identifies one firing of one binding for one event.
type Key struct {
	EventID   string
	BindingID uuid.UUID
}

func (k Key) String() string {
	return fmt.Sprintf("soar:fired:%s:%s", k.EventID, k.BindingID)
}

// ErrNotFound is returned by Get for keys that were never reserved.
var ErrNotFound = errors.New("dedup: key not found")

// Record is the stored state of a firing.
type Record struct {
	ReservedAt  time.Time `json:"reserved_at"`
	ExecutionID string    `json:"execution_id,omitempty"`
}

// Store is the firing guard. Reserve is a conditional insert: it returns
// true exactly once per key, for the first caller; later callers get
// false. Release undoes a reservation whose work could not be enqueued
// so a redelivery can try again.
type Store interface {
	Reserve(ctx context.Context, key Key) (bool, error)
	Release(ctx context.Context, key Key) error
	SetExecution(ctx context.Context, key Key, executionID string) error
	Get(ctx context.Context, key Key) (*Record, error)
	Close() error
}
