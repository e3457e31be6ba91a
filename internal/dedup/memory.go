package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewMemoryStore creates an empty in-memory firing guard.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

func (s *MemoryStore) Reserve(ctx context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = &Record{ReservedAt: time.Now().UTC()}
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) SetExecution(ctx context.Context, key Key, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[key]
	if !exists {
		rec = &Record{ReservedAt: time.Now().UTC()}
		s.records[key] = rec
	}
	rec.ExecutionID = executionID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[key]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Close() error { return nil }
