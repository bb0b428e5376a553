// Package memory provides in-memory storage implementations for tests and
// single-process runs.
package memory

import (
	"context"
	"sync"

	"storefront-live/internal/storage"
)

type stateKey struct {
	owner string
	field string
}

// StateStore is an in-memory implementation of storage.StateStore.
type StateStore struct {
	mu     sync.RWMutex
	values map[stateKey]int64
}

var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{values: make(map[stateKey]int64)}
}

// Add applies delta to (owner, field), clamping at zero.
func (s *StateStore) Add(_ context.Context, owner, field string, delta int64) (int64, error) {
	if owner == "" || field == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := stateKey{owner, field}
	v := max(s.values[k]+delta, 0)
	s.values[k] = v
	return v, nil
}

// Get returns the value of (owner, field).
func (s *StateStore) Get(_ context.Context, owner, field string) (int64, error) {
	if owner == "" || field == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[stateKey{owner, field}]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return v, nil
}
