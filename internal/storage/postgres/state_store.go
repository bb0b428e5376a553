package postgres

import (
	"context"
	"fmt"

	"storefront-live/internal/storage"
)

// StateStore is a PostgreSQL implementation of storage.StateStore backed by
// the client_state table.
type StateStore struct {
	pool *Pool
}

var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a new PostgreSQL state store.
func NewStateStore(pool *Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Add applies delta to (owner, field) in one statement, clamping at zero.
func (s *StateStore) Add(ctx context.Context, owner, field string, delta int64) (int64, error) {
	if owner == "" || field == "" {
		return 0, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO client_state (owner, field, value, updated_at)
		VALUES ($1, $2, GREATEST(0, $3::BIGINT), NOW())
		ON CONFLICT (owner, field) DO UPDATE
		SET value = GREATEST(0, client_state.value + $3::BIGINT),
		    updated_at = NOW()
		RETURNING value
	`, owner, field, delta)

	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("add client state %s/%s: %w", owner, field, err)
	}
	return v, nil
}

// Get returns the value of (owner, field).
func (s *StateStore) Get(ctx context.Context, owner, field string) (int64, error) {
	if owner == "" || field == "" {
		return 0, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT value
		FROM client_state
		WHERE owner = $1 AND field = $2
	`, owner, field)

	var v int64
	if err := row.Scan(&v); err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get client state %s/%s: %w", owner, field, err)
	}
	return v, nil
}
