package storage

import "context"

// StateStore persists per-owner numeric client state such as a coin balance.
type StateStore interface {
	// Add applies delta to (owner, field) and returns the new value. The
	// result is clamped at zero. A missing record starts from zero.
	Add(ctx context.Context, owner, field string, delta int64) (int64, error)

	// Get returns the value of (owner, field). Returns ErrNotFound if never set.
	Get(ctx context.Context, owner, field string) (int64, error)
}

// Well-known state fields.
const (
	FieldCoins = "coins"
)
