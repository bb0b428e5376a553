package subscription

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrEmptyChannels is returned when a request names no channel.
	ErrEmptyChannels = errors.New("subscription has no channels")

	// ErrEmptyConsumer is returned when the consumer id is empty.
	ErrEmptyConsumer = errors.New("empty consumer id")
)

// Error is a subscription the server rejected. It is surfaced through the
// consumer's status and is not fatal.
type Error struct {
	Key     Key
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("subscription %s rejected: %s", e.Key, e.Message)
}
