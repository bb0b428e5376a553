package router

import (
	"errors"
	"fmt"

	"storefront-live/internal/event"
)

// Router errors.
var (
	// ErrUnknownListener is returned when updating a listener id that is not
	// registered.
	ErrUnknownListener = errors.New("unknown listener")

	// ErrDuplicateListener is returned when registering an id twice.
	ErrDuplicateListener = errors.New("listener already registered")

	// ErrEmptyListenerID is returned when registering an empty id.
	ErrEmptyListenerID = errors.New("empty listener id")
)

// HandlerError records a listener that failed or panicked while handling an
// event. It is logged and never stops the fan-out.
type HandlerError struct {
	ListenerID string
	Type       event.Type
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("listener %s handling %s: %v", e.ListenerID, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
