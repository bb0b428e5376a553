package transport

import (
	"context"

	"storefront-live/internal/event"
)

// Conn is one live socket.
type Conn interface {
	// ReadMessage blocks until the next data frame arrives or the socket fails.
	ReadMessage() ([]byte, error)

	// WriteJSON writes v as one text frame. Calls are serialized by the manager.
	WriteJSON(v any) error

	// Ping sends a keepalive.
	Ping() error

	// SetPongHandler registers f to run when a keepalive response arrives.
	SetPongHandler(f func())

	// Close releases the socket. Pending ReadMessage calls return an error.
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler receives connection lifecycle signals. Envelopes of one connection
// generation are delivered sequentially in receipt order.
type Handler interface {
	// HandleOpen runs after a socket opened. generation starts at 1 and
	// increases with every successful open.
	HandleOpen(generation uint64)

	// HandleEnvelope runs for every parsed inbound frame.
	HandleEnvelope(env event.Envelope)

	// HandleClose runs after an open socket was lost or closed. err is nil for
	// intentional closes.
	HandleClose(err error)
}
