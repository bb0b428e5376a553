package transport

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("transport closed")

	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("transport not connected")

	// ErrReconnectExhausted is recorded when the maximum number of reconnect
	// attempts has been used up. The manager stays failed until ForceReconnect.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted, reload required")

	// ErrHeartbeatTimeout is recorded when no frame or pong arrived within the
	// pong timeout after a ping.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// Error is a socket-level failure. It is recorded in Status and drives the
// reconnect schedule; it is never returned from the read loop.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
