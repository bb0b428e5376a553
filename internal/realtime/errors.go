package realtime

import "errors"

// Client errors.
var (
	// ErrClosed is returned by operations on a closed client or binding.
	ErrClosed = errors.New("realtime client closed")

	// ErrNoChannels is returned when an enabled binding names no channel and
	// registers no callback to derive channels from.
	ErrNoChannels = errors.New("binding has no channels")
)
