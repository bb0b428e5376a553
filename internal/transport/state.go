package transport

import (
	"fmt"
	"time"
)

// State is the connection state machine.
//
//	disconnected -> connecting -> connected
//	connecting   -> reconnecting (dial failed)
//	connected    -> reconnecting (unexpected close, heartbeat timeout)
//	reconnecting -> connected | reconnecting | failed
//	any          -> disconnected (Disconnect, Close)
//	failed       -> connecting (ForceReconnect only)
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Failed:       "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Status is a snapshot of the connection.
type Status struct {
	State      State
	Connected  bool
	Attempt    int
	LastError  error
	LastOpen   time.Time
	Generation uint64
}
