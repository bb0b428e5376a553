// Package aggregate provides bounded reducers that fold routed events into
// locally held state: activity feeds, metric snapshots, stock alerts and
// trend windows. Reducers are synchronous and not safe for concurrent use;
// owners serialize access.
package aggregate

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFeedCapacity is used when a feed is created with a non-positive
// capacity.
const DefaultFeedCapacity = 20

// Tone classifies an activity entry for display.
type Tone string

// Activity tones.
const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneWarning Tone = "warning"
	ToneDanger  Tone = "danger"
)

// ActivityEntry is one line of an activity feed.
type ActivityEntry struct {
	ID        string
	Message   string
	Timestamp time.Time
	Tone      Tone
	Amount    decimal.NullDecimal
}

// ActivityFeed keeps the K most recent entries.
type ActivityFeed struct {
	ring *ring[ActivityEntry]
}

// NewActivityFeed creates a feed holding at most capacity entries.
func NewActivityFeed(capacity int) *ActivityFeed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &ActivityFeed{ring: newRing[ActivityEntry](capacity)}
}

// Push adds e as the newest entry, dropping the oldest when full.
func (f *ActivityFeed) Push(e ActivityEntry) {
	f.ring.push(e)
}

// Items returns the entries, newest first.
func (f *ActivityFeed) Items() []ActivityEntry {
	return f.ring.newestFirst()
}

// Len returns the number of entries held.
func (f *ActivityFeed) Len() int { return f.ring.len() }

// Cap returns the feed capacity.
func (f *ActivityFeed) Cap() int { return f.ring.cap() }
