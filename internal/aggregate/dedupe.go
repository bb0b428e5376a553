package aggregate

// DefaultDedupeSize is used when a Deduper is created with a non-positive
// size.
const DefaultDedupeSize = 256

// Deduper remembers the most recent event identities so redelivered events
// can be skipped.
type Deduper struct {
	seen map[string]struct{}
	ring *ring[string]
}

// NewDeduper creates a Deduper remembering up to size identities.
func NewDeduper(size int) *Deduper {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	return &Deduper{
		seen: make(map[string]struct{}, size),
		ring: newRing[string](size),
	}
}

// Observe records id and reports whether it was not seen recently. An empty
// id cannot be tracked and is always fresh.
func (d *Deduper) Observe(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	if old, evicted := d.ring.push(id); evicted {
		delete(d.seen, old)
	}
	return true
}

// Contains reports whether id was seen recently without recording it.
func (d *Deduper) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := d.seen[id]
	return ok
}

// Len returns the number of remembered identities.
func (d *Deduper) Len() int { return len(d.seen) }
