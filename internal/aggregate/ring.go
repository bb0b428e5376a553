package aggregate

// ring is a fixed-capacity circular buffer. Pushing onto a full ring
// overwrites the oldest element.
type ring[T any] struct {
	data  []T
	next  int // next write position
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{data: make([]T, capacity)}
}

func (r *ring[T]) push(v T) (evicted T, ok bool) {
	if r.count == len(r.data) {
		evicted, ok = r.data[r.next], true
	} else {
		r.count++
	}
	r.data[r.next] = v
	r.next = (r.next + 1) % len(r.data)
	return evicted, ok
}

// newest returns a pointer to the most recent element.
func (r *ring[T]) newest() (*T, bool) {
	if r.count == 0 {
		return nil, false
	}
	i := (r.next - 1 + len(r.data)) % len(r.data)
	return &r.data[i], true
}

func (r *ring[T]) newestFirst() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(r.next-1-i+2*len(r.data))%len(r.data)]
	}
	return out
}

func (r *ring[T]) oldestFirst() []T {
	out := make([]T, r.count)
	start := (r.next - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) cap() int { return len(r.data) }
