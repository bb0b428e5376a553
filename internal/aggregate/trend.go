package aggregate

import "time"

// DefaultTrendSize is used when a window is created with a non-positive size.
const DefaultTrendSize = 12

// TrendPoint is one bucket of a trend window.
type TrendPoint struct {
	Bucket time.Time
	Values Snapshot
}

// TrendWindow keeps the most recent points, one per bucket.
type TrendWindow struct {
	bucket time.Duration
	ring   *ring[TrendPoint]
}

// NewTrendWindow creates a window of size points. Points are truncated to
// bucket; a zero bucket keeps timestamps as given.
func NewTrendWindow(size int, bucket time.Duration) *TrendWindow {
	if size <= 0 {
		size = DefaultTrendSize
	}
	return &TrendWindow{bucket: bucket, ring: newRing[TrendPoint](size)}
}

// Append adds p, evicting the oldest point when full. A point in the same
// bucket as the newest replaces it. Points older than the newest bucket are
// ignored and Append returns false.
func (w *TrendWindow) Append(p TrendPoint) bool {
	if w.bucket > 0 {
		p.Bucket = p.Bucket.Truncate(w.bucket)
	}
	if last, ok := w.ring.newest(); ok {
		switch {
		case p.Bucket.Equal(last.Bucket):
			*last = p
			return true
		case p.Bucket.Before(last.Bucket):
			return false
		}
	}
	w.ring.push(p)
	return true
}

// Points returns the points, oldest first.
func (w *TrendWindow) Points() []TrendPoint {
	return w.ring.oldestFirst()
}

// Latest returns the newest point.
func (w *TrendWindow) Latest() (TrendPoint, bool) {
	p, ok := w.ring.newest()
	if !ok {
		return TrendPoint{}, false
	}
	return *p, true
}

// Len returns the number of points held.
func (w *TrendWindow) Len() int { return w.ring.len() }

// Cap returns the window size.
func (w *TrendWindow) Cap() int { return w.ring.cap() }
