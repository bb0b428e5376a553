package transport

import "time"

// Backoff computes reconnect delays as min(Base*2^attempt, Max) plus a
// uniformly distributed jitter in [0, Jitter).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// DefaultBackoff returns the default reconnect schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   1 * time.Second,
		Max:    30 * time.Second,
		Jitter: 500 * time.Millisecond,
	}
}

// Delay returns the wait before reconnect attempt n (0-based). rnd returns a
// value in [0, 1); nil disables jitter.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 && rnd != nil {
		d += time.Duration(rnd() * float64(b.Jitter))
	}
	return d
}
