// Package stub provides scripted transport doubles for tests.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"storefront-live/internal/transport"
)

// ErrConnClosed is returned by ReadMessage after Close.
var ErrConnClosed = errors.New("stub: connection closed")

// Conn is an in-memory socket. Frames pushed with Push are returned by
// ReadMessage; frames written by the manager are recorded.
type Conn struct {
	inbound chan []byte
	done    chan struct{}

	mu       sync.Mutex
	closed   bool
	readErr  error
	writeErr error
	sent     []json.RawMessage
	pings    int
	pong     func()
}

var _ transport.Conn = (*Conn)(nil)

// NewConn creates an open connection.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
}

// ReadMessage returns the next pushed frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, ErrConnClosed
	}
}

// WriteJSON records v.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, data)
	return nil
}

// Ping counts keepalives.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.pings++
	return nil
}

// SetPongHandler stores f for Pong.
func (c *Conn) SetPongHandler(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pong = f
}

// Close closes the connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Push queues a raw inbound frame.
func (c *Conn) Push(frame []byte) {
	select {
	case c.inbound <- frame:
	case <-c.done:
	}
}

// PushJSON queues v encoded as JSON.
func (c *Conn) PushJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.Push(data)
}

// Fail simulates a network failure: ReadMessage returns err.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.Close()
}

// FailWrites makes every subsequent write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Pong simulates a keepalive response.
func (c *Conn) Pong() {
	c.mu.Lock()
	f := c.pong
	c.mu.Unlock()
	if f != nil {
		f()
	}
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pings returns the number of keepalives sent.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Sent returns every written frame.
func (c *Conn) Sent() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]json.RawMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentTypes returns the "type" field of every written frame.
func (c *Conn) SentTypes() []string {
	var types []string
	for _, raw := range c.Sent() {
		var f struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &f)
		types = append(types, f.Type)
	}
	return types
}

// CountSent returns how many written frames have the given type.
func (c *Conn) CountSent(frameType string) int {
	n := 0
	for _, t := range c.SentTypes() {
		if t == frameType {
			n++
		}
	}
	return n
}

type dialResult struct {
	conn *Conn
	err  error
}

// Dialer returns queued results in order. When the queue is empty it returns
// a fresh Conn, or DefaultErr if set.
type Dialer struct {
	mu         sync.Mutex
	queue      []dialResult
	conns      []*Conn
	dials      int
	defaultErr error
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer that succeeds by default.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial returns the next scripted result.
func (d *Dialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++

	var r dialResult
	if len(d.queue) > 0 {
		r = d.queue[0]
		d.queue = d.queue[1:]
	} else if d.defaultErr != nil {
		r.err = d.defaultErr
	} else {
		r.conn = NewConn()
	}

	if r.err != nil {
		return nil, r.err
	}
	d.conns = append(d.conns, r.conn)
	return r.conn, nil
}

// QueueConn scripts a successful dial and returns its connection.
func (d *Dialer) QueueConn() *Conn {
	c := NewConn()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, dialResult{conn: c})
	return c
}

// QueueError scripts a failed dial.
func (d *Dialer) QueueError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, dialResult{err: err})
}

// FailByDefault makes unscripted dials fail with err. nil restores success.
func (d *Dialer) FailByDefault(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultErr = err
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
