// Package transport owns the single persistent socket shared by every realtime
// consumer: connect, reconnect with backoff, heartbeat and frame parsing.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"storefront-live/internal/clock"
	"storefront-live/internal/event"
	"storefront-live/internal/observability"
)

// Config configures the connection manager.
type Config struct {
	// URL is the websocket endpoint.
	URL string
	// Backoff is the reconnect delay schedule.
	Backoff Backoff
	// MaxAttempts is the number of reconnect attempts before the manager
	// gives up and enters Failed. Zero retries forever.
	MaxAttempts int
	// PingInterval is the keepalive interval while connected. Zero disables
	// the heartbeat.
	PingInterval time.Duration
	// PongTimeout is how long to wait for any inbound traffic after a ping.
	PongTimeout time.Duration
	// DialTimeout bounds each reconnect dial.
	DialTimeout time.Duration
}

// DefaultConfig returns default connection settings.
func DefaultConfig() Config {
	return Config{
		Backoff:      DefaultBackoff(),
		MaxAttempts:  10,
		PingInterval: 25 * time.Second,
		PongTimeout:  10 * time.Second,
		DialTimeout:  15 * time.Second,
	}
}

const minRetryDelay = time.Millisecond

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the clock used for backoff and heartbeat timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRand sets the jitter source. It must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(m *Manager) { m.rand = f }
}

// Manager owns at most one live socket at a time. Only the manager mutates
// the connection state; consumers observe it through Status and Watch.
type Manager struct {
	cfg    Config
	dialer Dialer
	clock  clock.Clock
	rand   func() float64
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	attempt     int
	lastErr     error
	lastOpen    time.Time
	lastSeen    time.Time
	generation  uint64
	dialSeq     uint64
	conn        Conn
	intentional bool
	closed      bool
	retryTimer  clock.Timer
	pingTimer   clock.Timer
	pongTimer   clock.Timer
	handler     Handler
	watchers    map[int]func(Status)
	nextWatcher int

	// writeMu serializes socket writes.
	writeMu sync.Mutex
	// deliverMu serializes envelope delivery across generations.
	deliverMu sync.Mutex

	wg sync.WaitGroup
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		clock:    clock.Real(),
		rand:     rand.Float64,
		logger:   slog.Default(),
		watchers: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "transport")
	return m
}

// SetHandler sets the lifecycle handler. It must be called before Connect.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Status returns a snapshot of the connection.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:      m.state,
		Connected:  m.state == Connected,
		Attempt:    m.attempt,
		LastError:  m.lastErr,
		LastOpen:   m.lastOpen,
		Generation: m.generation,
	}
}

// Watch registers f to be called with the new status after every state
// transition. The returned function removes the watcher.
func (m *Manager) Watch(f func(Status)) (cancel func()) {
	m.mu.Lock()
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = f
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(st Status) {
	observability.UpdateConnectionState(int(st.State))

	m.mu.Lock()
	watchers := make([]func(Status), 0, len(m.watchers))
	for _, f := range m.watchers {
		watchers = append(watchers, f)
	}
	m.mu.Unlock()

	for _, f := range watchers {
		f(st)
	}
}

// Connect opens the socket. It is a no-op while connecting, connected or
// reconnecting. A failed dial enters the reconnect schedule and its error is
// returned. From Failed only ForceReconnect recovers.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state == Failed:
		err := m.lastErr
		m.mu.Unlock()
		return err
	case m.state != Disconnected:
		m.mu.Unlock()
		return nil
	}
	m.intentional = false
	m.state = Connecting
	m.dialSeq++
	seq := m.dialSeq
	st := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("connecting", "url", m.cfg.URL)
	m.notify(st)
	return m.dial(ctx, seq)
}

// ForceReconnect drops the current socket, resets the attempt counter and
// dials immediately. It is the only way out of Failed.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopTimersLocked()
	old := m.conn
	m.conn = nil
	m.intentional = false
	m.attempt = 0
	m.lastErr = nil
	m.state = Connecting
	m.dialSeq++
	seq := m.dialSeq
	h := m.handler
	st := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("forced reconnect")
	if old != nil {
		m.closeConn(old)
		if h != nil {
			h.HandleClose(nil)
		}
	}
	m.notify(st)
	return m.dial(ctx, seq)
}

// Disconnect closes the socket intentionally and cancels every timer. No
// reconnect is scheduled. Connect may be called again afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed || (m.state == Disconnected && m.conn == nil) {
		m.mu.Unlock()
		return
	}
	m.intentional = true
	m.dialSeq++
	m.stopTimersLocked()
	old := m.conn
	m.conn = nil
	m.state = Disconnected
	m.attempt = 0
	h := m.handler
	st := m.statusLocked()
	m.mu.Unlock()

	m.logger.Info("disconnected")
	if old != nil {
		m.closeConn(old)
		if h != nil {
			h.HandleClose(nil)
		}
	}
	m.notify(st)
}

// Close disposes the manager: it disconnects, waits for the read loop to exit
// and makes every further call return ErrClosed. It must not be called from a
// Handler callback.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.intentional = true
	m.dialSeq++
	m.stopTimersLocked()
	old := m.conn
	m.conn = nil
	m.state = Disconnected
	st := m.statusLocked()
	m.mu.Unlock()

	if old != nil {
		m.closeConn(old)
	}
	m.notify(st)
	m.wg.Wait()

	m.mu.Lock()
	m.watchers = make(map[int]func(Status))
	m.mu.Unlock()
	return nil
}

// Send writes v as a JSON frame on the current socket.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != Connected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	gen := m.generation
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.WriteJSON(v)
	m.writeMu.Unlock()
	if err != nil {
		m.connectionLost(gen, &Error{Op: "write", Err: err})
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, seq uint64) error {
	conn, err := m.dialer.Dial(ctx, m.cfg.URL)

	m.mu.Lock()
	if m.closed || m.intentional || seq != m.dialSeq {
		m.mu.Unlock()
		if conn != nil {
			m.closeConn(conn)
		}
		return ErrClosed
	}

	if err != nil {
		terr := &Error{Op: "dial", Err: err}
		m.lastErr = terr
		m.logger.Warn("dial failed", "url", m.cfg.URL, "attempt", m.attempt, "err", err)
		m.scheduleRetryLocked()
		st := m.statusLocked()
		m.mu.Unlock()
		m.notify(st)
		return terr
	}

	now := m.clock.Now()
	m.conn = conn
	m.generation++
	gen := m.generation
	m.state = Connected
	m.attempt = 0
	m.lastErr = nil
	m.lastOpen = now
	m.lastSeen = now
	conn.SetPongHandler(func() { m.touch(gen) })
	m.schedulePingLocked(gen)
	m.wg.Add(1)
	go m.readLoop(conn, gen)
	h := m.handler
	st := m.statusLocked()
	m.mu.Unlock()

	observability.RecordConnectionOpened()
	m.logger.Info("connected", "url", m.cfg.URL, "generation", gen)
	m.notify(st)
	if h != nil {
		h.HandleOpen(gen)
	}
	return nil
}

// scheduleRetryLocked either schedules the next reconnect dial or, once the
// attempts are used up, enters Failed with no timers left.
func (m *Manager) scheduleRetryLocked() {
	if m.cfg.MaxAttempts > 0 && m.attempt >= m.cfg.MaxAttempts {
		m.state = Failed
		m.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.attempt, m.lastErr)
		observability.RecordReconnectExhausted()
		m.logger.Error("reconnect exhausted", "attempts", m.attempt, "err", m.lastErr)
		return
	}

	delay := m.cfg.Backoff.Delay(m.attempt, m.rand)
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	m.attempt++
	m.state = Reconnecting
	m.dialSeq++
	seq := m.dialSeq
	observability.RecordReconnectScheduled()
	m.logger.Info("reconnect scheduled", "attempt", m.attempt, "delay", delay)
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(seq) })
}

func (m *Manager) retry(seq uint64) {
	m.mu.Lock()
	if m.closed || m.intentional || seq != m.dialSeq || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.mu.Unlock()

	ctx := context.Background()
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}
	_ = m.dial(ctx, seq)
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	defer m.wg.Done()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, &Error{Op: "read", Err: err})
			return
		}

		now := m.clock.Now()
		if !m.touch(gen) {
			return
		}

		env, err := event.ParseEnvelope(data, now)
		if err != nil {
			observability.RecordFrameDropped("parse")
			m.logger.Warn("dropping malformed frame", "err", err, "size", len(data))
			continue
		}
		observability.RecordFrameReceived()
		if env.Name == event.ControlPong {
			continue
		}
		m.deliver(gen, env)
	}
}

func (m *Manager) deliver(gen uint64, env event.Envelope) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	h := m.handler
	current := gen == m.generation && m.conn != nil
	m.mu.Unlock()
	if !current || h == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("handler panicked", "type", env.Name, "panic", p)
		}
	}()
	h.HandleEnvelope(env)
}

// touch records inbound activity for gen. It reports false if gen is stale.
func (m *Manager) touch(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.conn == nil {
		return false
	}
	m.lastSeen = m.clock.Now()
	return true
}

// connectionLost tears down gen's socket after an unexpected failure and
// enters the reconnect schedule. Stale generations are ignored.
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || m.intentional || gen != m.generation || m.conn == nil {
		m.mu.Unlock()
		return
	}
	old := m.conn
	m.conn = nil
	m.stopTimersLocked()
	m.lastErr = cause
	m.logger.Warn("connection lost", "generation", gen, "err", cause)
	m.scheduleRetryLocked()
	h := m.handler
	st := m.statusLocked()
	m.mu.Unlock()

	m.closeConn(old)
	m.notify(st)
	if h != nil {
		h.HandleClose(cause)
	}
}

func (m *Manager) schedulePingLocked(gen uint64) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	m.pingTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.ping(gen) })
}

func (m *Manager) ping(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.conn == nil || m.state != Connected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	sentAt := m.clock.Now()
	if m.cfg.PongTimeout > 0 {
		// A pong deadline longer than the ping interval outlives its ping.
		if m.pongTimer != nil {
			m.pongTimer.Stop()
		}
		m.pongTimer = m.clock.AfterFunc(m.cfg.PongTimeout, func() { m.checkPong(gen, sentAt) })
	}
	m.schedulePingLocked(gen)
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.Ping()
	m.writeMu.Unlock()
	if err != nil {
		m.connectionLost(gen, &Error{Op: "ping", Err: err})
	}
}

func (m *Manager) checkPong(gen uint64, sentAt time.Time) {
	m.mu.Lock()
	stale := gen != m.generation || m.conn == nil
	alive := !m.lastSeen.Before(sentAt)
	m.mu.Unlock()
	if stale || alive {
		return
	}
	m.connectionLost(gen, &Error{Op: "heartbeat", Err: ErrHeartbeatTimeout})
}

func (m *Manager) stopTimersLocked() {
	for _, t := range []*clock.Timer{&m.retryTimer, &m.pingTimer, &m.pongTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (m *Manager) closeConn(c Conn) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := c.Close(); err != nil {
		m.logger.Debug("close socket", "err", err)
	}
}
