// Package realtime wires the transport, subscription registry, event router
// and invalidation coordinator into one client, and exposes the binding API
// consumers use to receive typed events.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"storefront-live/internal/clock"
	"storefront-live/internal/event"
	"storefront-live/internal/invalidation"
	"storefront-live/internal/router"
	"storefront-live/internal/subscription"
	"storefront-live/internal/transport"
)

// Config configures a Client.
type Config struct {
	Transport transport.Config
	// CloseOnIdle disconnects when the last binding goes away.
	CloseOnIdle bool
}

// DefaultConfig returns the default client configuration for url.
func DefaultConfig(url string) Config {
	cfg := transport.DefaultConfig()
	cfg.URL = url
	return Config{Transport: cfg}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the clock used for reconnect, heartbeat and polling timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithRand sets the jitter source of the reconnect backoff.
func WithRand(f func() float64) Option {
	return func(c *Client) { c.rand = f; c.randSet = true }
}

// WithCache enables cache invalidation against qc using table.
func WithCache(qc invalidation.Cache, table invalidation.Table) Option {
	return func(c *Client) {
		c.cache = qc
		c.table = table
	}
}

// Client owns one connection shared by every binding. It is created with New
// and disposed with Close.
type Client struct {
	logger  *slog.Logger
	clock   clock.Clock
	rand    func() float64
	randSet bool
	cache   invalidation.Cache
	table   invalidation.Table

	manager  *transport.Manager
	registry *subscription.Registry
	router   *router.Router
	coord    *invalidation.Coordinator

	mu       sync.Mutex
	closed   bool
	bindings map[string]*Binding
}

// New builds a client. No connection is opened until the first binding
// subscribes.
func New(cfg Config, dialer transport.Dialer, opts ...Option) *Client {
	c := &Client{
		logger:   slog.Default(),
		clock:    clock.Real(),
		bindings: make(map[string]*Binding),
	}
	for _, opt := range opts {
		opt(c)
	}

	topts := []transport.Option{transport.WithLogger(c.logger), transport.WithClock(c.clock)}
	if c.randSet {
		topts = append(topts, transport.WithRand(c.rand))
	}
	c.manager = transport.NewManager(cfg.Transport, dialer, topts...)
	c.registry = subscription.New(c.manager,
		subscription.WithLogger(c.logger),
		subscription.WithCloseOnIdle(cfg.CloseOnIdle))

	var inv router.Invalidator
	if c.cache != nil {
		c.coord = invalidation.New(c.cache, c.table, invalidation.WithLogger(c.logger))
		inv = c.coord
	}
	c.router = router.New(inv, router.WithLogger(c.logger))
	c.manager.SetHandler(handler{c})

	c.logger = c.logger.With("component", "realtime")
	return c
}

// handler feeds transport callbacks to the registry and router.
type handler struct{ c *Client }

func (h handler) HandleOpen(gen uint64) {
	h.c.registry.HandleOpen(gen)
	if gen > 1 && h.c.coord != nil {
		h.c.coord.InvalidateAll()
	}
}

func (h handler) HandleEnvelope(env event.Envelope) {
	if h.c.registry.HandleControl(env) {
		return
	}
	h.c.router.Dispatch(env)
}

func (h handler) HandleClose(err error) {
	if err != nil {
		h.c.logger.Debug("connection closed", "err", err)
	}
}

// Bind registers a consumer. The returned binding must be closed when the
// consumer goes away.
func (c *Client) Bind(ctx context.Context, opts Options) (*Binding, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	b := &Binding{id: uuid.NewString(), client: c}
	c.bindings[b.id] = b
	c.mu.Unlock()

	b.mu.Lock()
	err := b.apply(ctx, opts)
	b.mu.Unlock()
	if err != nil {
		c.forget(b.id)
		return nil, err
	}
	c.logger.Debug("binding created", "binding", b.id, "channels", opts.channels(), "scope", opts.Scope, "disabled", opts.Disabled)
	return b, nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, id)
}

// Bindings returns the number of open bindings.
func (c *Client) Bindings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

// Status returns the connection status.
func (c *Client) Status() transport.Status {
	return c.manager.Status()
}

// Watch calls f after every connection state change.
func (c *Client) Watch(f func(transport.Status)) (cancel func()) {
	return c.manager.Watch(f)
}

// ForceReconnect drops the connection and dials immediately, leaving the
// failed state if necessary.
func (c *Client) ForceReconnect(ctx context.Context) error {
	return c.manager.ForceReconnect(ctx)
}

// Request sends an ad hoc client frame on the connection.
func (c *Client) Request(v any) error {
	return c.manager.Send(v)
}

// Subscriptions returns the active subscription keys.
func (c *Client) Subscriptions() []subscription.Key {
	return c.registry.Keys()
}

// Close disposes the client: every binding becomes inert and the connection
// and its timers are torn down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	bindings := make([]*Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		bindings = append(bindings, b)
	}
	c.mu.Unlock()

	for _, b := range bindings {
		b.Close()
	}
	c.logger.Info("client closed")
	return c.manager.Close()
}
