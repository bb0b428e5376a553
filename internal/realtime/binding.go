package realtime

import (
	"context"
	"errors"
	"sync"

	"storefront-live/internal/router"
	"storefront-live/internal/subscription"
	"storefront-live/internal/transport"
)

// ConnectionStatus is what a consumer renders about the shared connection.
type ConnectionStatus struct {
	Connected bool
	State     transport.State
	// Error is the last transport error; with State Failed it is terminal
	// until ForceReconnect.
	Error error
	// SubscriptionError is the server's rejection of this binding's
	// subscription, if any.
	SubscriptionError error
}

// Binding is one consumer's registration with a Client.
type Binding struct {
	id     string
	client *Client

	mu     sync.Mutex
	opts   Options
	active bool
	closed bool
}

// ID returns the binding id, unique per client.
func (b *Binding) ID() string { return b.id }

func (b *Binding) apply(ctx context.Context, opts Options) error {
	c := b.client
	if opts.Disabled {
		b.deactivate()
		b.opts = opts
		return nil
	}

	channels := opts.channels()
	if len(channels) == 0 {
		return ErrNoChannels
	}

	h := opts.handlers()
	registered := false
	if err := c.router.UpdateHandlers(b.id, h); errors.Is(err, router.ErrUnknownListener) {
		if err := c.router.Register(b.id, h); err != nil {
			return err
		}
		registered = true
	}

	err := c.registry.Subscribe(ctx, b.id, subscription.Request{
		Channels: channels,
		Scope:    opts.Scope,
		Filters:  opts.Filters,
	})
	if err != nil {
		if registered {
			c.router.Remove(b.id)
		}
		return err
	}
	b.opts = opts
	b.active = true
	return nil
}

func (b *Binding) deactivate() {
	if !b.active {
		return
	}
	b.client.router.Remove(b.id)
	b.client.registry.Unsubscribe(b.id)
	b.active = false
}

// UpdateHandlers replaces the binding's options. Callbacks are swapped in
// place; a change of channels or scope moves the subscription.
func (b *Binding) UpdateHandlers(ctx context.Context, opts Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.apply(ctx, opts)
}

// IsConnected reports whether the shared connection is open.
func (b *Binding) IsConnected() bool {
	return b.client.Status().Connected
}

// ConnectionStatus returns the connection status as seen by this binding.
func (b *Binding) ConnectionStatus() ConnectionStatus {
	return b.status(b.client.Status())
}

func (b *Binding) status(st transport.Status) ConnectionStatus {
	return ConnectionStatus{
		Connected:         st.Connected,
		State:             st.State,
		Error:             st.LastError,
		SubscriptionError: b.Err(),
	}
}

// Err returns the server's rejection of this binding's subscription, or nil.
func (b *Binding) Err() error {
	return b.client.registry.Err(b.id)
}

// Watch calls f with the binding's status after every connection change.
func (b *Binding) Watch(f func(ConnectionStatus)) (cancel func()) {
	return b.client.Watch(func(st transport.Status) { f(b.status(st)) })
}

// ForceReconnect reconnects the shared connection.
func (b *Binding) ForceReconnect(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return b.client.ForceReconnect(ctx)
}

// Close removes the binding's callbacks and releases its subscription. The
// connection stays open for other bindings. Close is idempotent.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.deactivate()
	b.client.forget(b.id)
}
