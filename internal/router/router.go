// Package router classifies inbound envelopes into the closed event set and
// fans them out synchronously to the cache invalidation coordinator and to
// registered listeners.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"storefront-live/internal/event"
	"storefront-live/internal/observability"
)

// Listener handles one routed event.
type Listener func(event.Event) error

// Handlers is the listener table of one consumer.
type Handlers struct {
	// All receives every routed event.
	All Listener
	// ByCategory receives events of one category.
	ByCategory map[event.Category]Listener
}

func (h Handlers) clone() Handlers {
	return Handlers{All: h.All, ByCategory: maps.Clone(h.ByCategory)}
}

// Invalidator is told about every routed event before any listener.
type Invalidator interface {
	Invalidate(ev event.Event)
}

type registration struct {
	id       string
	handlers Handlers
}

// Router dispatches events in the order they are handed to it. It adds no
// buffering or scheduling of its own.
type Router struct {
	inv    Invalidator
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []registration
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a router. inv may be nil.
func New(inv Invalidator, opts ...Option) *Router {
	r := &Router{inv: inv, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// Register adds a listener table under id. Listeners run in registration
// order.
func (r *Router) Register(id string, h Handlers) error {
	if id == "" {
		return ErrEmptyListenerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(id) >= 0 {
		return fmt.Errorf("register %s: %w", id, ErrDuplicateListener)
	}
	next := make([]registration, len(r.listeners), len(r.listeners)+1)
	copy(next, r.listeners)
	r.listeners = append(next, registration{id: id, handlers: h.clone()})
	return nil
}

// UpdateHandlers replaces the listener table of id, keeping its position.
func (r *Router) UpdateHandlers(id string, h Handlers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("update %s: %w", id, ErrUnknownListener)
	}
	next := make([]registration, len(r.listeners))
	copy(next, r.listeners)
	next[i].handlers = h.clone()
	r.listeners = next
	return nil
}

// Remove drops the listener table of id. It reports whether id was present.
func (r *Router) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return false
	}
	next := make([]registration, 0, len(r.listeners)-1)
	next = append(next, r.listeners[:i]...)
	r.listeners = append(next, r.listeners[i+1:]...)
	return true
}

// Len returns the number of registered listener tables.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

func (r *Router) indexLocked(id string) int {
	for i, reg := range r.listeners {
		if reg.id == id {
			return i
		}
	}
	return -1
}

// Dispatch routes a raw envelope. Unknown types are dropped and Dispatch
// reports false.
func (r *Router) Dispatch(env event.Envelope) bool {
	ev, ok := event.FromEnvelope(env)
	if !ok {
		observability.RecordFrameDropped("unknown_type")
		r.logger.Debug("dropping unknown event type", "type", env.Name)
		return false
	}
	r.DispatchEvent(ev)
	return true
}

// DispatchEvent runs, in order, the invalidator, every All listener and
// every listener for the event's category. Listener errors and panics are
// isolated; the joined HandlerErrors are returned for diagnostics.
//
// The listener table is captured before the fan-out, so listeners added or
// removed during dispatch take effect from the next event.
func (r *Router) DispatchEvent(ev event.Event) error {
	start := time.Now()

	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()

	var errs []error
	if r.inv != nil {
		if err := r.invoke("invalidation", ev, func(ev event.Event) error {
			r.inv.Invalidate(ev)
			return nil
		}); err != nil {
			errs = append(errs, err)
		}
	}
	for _, reg := range listeners {
		if reg.handlers.All == nil {
			continue
		}
		if err := r.invoke(reg.id, ev, reg.handlers.All); err != nil {
			errs = append(errs, err)
		}
	}
	category := ev.Category()
	for _, reg := range listeners {
		l := reg.handlers.ByCategory[category]
		if l == nil {
			continue
		}
		if err := r.invoke(reg.id, ev, l); err != nil {
			errs = append(errs, err)
		}
	}

	observability.RecordEventDispatched(category.String(), time.Since(start).Seconds())
	return errors.Join(errs...)
}

func (r *Router) invoke(id string, ev event.Event, l Listener) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{ListenerID: id, Type: ev.Type, Err: fmt.Errorf("panic: %v", p)}
		}
		if err != nil {
			observability.RecordHandlerError(ev.Type.String())
			r.logger.Error("listener failed", "listener", id, "type", ev.Type, "err", err)
		}
	}()

	if err := l(ev); err != nil {
		return &HandlerError{ListenerID: id, Type: ev.Type, Err: err}
	}
	return nil
}
