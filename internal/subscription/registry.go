// Package subscription reference-counts consumer interest in (channel set,
// scope) pairs so the server sees one subscription per distinct pair no matter
// how many consumers share it.
package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"

	"storefront-live/internal/event"
	"storefront-live/internal/observability"
	"storefront-live/internal/transport"
)

// Sender is the transport the registry drives. *transport.Manager satisfies
// it.
type Sender interface {
	Send(v any) error
	Status() transport.Status
	Connect(ctx context.Context) error
	Disconnect()
}

var _ Sender = (*transport.Manager)(nil)

// Request is one consumer's interest.
type Request struct {
	Channels []string
	Scope    string
	Filters  map[string]any
}

// Key identifies a distinct subscription: the normalized channel set and the
// scope.
type Key struct {
	Channels string
	Scope    string
}

// NewKey normalizes channels (trimmed, deduplicated, sorted) into a Key.
func NewKey(channels []string, scope string) Key {
	return Key{Channels: strings.Join(normalize(channels), ","), Scope: scope}
}

// ChannelList returns the channels of k.
func (k Key) ChannelList() []string {
	if k.Channels == "" {
		return nil
	}
	return strings.Split(k.Channels, ",")
}

func (k Key) String() string {
	if k.Scope == "" {
		return "[" + k.Channels + "]"
	}
	return "[" + k.Channels + "]@" + k.Scope
}

func normalize(channels []string) []string {
	seen := make(map[string]bool, len(channels))
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Frame is an outbound subscribe or unsubscribe control frame.
type Frame struct {
	Type     string         `json:"type"`
	Channels []string       `json:"channels"`
	Scope    string         `json:"scope,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
}

type entry struct {
	key       Key
	seq       uint64
	filters   map[string]any
	consumers map[string]struct{}
	// sentGen is the connection generation the subscribe frame last went
	// out on, zero if never.
	sentGen uint64
	err     *Error
}

func (e *entry) subscribeFrame() Frame {
	return Frame{
		Type:     event.ControlSubscribe,
		Channels: e.key.ChannelList(),
		Scope:    e.key.Scope,
		Filters:  e.filters,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithCloseOnIdle disconnects the transport when the last subscription goes
// away.
func WithCloseOnIdle(on bool) Option {
	return func(r *Registry) { r.closeOnIdle = on }
}

// Registry owns the subscription map. Consumers change it only through
// Subscribe and Unsubscribe.
type Registry struct {
	sender      Sender
	closeOnIdle bool
	logger      *slog.Logger

	// sendMu orders frame decisions with their writes so an unsubscribe
	// never overtakes its subscribe.
	sendMu sync.Mutex

	mu         sync.Mutex
	entries    map[Key]*entry
	byConsumer map[string]Key
	seq        uint64
}

// New creates an empty registry sending control frames through sender.
func New(sender Sender, opts ...Option) *Registry {
	r := &Registry{
		sender:     sender,
		logger:     slog.Default(),
		entries:    make(map[Key]*entry),
		byConsumer: make(map[string]Key),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "subscription")
	return r
}

// Subscribe records consumerID's interest in req. The first consumer of a
// key causes one subscribe frame; it is sent now if the transport is
// connected, or queued until the next open otherwise. A consumer already
// subscribed under a different key is moved.
func (r *Registry) Subscribe(ctx context.Context, consumerID string, req Request) error {
	if consumerID == "" {
		return ErrEmptyConsumer
	}
	key := NewKey(req.Channels, req.Scope)
	if key.Channels == "" {
		return ErrEmptyChannels
	}

	r.sendMu.Lock()
	st := r.sender.Status()
	r.mu.Lock()
	var release *Frame
	if old, ok := r.byConsumer[consumerID]; ok {
		if old == key {
			r.mu.Unlock()
			r.sendMu.Unlock()
			return nil
		}
		release, _ = r.releaseLocked(consumerID, old, st)
	}

	e, ok := r.entries[key]
	if !ok {
		r.seq++
		e = &entry{
			key:       key,
			seq:       r.seq,
			filters:   maps.Clone(req.Filters),
			consumers: make(map[string]struct{}),
		}
		r.entries[key] = e
		r.logger.Debug("subscription created", "key", key)
	}
	e.consumers[consumerID] = struct{}{}
	r.byConsumer[consumerID] = key
	observability.UpdateActiveSubscriptions(len(r.entries))
	r.mu.Unlock()

	if release != nil {
		r.send(*release)
	}
	r.sendMu.Unlock()

	switch st := r.sender.Status(); st.State {
	case transport.Connected:
		r.flush(e, st.Generation)
	case transport.Disconnected:
		// The open handler flushes every queued subscription.
		if err := r.sender.Connect(ctx); err != nil {
			r.logger.Warn("connect on subscribe", "key", key, "err", err)
		}
	}
	return nil
}

// Unsubscribe drops consumerID's interest. The last consumer of a key causes
// one unsubscribe frame if the subscribe reached the server. Unknown
// consumers are ignored.
func (r *Registry) Unsubscribe(consumerID string) {
	r.sendMu.Lock()
	st := r.sender.Status()
	r.mu.Lock()
	key, ok := r.byConsumer[consumerID]
	if !ok {
		r.mu.Unlock()
		r.sendMu.Unlock()
		return
	}
	frame, _ := r.releaseLocked(consumerID, key, st)
	idle := len(r.entries) == 0
	observability.UpdateActiveSubscriptions(len(r.entries))
	r.mu.Unlock()

	if frame != nil {
		r.send(*frame)
	}
	r.sendMu.Unlock()

	if idle && r.closeOnIdle {
		r.logger.Info("no subscriptions left, disconnecting")
		r.sender.Disconnect()
	}
}

// releaseLocked removes consumerID from key and returns the unsubscribe frame
// to send when the key became unused. No frame is needed if the subscribe
// never reached the current socket.
func (r *Registry) releaseLocked(consumerID string, key Key, st transport.Status) (*Frame, bool) {
	delete(r.byConsumer, consumerID)
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	delete(e.consumers, consumerID)
	if len(e.consumers) > 0 {
		return nil, false
	}

	delete(r.entries, key)
	r.logger.Debug("subscription removed", "key", key)
	if !st.Connected || e.sentGen != st.Generation {
		return nil, true
	}
	return &Frame{
		Type:     event.ControlUnsubscribe,
		Channels: key.ChannelList(),
		Scope:    key.Scope,
	}, true
}

// flush sends e's subscribe frame on generation gen unless it already went
// out there or e was removed meanwhile.
func (r *Registry) flush(e *entry, gen uint64) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	if e.sentGen == gen || r.entries[e.key] != e {
		r.mu.Unlock()
		return
	}
	prev := e.sentGen
	e.sentGen = gen
	frame := e.subscribeFrame()
	r.mu.Unlock()

	if err := r.send(frame); err != nil {
		r.mu.Lock()
		if e.sentGen == gen {
			e.sentGen = prev
		}
		r.mu.Unlock()
	}
}

func (r *Registry) send(f Frame) error {
	if err := r.sender.Send(f); err != nil {
		r.logger.Debug("control frame deferred", "type", f.Type, "channels", f.Channels, "scope", f.Scope, "err", err)
		return err
	}
	observability.RecordControlFrame(f.Type)
	return nil
}

// HandleOpen subscribes every active key, in creation order, on the socket
// of generation gen. Server subscriptions are per socket, so this runs after
// every reconnect.
func (r *Registry) HandleOpen(gen uint64) {
	r.mu.Lock()
	pending := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.sentGen != gen {
			pending = append(pending, e)
		}
	}
	r.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, e := range pending {
		r.flush(e, gen)
	}
	if len(pending) > 0 {
		r.logger.Info("subscriptions flushed", "generation", gen, "count", len(pending))
	}
}

type controlPayload struct {
	Channels []string `json:"channels"`
	Scope    string   `json:"scope"`
	Message  string   `json:"message"`
	Error    string   `json:"error"`
}

// HandleControl applies a subscribed or subscription_error frame from the
// server. It reports whether env was a registry control frame.
func (r *Registry) HandleControl(env event.Envelope) bool {
	if env.Name != event.ControlSubscribed && env.Name != event.ControlSubscriptionError {
		return false
	}

	var p controlPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			r.logger.Warn("malformed control frame", "type", env.Name, "err", err)
			return true
		}
	}
	key := NewKey(p.Channels, p.Scope)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return true
	}
	if env.Name == event.ControlSubscribed {
		e.err = nil
		return true
	}

	msg := p.Message
	if msg == "" {
		msg = p.Error
	}
	e.err = &Error{Key: key, Message: msg}
	observability.RecordSubscriptionError()
	r.logger.Warn("subscription rejected", "key", key, "message", msg)
	return true
}

// Err returns the rejection of consumerID's subscription, or nil.
func (r *Registry) Err(consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byConsumer[consumerID]
	if !ok {
		return nil
	}
	if e := r.entries[key]; e != nil && e.err != nil {
		return e.err
	}
	return nil
}

// Keys returns the active keys in creation order.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	keys := make([]Key, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// RefCount returns the number of consumers interested in key.
func (r *Registry) RefCount(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return len(e.consumers)
	}
	return 0
}

// Consumers returns the sorted consumer ids interested in key.
func (r *Registry) Consumers(key Key) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.consumers))
	for id := range e.consumers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KeyOf returns the key consumerID is subscribed under.
func (r *Registry) KeyOf(consumerID string) (Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byConsumer[consumerID]
	return k, ok
}
