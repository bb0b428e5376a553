package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-live/internal/cache"
	"storefront-live/internal/clock"
	"storefront-live/internal/event"
	"storefront-live/internal/invalidation"
	"storefront-live/internal/transport"
	"storefront-live/internal/transport/stub"
)

var epoch = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

// spyCache records invalidated keys.
type spyCache struct {
	mu   sync.Mutex
	keys []cache.Key
}

func (s *spyCache) Invalidate(k cache.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, k)
	return 1
}

func (s *spyCache) Keys() []cache.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cache.Key(nil), s.keys...)
}

func (s *spyCache) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
}

// calls records callback invocations in order.
type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) cb(name string) Callback {
	return func(ev event.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.names = append(c.names, name+":"+ev.Type.String())
		return nil
	}
}

func (c *calls) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

type fixture struct {
	client *Client
	dialer *stub.Dialer
	clock  *clock.FakeClock
	cache  *spyCache
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := Config{Transport: transport.Config{
		URL:         "ws://storefront.test/realtime",
		Backoff:     transport.Backoff{Base: time.Second, Max: 8 * time.Second},
		MaxAttempts: 3,
	}}
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		dialer: stub.NewDialer(),
		clock:  clock.NewFake(epoch),
		cache:  &spyCache{},
	}
	f.client = New(cfg, f.dialer,
		WithClock(f.clock),
		WithRand(nil),
		WithCache(f.cache, invalidation.DefaultTable()))
	t.Cleanup(func() { f.client.Close() })
	return f
}

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	require.NoError(t, err)
	return data
}

func TestBind_SubscribesAndRoutesTypedCallbacks(t *testing.T) {
	f := newFixture(t)
	rec := &calls{}

	b, err := f.client.Bind(context.Background(), Options{
		OnEvent:          rec.cb("all"),
		OnDropEvent:      rec.cb("drop"),
		OnProductCreated: rec.cb("productCreated"),
		OnProductEvent:   rec.cb("product"),
		OnOrderCreated:   rec.cb("order"),
	})
	require.NoError(t, err)
	assert.True(t, b.IsConnected())
	assert.NotEmpty(t, b.ID())

	conn := f.dialer.Last()
	require.NotNil(t, conn)
	require.Equal(t, []string{event.ControlSubscribe}, conn.SentTypes())
	var sub struct {
		Channels []string `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(conn.Sent()[0], &sub))
	assert.ElementsMatch(t, []string{"analytics", "category", "drop", "inventory", "order", "product", "sync"}, sub.Channels)

	conn.Push(frame(t, "drop:created", map[string]any{"dropId": "d1"}))
	conn.Push(frame(t, "product:created", map[string]any{"productId": "p1"}))
	conn.Push(frame(t, "product:updated", map[string]any{"productId": "p1"}))
	conn.Push(frame(t, "drop:vanished", map[string]any{}))
	conn.Push(frame(t, "order:created", map[string]any{"orderId": "o1"}))

	want := []string{
		"all:drop:created", "drop:drop:created",
		"all:product:created", "productCreated:product:created", "product:product:created",
		"all:product:updated", "product:product:updated",
		"all:order:created", "order:order:created",
	}
	require.Eventually(t, func() bool { return len(rec.Names()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, rec.Names())
	assert.Contains(t, f.cache.Keys(), invalidation.KeyDrops)
	assert.Contains(t, f.cache.Keys(), invalidation.KeyOrders)
}

func TestBind_SharedChannelsOneSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opts := Options{Channels: []string{"inventory"}, OnInventoryEvent: func(event.Event) error { return nil }}

	bindings := make([]*Binding, 5)
	for i := range bindings {
		b, err := f.client.Bind(ctx, opts)
		require.NoError(t, err)
		bindings[i] = b
	}
	conn := f.dialer.Last()
	assert.Equal(t, 1, conn.CountSent(event.ControlSubscribe))
	assert.Equal(t, 1, f.dialer.Dials())

	for _, b := range bindings[:4] {
		b.Close()
	}
	assert.Equal(t, 0, conn.CountSent(event.ControlUnsubscribe))
	assert.True(t, f.client.Status().Connected, "other bindings keep the connection")

	bindings[4].Close()
	bindings[4].Close()
	assert.Equal(t, 1, conn.CountSent(event.ControlUnsubscribe))
	assert.Zero(t, f.client.Bindings())
}

func TestBind_CloseOnIdleDisconnects(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CloseOnIdle = true })
	b, err := f.client.Bind(context.Background(), Options{Channels: []string{"drop"}})
	require.NoError(t, err)
	require.True(t, b.IsConnected())

	b.Close()
	assert.Equal(t, transport.Disconnected, f.client.Status().State)
}

func TestBind_ClosedBindingStopsCallbacks(t *testing.T) {
	f := newFixture(t)
	rec := &calls{}
	spy := &calls{}
	b, err := f.client.Bind(context.Background(), Options{OnOrderCreated: rec.cb("gone")})
	require.NoError(t, err)
	_, err = f.client.Bind(context.Background(), Options{OnOrderCreated: spy.cb("spy")})
	require.NoError(t, err)

	b.Close()
	f.dialer.Last().Push(frame(t, "order:created", map[string]any{"orderId": "o1"}))
	require.Eventually(t, func() bool { return len(spy.Names()) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, rec.Names())
}

func TestBind_FiltersAppliedLocally(t *testing.T) {
	f := newFixture(t)
	rec := &calls{}
	_, err := f.client.Bind(context.Background(), Options{
		Scope:          "user-1",
		Filters:        map[string]any{"userId": "u1"},
		OnOrderCreated: rec.cb("order"),
	})
	require.NoError(t, err)

	conn := f.dialer.Last()
	conn.Push(frame(t, "order:created", map[string]any{"orderId": "o1", "userId": "u2"}))
	conn.Push(frame(t, "order:created", map[string]any{"orderId": "o2", "userId": "u1"}))
	conn.Push(frame(t, "order:created", map[string]any{"orderId": "o3"}))
	conn.Push(frame(t, "sync:status", map[string]any{"status": "done"}))

	require.Eventually(t, func() bool { return len(rec.Names()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.Names(), 2)
}

func TestBind_DisabledIsInert(t *testing.T) {
	f := newFixture(t)
	rec := &calls{}
	b, err := f.client.Bind(context.Background(), Options{Disabled: true, OnDropEvent: rec.cb("drop")})
	require.NoError(t, err)

	assert.Zero(t, f.dialer.Dials())
	st := b.ConnectionStatus()
	assert.False(t, st.Connected)
	assert.Equal(t, transport.Disconnected, st.State)

	require.NoError(t, b.UpdateHandlers(context.Background(), Options{OnDropEvent: rec.cb("drop")}))
	assert.Equal(t, 1, f.dialer.Dials())
	assert.True(t, b.IsConnected())

	f.dialer.Last().Push(frame(t, "drop:updated", map[string]any{"dropId": "d1"}))
	require.Eventually(t, func() bool { return len(rec.Names()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, b.UpdateHandlers(context.Background(), Options{Disabled: true}))
	assert.Equal(t, 1, f.dialer.Last().CountSent(event.ControlUnsubscribe))
}

func TestBind_UpdateHandlersSwapsCallbacksInPlace(t *testing.T) {
	f := newFixture(t)
	rec := &calls{}
	b, err := f.client.Bind(context.Background(), Options{Channels: []string{"drop"}, OnDropEvent: rec.cb("old")})
	require.NoError(t, err)

	require.NoError(t, b.UpdateHandlers(context.Background(), Options{Channels: []string{"drop"}, OnDropEvent: rec.cb("new")}))
	conn := f.dialer.Last()
	assert.Equal(t, 1, conn.CountSent(event.ControlSubscribe), "same key, no new frame")

	conn.Push(frame(t, "drop:deleted", map[string]any{"dropId": "d1"}))
	require.Eventually(t, func() bool { return len(rec.Names()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"new:drop:deleted"}, rec.Names())

	require.NoError(t, b.UpdateHandlers(context.Background(), Options{Channels: []string{"order"}, OnOrderCreated: rec.cb("order")}))
	assert.Equal(t, []string{event.ControlSubscribe, event.ControlUnsubscribe, event.ControlSubscribe}, conn.SentTypes())
}

func TestBind_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Bind(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoChannels)
	assert.Zero(t, f.client.Bindings())
}

func TestBind_SubscriptionErrorSurfaced(t *testing.T) {
	f := newFixture(t)
	rec := &calls{}
	b, err := f.client.Bind(context.Background(), Options{Channels: []string{"analytics"}, Scope: "tenant-2", OnEvent: rec.cb("all")})
	require.NoError(t, err)

	f.dialer.Last().Push([]byte(`{"type":"subscription_error","payload":{"channels":["analytics"],"scope":"tenant-2","message":"not allowed"}}`))
	require.Eventually(t, func() bool { return b.Err() != nil }, time.Second, time.Millisecond)

	st := b.ConnectionStatus()
	assert.True(t, st.Connected, "a rejected subscription is not fatal")
	require.Error(t, st.SubscriptionError)
	assert.Contains(t, st.SubscriptionError.Error(), "not allowed")
	assert.Empty(t, rec.Names(), "control frames are not routed")
}

func TestClient_ReconnectResubscribesAndInvalidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Bind(context.Background(), Options{Channels: []string{"inventory"}})
	require.NoError(t, err)
	_, err = f.client.Bind(context.Background(), Options{Channels: []string{"order"}, Scope: "u1"})
	require.NoError(t, err)
	first := f.dialer.Last()
	require.Equal(t, 2, first.CountSent(event.ControlSubscribe))
	f.cache.Reset()

	next := f.dialer.QueueConn()
	first.Fail(errors.New("connection reset"))
	require.Eventually(t, func() bool { return f.client.Status().State == transport.Reconnecting }, time.Second, time.Millisecond)

	f.clock.Advance(time.Second)
	require.True(t, f.client.Status().Connected)
	assert.Equal(t, uint64(2), f.client.Status().Generation)
	assert.Equal(t, 2, next.CountSent(event.ControlSubscribe))
	assert.ElementsMatch(t, invalidation.DefaultTable().AllKeys(), f.cache.Keys())
}

func TestClient_ReconnectExhaustedSurfacedAsFailed(t *testing.T) {
	f := newFixture(t)
	b, err := f.client.Bind(context.Background(), Options{Channels: []string{"drop"}})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		states []transport.State
	)
	cancel := b.Watch(func(st ConnectionStatus) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st.State)
	})
	defer cancel()

	f.dialer.FailByDefault(errors.New("refused"))
	f.dialer.Last().Fail(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 1
	}, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		f.clock.Advance(8 * time.Second)
	}

	st := b.ConnectionStatus()
	assert.Equal(t, transport.Failed, st.State)
	assert.False(t, st.Connected)
	assert.ErrorIs(t, st.Error, transport.ErrReconnectExhausted)
	assert.Zero(t, f.clock.Pending())

	mu.Lock()
	assert.Equal(t, transport.Failed, states[len(states)-1])
	mu.Unlock()

	f.dialer.FailByDefault(nil)
	require.NoError(t, b.ForceReconnect(context.Background()))
	assert.True(t, b.IsConnected())
	assert.Equal(t, 1, f.dialer.Last().CountSent(event.ControlSubscribe))
}

func TestClient_CloseDisposesEverything(t *testing.T) {
	f := newFixture(t)
	b, err := f.client.Bind(context.Background(), Options{Channels: []string{"drop"}})
	require.NoError(t, err)

	require.NoError(t, f.client.Close())
	require.NoError(t, f.client.Close())
	assert.False(t, b.IsConnected())
	assert.Zero(t, f.clock.Pending())

	_, err = f.client.Bind(context.Background(), Options{Channels: []string{"drop"}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.UpdateHandlers(context.Background(), Options{Channels: []string{"order"}}), ErrClosed)
	assert.ErrorIs(t, b.ForceReconnect(context.Background()), ErrClosed)
}

func TestOptions_ChannelsDerivedFromCallbacks(t *testing.T) {
	noop := func(event.Event) error { return nil }
	assert.Equal(t, []string{"product", "inventory"}, Options{OnInventoryEvent: noop, OnProductCreated: noop}.channels())
	assert.Equal(t, []string{"custom"}, Options{Channels: []string{"custom"}, OnDropEvent: noop}.channels())
	assert.Empty(t, Options{}.channels())
}

func TestMatchFilters(t *testing.T) {
	fields := map[string]any{"userId": "u1", "total": float64(20)}
	assert.True(t, matchFilters(map[string]any{"userId": "u1"}, fields))
	assert.True(t, matchFilters(map[string]any{"total": 20}, fields))
	assert.True(t, matchFilters(map[string]any{"storeId": "s1"}, fields), "absent keys do not exclude")
	assert.False(t, matchFilters(map[string]any{"userId": "u2"}, fields))
}
