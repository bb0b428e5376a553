package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-live/internal/clock"
	"storefront-live/internal/event"
	"storefront-live/internal/transport"
	"storefront-live/internal/transport/stub"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var errNetwork = errors.New("connection reset by peer")

type recorder struct {
	mu     sync.Mutex
	opens  []uint64
	names  []string
	closes []error
}

func (r *recorder) HandleOpen(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens = append(r.opens, gen)
}

func (r *recorder) HandleEnvelope(env event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, env.Name)
}

func (r *recorder) HandleClose(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, err)
}

func (r *recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recorder) Opens() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.opens...)
}

func (r *recorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

func testConfig() transport.Config {
	return transport.Config{
		URL:         "ws://storefront.test/realtime",
		Backoff:     transport.Backoff{Base: time.Second, Max: 4 * time.Second},
		MaxAttempts: 3,
	}
}

func newManager(t *testing.T, cfg transport.Config) (*transport.Manager, *stub.Dialer, *clock.FakeClock, *recorder) {
	t.Helper()
	dialer := stub.NewDialer()
	clk := clock.NewFake(epoch)
	rec := &recorder{}
	m := transport.NewManager(cfg, dialer, transport.WithClock(clk), transport.WithRand(nil))
	m.SetHandler(rec)
	t.Cleanup(func() { m.Close() })
	return m, dialer, clk, rec
}

func waitState(t *testing.T, m *transport.Manager, want transport.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status().State == want }, time.Second, time.Millisecond,
		"state %s, want %s", m.Status().State, want)
}

func TestManager_ConnectOpensGeneration(t *testing.T) {
	m, dialer, _, rec := newManager(t, testConfig())

	require.NoError(t, m.Connect(context.Background()))

	st := m.Status()
	assert.Equal(t, transport.Connected, st.State)
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Equal(t, 0, st.Attempt)
	assert.Equal(t, epoch, st.LastOpen)
	assert.Equal(t, []uint64{1}, rec.Opens())

	// Connect while connected is a no-op.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, dialer.Dials())
}

func TestManager_DeliversInReceiptOrder(t *testing.T) {
	m, dialer, _, rec := newManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))
	conn := dialer.Last()

	conn.Push([]byte(`{"type":"drop:created","payload":{"dropId":"d1"}}`))
	conn.Push([]byte(`{not json`))
	conn.Push([]byte(`{"type":"pong"}`))
	conn.Push([]byte(`{"type":"mystery:event"}`))
	conn.Push([]byte(`{"type":"order:created","payload":{"orderId":"o1"}}`))

	require.Eventually(t, func() bool { return len(rec.Names()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"drop:created", "mystery:event", "order:created"}, rec.Names())
	assert.Equal(t, transport.Connected, m.Status().State, "malformed frame must not close the socket")
}

func TestManager_ReconnectExhaustedEntersFailed(t *testing.T) {
	m, dialer, clk, rec := newManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	dialer.FailByDefault(errNetwork)
	dialer.Last().Fail(errNetwork)
	waitState(t, m, transport.Reconnecting)
	assert.Equal(t, 1, m.Status().Attempt)
	require.Eventually(t, func() bool { return rec.Closes() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		clk.Advance(4 * time.Second)
	}

	st := m.Status()
	assert.Equal(t, transport.Failed, st.State)
	assert.ErrorIs(t, st.LastError, transport.ErrReconnectExhausted)
	assert.Equal(t, 4, dialer.Dials())
	assert.Equal(t, 0, clk.Pending(), "no reconnect timer may remain after failure")

	clk.Advance(time.Hour)
	assert.Equal(t, 4, dialer.Dials())
	assert.Equal(t, transport.Failed, m.Status().State)

	// Connect does not leave the terminal state.
	assert.ErrorIs(t, m.Connect(context.Background()), transport.ErrReconnectExhausted)
}

func TestManager_BackoffDelaysFollowSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	m, dialer, clk, _ := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))

	dialer.FailByDefault(errNetwork)
	dialer.Last().Fail(errNetwork)
	waitState(t, m, transport.Reconnecting)

	dials := dialer.Dials()
	for _, delay := range []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		clk.Advance(delay - time.Millisecond)
		assert.Equal(t, dials, dialer.Dials(), "dialed before %s elapsed", delay)
		clk.Advance(time.Millisecond)
		dials++
		assert.Equal(t, dials, dialer.Dials(), "no dial after %s", delay)
	}
	assert.Equal(t, transport.Reconnecting, m.Status().State)
}

func TestManager_SuccessfulReopenResetsAttempts(t *testing.T) {
	m, dialer, clk, rec := newManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	dialer.QueueError(errNetwork)
	next := dialer.QueueConn()
	dialer.Last().Fail(errNetwork)
	waitState(t, m, transport.Reconnecting)

	clk.Advance(time.Second)
	assert.Equal(t, transport.Reconnecting, m.Status().State)
	assert.Equal(t, 2, m.Status().Attempt)

	clk.Advance(2 * time.Second)
	st := m.Status()
	assert.Equal(t, transport.Connected, st.State)
	assert.Equal(t, 0, st.Attempt)
	assert.NoError(t, st.LastError)
	assert.Equal(t, uint64(2), st.Generation)
	assert.Same(t, next, dialer.Last())
	assert.Equal(t, []uint64{1, 2}, rec.Opens())
}

func TestManager_InitialDialFailureEntersSchedule(t *testing.T) {
	m, dialer, clk, _ := newManager(t, testConfig())
	dialer.QueueError(errNetwork)

	err := m.Connect(context.Background())
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dial", terr.Op)
	assert.Equal(t, transport.Reconnecting, m.Status().State)

	clk.Advance(time.Second)
	assert.Equal(t, transport.Connected, m.Status().State)
}

func TestManager_HeartbeatTimeoutClosesSocket(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 10 * time.Second
	cfg.PongTimeout = 5 * time.Second
	m, dialer, clk, _ := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))
	conn := dialer.Last()

	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, conn.Pings())
	conn.Pong()

	clk.Advance(5 * time.Second)
	assert.Equal(t, transport.Connected, m.Status().State)

	clk.Advance(5 * time.Second)
	assert.Equal(t, 2, conn.Pings())

	clk.Advance(5 * time.Second)
	st := m.Status()
	assert.Equal(t, transport.Reconnecting, st.State)
	assert.ErrorIs(t, st.LastError, transport.ErrHeartbeatTimeout)
	assert.True(t, conn.Closed())
}

func TestManager_PongDeadlineReplacedByNextPing(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 10 * time.Second
	cfg.PongTimeout = 25 * time.Second
	m, dialer, clk, _ := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))
	conn := dialer.Last()

	for i := 1; i <= 3; i++ {
		clk.Advance(10 * time.Second)
		conn.Pong()
		require.Equal(t, i, conn.Pings())
		// Next ping plus the latest pong deadline only.
		assert.Equal(t, 2, clk.Pending())
	}

	m.Disconnect()
	assert.Equal(t, 0, clk.Pending())
}

func TestManager_DisconnectCancelsTimers(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 10 * time.Second
	cfg.PongTimeout = 5 * time.Second
	m, dialer, clk, rec := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, 1, clk.Pending())

	m.Disconnect()
	assert.Equal(t, transport.Disconnected, m.Status().State)
	assert.Equal(t, 0, clk.Pending())
	assert.True(t, dialer.Last().Closed())
	assert.Equal(t, 1, rec.Closes())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, transport.Disconnected, m.Status().State)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, uint64(2), m.Status().Generation)
}

func TestManager_ForceReconnectLeavesFailed(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	m, dialer, clk, _ := newManager(t, cfg)
	require.NoError(t, m.Connect(context.Background()))

	dialer.QueueError(errNetwork)
	dialer.Last().Fail(errNetwork)
	waitState(t, m, transport.Reconnecting)
	clk.Advance(time.Second)
	require.Equal(t, transport.Failed, m.Status().State)

	require.NoError(t, m.ForceReconnect(context.Background()))
	st := m.Status()
	assert.Equal(t, transport.Connected, st.State)
	assert.Equal(t, 0, st.Attempt)
	assert.NoError(t, st.LastError)
}

func TestManager_ForceReconnectReplacesSocket(t *testing.T) {
	m, dialer, _, rec := newManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))
	first := dialer.Last()

	require.NoError(t, m.ForceReconnect(context.Background()))
	assert.True(t, first.Closed())
	assert.NotSame(t, first, dialer.Last())
	assert.Equal(t, uint64(2), m.Status().Generation)

	// Frames still queued on the stale socket are never delivered.
	first.Push([]byte(`{"type":"order:created"}`))
	dialer.Last().Push([]byte(`{"type":"drop:created"}`))
	require.Eventually(t, func() bool { return len(rec.Names()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"drop:created"}, rec.Names())
}

func TestManager_Send(t *testing.T) {
	m, dialer, _, _ := newManager(t, testConfig())

	assert.ErrorIs(t, m.Send(map[string]string{"type": "subscribe"}), transport.ErrNotConnected)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Send(map[string]string{"type": "subscribe"}))
	assert.Equal(t, []string{"subscribe"}, dialer.Last().SentTypes())

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Send(map[string]string{"type": "subscribe"}), transport.ErrClosed)
	assert.ErrorIs(t, m.Connect(context.Background()), transport.ErrClosed)
	assert.NoError(t, m.Close())
}

func TestManager_WriteFailureTriggersReconnect(t *testing.T) {
	m, dialer, _, _ := newManager(t, testConfig())
	require.NoError(t, m.Connect(context.Background()))

	dialer.Last().FailWrites(errNetwork)
	err := m.Send(map[string]string{"type": "profile:request_update"})
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, transport.Reconnecting, m.Status().State)
}

func TestManager_WatchObservesTransitions(t *testing.T) {
	m, dialer, clk, _ := newManager(t, testConfig())

	var mu sync.Mutex
	var states []transport.State
	cancel := m.Watch(func(st transport.Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st.State)
	})

	seen := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(states)
	}

	require.NoError(t, m.Connect(context.Background()))
	dialer.Last().Fail(errNetwork)
	require.Eventually(t, func() bool { return seen() == 3 }, time.Second, time.Millisecond)
	clk.Advance(time.Second)

	cancel()
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []transport.State{
		transport.Connecting,
		transport.Connected,
		transport.Reconnecting,
		transport.Connected,
	}, states)
}
