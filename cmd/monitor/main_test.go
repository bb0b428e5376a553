package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-live/internal/aggregate"
	"storefront-live/internal/config"
	"storefront-live/internal/dashboard"
	"storefront-live/internal/event"
	"storefront-live/internal/storage"
	"storefront-live/internal/storage/memory"
)

func testMonitor(t *testing.T) (*monitor, storage.StateStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Profile.UserID = "u1"
	store := memory.NewStateStore()
	m := newMonitor(cfg, store, slog.Default())
	t.Cleanup(func() {
		m.cache.Stop()
		_ = m.client.Close()
	})
	return m, store
}

func TestCreateStore_MemoryWithoutDSN(t *testing.T) {
	store, cleanup, err := createStore(context.Background(), "", slog.Default())
	require.NoError(t, err)
	defer cleanup()

	_, err = store.Add(context.Background(), "u1", storage.FieldCoins, 3)
	require.NoError(t, err)
}

func TestStatus_ReportsDashboards(t *testing.T) {
	m, _ := testMonitor(t)

	ev, err := event.New(event.OrderCreated, map[string]any{"orderId": "o1", "userId": "u1", "total": "12.00", "coinsEarned": 4}, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.overview.Handle(ev))
	require.NoError(t, m.wallet.Handle(ev))

	rec := httptest.NewRecorder()
	m.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Connection struct {
			State     string `json:"state"`
			Connected bool   `json:"connected"`
		} `json:"connection"`
		Coins *int64 `json:"coins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "disconnected", body.Connection.State)
	assert.False(t, body.Connection.Connected)
	require.NotNil(t, body.Coins)
	assert.Equal(t, int64(4), *body.Coins)
}

func TestHealth(t *testing.T) {
	m, _ := testMonitor(t)
	rec := httptest.NewRecorder()
	m.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestProfileFetcherReadsWallet(t *testing.T) {
	m, store := testMonitor(t)
	_, err := store.Add(context.Background(), "u1", storage.FieldCoins, 9)
	require.NoError(t, err)

	// Registered keys refetch when invalidated.
	m.cache.Invalidate("profile")
	require.Eventually(t, func() bool {
		v, stale, ok := m.cache.Get("profile")
		return ok && !stale && v == int64(9)
	}, time.Second, 10*time.Millisecond)
}

func TestStatsFetcherRereadsLocalOverview(t *testing.T) {
	m, _ := testMonitor(t)
	ev, err := event.New(event.OrderCreated, map[string]any{"orderId": "o7", "userId": "u2", "total": "5.00"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.overview.Handle(ev))

	m.cache.Invalidate("dashboard/stats")
	require.Eventually(t, func() bool {
		v, stale, ok := m.cache.Get("dashboard/stats")
		if !ok || stale {
			return false
		}
		snap, isSnap := v.(aggregate.Snapshot)
		return isSnap && snap.Get(dashboard.MetricOrders).IntPart() == 1
	}, time.Second, 10*time.Millisecond)
}
