package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseType_AllWireNames(t *testing.T) {
	names := []string{
		"product:created", "product:updated", "product:deleted", "product:stock_changed",
		"drop:created", "drop:updated", "drop:deleted", "drop:stock_changed",
		"inventory:stock_adjusted", "inventory:stock_reserved", "inventory:stock_released", "inventory:low_stock_alert",
		"category:created", "category:updated", "category:deleted",
		"analytics:updated", "order:created", "sync:status",
	}
	require.Len(t, AllTypes(), len(names))

	for _, name := range names {
		typ, ok := ParseType(name)
		require.True(t, ok, name)
		assert.Equal(t, name, typ.String())
		assert.NotZero(t, typ.Category(), name)
	}
}

func TestParseType_Unknown(t *testing.T) {
	for _, name := range []string{"", "product", "product:archived", "subscribe", "PRODUCT:CREATED"} {
		_, ok := ParseType(name)
		assert.False(t, ok, name)
	}
}

func TestType_Category(t *testing.T) {
	tests := []struct {
		typ  Type
		want Category
	}{
		{ProductStockChanged, Product},
		{DropCreated, Drop},
		{InventoryLowStockAlert, Inventory},
		{CategoryDeleted, CategoryEvents},
		{AnalyticsUpdated, Analytics},
		{OrderCreated, Order},
		{SyncStatus, Sync},
		{Type(0), 0},
		{Type(200), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.Category(), tt.typ.String())
	}
}

func TestCategories_CoverEveryType(t *testing.T) {
	seen := make(map[Category]bool)
	for _, typ := range AllTypes() {
		seen[typ.Category()] = true
	}
	for _, c := range Categories() {
		assert.True(t, seen[c], c.String())
	}
	assert.Len(t, seen, len(Categories()))
}

func TestParseEnvelope_Timestamps(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"order:created","payload":{"orderId":"o1"},"timestamp":"2026-03-01T11:59:00Z"}`), received)
	require.NoError(t, err)
	assert.Equal(t, "order:created", env.Name)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC), env.Timestamp)
	assert.Equal(t, received, env.ReceivedAt)

	env, err = ParseEnvelope([]byte(`{"type":"order:created","timestamp":1772366340000}`), received)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1772366340000).UTC(), env.Timestamp)

	env, err = ParseEnvelope([]byte(`{"type":"order:created"}`), received)
	require.NoError(t, err)
	assert.Equal(t, received, env.Timestamp)
}

func TestParseEnvelope_Errors(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`), received)
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"payload":{}}`), received)
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = ParseEnvelope([]byte(`{"type":"order:created","timestamp":"yesterday"}`), received)
	assert.Error(t, err)
}

func TestFromEnvelope(t *testing.T) {
	ev, ok := FromEnvelope(Envelope{Name: "drop:created", Payload: json.RawMessage(`{"dropId":"d1"}`), Timestamp: received})
	require.True(t, ok)
	assert.Equal(t, DropCreated, ev.Type)
	assert.Equal(t, Drop, ev.Category())
	assert.Equal(t, "d1", ev.EntityID())
	assert.Equal(t, "drop:created/d1", ev.Identity())

	_, ok = FromEnvelope(Envelope{Name: "drop:exploded"})
	assert.False(t, ok)
}

func TestEvent_IdentityEmptyWithoutEntityID(t *testing.T) {
	a := Event{Type: ProductCreated, Payload: json.RawMessage(`{"name":"A"}`)}
	b := Event{Type: ProductCreated, Payload: json.RawMessage(`{"name":"B"}`)}
	assert.Empty(t, a.Identity())
	assert.Empty(t, b.Identity())

	c := Event{Type: ProductCreated, Payload: json.RawMessage(`{"id":"p9"}`)}
	assert.Equal(t, "product:created/p9", c.Identity())
}

func TestEvent_DecodeInventory(t *testing.T) {
	ev, err := New(InventoryStockAdjusted, map[string]any{
		"productId": "P1",
		"variantId": "V1",
		"newStock":  15,
		"threshold": 10,
	}, received)
	require.NoError(t, err)

	var p InventoryPayload
	require.NoError(t, ev.Decode(&p))
	stock, ok := p.CurrentStock()
	require.True(t, ok)
	assert.Equal(t, int64(15), stock)
	require.NotNil(t, p.Threshold)
	assert.Equal(t, int64(10), *p.Threshold)
	assert.Equal(t, "P1", ev.EntityID())
}

func TestEvent_DecodeOrderDecimal(t *testing.T) {
	ev := Event{Type: OrderCreated, Payload: json.RawMessage(`{"orderId":"o9","total":"19.99","coinsEarned":20}`)}

	var p OrderPayload
	require.NoError(t, ev.Decode(&p))
	assert.True(t, decimal.RequireFromString("19.99").Equal(p.Total))
	assert.Equal(t, int64(20), p.CoinsEarned)
	assert.Equal(t, "o9", p.Key())
}

func TestEvent_DecodeEmptyPayload(t *testing.T) {
	ev := Event{Type: SyncStatus}
	var p SyncStatusPayload
	require.NoError(t, ev.Decode(&p))
	assert.Empty(t, p.Status)
	assert.Empty(t, ev.Fields())
}

func TestType_MarshalText(t *testing.T) {
	b, err := json.Marshal(map[string]Type{"t": CategoryUpdated})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"category:updated"}`, string(b))

	_, err = Type(0).MarshalText()
	assert.Error(t, err)
}

func TestDropPayload_Live(t *testing.T) {
	assert.True(t, DropPayload{}.Live())
	assert.True(t, DropPayload{Status: DropStatusActive}.Live())
	assert.False(t, DropPayload{Status: DropStatusEnded}.Live())
	assert.False(t, DropPayload{Status: DropStatusSoldOut}.Live())
}
