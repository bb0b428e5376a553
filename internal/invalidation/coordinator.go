// Package invalidation maps routed events to the data-fetch cache keys they
// make stale.
package invalidation

import (
	"log/slog"

	"storefront-live/internal/cache"
	"storefront-live/internal/event"
	"storefront-live/internal/observability"
)

// Cache keys invalidated by realtime events.
const (
	KeyProducts       cache.Key = "products"
	KeyDrops          cache.Key = "drops"
	KeyInventory      cache.Key = "inventory"
	KeyInventoryAlert cache.Key = "inventory/alerts"
	KeyCategories     cache.Key = "categories"
	KeyAnalytics      cache.Key = "analytics"
	KeyOrders         cache.Key = "orders"
	KeyDashboardStats cache.Key = "dashboard/stats"
	KeyProfile        cache.Key = "profile"
)

// Cache is the external store whose entries are marked stale.
type Cache interface {
	// Invalidate marks entries matching key stale and returns how many matched.
	Invalidate(key cache.Key) int
}

// Table maps events to cache keys. ByType entries are added to the
// category keys of the event.
type Table struct {
	ByCategory map[event.Category][]cache.Key
	ByType     map[event.Type][]cache.Key
}

// DefaultTable returns the storefront invalidation table.
func DefaultTable() Table {
	t := Table{
		ByCategory: make(map[event.Category][]cache.Key),
		ByType: map[event.Type][]cache.Key{
			event.InventoryLowStockAlert: {KeyInventoryAlert},
		},
	}
	for _, c := range event.Categories() {
		t.ByCategory[c] = categoryKeys(c)
	}
	return t
}

func categoryKeys(c event.Category) []cache.Key {
	switch c {
	case event.Product:
		return []cache.Key{KeyProducts, KeyDashboardStats, KeyInventory}
	case event.Drop:
		return []cache.Key{KeyDrops, KeyDashboardStats}
	case event.Inventory:
		return []cache.Key{KeyInventory, KeyProducts}
	case event.CategoryEvents:
		return []cache.Key{KeyCategories, KeyProducts}
	case event.Analytics:
		return []cache.Key{KeyAnalytics, KeyDashboardStats}
	case event.Order:
		return []cache.Key{KeyOrders, KeyDashboardStats, KeyAnalytics, KeyProfile}
	case event.Sync:
		return nil
	}
	return nil
}

// KeysFor returns the deduplicated keys for ev in table order.
func (t Table) KeysFor(ev event.Event) []cache.Key {
	return dedupe(t.ByCategory[ev.Category()], t.ByType[ev.Type])
}

// AllKeys returns every key mentioned in the table.
func (t Table) AllKeys() []cache.Key {
	var lists [][]cache.Key
	for _, c := range event.Categories() {
		lists = append(lists, t.ByCategory[c])
	}
	for _, typ := range event.AllTypes() {
		lists = append(lists, t.ByType[typ])
	}
	return dedupe(lists...)
}

func dedupe(lists ...[]cache.Key) []cache.Key {
	seen := make(map[cache.Key]bool)
	var out []cache.Key
	for _, list := range lists {
		for _, k := range list {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// Coordinator marks cache keys stale for routed events. It holds no
// per-event state, so repeated events only repeat the invalidation.
type Coordinator struct {
	cache  Cache
	table  Table
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator over c using table.
func New(c Cache, table Table, opts ...Option) *Coordinator {
	co := &Coordinator{cache: c, table: table, logger: slog.Default()}
	for _, opt := range opts {
		opt(co)
	}
	co.logger = co.logger.With("component", "invalidation")
	return co
}

// Invalidate marks every key mapped to ev stale.
func (c *Coordinator) Invalidate(ev event.Event) {
	keys := c.table.KeysFor(ev)
	if len(keys) == 0 {
		return
	}
	n := 0
	for _, k := range keys {
		n += c.cache.Invalidate(k)
	}
	observability.RecordInvalidation(ev.Category().String(), n)
	c.logger.Debug("invalidated", "type", ev.Type, "keys", keys, "entries", n)
}

// InvalidateAll marks every key in the table stale. It is used after a
// reconnect, when events may have been missed.
func (c *Coordinator) InvalidateAll() {
	n := 0
	for _, k := range c.table.AllKeys() {
		n += c.cache.Invalidate(k)
	}
	observability.RecordInvalidation("reconnect", n)
	c.logger.Info("invalidated all keys after reconnect", "entries", n)
}
