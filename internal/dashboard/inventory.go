package dashboard

import (
	"strconv"
	"sync"

	"storefront-live/internal/aggregate"
	"storefront-live/internal/event"
	"storefront-live/internal/observability"
	"storefront-live/internal/realtime"
)

// Inventory metric fields.
const (
	MetricTotalProducts = "totalProducts"
	MetricTotalStock    = "totalStock"
	MetricLowStockCount = "lowStockCount"
)

// DefaultLowStockThreshold applies to products that never reported one.
const DefaultLowStockThreshold = 10

// InventorySnapshot is the rendered state of the inventory dashboard.
type InventorySnapshot struct {
	Metrics  aggregate.Snapshot
	Alerts   []aggregate.StockAlert
	Activity []aggregate.ActivityEntry
}

// Inventory tracks product counts, stock levels and low-stock alerts.
type Inventory struct {
	mu      sync.RWMutex
	feed    *aggregate.ActivityFeed
	alerts  *aggregate.StockAlerts
	metrics *aggregate.Metrics
	created *aggregate.Deduper
	deleted *aggregate.Deduper
	moves   *aggregate.Deduper
	// levels is the last known stock per key, so redelivered readings add
	// nothing to totalStock.
	levels map[aggregate.StockKey]int64
}

// NewInventory creates an empty inventory dashboard.
func NewInventory(threshold int64) *Inventory {
	return &Inventory{
		feed:   aggregate.NewActivityFeed(InventoryFeedSize),
		alerts: aggregate.NewStockAlerts(threshold),
		metrics: aggregate.NewMetrics([]aggregate.FieldSpec{
			{Name: MetricTotalProducts, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricTotalStock, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricLowStockCount, Mode: aggregate.Replace, NonNegative: true},
		}),
		created: aggregate.NewDeduper(0),
		deleted: aggregate.NewDeduper(0),
		moves:   aggregate.NewDeduper(0),
		levels:  make(map[aggregate.StockKey]int64),
	}
}

// Options returns the binding for this dashboard.
func (d *Inventory) Options() realtime.Options {
	return realtime.Options{
		Channels:         []string{event.Product.String(), event.Inventory.String()},
		OnProductEvent:   d.HandleProduct,
		OnInventoryEvent: d.HandleInventory,
	}
}

// Seed replaces the metrics with values fetched from the backend.
func (d *Inventory) Seed(s aggregate.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.Reset(s)
	d.syncAlertCountLocked()
}

// HandleProduct folds a product event.
func (d *Inventory) HandleProduct(ev event.Event) error {
	var p event.ProductPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	key := aggregate.StockKey{EntityID: p.Key(), VariantID: p.VariantID}
	// Id-less products cannot be told apart, so they are never deduplicated.
	var id string
	if key.EntityID != "" {
		id = key.String()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Type {
	case event.ProductCreated:
		if !d.created.Observe(id) {
			return nil
		}
		d.metrics.Apply(aggregate.Delta{MetricTotalProducts: num(1)})
	case event.ProductDeleted:
		if !d.deleted.Observe(id) {
			return nil
		}
		d.metrics.Apply(aggregate.Delta{
			MetricTotalProducts: num(-1),
			MetricTotalStock:    num(-d.levels[key]),
		})
		delete(d.levels, key)
		d.alerts.Forget(key)
		d.syncAlertCountLocked()
		d.feed.Push(activity(ev))
		return nil
	}

	if p.Stock != nil {
		d.observeStockLocked(aggregate.StockLevel{
			Key:       key,
			Name:      p.Name,
			Stock:     *p.Stock,
			Threshold: p.Threshold,
			At:        ev.Timestamp,
		})
	}
	d.feed.Push(activity(ev))
	return nil
}

// HandleInventory folds an inventory event.
func (d *Inventory) HandleInventory(ev event.Event) error {
	var p event.InventoryPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	key := aggregate.StockKey{EntityID: p.ProductID, VariantID: p.VariantID}

	d.mu.Lock()
	defer d.mu.Unlock()

	stock, ok := p.CurrentStock()
	if !ok {
		// Reservations without a reported level move the last known one. They
		// are relative, so a redelivered copy (same identity and timestamp)
		// must not move it again.
		if !d.moves.Observe(moveID(ev)) {
			return nil
		}
		prev, known := d.levels[key]
		switch {
		case !known:
		case ev.Type == event.InventoryStockReserved:
			stock, ok = prev-p.Quantity, true
		case ev.Type == event.InventoryStockReleased:
			stock, ok = prev+p.Quantity, true
		}
	}
	if ok {
		d.observeStockLocked(aggregate.StockLevel{
			Key:       key,
			Name:      p.Name,
			Stock:     stock,
			Threshold: p.Threshold,
			At:        ev.Timestamp,
		})
	}
	d.feed.Push(activity(ev))
	return nil
}

// moveID identifies one relative stock movement, or "" when the event has no
// entity id to tell deliveries apart.
func moveID(ev event.Event) string {
	id := ev.Identity()
	if id == "" {
		return ""
	}
	return id + "@" + strconv.FormatInt(ev.Timestamp.UnixNano(), 10)
}

func (d *Inventory) observeStockLocked(l aggregate.StockLevel) {
	l.Stock = max(l.Stock, 0)
	prev, known := d.levels[l.Key]
	delta := l.Stock
	if known {
		delta = l.Stock - prev
	}
	d.levels[l.Key] = l.Stock
	if delta != 0 {
		d.metrics.Apply(aggregate.Delta{MetricTotalStock: num(delta)})
	}

	if d.alerts.Apply(l) != aggregate.Unchanged {
		d.syncAlertCountLocked()
	}
}

func (d *Inventory) syncAlertCountLocked() {
	n := d.alerts.Len()
	d.metrics.Apply(aggregate.Delta{MetricLowStockCount: num(int64(n))})
	observability.UpdateStockAlerts(n)
}

// HasAlert reports whether key is currently low on stock.
func (d *Inventory) HasAlert(key aggregate.StockKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.alerts.Has(key)
}

// Snapshot returns the current state.
func (d *Inventory) Snapshot() InventorySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return InventorySnapshot{
		Metrics:  d.metrics.Snapshot(),
		Alerts:   d.alerts.List(),
		Activity: d.feed.Items(),
	}
}
