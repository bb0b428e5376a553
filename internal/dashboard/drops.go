package dashboard

import (
	"sync"

	"github.com/shopspring/decimal"

	"storefront-live/internal/aggregate"
	"storefront-live/internal/event"
	"storefront-live/internal/observability"
	"storefront-live/internal/realtime"
)

// Drops metric fields.
const (
	MetricTotalDrops  = "totalDrops"
	MetricActiveDrops = "activeDrops"
	MetricDropStock   = "totalStock"
	MetricDropRevenue = "revenue"
)

// DropsSnapshot is the rendered state of the drops dashboard.
type DropsSnapshot struct {
	Metrics  aggregate.Snapshot
	Activity []aggregate.ActivityEntry
}

type dropState struct {
	live    bool
	stock   int64
	revenue decimal.Decimal
}

// Drops tracks drop counts, remaining stock and revenue.
type Drops struct {
	mu      sync.RWMutex
	feed    *aggregate.ActivityFeed
	metrics *aggregate.Metrics
	created *aggregate.Deduper
	deleted *aggregate.Deduper
	drops   map[string]*dropState
}

// NewDrops creates an empty drops dashboard.
func NewDrops() *Drops {
	return &Drops{
		feed: aggregate.NewActivityFeed(DropsFeedSize),
		metrics: aggregate.NewMetrics([]aggregate.FieldSpec{
			{Name: MetricTotalDrops, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricActiveDrops, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricDropStock, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricDropRevenue, Mode: aggregate.Additive, NonNegative: true},
		}),
		created: aggregate.NewDeduper(0),
		deleted: aggregate.NewDeduper(0),
		drops:   make(map[string]*dropState),
	}
}

// Options returns the binding for this dashboard.
func (d *Drops) Options() realtime.Options {
	return realtime.Options{
		Channels:    []string{event.Drop.String()},
		OnDropEvent: d.Handle,
	}
}

// Seed replaces the metrics with values fetched from the backend.
func (d *Drops) Seed(s aggregate.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.Reset(s)
}

// Handle folds a drop event. Creation and deletion events are counted once
// per drop id.
func (d *Drops) Handle(ev event.Event) error {
	var p event.DropPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	id := p.Key()

	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Type {
	case event.DropCreated:
		if !d.created.Observe(id) {
			return nil
		}
		stock, _ := p.CurrentStock()
		st := &dropState{live: p.Live(), stock: max(stock, 0), revenue: p.Revenue}
		if id != "" {
			d.drops[id] = st
		}
		delta := aggregate.Delta{
			MetricTotalDrops:  num(1),
			MetricDropStock:   num(st.stock),
			MetricDropRevenue: st.revenue,
		}
		if st.live {
			delta[MetricActiveDrops] = num(1)
		}
		d.metrics.Apply(delta)

	case event.DropDeleted:
		if !d.deleted.Observe(id) {
			return nil
		}
		st, ok := d.drops[id]
		if !ok {
			d.metrics.Apply(aggregate.Delta{MetricTotalDrops: num(-1)})
			break
		}
		delete(d.drops, id)
		delta := aggregate.Delta{
			MetricTotalDrops: num(-1),
			MetricDropStock:  num(-st.stock),
		}
		if st.live {
			delta[MetricActiveDrops] = num(-1)
		}
		d.metrics.Apply(delta)

	case event.DropUpdated, event.DropStockChanged:
		d.updateLocked(id, p, ev.Type == event.DropUpdated)
	}

	d.feed.Push(activity(ev))
	observability.UpdateActiveDrops(int(d.metrics.Get(MetricActiveDrops).IntPart()))
	return nil
}

// updateLocked applies the difference between the reported and the last
// known state of a drop, so repeated updates are idempotent.
func (d *Drops) updateLocked(id string, p event.DropPayload, statusChange bool) {
	st, ok := d.drops[id]
	if !ok {
		// Unknown drop, created before this session: track from here on.
		st = &dropState{live: p.Live()}
		if stock, ok := p.CurrentStock(); ok {
			st.stock = max(stock, 0)
		}
		st.revenue = p.Revenue
		if id != "" {
			d.drops[id] = st
		}
		return
	}

	delta := aggregate.Delta{}
	if stock, ok := p.CurrentStock(); ok {
		stock = max(stock, 0)
		delta[MetricDropStock] = num(stock - st.stock)
		st.stock = stock
	}
	if !p.Revenue.IsZero() {
		delta[MetricDropRevenue] = p.Revenue.Sub(st.revenue)
		st.revenue = p.Revenue
	}
	if statusChange && p.Status != "" {
		if live := p.Live(); live != st.live {
			if live {
				delta[MetricActiveDrops] = num(1)
			} else {
				delta[MetricActiveDrops] = num(-1)
			}
			st.live = live
		}
	}
	if p.Status == event.DropStatusSoldOut && st.live {
		delta[MetricActiveDrops] = num(-1)
		st.live = false
	}
	d.metrics.Apply(delta)
}

// Snapshot returns the current state.
func (d *Drops) Snapshot() DropsSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DropsSnapshot{
		Metrics:  d.metrics.Snapshot(),
		Activity: d.feed.Items(),
	}
}
