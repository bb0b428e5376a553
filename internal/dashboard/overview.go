package dashboard

import (
	"sync"
	"time"

	"storefront-live/internal/aggregate"
	"storefront-live/internal/event"
	"storefront-live/internal/realtime"
)

// Overview metric fields.
const (
	MetricOrders      = "orders"
	MetricRevenue     = "revenue"
	MetricViews       = "views"
	MetricPurchases   = "purchases"
	MetricActiveUsers = "activeUsers"
	MetricConversion  = "conversion"
)

// Overview trend window defaults.
const (
	OverviewTrendSize   = 12
	OverviewTrendBucket = 5 * time.Minute
)

// OverviewSnapshot is the rendered state of the store overview.
type OverviewSnapshot struct {
	Metrics  aggregate.Snapshot
	Trend    []aggregate.TrendPoint
	Activity []aggregate.ActivityEntry
}

// Overview folds every event into a store-wide feed, headline metrics and a
// trend window.
type Overview struct {
	mu      sync.RWMutex
	feed    *aggregate.ActivityFeed
	metrics *aggregate.Metrics
	trend   *aggregate.TrendWindow
	orders  *aggregate.Deduper
}

// NewOverview creates an empty overview with trend points bucketed by bucket.
func NewOverview(bucket time.Duration) *Overview {
	return &Overview{
		feed: aggregate.NewActivityFeed(OverviewFeedSize),
		metrics: aggregate.NewMetrics([]aggregate.FieldSpec{
			{Name: MetricOrders, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricRevenue, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricViews, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricPurchases, Mode: aggregate.Additive, NonNegative: true},
			{Name: MetricActiveUsers, Mode: aggregate.Replace, NonNegative: true},
		}, aggregate.Ratio(MetricConversion, MetricPurchases, MetricViews, 4)),
		trend:  aggregate.NewTrendWindow(OverviewTrendSize, bucket),
		orders: aggregate.NewDeduper(0),
	}
}

// Options returns the binding for this dashboard.
func (d *Overview) Options() realtime.Options {
	return realtime.Options{OnEvent: d.Handle}
}

// Seed replaces the metrics with values fetched from the backend.
func (d *Overview) Seed(s aggregate.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.Reset(s)
}

// Handle folds any event. Orders feed the order count and revenue; analytics
// updates feed traffic and append a trend point.
func (d *Overview) Handle(ev event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Type {
	case event.OrderCreated:
		var p event.OrderPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if !d.orders.Observe(p.Key()) {
			return nil
		}
		d.metrics.Apply(aggregate.Delta{
			MetricOrders:  num(1),
			MetricRevenue: p.Total,
		})

	case event.AnalyticsUpdated:
		var p event.AnalyticsPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		delta := aggregate.Delta{
			MetricViews:     num(p.Views),
			MetricPurchases: num(p.Purchases),
		}
		if p.ActiveUsers != nil {
			delta[MetricActiveUsers] = num(*p.ActiveUsers)
		}
		snap := d.metrics.Apply(delta)
		d.trend.Append(aggregate.TrendPoint{Bucket: ev.Timestamp, Values: snap})
	}

	d.feed.Push(activity(ev))
	return nil
}

// Tick appends a trend point for now from the current metrics.
func (d *Overview) Tick(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trend.Append(aggregate.TrendPoint{Bucket: now, Values: d.metrics.Snapshot()})
}

// Snapshot returns the current state.
func (d *Overview) Snapshot() OverviewSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return OverviewSnapshot{
		Metrics:  d.metrics.Snapshot(),
		Trend:    d.trend.Points(),
		Activity: d.feed.Items(),
	}
}
