package realtime

import (
	"fmt"

	"storefront-live/internal/event"
	"storefront-live/internal/router"
)

// Callback receives one routed event. A returned error is logged and counted
// by the router; it never stops the fan-out.
type Callback func(event.Event) error

// Options is the declarative configuration of a Binding.
type Options struct {
	// Disabled makes the binding inert: no subscription and no callbacks,
	// connection status only.
	Disabled bool

	// Channels to subscribe to. When empty, channels are derived from the
	// categories of the callbacks set.
	Channels []string
	Scope    string
	// Filters are sent with the subscribe frame and also enforced locally:
	// a callback fires only if every filter key present in the payload
	// matches.
	Filters map[string]any

	OnProductCreated   Callback
	OnProductEvent     Callback
	OnInventoryEvent   Callback
	OnDropEvent        Callback
	OnCategoryEvent    Callback
	OnAnalyticsUpdated Callback
	OnOrderCreated     Callback
	OnSyncStatus       Callback
	OnEvent            Callback
}

func (o Options) byCategory() map[event.Category]Callback {
	m := make(map[event.Category]Callback)
	if o.OnProductCreated != nil || o.OnProductEvent != nil {
		created, all := o.OnProductCreated, o.OnProductEvent
		m[event.Product] = func(ev event.Event) error {
			if created != nil && ev.Type == event.ProductCreated {
				if err := created(ev); err != nil {
					return err
				}
			}
			if all != nil {
				return all(ev)
			}
			return nil
		}
	}
	if o.OnInventoryEvent != nil {
		m[event.Inventory] = o.OnInventoryEvent
	}
	if o.OnDropEvent != nil {
		m[event.Drop] = o.OnDropEvent
	}
	if o.OnCategoryEvent != nil {
		m[event.CategoryEvents] = o.OnCategoryEvent
	}
	if o.OnAnalyticsUpdated != nil {
		m[event.Analytics] = only(event.AnalyticsUpdated, o.OnAnalyticsUpdated)
	}
	if o.OnOrderCreated != nil {
		m[event.Order] = only(event.OrderCreated, o.OnOrderCreated)
	}
	if o.OnSyncStatus != nil {
		m[event.Sync] = only(event.SyncStatus, o.OnSyncStatus)
	}
	return m
}

func only(t event.Type, cb Callback) Callback {
	return func(ev event.Event) error {
		if ev.Type != t {
			return nil
		}
		return cb(ev)
	}
}

// channels returns the explicit channels, or the categories of the callbacks
// set. OnEvent alone subscribes to every category.
func (o Options) channels() []string {
	if len(o.Channels) > 0 {
		return o.Channels
	}
	if o.OnEvent != nil {
		out := make([]string, 0, len(event.Categories()))
		for _, c := range event.Categories() {
			out = append(out, c.String())
		}
		return out
	}
	cats := o.byCategory()
	out := make([]string, 0, len(cats))
	for _, c := range event.Categories() {
		if _, ok := cats[c]; ok {
			out = append(out, c.String())
		}
	}
	return out
}

// handlers converts the callbacks into a router listener table.
func (o Options) handlers() router.Handlers {
	filters := o.Filters
	h := router.Handlers{ByCategory: make(map[event.Category]router.Listener)}
	if o.OnEvent != nil {
		h.All = filtered(filters, o.OnEvent)
	}
	for c, cb := range o.byCategory() {
		h.ByCategory[c] = filtered(filters, cb)
	}
	return h
}

func filtered(filters map[string]any, cb Callback) router.Listener {
	if len(filters) == 0 {
		return router.Listener(cb)
	}
	return func(ev event.Event) error {
		if !matchFilters(filters, ev.Fields()) {
			return nil
		}
		return cb(ev)
	}
}

// matchFilters reports whether every filter key present in fields has the
// filter's value. Keys absent from the payload do not exclude the event.
func matchFilters(filters, fields map[string]any) bool {
	for k, want := range filters {
		got, ok := fields[k]
		if !ok {
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
