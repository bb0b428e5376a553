// Package dashboard binds the aggregate reducers to routed events for each
// live dashboard: inventory, drops, store overview and the user wallet.
package dashboard

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"storefront-live/internal/aggregate"
	"storefront-live/internal/event"
)

// Feed capacities per dashboard.
const (
	InventoryFeedSize = 20
	DropsFeedSize     = 15
	OverviewFeedSize  = 25
)

// activity builds the feed entry for ev.
func activity(ev event.Event) aggregate.ActivityEntry {
	id := ev.Identity()
	if id == "" {
		id = ev.Type.String()
	}
	e := aggregate.ActivityEntry{
		ID:        id + "@" + strconv.FormatInt(ev.Timestamp.UnixMilli(), 10),
		Timestamp: ev.Timestamp,
		Tone:      aggregate.ToneInfo,
	}

	switch ev.Category() {
	case event.Product:
		var p event.ProductPayload
		_ = ev.Decode(&p)
		name := orID(p.Name, p.Key())
		switch ev.Type {
		case event.ProductCreated:
			e.Message, e.Tone = fmt.Sprintf("New product %s", name), aggregate.ToneSuccess
			e.Amount = amount(p.Price)
		case event.ProductUpdated:
			e.Message = fmt.Sprintf("Product %s updated", name)
		case event.ProductDeleted:
			e.Message, e.Tone = fmt.Sprintf("Product %s removed", name), aggregate.ToneDanger
		case event.ProductStockChanged:
			e.Message = fmt.Sprintf("Stock changed for %s", name)
			if p.Stock != nil {
				e.Message = fmt.Sprintf("Stock for %s is now %d", name, *p.Stock)
			}
		}

	case event.Drop:
		var p event.DropPayload
		_ = ev.Decode(&p)
		name := orID(p.Name, p.Key())
		switch ev.Type {
		case event.DropCreated:
			e.Message, e.Tone = fmt.Sprintf("Drop %s launched", name), aggregate.ToneSuccess
			e.Amount = amount(p.Price)
		case event.DropUpdated:
			e.Message = fmt.Sprintf("Drop %s updated", name)
			if p.Status != "" {
				e.Message = fmt.Sprintf("Drop %s is %s", name, p.Status)
			}
		case event.DropDeleted:
			e.Message, e.Tone = fmt.Sprintf("Drop %s removed", name), aggregate.ToneDanger
		case event.DropStockChanged:
			e.Message = fmt.Sprintf("Stock changed for drop %s", name)
			if stock, ok := p.CurrentStock(); ok {
				e.Message = fmt.Sprintf("Drop %s has %d left", name, stock)
				if stock == 0 {
					e.Message, e.Tone = fmt.Sprintf("Drop %s sold out", name), aggregate.ToneWarning
				}
			}
		}

	case event.Inventory:
		var p event.InventoryPayload
		_ = ev.Decode(&p)
		name := orID(p.Name, p.ProductID)
		switch ev.Type {
		case event.InventoryStockAdjusted:
			e.Message = fmt.Sprintf("Stock adjusted for %s", name)
			if stock, ok := p.CurrentStock(); ok {
				e.Message = fmt.Sprintf("Stock adjusted for %s to %d", name, stock)
			}
		case event.InventoryStockReserved:
			e.Message = fmt.Sprintf("%d units of %s reserved", p.Quantity, name)
		case event.InventoryStockReleased:
			e.Message = fmt.Sprintf("%d units of %s released", p.Quantity, name)
		case event.InventoryLowStockAlert:
			e.Message, e.Tone = fmt.Sprintf("Low stock: %s", name), aggregate.ToneWarning
		}

	case event.CategoryEvents:
		var p event.CategoryPayload
		_ = ev.Decode(&p)
		name := orID(p.Name, p.Key())
		switch ev.Type {
		case event.CategoryCreated:
			e.Message = fmt.Sprintf("Category %s created", name)
		case event.CategoryUpdated:
			e.Message = fmt.Sprintf("Category %s updated", name)
		case event.CategoryDeleted:
			e.Message, e.Tone = fmt.Sprintf("Category %s removed", name), aggregate.ToneDanger
		}

	case event.Analytics:
		e.Message = "Analytics updated"

	case event.Order:
		var p event.OrderPayload
		_ = ev.Decode(&p)
		e.Message, e.Tone = fmt.Sprintf("Order %s placed", p.Key()), aggregate.ToneSuccess
		e.Amount = amount(p.Total)

	case event.Sync:
		var p event.SyncStatusPayload
		_ = ev.Decode(&p)
		e.Message = fmt.Sprintf("Sync %s: %s", orID(p.Source, "store"), p.Status)
		if p.Status == "error" || p.Status == "failed" {
			e.Tone = aggregate.ToneDanger
		}
	}
	return e
}

func orID(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func amount(d decimal.Decimal) decimal.NullDecimal {
	if d.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func num(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
