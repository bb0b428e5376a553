package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront-live/internal/event"
)

type product struct {
	id    string
	name  string
	stock int64
}

type drop struct {
	id    string
	name  string
	stock int64
	price decimal.Decimal
	sold  int64
}

// generator produces a plausible stream of storefront events over a small
// fixed catalog.
type generator struct {
	rng       *rand.Rand
	users     []string
	threshold int64
	products  []*product
	drops     []*drop
}

func newGenerator(rng *rand.Rand, users []string) *generator {
	g := &generator{rng: rng, users: users, threshold: 10}
	for i, name := range []string{"Canvas Tote", "Logo Tee", "Trail Cap", "Enamel Pin", "Hoodie"} {
		g.products = append(g.products, &product{
			id:    fmt.Sprintf("P%d", i+1),
			name:  name,
			stock: 5 + rng.Int64N(40),
		})
	}
	return g
}

// Next returns the next event stamped at now.
func (g *generator) Next(now time.Time) (event.Event, error) {
	switch n := g.rng.IntN(100); {
	case n < 30:
		return g.inventory(now)
	case n < 50:
		return g.order(now)
	case n < 65:
		return g.analytics(now)
	case n < 85:
		return g.drop(now)
	case n < 95:
		return g.productUpdate(now)
	default:
		return event.New(event.SyncStatus, map[string]any{
			"source":   "erp",
			"status":   []string{"running", "completed", "failed"}[g.rng.IntN(3)],
			"progress": g.rng.Float64(),
		}, now)
	}
}

func (g *generator) inventory(now time.Time) (event.Event, error) {
	p := g.products[g.rng.IntN(len(g.products))]
	prev := p.stock
	p.stock = max(0, p.stock+g.rng.Int64N(21)-12)
	if p.stock <= g.threshold && prev > g.threshold {
		return event.New(event.InventoryLowStockAlert, map[string]any{
			"productId":   p.id,
			"productName": p.name,
			"stock":       p.stock,
			"threshold":   g.threshold,
		}, now)
	}
	return event.New(event.InventoryStockAdjusted, map[string]any{
		"productId":     p.id,
		"productName":   p.name,
		"previousStock": prev,
		"newStock":      p.stock,
		"reason":        "restock",
	}, now)
}

func (g *generator) order(now time.Time) (event.Event, error) {
	total := decimal.New(500+g.rng.Int64N(15000), -2)
	payload := map[string]any{
		"orderId":     uuid.NewString(),
		"total":       total.StringFixed(2),
		"items":       1 + g.rng.IntN(4),
		"coinsEarned": total.IntPart() / 10,
	}
	if len(g.users) > 0 {
		payload["userId"] = g.users[g.rng.IntN(len(g.users))]
	}
	return event.New(event.OrderCreated, payload, now)
}

func (g *generator) analytics(now time.Time) (event.Event, error) {
	views := 20 + g.rng.Int64N(200)
	return event.New(event.AnalyticsUpdated, map[string]any{
		"views":       views,
		"purchases":   g.rng.Int64N(views/10 + 1),
		"activeUsers": 5 + g.rng.Int64N(60),
	}, now)
}

func (g *generator) drop(now time.Time) (event.Event, error) {
	if len(g.drops) == 0 || g.rng.IntN(4) == 0 {
		d := &drop{
			id:    uuid.NewString(),
			name:  fmt.Sprintf("Drop #%d", len(g.drops)+1),
			stock: 20 + g.rng.Int64N(80),
			price: decimal.New(1500+g.rng.Int64N(6000), -2),
		}
		g.drops = append(g.drops, d)
		return event.New(event.DropCreated, map[string]any{
			"dropId":     d.id,
			"name":       d.name,
			"status":     event.DropStatusActive,
			"totalStock": d.stock,
			"price":      d.price.StringFixed(2),
		}, now)
	}

	d := g.drops[g.rng.IntN(len(g.drops))]
	if d.stock == 0 {
		return event.New(event.DropUpdated, map[string]any{
			"dropId": d.id,
			"name":   d.name,
			"status": event.DropStatusSoldOut,
		}, now)
	}
	sold := min(d.stock, 1+g.rng.Int64N(5))
	d.stock -= sold
	d.sold += sold
	payload := map[string]any{
		"dropId":  d.id,
		"name":    d.name,
		"stock":   d.stock,
		"sold":    d.sold,
		"revenue": d.price.Mul(decimal.NewFromInt(d.sold)).StringFixed(2),
	}
	if d.stock == 0 {
		payload["status"] = event.DropStatusSoldOut
	}
	return event.New(event.DropStockChanged, payload, now)
}

func (g *generator) productUpdate(now time.Time) (event.Event, error) {
	p := g.products[g.rng.IntN(len(g.products))]
	return event.New(event.ProductUpdated, map[string]any{
		"productId": p.id,
		"name":      p.name,
		"stock":     p.stock,
	}, now)
}
