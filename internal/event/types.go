// Package event defines the closed set of storefront realtime event types and
// their payloads.
package event

import "fmt"

// Category groups event types for routing and cache invalidation.
type Category uint8

const (
	Product Category = iota + 1
	Drop
	Inventory
	CategoryEvents
	Analytics
	Order
	Sync
)

var categoryNames = map[Category]string{
	Product:        "product",
	Drop:           "drop",
	Inventory:      "inventory",
	CategoryEvents: "category",
	Analytics:      "analytics",
	Order:          "order",
	Sync:           "sync",
}

// String returns the wire prefix of the category.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Categories returns every category in declaration order.
func Categories() []Category {
	return []Category{Product, Drop, Inventory, CategoryEvents, Analytics, Order, Sync}
}

// Type is one member of the closed event enumeration. The zero value is not a
// valid type.
type Type uint8

const (
	ProductCreated Type = iota + 1
	ProductUpdated
	ProductDeleted
	ProductStockChanged
	DropCreated
	DropUpdated
	DropDeleted
	DropStockChanged
	InventoryStockAdjusted
	InventoryStockReserved
	InventoryStockReleased
	InventoryLowStockAlert
	CategoryCreated
	CategoryUpdated
	CategoryDeleted
	AnalyticsUpdated
	OrderCreated
	SyncStatus

	typeCount = int(SyncStatus)
)

type typeInfo struct {
	name     string
	category Category
}

// types is indexed by Type; index 0 is unused.
var types = [typeCount + 1]typeInfo{
	ProductCreated:         {"product:created", Product},
	ProductUpdated:         {"product:updated", Product},
	ProductDeleted:         {"product:deleted", Product},
	ProductStockChanged:    {"product:stock_changed", Product},
	DropCreated:            {"drop:created", Drop},
	DropUpdated:            {"drop:updated", Drop},
	DropDeleted:            {"drop:deleted", Drop},
	DropStockChanged:       {"drop:stock_changed", Drop},
	InventoryStockAdjusted: {"inventory:stock_adjusted", Inventory},
	InventoryStockReserved: {"inventory:stock_reserved", Inventory},
	InventoryStockReleased: {"inventory:stock_released", Inventory},
	InventoryLowStockAlert: {"inventory:low_stock_alert", Inventory},
	CategoryCreated:        {"category:created", CategoryEvents},
	CategoryUpdated:        {"category:updated", CategoryEvents},
	CategoryDeleted:        {"category:deleted", CategoryEvents},
	AnalyticsUpdated:       {"analytics:updated", Analytics},
	OrderCreated:           {"order:created", Order},
	SyncStatus:             {"sync:status", Sync},
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, typeCount)
	for t := ProductCreated; int(t) <= typeCount; t++ {
		m[types[t].name] = t
	}
	return m
}()

// ParseType resolves a wire name. Unknown names report false.
func ParseType(name string) (Type, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// AllTypes returns every known type in declaration order.
func AllTypes() []Type {
	out := make([]Type, 0, typeCount)
	for t := ProductCreated; int(t) <= typeCount; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is a member of the enumeration.
func (t Type) Valid() bool {
	return t >= ProductCreated && int(t) <= typeCount
}

// String returns the wire name.
func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("type(%d)", uint8(t))
	}
	return types[t].name
}

// Category returns the category t belongs to, or 0 for invalid types.
func (t Type) Category() Category {
	if !t.Valid() {
		return 0
	}
	return types[t].category
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("marshal event type %d: unknown", uint8(t))
	}
	return []byte(types[t].name), nil
}
