package event

import (
	"github.com/shopspring/decimal"
)

// ProductPayload is carried by product:* events.
type ProductPayload struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	VariantID  string          `json:"variantId"`
	Name       string          `json:"name"`
	CategoryID string          `json:"categoryId"`
	Price      decimal.Decimal `json:"price"`
	Stock      *int64          `json:"stock"`
	Threshold  *int64          `json:"threshold"`
}

// Key returns the product id, falling back to the generic id.
func (p ProductPayload) Key() string {
	if p.ProductID != "" {
		return p.ProductID
	}
	return p.ID
}

// DropPayload is carried by drop:* events.
type DropPayload struct {
	ID         string          `json:"id"`
	DropID     string          `json:"dropId"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Stock      *int64          `json:"stock"`
	TotalStock *int64          `json:"totalStock"`
	Price      decimal.Decimal `json:"price"`
	Revenue    decimal.Decimal `json:"revenue"`
	Sold       int64           `json:"sold"`
}

// Key returns the drop id, falling back to the generic id.
func (p DropPayload) Key() string {
	if p.DropID != "" {
		return p.DropID
	}
	return p.ID
}

// CurrentStock resolves the remaining stock of the drop, if reported.
func (p DropPayload) CurrentStock() (int64, bool) {
	switch {
	case p.Stock != nil:
		return *p.Stock, true
	case p.TotalStock != nil:
		return *p.TotalStock, true
	}
	return 0, false
}

// Drop statuses that count a drop as live.
const (
	DropStatusActive    = "active"
	DropStatusLive      = "live"
	DropStatusScheduled = "scheduled"
	DropStatusEnded     = "ended"
	DropStatusSoldOut   = "sold_out"
)

// Live reports whether the status describes a drop that is selling. An empty
// status is treated as live.
func (p DropPayload) Live() bool {
	switch p.Status {
	case "", DropStatusActive, DropStatusLive:
		return true
	}
	return false
}

// InventoryPayload is carried by inventory:* events. Servers report the stock
// level as either stock or newStock depending on the event.
type InventoryPayload struct {
	ProductID     string `json:"productId"`
	VariantID     string `json:"variantId"`
	Name          string `json:"productName"`
	Stock         *int64 `json:"stock"`
	NewStock      *int64 `json:"newStock"`
	PreviousStock *int64 `json:"previousStock"`
	Quantity      int64  `json:"quantity"`
	Threshold     *int64 `json:"threshold"`
	Reason        string `json:"reason"`
}

// CurrentStock resolves the stock level after the event.
func (p InventoryPayload) CurrentStock() (int64, bool) {
	switch {
	case p.NewStock != nil:
		return *p.NewStock, true
	case p.Stock != nil:
		return *p.Stock, true
	}
	return 0, false
}

// CategoryPayload is carried by category:* events.
type CategoryPayload struct {
	ID           string `json:"id"`
	CategoryID   string `json:"categoryId"`
	Name         string `json:"name"`
	ProductCount int64  `json:"productCount"`
}

// Key returns the category id, falling back to the generic id.
func (p CategoryPayload) Key() string {
	if p.CategoryID != "" {
		return p.CategoryID
	}
	return p.ID
}

// AnalyticsPayload is carried by analytics:updated. Views, Purchases and
// Revenue are increments; ActiveUsers replaces the previous value.
type AnalyticsPayload struct {
	Views       int64           `json:"views"`
	Purchases   int64           `json:"purchases"`
	Revenue     decimal.Decimal `json:"revenue"`
	ActiveUsers *int64          `json:"activeUsers"`
}

// OrderPayload is carried by order:created.
type OrderPayload struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	Total       decimal.Decimal `json:"total"`
	Items       int64           `json:"items"`
	CoinsEarned int64           `json:"coinsEarned"`
}

// Key returns the order id, falling back to the generic id.
func (p OrderPayload) Key() string {
	if p.OrderID != "" {
		return p.OrderID
	}
	return p.ID
}

// SyncStatusPayload is carried by sync:status.
type SyncStatusPayload struct {
	Source   string  `json:"source"`
	Status   string  `json:"status"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}
