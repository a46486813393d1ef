package testutil

import (
	"time"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/orders"
)

// CompletedOrder returns a completed order holding one line per product.
// Each line is priced at 10.
func CompletedOrder(id int64, productIDs ...int64) *orders.Order {
	now := time.Now().UTC()
	o := &orders.Order{
		ID:          id,
		Status:      orders.StatusCompleted,
		CreatedAt:   now,
		CompletedAt: now,
	}
	for _, p := range productIDs {
		o.Items = append(o.Items, orders.LineItem{ProductID: p, Quantity: 1, Total: 10})
		o.Total += 10
	}
	return o
}

// SampleOrders is a small history with known co-purchase counts:
// (5,7)=2, (5,9)=1, (7,9)=1 and product stats 5→2, 7→2, 9→1.
func SampleOrders() []*orders.Order {
	return []*orders.Order{
		CompletedOrder(1, 5, 7),
		CompletedOrder(2, 5, 7, 9),
	}
}

// PurchaseEvent returns a purchase event for feature on order at t.
func PurchaseEvent(feature string, orderID, productID int64, revenue float64, t time.Time) *analytics.Event {
	return &analytics.Event{
		FeatureID: feature,
		Type:      analytics.EventPurchase,
		ProductID: productID,
		OrderID:   orderID,
		Quantity:  1,
		Revenue:   revenue,
		SessionID: "test-session",
		CreatedAt: t,
	}
}

// Funnel returns one impression, click and add-to-cart for feature and
// product at t.
func Funnel(feature string, productID int64, t time.Time) []*analytics.Event {
	types := []analytics.EventType{analytics.EventImpression, analytics.EventClick, analytics.EventAddToCart}
	events := make([]*analytics.Event, 0, len(types))
	for _, typ := range types {
		events = append(events, &analytics.Event{
			FeatureID: feature,
			Type:      typ,
			ProductID: productID,
			SessionID: "test-session",
			CreatedAt: t,
		})
	}
	return events
}
