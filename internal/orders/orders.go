// Package orders describes storefront orders as the engine sees them and the
// sources that can enumerate historical completed orders for the backfill.
package orders

import (
	"context"
	"errors"
	"strings"
	"time"
)

// StatusCompleted is the lifecycle status that makes an order count towards
// co-purchase statistics.
const StatusCompleted = "completed"

// ErrNotFound is returned when an order does not exist in a source.
var ErrNotFound = errors.New("orders: order not found")

// Order is a single storefront order with its line items.
type Order struct {
	ID          int64
	Status      string
	Total       float64
	CreatedAt   time.Time
	CompletedAt time.Time
	Items       []LineItem
}

// LineItem is one purchased line of an order. VariationID is set when the
// shopper bought a specific variation of a variable product; ProductID is
// always the parent product.
type LineItem struct {
	ProductID   int64
	VariationID int64
	Quantity    int64
	Total       float64
}

// EffectiveProductID returns the product identity used for co-purchase
// statistics. Variations collapse onto their parent product so that buying
// "T-shirt / red" and "T-shirt / blue" count as the same product.
func (li LineItem) EffectiveProductID() int64 {
	if li.ProductID > 0 {
		return li.ProductID
	}
	return 0
}

// IsCompleted reports whether the order status is the completed status.
func (o *Order) IsCompleted() bool {
	return o.Status == StatusCompleted
}

// NormalizeStatus lower-cases a status and strips WooCommerce's "wc-"
// storage prefix.
func NormalizeStatus(status string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(status)), "wc-")
}

// StatusSet holds the normalized statuses that count an order as completed.
type StatusSet map[string]struct{}

// NewStatusSet builds a StatusSet. Blank entries are skipped and an empty
// result falls back to StatusCompleted alone.
func NewStatusSet(statuses ...string) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		if s = NormalizeStatus(s); s != "" {
			set[s] = struct{}{}
		}
	}
	if len(set) == 0 {
		set[StatusCompleted] = struct{}{}
	}
	return set
}

// Contains reports whether status, once normalized, is in the set.
func (s StatusSet) Contains(status string) bool {
	_, ok := s[NormalizeStatus(status)]
	return ok
}

// CompletedIn reports whether the order's status is one of statuses.
func (o *Order) CompletedIn(statuses StatusSet) bool {
	return statuses.Contains(o.Status)
}

// Source enumerates historical completed orders in ascending ID order. The
// backfill only ever asks for orders strictly after a watermark, so
// implementations must return IDs sorted ascending.
type Source interface {
	// Name identifies the source in logs and in the processed-order ledger.
	Name() string

	// CountCompleted returns the number of completed orders.
	CountCompleted(ctx context.Context) (int64, error)

	// CountCompletedAfter returns the number of completed orders with an ID
	// strictly greater than afterID.
	CountCompletedAfter(ctx context.Context, afterID int64) (int64, error)

	// CompletedIDsAfter returns up to limit completed order IDs greater than
	// afterID, ascending.
	CompletedIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error)

	// LineItems returns the line items of a single order.
	LineItems(ctx context.Context, orderID int64) ([]LineItem, error)

	// Close releases any connection held by the source.
	Close() error
}
