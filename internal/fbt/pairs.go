// Package fbt maintains frequently-bought-together statistics: unordered
// co-purchase pair counters and per-product order counts, fed incrementally
// by completed orders and by a resumable historical backfill.
package fbt

import (
	"slices"

	"github.com/allaspectsdev/upsell/internal/orders"
)

// Pair is an unordered product pair, normalized so that A < B.
type Pair struct {
	A int64 `json:"product_a"`
	B int64 `json:"product_b"`
}

// NewPair normalizes x and y into a Pair. ok is false when x == y.
func NewPair(x, y int64) (Pair, bool) {
	switch {
	case x < y:
		return Pair{A: x, B: y}, true
	case x > y:
		return Pair{A: y, B: x}, true
	default:
		return Pair{}, false
	}
}

// ProductSet returns the sorted distinct effective product IDs of the line
// items. Items without a positive product ID are ignored.
func ProductSet(items []orders.LineItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if id := it.EffectiveProductID(); id > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Pairs returns every unordered pair of distinct products. The input must be
// sorted and free of duplicates, as returned by ProductSet.
func Pairs(products []int64) []Pair {
	if len(products) < 2 {
		return nil
	}
	out := make([]Pair, 0, len(products)*(len(products)-1)/2)
	for i := 0; i < len(products); i++ {
		for j := i + 1; j < len(products); j++ {
			out = append(out, Pair{A: products[i], B: products[j]})
		}
	}
	return out
}

// Extract runs ProductSet and Pairs over an order's line items.
func Extract(items []orders.LineItem) ([]int64, []Pair) {
	products := ProductSet(items)
	return products, Pairs(products)
}
