package fbt

import (
	"reflect"
	"testing"

	"github.com/allaspectsdev/upsell/internal/orders"
)

func items(ids ...int64) []orders.LineItem {
	out := make([]orders.LineItem, len(ids))
	for i, id := range ids {
		out[i] = orders.LineItem{ProductID: id, Quantity: 1}
	}
	return out
}

func TestNewPair(t *testing.T) {
	tests := []struct {
		x, y   int64
		want   Pair
		wantOK bool
	}{
		{1, 2, Pair{1, 2}, true},
		{9, 3, Pair{3, 9}, true},
		{4, 4, Pair{}, false},
	}
	for _, tt := range tests {
		got, ok := NewPair(tt.x, tt.y)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NewPair(%d, %d): got %v/%v, want %v/%v", tt.x, tt.y, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		items        []orders.LineItem
		wantProducts []int64
		wantPairs    []Pair
	}{
		{
			name:         "three products",
			items:        items(3, 1, 2),
			wantProducts: []int64{1, 2, 3},
			wantPairs:    []Pair{{1, 2}, {1, 3}, {2, 3}},
		},
		{
			name:         "single product",
			items:        items(7),
			wantProducts: []int64{7},
			wantPairs:    nil,
		},
		{
			name:         "duplicate line items collapse",
			items:        items(5, 7, 5, 7),
			wantProducts: []int64{5, 7},
			wantPairs:    []Pair{{5, 7}},
		},
		{
			name:         "no items",
			items:        nil,
			wantProducts: []int64{},
			wantPairs:    nil,
		},
		{
			name:         "non positive ids ignored",
			items:        items(0, -3, 8),
			wantProducts: []int64{8},
			wantPairs:    nil,
		},
		{
			name: "variations collapse onto parent",
			items: []orders.LineItem{
				{ProductID: 10, VariationID: 101},
				{ProductID: 10, VariationID: 102},
				{ProductID: 20},
			},
			wantProducts: []int64{10, 20},
			wantPairs:    []Pair{{10, 20}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, pairs := Extract(tt.items)
			if !reflect.DeepEqual(products, tt.wantProducts) {
				t.Errorf("products: got %v, want %v", products, tt.wantProducts)
			}
			if !reflect.DeepEqual(pairs, tt.wantPairs) {
				t.Errorf("pairs: got %v, want %v", pairs, tt.wantPairs)
			}
			for _, p := range pairs {
				if p.A >= p.B {
					t.Errorf("pair %v not normalized", p)
				}
			}
		})
	}
}

func TestPairs_Count(t *testing.T) {
	products := []int64{1, 2, 3, 4, 5, 6}
	if got, want := len(Pairs(products)), 15; got != want {
		t.Errorf("len(Pairs): got %d, want %d", got, want)
	}
}
