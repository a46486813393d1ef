package analytics

import "testing"

func purchase(feature string, order, product int64, revenue float64) *Event {
	return &Event{FeatureID: feature, Type: EventPurchase, OrderID: order, ProductID: product, Revenue: revenue}
}

func TestAttributeOrders(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name   string
		events []*Event
		want   map[int64]float64
	}{
		{
			name: "fbt line items on distinct products are summed",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("fbt", 1, 11, 15),
			},
			want: map[int64]float64{1: 25},
		},
		{
			name: "fbt and next order coupon on one order count once",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("next_order_coupon", 1, 0, 10),
			},
			want: map[int64]float64{1: 10},
		},
		{
			name: "two order scoped features take the max",
			events: []*Event{
				purchase("exit_intent", 1, 0, 40),
				purchase("free_shipping_bar", 1, 0, 55),
			},
			want: map[int64]float64{1: 55},
		},
		{
			name: "fbt line items on the same product are summed",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("fbt", 1, 10, 15),
			},
			want: map[int64]float64{1: 25},
		},
		{
			name: "fbt line items without product ids are summed",
			events: []*Event{
				purchase("fbt", 1, 0, 10),
				purchase("fbt", 1, 0, 15),
			},
			want: map[int64]float64{1: 25},
		},
		{
			name: "order bump alone takes the max",
			events: []*Event{
				purchase("order_bump", 1, 12, 10),
				purchase("order_bump", 1, 13, 15),
			},
			want: map[int64]float64{1: 15},
		},
		{
			name: "fbt with order bump takes the max",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("order_bump", 1, 12, 5),
			},
			want: map[int64]float64{1: 10},
		},
		{
			name: "one order scoped event turns fbt sum into max",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("fbt", 1, 11, 15),
				purchase("next_order_coupon", 1, 0, 20),
			},
			want: map[int64]float64{1: 20},
		},
		{
			name: "smart recommendations alone takes the max",
			events: []*Event{
				purchase("smart_recommendations", 1, 20, 30),
				purchase("smart_recommendations", 1, 21, 12),
			},
			want: map[int64]float64{1: 30},
		},
		{
			name: "order scoped total larger than line items wins",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("next_order_coupon", 1, 0, 80),
			},
			want: map[int64]float64{1: 80},
		},
		{
			name: "explicit scope overrides feature default",
			events: []*Event{
				{FeatureID: "stock_scarcity", Type: EventPurchase, OrderID: 2, ProductID: 3, Revenue: 7, RevenueScope: ScopeLineItem},
				{FeatureID: "stock_scarcity", Type: EventPurchase, OrderID: 2, ProductID: 4, Revenue: 8, RevenueScope: ScopeLineItem},
			},
			want: map[int64]float64{2: 15},
		},
		{
			name: "orders are independent and non purchases ignored",
			events: []*Event{
				purchase("fbt", 1, 10, 10),
				purchase("fbt", 2, 10, 20),
				{FeatureID: "fbt", Type: EventClick, OrderID: 1, ProductID: 10, Revenue: 99},
				purchase("fbt", 0, 10, 99),
			},
			want: map[int64]float64{1: 10, 2: 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AttributeOrders(tt.events, reg.ScopeOf)
			if len(got) != len(tt.want) {
				t.Fatalf("orders: got %d, want %d (%+v)", len(got), len(tt.want), got)
			}
			for _, o := range got {
				if want := tt.want[o.OrderID]; o.Revenue != want {
					t.Errorf("order %d revenue: got %v, want %v", o.OrderID, o.Revenue, want)
				}
			}
		})
	}
}

func TestAttributeOrders_ListsFeatures(t *testing.T) {
	got := AttributeOrders([]*Event{
		purchase("next_order_coupon", 1, 0, 10),
		purchase("fbt", 1, 10, 10),
	}, DefaultRegistry().ScopeOf)
	if len(got) != 1 || len(got[0].Features) != 2 || got[0].Features[0] != "fbt" {
		t.Errorf("features: got %+v", got)
	}
}
