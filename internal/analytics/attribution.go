package analytics

import "sort"

// OrderAttribution is the revenue credited to one order for a day.
type OrderAttribution struct {
	OrderID  int64
	Revenue  float64
	Features []string
}

// AttributeOrders computes per-order revenue from purchase events so that no
// order is counted twice when several features report it.
//
// When every purchase event of an order is line-item scoped, each event is a
// distinct line added by a widget and the order is credited their sum, even
// when two events name the same product. As soon as one order-scoped event is
// present the events may overlap, and the order is credited the largest
// single report.
func AttributeOrders(events []*Event, scopeOf func(*Event) RevenueScope) []OrderAttribution {
	type acc struct {
		sum      float64
		largest  float64
		lineOnly bool
		features map[string]struct{}
	}
	byOrder := make(map[int64]*acc)

	for _, e := range events {
		if e.Type != EventPurchase || e.OrderID <= 0 {
			continue
		}
		a := byOrder[e.OrderID]
		if a == nil {
			a = &acc{lineOnly: true, features: make(map[string]struct{})}
			byOrder[e.OrderID] = a
		}
		a.features[e.FeatureID] = struct{}{}
		a.sum += e.Revenue
		a.largest = max(a.largest, e.Revenue)
		if scopeOf(e) != ScopeLineItem {
			a.lineOnly = false
		}
	}

	out := make([]OrderAttribution, 0, len(byOrder))
	for id, a := range byOrder {
		revenue := a.largest
		if a.lineOnly {
			revenue = a.sum
		}
		features := make([]string, 0, len(a.features))
		for f := range a.features {
			features = append(features, f)
		}
		sort.Strings(features)
		out = append(out, OrderAttribution{
			OrderID:  id,
			Revenue:  revenue,
			Features: features,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}
