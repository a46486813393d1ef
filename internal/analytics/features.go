// Package analytics records storefront widget events, rolls them up into
// per-feature daily statistics with order-level revenue attribution, and
// prunes raw events past their retention window.
package analytics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// RevenueScope says how an event's revenue relates to its order.
type RevenueScope string

const (
	// ScopeLineItem revenue belongs to one line item. An order reported only
	// by line items is credited their sum.
	ScopeLineItem RevenueScope = "line_item"
	// ScopeOrder revenue may cover the whole order. Any order carrying one
	// is credited its single largest report.
	ScopeOrder RevenueScope = "order"
)

// Valid reports whether s is a known scope.
func (s RevenueScope) Valid() bool {
	return s == ScopeLineItem || s == ScopeOrder
}

// OrderTotalsFeature is the reserved daily-row feature holding order-level
// purchase counts and attributed revenue.
const OrderTotalsFeature = "_order_totals"

var (
	// ErrUnknownFeature is returned for a feature ID missing from the registry.
	ErrUnknownFeature = errors.New("analytics: unknown feature")
	// ErrInvalidEventType is returned for an unsupported event type.
	ErrInvalidEventType = errors.New("analytics: invalid event type")
	// ErrInvalidEvent is returned for events with inconsistent fields.
	ErrInvalidEvent = errors.New("analytics: invalid event")
)

// Feature describes one conversion widget.
type Feature struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	RevenueScope RevenueScope `json:"revenue_scope"`
}

// BuiltinFeatures lists the storefront widgets that report events.
func BuiltinFeatures() []Feature {
	return []Feature{
		{ID: "exit_intent", Name: "Exit-intent popup", RevenueScope: ScopeOrder},
		{ID: "free_shipping_bar", Name: "Free shipping bar", RevenueScope: ScopeOrder},
		{ID: "fbt", Name: "Frequently bought together", RevenueScope: ScopeLineItem},
		{ID: "live_visitors", Name: "Live visitor count", RevenueScope: ScopeOrder},
		{ID: "next_order_coupon", Name: "Next order coupon", RevenueScope: ScopeOrder},
		{ID: "order_bump", Name: "Order bump", RevenueScope: ScopeOrder},
		{ID: "purchase_activity", Name: "Purchase activity count", RevenueScope: ScopeOrder},
		{ID: "smart_recommendations", Name: "Smart recommendations", RevenueScope: ScopeOrder},
		{ID: "stock_scarcity", Name: "Stock scarcity", RevenueScope: ScopeOrder},
	}
}

// Registry is the feature catalogue shared by the tracker, the aggregator
// and the API.
type Registry struct {
	mu       sync.RWMutex
	features map[string]Feature
}

// NewRegistry creates a registry holding features.
func NewRegistry(features ...Feature) (*Registry, error) {
	r := &Registry{features: make(map[string]Feature, len(features))}
	for _, f := range features {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the built-in features.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinFeatures()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds or replaces a feature.
func (r *Registry) Register(f Feature) error {
	if f.ID == "" || f.ID == OrderTotalsFeature {
		return fmt.Errorf("analytics: register feature %q: reserved or empty id", f.ID)
	}
	if f.RevenueScope == "" {
		f.RevenueScope = ScopeOrder
	}
	if !f.RevenueScope.Valid() {
		return fmt.Errorf("analytics: register feature %q: unknown revenue scope %q", f.ID, f.RevenueScope)
	}
	r.mu.Lock()
	r.features[f.ID] = f
	r.mu.Unlock()
	return nil
}

// Lookup returns the feature with the given ID.
func (r *Registry) Lookup(id string) (Feature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.features[id]
	return f, ok
}

// All returns every registered feature sorted by ID.
func (r *Registry) All() []Feature {
	r.mu.RLock()
	out := make([]Feature, 0, len(r.features))
	for _, f := range r.features {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ScopeOf returns the effective revenue scope of an event: its own scope
// when set, otherwise the feature default, otherwise ScopeOrder.
func (r *Registry) ScopeOf(e *Event) RevenueScope {
	if e.RevenueScope.Valid() {
		return e.RevenueScope
	}
	if f, ok := r.Lookup(e.FeatureID); ok {
		return f.RevenueScope
	}
	return ScopeOrder
}
