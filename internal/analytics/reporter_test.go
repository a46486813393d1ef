package analytics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReporter_Dashboard(t *testing.T) {
	ctx := context.Background()
	st := newMemEventStore()
	seedDay(t, st, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	reg := DefaultRegistry()

	agg := NewAggregator(st, reg, time.UTC, nil)
	if _, err := agg.AggregateRange(ctx, "2024-03-01", "2024-03-02"); err != nil {
		t.Fatalf("AggregateRange: %v", err)
	}

	dash, err := NewReporter(st, reg).Dashboard(ctx, "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.Orders != 3 {
		t.Errorf("Orders: got %d, want 3", dash.Orders)
	}
	if dash.Revenue != 134 {
		t.Errorf("Revenue: got %v, want 134", dash.Revenue)
	}
	if len(dash.Features) != 2 {
		t.Fatalf("Features: got %d, want 2", len(dash.Features))
	}
	fbt := dash.Features[0]
	if fbt.FeatureID != "fbt" || fbt.Name == "" {
		t.Errorf("first feature: got %+v", fbt)
	}
	if fbt.ClickRate != float64(1)/3 {
		t.Errorf("ClickRate: got %v, want 1/3", fbt.ClickRate)
	}
}

func TestReporter_Feature(t *testing.T) {
	ctx := context.Background()
	st := newMemEventStore()
	seedDay(t, st, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	reg := DefaultRegistry()
	NewAggregator(st, reg, time.UTC, nil).AggregateRange(ctx, "2024-03-01", "2024-03-02")

	rep, err := NewReporter(st, reg).Feature(ctx, "fbt", "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("Feature: %v", err)
	}
	if len(rep.Daily) != 2 {
		t.Errorf("Daily: got %d rows, want 2", len(rep.Daily))
	}
	if rep.Summary.Purchases != 4 {
		t.Errorf("Purchases: got %d, want 4", rep.Summary.Purchases)
	}

	if _, err := NewReporter(st, reg).Feature(ctx, "nope", "2024-03-01", "2024-03-02"); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("unknown feature: got %v, want ErrUnknownFeature", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	if len(reg.All()) != len(BuiltinFeatures()) {
		t.Errorf("All: got %d, want %d", len(reg.All()), len(BuiltinFeatures()))
	}
	if err := reg.Register(Feature{ID: OrderTotalsFeature}); err == nil {
		t.Error("expected error registering the reserved feature")
	}
	if err := reg.Register(Feature{ID: "bundle", RevenueScope: "weird"}); err == nil {
		t.Error("expected error for unknown revenue scope")
	}
	if err := reg.Register(Feature{ID: "bundle"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if f, _ := reg.Lookup("bundle"); f.RevenueScope != ScopeOrder {
		t.Errorf("default scope: got %q, want %q", f.RevenueScope, ScopeOrder)
	}
}

func TestBuiltinFeatures_OnlyFBTIsLineScoped(t *testing.T) {
	for _, f := range BuiltinFeatures() {
		want := ScopeOrder
		if f.ID == "fbt" {
			want = ScopeLineItem
		}
		if f.RevenueScope != want {
			t.Errorf("%s scope: got %q, want %q", f.ID, f.RevenueScope, want)
		}
	}
}
