package analytics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTrack_Validation(t *testing.T) {
	tr := NewTracker(newMemEventStore(), DefaultRegistry(), time.UTC, false, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		event *Event
		want  error
	}{
		{"unknown feature", &Event{FeatureID: "popup_v2", Type: EventClick}, ErrUnknownFeature},
		{"reserved feature", &Event{FeatureID: OrderTotalsFeature, Type: EventPurchase}, ErrUnknownFeature},
		{"bad type", &Event{FeatureID: "fbt", Type: "hover"}, ErrInvalidEventType},
		{"negative revenue", &Event{FeatureID: "fbt", Type: EventPurchase, Revenue: -1}, ErrInvalidEvent},
		{"bad scope", &Event{FeatureID: "fbt", Type: EventPurchase, RevenueScope: "shared"}, ErrInvalidEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tr.Track(ctx, tt.event); !errors.Is(err, tt.want) {
				t.Errorf("Track: got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTrack_RejectsWholeBatch(t *testing.T) {
	st := newMemEventStore()
	tr := NewTracker(st, DefaultRegistry(), time.UTC, false, nil)

	err := tr.Track(context.Background(),
		&Event{FeatureID: "fbt", Type: EventClick},
		&Event{FeatureID: "nope", Type: EventClick},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(st.events) != 0 {
		t.Errorf("stored events: got %d, want 0", len(st.events))
	}
}

func TestTrack_SessionFromContext(t *testing.T) {
	st := newMemEventStore()
	tr := NewTracker(st, DefaultRegistry(), time.UTC, false, nil)
	ctx := WithSession(context.Background(), Session{ID: "sess-1", UserID: 7})

	explicit := &Event{FeatureID: "fbt", Type: EventClick, SessionID: "other"}
	implicit := &Event{FeatureID: "fbt", Type: EventClick}
	if err := tr.Track(ctx, explicit, implicit); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if st.events[0].SessionID != "other" {
		t.Errorf("explicit SessionID: got %q, want %q", st.events[0].SessionID, "other")
	}
	if st.events[1].SessionID != "sess-1" || st.events[1].UserID != 7 {
		t.Errorf("implicit session: got %q/%d, want sess-1/7", st.events[1].SessionID, st.events[1].UserID)
	}
}

func TestTrack_DefaultsScopeFromRegistry(t *testing.T) {
	st := newMemEventStore()
	tr := NewTracker(st, DefaultRegistry(), time.UTC, false, nil)

	tr.Track(context.Background(),
		&Event{FeatureID: "fbt", Type: EventPurchase, OrderID: 1, Revenue: 5},
		&Event{FeatureID: "next_order_coupon", Type: EventPurchase, OrderID: 1, Revenue: 5},
	)
	if st.events[0].RevenueScope != ScopeLineItem {
		t.Errorf("fbt scope: got %q, want %q", st.events[0].RevenueScope, ScopeLineItem)
	}
	if st.events[1].RevenueScope != ScopeOrder {
		t.Errorf("coupon scope: got %q, want %q", st.events[1].RevenueScope, ScopeOrder)
	}
}

func TestTrack_LiveIncrements(t *testing.T) {
	st := newMemEventStore()
	tr := NewTracker(st, DefaultRegistry(), time.UTC, true, nil)
	tr.now = fixedNow(testDay)

	err := tr.Track(context.Background(),
		&Event{FeatureID: "fbt", Type: EventImpression, ProductID: 1},
		&Event{FeatureID: "fbt", Type: EventClick, ProductID: 1},
		&Event{FeatureID: "fbt", Type: EventPurchase, ProductID: 1, OrderID: 9, Revenue: 12.5},
		&Event{FeatureID: "order_bump", Type: EventImpression},
	)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	fbt := st.row("fbt", "2024-03-01")
	if fbt == nil || fbt.Impressions != 1 || fbt.Clicks != 1 || fbt.Purchases != 1 || fbt.Revenue != 12.5 {
		t.Errorf("fbt row: got %+v", fbt)
	}
	if bump := st.row("order_bump", "2024-03-01"); bump == nil || bump.Impressions != 1 {
		t.Errorf("order_bump row: got %+v", bump)
	}
}

func TestTrack_NoLiveIncrementsWhenDisabled(t *testing.T) {
	st := newMemEventStore()
	tr := NewTracker(st, DefaultRegistry(), time.UTC, false, nil)
	tr.Track(context.Background(), &Event{FeatureID: "fbt", Type: EventImpression})
	if len(st.daily) != 0 {
		t.Errorf("daily rows: got %d, want 0", len(st.daily))
	}
}
