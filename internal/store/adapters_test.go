package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/orders"
)

// openTestStore creates a temporary SQLite-backed Store for testing.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(%s): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedOrders stores the reference history: orders 1{5,7}, 2{5,7,9}, 3{} and
// 5{7,9} completed, order 4 still processing.
func seedOrders(t *testing.T, src *OrderSource) {
	t.Helper()
	item := func(id int64) orders.LineItem { return orders.LineItem{ProductID: id, Quantity: 1, Total: 10} }
	fixture := []*orders.Order{
		{ID: 1, Status: orders.StatusCompleted, Items: []orders.LineItem{item(5), item(7)}},
		{ID: 2, Status: orders.StatusCompleted, Items: []orders.LineItem{item(5), item(7), item(9)}},
		{ID: 3, Status: orders.StatusCompleted},
		{ID: 4, Status: "processing", Items: []orders.LineItem{item(5), item(9)}},
		{ID: 5, Status: orders.StatusCompleted, Items: []orders.LineItem{item(7), item(9)}},
	}
	for _, o := range fixture {
		if err := src.SaveOrder(context.Background(), o); err != nil {
			t.Fatalf("SaveOrder(%d): %v", o.ID, err)
		}
	}
}

// ---------------------------------------------------------------------------
// OrderSource
// ---------------------------------------------------------------------------

func TestOrderSource_SaveAndGet(t *testing.T) {
	s := openTestStore(t)
	src := NewOrderSource(s, nil)
	ctx := context.Background()

	completed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &orders.Order{
		ID:          42,
		Status:      orders.StatusCompleted,
		Total:       30,
		CompletedAt: completed,
		Items: []orders.LineItem{
			{ProductID: 5, Quantity: 1, Total: 10},
			{ProductID: 7, VariationID: 70, Quantity: 2, Total: 20},
		},
	}
	if err := src.SaveOrder(ctx, in); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := src.GetOrder(ctx, 42)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !got.IsCompleted() || got.Total != 30 {
		t.Errorf("order: got %+v", got)
	}
	if !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt: got %v, want %v", got.CompletedAt, completed)
	}
	if len(got.Items) != 2 || got.Items[1].VariationID != 70 {
		t.Errorf("Items: got %+v", got.Items)
	}

	if _, err := src.GetOrder(ctx, 99); !errors.Is(err, orders.ErrNotFound) {
		t.Errorf("GetOrder missing: got %v, want orders.ErrNotFound", err)
	}
}

func TestOrderSource_Scan(t *testing.T) {
	s := openTestStore(t)
	src := NewOrderSource(s, nil)
	seedOrders(t, src)
	ctx := context.Background()

	if src.Name() != "local" {
		t.Errorf("Name: got %q, want local", src.Name())
	}
	n, err := src.CountCompleted(ctx)
	if err != nil {
		t.Fatalf("CountCompleted: %v", err)
	}
	if n != 4 {
		t.Errorf("CountCompleted: got %d, want 4", n)
	}
	n, _ = src.CountCompletedAfter(ctx, 2)
	if n != 2 {
		t.Errorf("CountCompletedAfter(2): got %d, want 2", n)
	}
	ids, err := src.CompletedIDsAfter(ctx, 1, 2)
	if err != nil {
		t.Fatalf("CompletedIDsAfter: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Errorf("CompletedIDsAfter(1, 2): got %v, want [2 3]", ids)
	}
	items, _ := src.LineItems(ctx, 2)
	if len(items) != 3 {
		t.Errorf("LineItems(2): got %d, want 3", len(items))
	}

	custom := NewOrderSource(s, []string{orders.StatusCompleted, "processing"})
	n, _ = custom.CountCompleted(ctx)
	if n != 5 {
		t.Errorf("custom statuses: got %d, want 5", n)
	}
}

// ---------------------------------------------------------------------------
// FBTAdapter
// ---------------------------------------------------------------------------

func TestFBTAdapter_BackfillEndToEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := NewOrderSource(s, nil)
	seedOrders(t, src)

	fa := NewFBTAdapter(s)
	rec := fbt.NewRecorder(fa, fbt.RecorderOptions{Dedupe: true})
	bf := fbt.NewBackfiller(src, fa, rec, 0, nil)

	start, err := bf.Start(ctx, 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if start.Total != 4 || start.AlreadyProcessed != 0 || start.BatchesCount != 2 {
		t.Errorf("Start: got %+v", start)
	}

	res, err := bf.ProcessBatch(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ProcessBatch 1: %v", err)
	}
	if res.Processed != 2 || res.LastOrderID != 2 || res.Remaining != 2 || res.Completed {
		t.Errorf("batch 1: got %+v", res)
	}

	res, err = bf.ProcessBatch(ctx, 2, res.LastOrderID)
	if err != nil {
		t.Fatalf("ProcessBatch 2: %v", err)
	}
	if res.Processed != 2 || res.LastOrderID != 5 || res.Remaining != 0 || !res.Completed {
		t.Errorf("batch 2: got %+v", res)
	}

	rel, err := s.GetRelationship(ctx, 7, 9)
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.Count != 2 {
		t.Errorf("pair (7,9): got %d, want 2", rel.Count)
	}

	st, err := bf.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	// Order 3 has no products and is never ledgered.
	if st.AlreadyProcessed != 3 || st.Unprocessed != 1 || st.IsRunning || st.LastRun == nil {
		t.Errorf("Status: got %+v", st)
	}

	// A second full run over the same history must not change any counter.
	if _, err := bf.Run(ctx, 10, false, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rel, _ = s.GetRelationship(ctx, 5, 7)
	if rel.Count != 2 {
		t.Errorf("pair (5,7) after rerun: got %d, want 2", rel.Count)
	}

	page, err := fa.Relationships(ctx, 2, 1)
	if err != nil {
		t.Fatalf("Relationships: %v", err)
	}
	if len(page) != 2 || page[0].Pair != (fbt.Pair{A: 5, B: 9}) || page[1].Pair != (fbt.Pair{A: 7, B: 9}) || page[1].Count != 2 {
		t.Errorf("Relationships(2, 1): got %+v", page)
	}
	if page[0].LastUpdated.IsZero() {
		t.Error("LastUpdated not parsed")
	}

	for id, want := range map[int64]bool{2: true, 3: false, 4: false} {
		got, err := fa.IsProcessed(ctx, id)
		if err != nil {
			t.Fatalf("IsProcessed(%d): %v", id, err)
		}
		if got != want {
			t.Errorf("IsProcessed(%d): got %v, want %v", id, got, want)
		}
	}
}

func TestFBTAdapter_ProgressRoundTrip(t *testing.T) {
	s := openTestStore(t)
	fa := NewFBTAdapter(s)
	ctx := context.Background()

	p, err := fa.LoadProgress(ctx)
	if err != nil {
		t.Fatalf("LoadProgress: %v", err)
	}
	if p.RunID != "" || !p.StartedAt.IsZero() {
		t.Errorf("empty progress: got %+v", p)
	}

	want := &fbt.Progress{
		RunID:       "run-7",
		TotalOrders: 10,
		LastOrderID: 4,
		Errors:      1,
		IsRunning:   true,
		BatchSize:   5,
		StartedAt:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := fa.SaveProgress(ctx, want); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	got, _ := fa.LoadProgress(ctx)
	if got.RunID != want.RunID || got.LastOrderID != 4 || !got.IsRunning || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("progress: got %+v, want %+v", got, want)
	}
	if !got.LastRun.IsZero() {
		t.Errorf("LastRun: got %v, want zero", got.LastRun)
	}
}

func TestFBTAdapter_RecommenderAndReset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fa := NewFBTAdapter(s)
	rec := fbt.NewRecorder(fa, fbt.RecorderOptions{Dedupe: true})

	item := func(id int64) orders.LineItem { return orders.LineItem{ProductID: id} }
	rec.Record(ctx, 1, "local", []orders.LineItem{item(5), item(7)})
	rec.Record(ctx, 2, "local", []orders.LineItem{item(5), item(7), item(9)})

	r := fbt.NewRecommender(fa, fbt.RecommenderOptions{})
	related, err := r.Related(ctx, 5, 0)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(related) != 2 {
		t.Fatalf("Related: got %d, want 2", len(related))
	}
	if related[0].ProductID != 7 || related[0].Confidence != 1 {
		t.Errorf("top suggestion: got %+v, want product 7 with confidence 1", related[0])
	}
	if related[1].ProductID != 9 || related[1].Confidence != 0.5 {
		t.Errorf("second suggestion: got %+v, want product 9 with confidence 0.5", related[1])
	}
	if related[0].LastUpdated.IsZero() {
		t.Error("LastUpdated not parsed")
	}

	if n, _ := fa.OrderCount(ctx, 404); n != 0 {
		t.Errorf("OrderCount unknown product: got %d, want 0", n)
	}

	if err := fa.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	related, _ = r.Related(ctx, 5, 0)
	if len(related) != 0 {
		t.Errorf("Related after reset: got %d, want 0", len(related))
	}
	if n, _ := fa.ProcessedOrders(ctx); n != 0 {
		t.Errorf("ProcessedOrders after reset: got %d, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// AnalyticsAdapter
// ---------------------------------------------------------------------------

func TestAnalyticsAdapter_TrackAndAggregate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ea := NewAnalyticsAdapter(s)
	reg := analytics.DefaultRegistry()

	at := func(h int) time.Time { return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC) }
	events := []*analytics.Event{
		{FeatureID: "fbt", Type: analytics.EventImpression, ProductID: 10, CreatedAt: at(1)},
		{FeatureID: "fbt", Type: analytics.EventClick, ProductID: 10, CreatedAt: at(2),
			Metadata: map[string]any{"position": float64(2)}},
		{FeatureID: "fbt", Type: analytics.EventPurchase, ProductID: 10, OrderID: 100, Revenue: 10, CreatedAt: at(3)},
		{FeatureID: "fbt", Type: analytics.EventPurchase, ProductID: 11, OrderID: 100, Revenue: 15, CreatedAt: at(3)},
		{FeatureID: "next_order_coupon", Type: analytics.EventPurchase, OrderID: 101, Revenue: 10, CreatedAt: at(4)},
		{FeatureID: "fbt", Type: analytics.EventPurchase, ProductID: 10, OrderID: 101, Revenue: 10, CreatedAt: at(4)},
	}
	tr := analytics.NewTracker(ea, reg, time.UTC, false, nil)
	if err := tr.Track(ctx, events...); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if events[0].ID == 0 {
		t.Error("event ID not copied back")
	}

	purchases, err := ea.PurchaseEvents(ctx, at(0), at(23))
	if err != nil {
		t.Fatalf("PurchaseEvents: %v", err)
	}
	if len(purchases) != 4 {
		t.Fatalf("PurchaseEvents: got %d, want 4", len(purchases))
	}
	if purchases[0].RevenueScope != analytics.ScopeLineItem {
		t.Errorf("stored scope: got %q, want %q", purchases[0].RevenueScope, analytics.ScopeLineItem)
	}

	agg := analytics.NewAggregator(ea, reg, time.UTC, nil)
	res, err := agg.AggregateDate(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("AggregateDate: %v", err)
	}
	if res.Orders != 2 || res.Revenue != 35 {
		t.Errorf("DayResult: got %+v, want 2 orders / 35", res)
	}

	rows, err := ea.DailyStats(ctx, "fbt", "2024-03-01", "2024-03-01")
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if len(rows) != 1 || rows[0].Impressions != 1 || rows[0].Clicks != 1 || rows[0].Purchases != 3 || rows[0].Revenue != 35 {
		t.Errorf("fbt daily: got %+v", rows)
	}
	if rows[0].AggregatedAt.IsZero() {
		t.Error("AggregatedAt not parsed")
	}

	totals, _ := ea.DailyStats(ctx, analytics.OrderTotalsFeature, "2024-03-01", "2024-03-01")
	if len(totals) != 1 || totals[0].Purchases != 2 || totals[0].Revenue != 35 {
		t.Errorf("order totals: got %+v", totals)
	}

	// Re-aggregation is idempotent.
	agg.AggregateDate(ctx, "2024-03-01")
	rows, _ = ea.DailyStats(ctx, "fbt", "2024-03-01", "2024-03-01")
	if rows[0].Purchases != 3 {
		t.Errorf("purchases after re-aggregation: got %d, want 3", rows[0].Purchases)
	}
}

func TestAnalyticsAdapter_LiveIncrements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ea := NewAnalyticsAdapter(s)

	tr := analytics.NewTracker(ea, analytics.DefaultRegistry(), time.UTC, true, nil)
	for i := 0; i < 3; i++ {
		if err := tr.Track(ctx, &analytics.Event{FeatureID: "order_bump", Type: analytics.EventImpression}); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	today := time.Now().UTC().Format(analytics.DateLayout)
	rows, err := ea.DailyStats(ctx, "order_bump", today, today)
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if len(rows) != 1 || rows[0].Impressions != 3 {
		t.Errorf("live row: got %+v", rows)
	}
}

func TestAnalyticsAdapter_Cleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ea := NewAnalyticsAdapter(s)

	old := time.Now().UTC().AddDate(0, 0, -60)
	var events []*analytics.Event
	for i := 0; i < 1500; i++ {
		events = append(events, &analytics.Event{FeatureID: "fbt", Type: analytics.EventImpression, CreatedAt: old})
	}
	events = append(events, &analytics.Event{FeatureID: "fbt", Type: analytics.EventImpression, CreatedAt: time.Now().UTC()})
	if err := ea.InsertEvents(ctx, events); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	res, err := analytics.NewCleaner(ea, 30, 1000, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Cleaner.Run: %v", err)
	}
	if res.Deleted != 1500 {
		t.Errorf("Deleted: got %d, want 1500", res.Deleted)
	}
	left, _ := s.CountEvents(ctx)
	if left != 1 {
		t.Errorf("remaining events: got %d, want 1", left)
	}
}
