package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/orders"
)

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FBTAdapter adapts Store to fbt.CounterStore and fbt.RelationReader.
type FBTAdapter struct {
	store *Store
}

// NewFBTAdapter creates a new FBTAdapter wrapping the given Store.
func NewFBTAdapter(s *Store) *FBTAdapter {
	return &FBTAdapter{store: s}
}

// ApplyOrder converts the contribution and applies it in one transaction.
func (a *FBTAdapter) ApplyOrder(ctx context.Context, c fbt.Contribution) (bool, error) {
	pairs := make([][2]int64, len(c.Pairs))
	for i, p := range c.Pairs {
		pairs[i] = [2]int64{p.A, p.B}
	}
	return a.store.ApplyOrderCounts(ctx, &OrderCounts{
		OrderID:  c.OrderID,
		Source:   c.Source,
		Products: c.Products,
		Pairs:    pairs,
		Dedupe:   c.Dedupe,
	})
}

// ProcessedOrders returns the ledger size.
func (a *FBTAdapter) ProcessedOrders(ctx context.Context) (int64, error) {
	return a.store.ProcessedOrderCount(ctx)
}

// LoadProgress reads the backfill state row.
func (a *FBTAdapter) LoadProgress(ctx context.Context) (*fbt.Progress, error) {
	st, err := a.store.GetBackfillState(ctx)
	if err != nil {
		return nil, err
	}
	return &fbt.Progress{
		RunID:            st.RunID,
		TotalOrders:      st.TotalOrders,
		LastOrderID:      st.LastOrderID,
		AlreadyProcessed: st.AlreadyProcessed,
		Errors:           st.Errors,
		IsRunning:        st.IsRunning,
		BatchSize:        st.BatchSize,
		StartedAt:        parseTime(st.StartedAt),
		LastRun:          parseTime(st.LastRun),
	}, nil
}

// SaveProgress writes the backfill state row.
func (a *FBTAdapter) SaveProgress(ctx context.Context, p *fbt.Progress) error {
	return a.store.SaveBackfillState(ctx, &BackfillState{
		RunID:            p.RunID,
		TotalOrders:      p.TotalOrders,
		LastOrderID:      p.LastOrderID,
		AlreadyProcessed: p.AlreadyProcessed,
		Errors:           p.Errors,
		IsRunning:        p.IsRunning,
		BatchSize:        p.BatchSize,
		StartedAt:        formatTime(p.StartedAt),
		LastRun:          formatTime(p.LastRun),
	})
}

// Reset clears every FBT table.
func (a *FBTAdapter) Reset(ctx context.Context) error {
	return a.store.ResetFBT(ctx)
}

// Related returns the partners of productID.
func (a *FBTAdapter) Related(ctx context.Context, productID, minCount int64, limit int) ([]fbt.Relation, error) {
	rels, err := a.store.ListRelated(ctx, productID, minCount, limit)
	if err != nil {
		return nil, err
	}
	out := make([]fbt.Relation, len(rels))
	for i, r := range rels {
		out[i] = fbt.Relation{
			ProductID:   r.Partner(productID),
			Count:       r.Count,
			LastUpdated: parseTime(r.LastUpdated),
		}
	}
	return out, nil
}

// Relationships pages through every stored pair.
func (a *FBTAdapter) Relationships(ctx context.Context, limit, offset int) ([]fbt.PairCount, error) {
	rels, err := a.store.ListRelationships(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]fbt.PairCount, len(rels))
	for i, r := range rels {
		out[i] = fbt.PairCount{
			Pair:        fbt.Pair{A: r.ProductA, B: r.ProductB},
			Count:       r.Count,
			LastUpdated: parseTime(r.LastUpdated),
		}
	}
	return out, nil
}

// IsProcessed reports whether the order has been counted.
func (a *FBTAdapter) IsProcessed(ctx context.Context, orderID int64) (bool, error) {
	return a.store.IsOrderProcessed(ctx, orderID)
}

// OrderCount returns the product's order count, zero when unknown.
func (a *FBTAdapter) OrderCount(ctx context.Context, productID int64) (int64, error) {
	ps, err := a.store.GetProductStat(ctx, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return ps.OrderCount, nil
}

// AnalyticsAdapter adapts Store to analytics.EventStore.
type AnalyticsAdapter struct {
	store *Store
}

// NewAnalyticsAdapter creates a new AnalyticsAdapter wrapping the given Store.
func NewAnalyticsAdapter(s *Store) *AnalyticsAdapter {
	return &AnalyticsAdapter{store: s}
}

// InsertEvents stores the events and copies back their row IDs.
func (a *AnalyticsAdapter) InsertEvents(ctx context.Context, events []*analytics.Event) error {
	rows := make([]*Event, len(events))
	for i, e := range events {
		meta := "{}"
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("store: encode event metadata: %w", err)
			}
			meta = string(b)
		}
		rows[i] = &Event{
			FeatureID:        e.FeatureID,
			EventType:        string(e.Type),
			ProductID:        e.ProductID,
			RelatedProductID: e.RelatedProductID,
			OrderID:          e.OrderID,
			Quantity:         e.Quantity,
			Revenue:          e.Revenue,
			RevenueScope:     string(e.RevenueScope),
			SessionID:        e.SessionID,
			UserID:           e.UserID,
			Metadata:         meta,
			CreatedAt:        formatTime(e.CreatedAt),
		}
	}
	if err := a.store.InsertEvents(ctx, rows); err != nil {
		return err
	}
	for i, r := range rows {
		events[i].ID = r.ID
	}
	return nil
}

// IncrementDaily merges the stat additively.
func (a *AnalyticsAdapter) IncrementDaily(ctx context.Context, d *analytics.DailyStat) error {
	return a.store.IncrementDaily(ctx, toStoreDaily(d))
}

// ReplaceDaily overwrites the stats.
func (a *AnalyticsAdapter) ReplaceDaily(ctx context.Context, stats []*analytics.DailyStat) error {
	rows := make([]*DailyStat, len(stats))
	for i, d := range stats {
		rows[i] = toStoreDaily(d)
	}
	return a.store.ReplaceDaily(ctx, rows)
}

// GroupEvents summarises events in [from, to).
func (a *AnalyticsAdapter) GroupEvents(ctx context.Context, from, to time.Time) ([]analytics.EventGroup, error) {
	groups, err := a.store.GroupEvents(ctx, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	out := make([]analytics.EventGroup, len(groups))
	for i, g := range groups {
		out[i] = analytics.EventGroup{
			FeatureID:      g.FeatureID,
			Type:           analytics.EventType(g.EventType),
			Events:         g.Events,
			Revenue:        g.Revenue,
			UniqueProducts: g.UniqueProducts,
		}
	}
	return out, nil
}

// PurchaseEvents returns purchase events in [from, to).
func (a *AnalyticsAdapter) PurchaseEvents(ctx context.Context, from, to time.Time) ([]*analytics.Event, error) {
	rows, err := a.store.PurchaseEvents(ctx, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	out := make([]*analytics.Event, len(rows))
	for i, r := range rows {
		e := &analytics.Event{
			ID:               r.ID,
			FeatureID:        r.FeatureID,
			Type:             analytics.EventType(r.EventType),
			ProductID:        r.ProductID,
			RelatedProductID: r.RelatedProductID,
			OrderID:          r.OrderID,
			Quantity:         r.Quantity,
			Revenue:          r.Revenue,
			RevenueScope:     analytics.RevenueScope(r.RevenueScope),
			SessionID:        r.SessionID,
			UserID:           r.UserID,
			CreatedAt:        parseTime(r.CreatedAt),
		}
		if r.Metadata != "" && r.Metadata != "{}" {
			_ = json.Unmarshal([]byte(r.Metadata), &e.Metadata)
		}
		out[i] = e
	}
	return out, nil
}

// DailyStats lists daily rows.
func (a *AnalyticsAdapter) DailyStats(ctx context.Context, featureID, fromDate, toDate string) ([]*analytics.DailyStat, error) {
	rows, err := a.store.ListDaily(ctx, featureID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	out := make([]*analytics.DailyStat, len(rows))
	for i, r := range rows {
		out[i] = &analytics.DailyStat{
			FeatureID:      r.FeatureID,
			Date:           r.StatDate,
			Impressions:    r.Impressions,
			Clicks:         r.Clicks,
			AddToCarts:     r.AddToCarts,
			Purchases:      r.Purchases,
			Revenue:        r.Revenue,
			UniqueProducts: r.UniqueProducts,
			AggregatedAt:   parseTime(r.AggregatedAt),
		}
	}
	return out, nil
}

// DeleteEventsBefore deletes one batch of expired events.
func (a *AnalyticsAdapter) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	return a.store.DeleteEventsBefore(ctx, formatTime(cutoff), limit)
}

func toStoreDaily(d *analytics.DailyStat) *DailyStat {
	return &DailyStat{
		FeatureID:      d.FeatureID,
		StatDate:       d.Date,
		Impressions:    d.Impressions,
		Clicks:         d.Clicks,
		AddToCarts:     d.AddToCarts,
		Purchases:      d.Purchases,
		Revenue:        d.Revenue,
		UniqueProducts: d.UniqueProducts,
		AggregatedAt:   formatTime(d.AggregatedAt),
	}
}

// OrderSource serves the locally ingested orders as an orders.Source.
type OrderSource struct {
	store    *Store
	statuses []string
}

// NewOrderSource creates an OrderSource. statuses are the order statuses
// treated as completed; an empty list means orders.StatusCompleted.
func NewOrderSource(s *Store, statuses []string) *OrderSource {
	if len(statuses) == 0 {
		statuses = []string{orders.StatusCompleted}
	}
	return &OrderSource{store: s, statuses: statuses}
}

// Name identifies the source.
func (o *OrderSource) Name() string { return "local" }

// CountCompleted counts completed orders.
func (o *OrderSource) CountCompleted(ctx context.Context) (int64, error) {
	return o.store.CountOrders(ctx, o.statuses, 0)
}

// CountCompletedAfter counts completed orders after afterID.
func (o *OrderSource) CountCompletedAfter(ctx context.Context, afterID int64) (int64, error) {
	return o.store.CountOrders(ctx, o.statuses, afterID)
}

// CompletedIDsAfter lists completed order IDs after afterID.
func (o *OrderSource) CompletedIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	return o.store.OrderIDs(ctx, o.statuses, afterID, limit)
}

// LineItems returns an order's line items.
func (o *OrderSource) LineItems(ctx context.Context, orderID int64) ([]orders.LineItem, error) {
	items, err := o.store.OrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]orders.LineItem, len(items))
	for i, it := range items {
		out[i] = orders.LineItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
			Total:       it.Total,
		}
	}
	return out, nil
}

// Close is a no-op; the Store is closed by its owner.
func (o *OrderSource) Close() error { return nil }

// SaveOrder persists an order received from the storefront.
func (o *OrderSource) SaveOrder(ctx context.Context, ord *orders.Order) error {
	row := &Order{
		ID:          ord.ID,
		Status:      ord.Status,
		Total:       ord.Total,
		CreatedAt:   formatTime(ord.CreatedAt),
		CompletedAt: formatTime(ord.CompletedAt),
	}
	for _, it := range ord.Items {
		row.Items = append(row.Items, &OrderItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
			Total:       it.Total,
		})
	}
	return o.store.UpsertOrder(ctx, row)
}

// GetOrder loads a locally stored order.
func (o *OrderSource) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	row, err := o.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, orders.ErrNotFound
		}
		return nil, err
	}
	ord := &orders.Order{
		ID:          row.ID,
		Status:      row.Status,
		Total:       row.Total,
		CreatedAt:   parseTime(row.CreatedAt),
		CompletedAt: parseTime(row.CompletedAt),
	}
	for _, it := range row.Items {
		ord.Items = append(ord.Items, orders.LineItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
			Total:       it.Total,
		})
	}
	return ord, nil
}
