package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

type dailyKey struct{ feature, date string }

// memEventStore is an in-memory EventStore.
type memEventStore struct {
	mu     sync.Mutex
	events []*Event
	daily  map[dailyKey]*DailyStat
	nextID int64
}

func newMemEventStore() *memEventStore {
	return &memEventStore{daily: make(map[dailyKey]*DailyStat)}
}

func (m *memEventStore) InsertEvents(_ context.Context, events []*Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.nextID++
		e.ID = m.nextID
		cp := *e
		m.events = append(m.events, &cp)
	}
	return nil
}

func (m *memEventStore) IncrementDaily(_ context.Context, d *DailyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := dailyKey{d.FeatureID, d.Date}
	cur := m.daily[k]
	if cur == nil {
		cp := *d
		m.daily[k] = &cp
		return nil
	}
	cur.Impressions += d.Impressions
	cur.Clicks += d.Clicks
	cur.AddToCarts += d.AddToCarts
	cur.Purchases += d.Purchases
	cur.Revenue += d.Revenue
	cur.UniqueProducts = max(cur.UniqueProducts, d.UniqueProducts)
	return nil
}

func (m *memEventStore) ReplaceDaily(_ context.Context, stats []*DailyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range stats {
		cp := *d
		m.daily[dailyKey{d.FeatureID, d.Date}] = &cp
	}
	return nil
}

func (m *memEventStore) inWindow(e *Event, from, to time.Time) bool {
	return !e.CreatedAt.Before(from) && e.CreatedAt.Before(to)
}

func (m *memEventStore) GroupEvents(_ context.Context, from, to time.Time) ([]EventGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct {
		feature string
		typ     EventType
	}
	groups := make(map[key]*EventGroup)
	products := make(map[key]map[int64]struct{})
	for _, e := range m.events {
		if !m.inWindow(e, from, to) {
			continue
		}
		k := key{e.FeatureID, e.Type}
		g := groups[k]
		if g == nil {
			g = &EventGroup{FeatureID: e.FeatureID, Type: e.Type}
			groups[k] = g
			products[k] = make(map[int64]struct{})
		}
		g.Events++
		g.Revenue += e.Revenue
		if e.ProductID > 0 {
			products[k][e.ProductID] = struct{}{}
		}
	}
	out := make([]EventGroup, 0, len(groups))
	for k, g := range groups {
		g.UniqueProducts = int64(len(products[k]))
		out = append(out, *g)
	}
	return out, nil
}

func (m *memEventStore) PurchaseEvents(_ context.Context, from, to time.Time) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.Type == EventPurchase && e.OrderID > 0 && m.inWindow(e, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEventStore) DailyStats(_ context.Context, featureID, fromDate, toDate string) ([]*DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DailyStat
	for k, d := range m.daily {
		if k.date < fromDate || k.date > toDate {
			continue
		}
		if featureID != "" && k.feature != featureID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].FeatureID < out[j].FeatureID
	})
	return out, nil
}

func (m *memEventStore) DeleteEventsBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		kept    []*Event
		deleted int64
	)
	for _, e := range m.events {
		if e.CreatedAt.Before(cutoff) && deleted < int64(limit) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}

func (m *memEventStore) row(feature, date string) *DailyStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily[dailyKey{feature, date}]
}

var testDay = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }
