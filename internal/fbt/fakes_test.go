package fbt

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/allaspectsdev/upsell/internal/orders"
)

// memStore is an in-memory CounterStore and RelationReader.
type memStore struct {
	mu        sync.Mutex
	pairs     map[Pair]int64
	products  map[int64]int64
	ledger    map[int64]bool
	progress  Progress
	applyErr  map[int64]error
	applyCall int
}

func newMemStore() *memStore {
	return &memStore{
		pairs:    make(map[Pair]int64),
		products: make(map[int64]int64),
		ledger:   make(map[int64]bool),
		applyErr: make(map[int64]error),
	}
}

func (m *memStore) ApplyOrder(_ context.Context, c Contribution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCall++
	if err := m.applyErr[c.OrderID]; err != nil {
		return false, err
	}
	if c.Dedupe && m.ledger[c.OrderID] {
		return false, nil
	}
	m.ledger[c.OrderID] = true
	for _, p := range c.Pairs {
		m.pairs[p]++
	}
	for _, id := range c.Products {
		m.products[id]++
	}
	return true, nil
}

func (m *memStore) ProcessedOrders(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.ledger)), nil
}

func (m *memStore) LoadProgress(context.Context) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress
	return &p, nil
}

func (m *memStore) SaveProgress(_ context.Context, p *Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = *p
	return nil
}

func (m *memStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = make(map[Pair]int64)
	m.products = make(map[int64]int64)
	m.ledger = make(map[int64]bool)
	m.progress = Progress{}
	return nil
}

func (m *memStore) Related(_ context.Context, productID, minCount int64, limit int) ([]Relation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Relation
	for p, n := range m.pairs {
		if n < minCount {
			continue
		}
		switch productID {
		case p.A:
			out = append(out, Relation{ProductID: p.B, Count: n})
		case p.B:
			out = append(out, Relation{ProductID: p.A, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) OrderCount(_ context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID], nil
}

func (m *memStore) pair(a, b int64) int64 {
	p, _ := NewPair(a, b)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[p]
}

// memSource is an in-memory orders.Source.
type memSource struct {
	orders   map[int64]*orders.Order
	itemsErr map[int64]error
}

func newMemSource(list ...*orders.Order) *memSource {
	s := &memSource{orders: make(map[int64]*orders.Order), itemsErr: make(map[int64]error)}
	for _, o := range list {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memSource) Name() string { return "memory" }

func (s *memSource) completedIDs(after int64) []int64 {
	var ids []int64
	for id, o := range s.orders {
		if o.IsCompleted() && id > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memSource) CountCompleted(context.Context) (int64, error) {
	return int64(len(s.completedIDs(0))), nil
}

func (s *memSource) CountCompletedAfter(_ context.Context, afterID int64) (int64, error) {
	return int64(len(s.completedIDs(afterID))), nil
}

func (s *memSource) CompletedIDsAfter(_ context.Context, afterID int64, limit int) ([]int64, error) {
	ids := s.completedIDs(afterID)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memSource) LineItems(_ context.Context, orderID int64) ([]orders.LineItem, error) {
	if err := s.itemsErr[orderID]; err != nil {
		return nil, err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o.Items, nil
}

func (s *memSource) Close() error { return nil }

func completedOrder(id int64, products ...int64) *orders.Order {
	o := &orders.Order{ID: id, Status: orders.StatusCompleted, CreatedAt: time.Now()}
	for _, p := range products {
		o.Items = append(o.Items, orders.LineItem{ProductID: p, Quantity: 1})
	}
	return o
}

var errBoom = errors.New("boom")
