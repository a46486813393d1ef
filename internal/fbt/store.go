package fbt

import (
	"context"
	"time"
)

// Contribution is what one completed order adds to the counters.
type Contribution struct {
	OrderID  int64
	Source   string
	Products []int64
	Pairs    []Pair
	Dedupe   bool
}

// Progress is the persisted backfill state.
type Progress struct {
	RunID            string
	TotalOrders      int64
	LastOrderID      int64
	AlreadyProcessed int64
	Errors           int64
	IsRunning        bool
	BatchSize        int
	StartedAt        time.Time
	LastRun          time.Time
}

// CounterStore persists the co-purchase counters, the processed-order ledger
// and the backfill progress.
type CounterStore interface {
	// ApplyOrder atomically increments every pair and product counter of the
	// contribution. It returns false when Dedupe is set and the order was
	// already counted.
	ApplyOrder(ctx context.Context, c Contribution) (bool, error)
	ProcessedOrders(ctx context.Context) (int64, error)
	LoadProgress(ctx context.Context) (*Progress, error)
	SaveProgress(ctx context.Context, p *Progress) error
	Reset(ctx context.Context) error
}

// Relation is one co-purchase partner of a product.
type Relation struct {
	ProductID   int64
	Count       int64
	LastUpdated time.Time
}

// PairCount is one stored relationship.
type PairCount struct {
	Pair
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// RelationReader reads co-purchase relations for the recommendation path.
type RelationReader interface {
	Related(ctx context.Context, productID, minCount int64, limit int) ([]Relation, error)
	OrderCount(ctx context.Context, productID int64) (int64, error)
}

// Metrics receives engine counters. *metrics.Collector satisfies it.
type Metrics interface {
	RecordOrder(source, outcome string, pairs int)
	ObserveBatch(d time.Duration, orderErrors int)
}

type noopMetrics struct{}

func (noopMetrics) RecordOrder(string, string, int) {}
func (noopMetrics) ObserveBatch(time.Duration, int) {}
