package analytics

import (
	"context"
	"time"
)

// DailyStat is the per-feature rollup for one calendar day.
type DailyStat struct {
	FeatureID      string    `json:"feature_id"`
	Date           string    `json:"stat_date"`
	Impressions    int64     `json:"impressions"`
	Clicks         int64     `json:"clicks"`
	AddToCarts     int64     `json:"add_to_carts"`
	Purchases      int64     `json:"purchases"`
	Revenue        float64   `json:"revenue"`
	UniqueProducts int64     `json:"unique_products"`
	AggregatedAt   time.Time `json:"aggregated_at"`
}

// EventGroup summarises raw events of one feature and type in a window.
type EventGroup struct {
	FeatureID      string
	Type           EventType
	Events         int64
	Revenue        float64
	UniqueProducts int64
}

// EventStore persists raw events and daily rows.
type EventStore interface {
	InsertEvents(ctx context.Context, events []*Event) error
	// IncrementDaily adds the counters of d to the existing row.
	IncrementDaily(ctx context.Context, d *DailyStat) error
	// ReplaceDaily overwrites the rows in one transaction.
	ReplaceDaily(ctx context.Context, stats []*DailyStat) error
	GroupEvents(ctx context.Context, from, to time.Time) ([]EventGroup, error)
	PurchaseEvents(ctx context.Context, from, to time.Time) ([]*Event, error)
	// DailyStats lists rows with a date in [fromDate, toDate]; an empty
	// featureID selects every feature.
	DailyStats(ctx context.Context, featureID, fromDate, toDate string) ([]*DailyStat, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Metrics receives analytics counters. *metrics.Collector satisfies it.
type Metrics interface {
	RecordEvent(feature, eventType string)
	RecordAggregation(outcome string)
	RecordPruned(n int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordEvent(string, string) {}
func (noopMetrics) RecordAggregation(string) {}
func (noopMetrics) RecordPruned(int64) {}
