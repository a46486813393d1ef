package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records engine metrics twice: as Prometheus series in its own
// registry, and as atomic totals for the status command and health endpoint.
// All methods are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	ordersRecorded  *prometheus.CounterVec
	pairIncrements  prometheus.Counter
	batches         prometheus.Counter
	batchDuration   prometheus.Histogram
	batchErrors     prometheus.Counter
	eventsTracked   *prometheus.CounterVec
	aggregationRuns *prometheus.CounterVec
	eventsPruned    prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec

	orders            atomic.Int64
	duplicateOrders   atomic.Int64
	failedOrders      atomic.Int64
	pairs             atomic.Int64
	backfillBatches   atomic.Int64
	backfillErrors    atomic.Int64
	events            atomic.Int64
	aggregations      atomic.Int64
	aggregationErrors atomic.Int64
	pruned            atomic.Int64
	requests          atomic.Int64

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's totals.
type Stats struct {
	Uptime            string `json:"uptime"`
	OrdersRecorded    int64  `json:"orders_recorded"`
	DuplicateOrders   int64  `json:"duplicate_orders"`
	FailedOrders      int64  `json:"failed_orders"`
	PairIncrements    int64  `json:"pair_increments"`
	BackfillBatches   int64  `json:"backfill_batches"`
	BackfillErrors    int64  `json:"backfill_errors"`
	EventsTracked     int64  `json:"events_tracked"`
	Aggregations      int64  `json:"aggregations"`
	AggregationErrors int64  `json:"aggregation_errors"`
	EventsPruned      int64  `json:"events_pruned"`
	HTTPRequests      int64  `json:"http_requests"`
}

// NewCollector creates a Collector with a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		ordersRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "orders_recorded_total",
			Help:      "Completed orders applied to the co-purchase counters, by source and outcome.",
		}, []string{"source", "outcome"}),
		pairIncrements: f.NewCounter(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "pair_increments_total",
			Help:      "Product pair counter increments.",
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "backfill_batches_total",
			Help:      "Backfill batches processed.",
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "upsell",
			Name:      "backfill_batch_duration_seconds",
			Help:      "Backfill batch duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		batchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "backfill_order_errors_total",
			Help:      "Orders skipped by the backfill because of an error.",
		}),
		eventsTracked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "analytics_events_total",
			Help:      "Analytics events stored, by feature and event type.",
		}, []string{"feature", "event_type"}),
		aggregationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "aggregation_runs_total",
			Help:      "Daily aggregation runs, by outcome.",
		}, []string{"outcome"}),
		eventsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "events_pruned_total",
			Help:      "Raw analytics events removed by retention cleanup.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upsell",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		}, []string{"route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "upsell",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds, by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		startTime: time.Now(),
	}
}

// Registry returns the Prometheus registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordOrder counts one order passing through the co-purchase recorder.
func (c *Collector) RecordOrder(source, outcome string, pairs int) {
	if c == nil {
		return
	}
	c.ordersRecorded.WithLabelValues(source, outcome).Inc()
	switch outcome {
	case "recorded":
		c.orders.Add(1)
	case "duplicate":
		c.duplicateOrders.Add(1)
	case "failed":
		c.failedOrders.Add(1)
	}
	if pairs > 0 {
		c.pairIncrements.Add(float64(pairs))
		c.pairs.Add(int64(pairs))
	}
}

// ObserveBatch records one backfill batch.
func (c *Collector) ObserveBatch(d time.Duration, orderErrors int) {
	if c == nil {
		return
	}
	c.batches.Inc()
	c.batchDuration.Observe(d.Seconds())
	c.backfillBatches.Add(1)
	if orderErrors > 0 {
		c.batchErrors.Add(float64(orderErrors))
		c.backfillErrors.Add(int64(orderErrors))
	}
}

// RecordEvent counts one stored analytics event.
func (c *Collector) RecordEvent(feature, eventType string) {
	if c == nil {
		return
	}
	c.eventsTracked.WithLabelValues(feature, eventType).Inc()
	c.events.Add(1)
}

// RecordAggregation counts one aggregated day; outcome is "ok" or "error".
func (c *Collector) RecordAggregation(outcome string) {
	if c == nil {
		return
	}
	c.aggregationRuns.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		c.aggregations.Add(1)
	} else {
		c.aggregationErrors.Add(1)
	}
}

// RecordPruned counts events removed by the cleaner.
func (c *Collector) RecordPruned(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.eventsPruned.Add(float64(n))
	c.pruned.Add(n)
}

// RecordHTTP records one served request.
func (c *Collector) RecordHTTP(route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
	c.requests.Add(1)
}

// Stats returns a point-in-time snapshot of all totals.
func (c *Collector) Stats() *Stats {
	if c == nil {
		return &Stats{}
	}
	return &Stats{
		Uptime:            formatDuration(time.Since(c.startTime)),
		OrdersRecorded:    c.orders.Load(),
		DuplicateOrders:   c.duplicateOrders.Load(),
		FailedOrders:      c.failedOrders.Load(),
		PairIncrements:    c.pairs.Load(),
		BackfillBatches:   c.backfillBatches.Load(),
		BackfillErrors:    c.backfillErrors.Load(),
		EventsTracked:     c.events.Load(),
		Aggregations:      c.aggregations.Load(),
		AggregationErrors: c.aggregationErrors.Load(),
		EventsPruned:      c.pruned.Load(),
		HTTPRequests:      c.requests.Load(),
	}
}

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var s string
	for _, part := range []struct {
		v    int
		unit string
	}{{days, "d"}, {hours, "h"}, {minutes, "m"}} {
		if part.v == 0 {
			continue
		}
		if s != "" {
			s += " "
		}
		s += strconv.Itoa(part.v) + part.unit
	}
	if s == "" {
		return "0m"
	}
	return s
}
