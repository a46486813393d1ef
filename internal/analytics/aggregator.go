package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/tracing"
)

// DateLayout is the stat_date format.
const DateLayout = "2006-01-02"

// MaxRangeDays bounds a single re-aggregation request.
const MaxRangeDays = 366

// ErrInvalidRange is returned for malformed or reversed date ranges.
var ErrInvalidRange = errors.New("analytics: invalid date range")

// DayResult summarises one aggregated day.
type DayResult struct {
	Date     string  `json:"date"`
	Features int     `json:"features"`
	Orders   int64   `json:"orders"`
	Revenue  float64 `json:"revenue"`
}

// Aggregator rolls raw events up into daily rows.
type Aggregator struct {
	store    EventStore
	registry *Registry
	loc      *time.Location
	metrics  Metrics
	now      func() time.Time
}

// NewAggregator creates an Aggregator. Days are cut in loc.
func NewAggregator(store EventStore, registry *Registry, loc *time.Location, m Metrics) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Aggregator{store: store, registry: registry, loc: loc, metrics: m, now: time.Now}
}

// Location returns the timezone days are cut in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// ParseDate parses a stat_date in the aggregator's timezone.
func (a *Aggregator) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidRange, s)
	}
	return t, nil
}

// AggregateDate recomputes every daily row of the given day from raw events,
// including the order-level totals row. Rows are overwritten, so running it
// twice yields the same result.
func (a *Aggregator) AggregateDate(ctx context.Context, date string) (*DayResult, error) {
	start, err := a.ParseDate(date)
	if err != nil {
		return nil, err
	}
	end := start.AddDate(0, 0, 1)

	ctx, span := tracing.StartAggregationSpan(ctx, date)
	defer span.End()

	res, err := a.aggregate(ctx, date, start, end)
	if err != nil {
		tracing.RecordError(ctx, err)
		a.metrics.RecordAggregation("error")
		return nil, err
	}
	a.metrics.RecordAggregation("ok")
	return res, nil
}

func (a *Aggregator) aggregate(ctx context.Context, date string, start, end time.Time) (*DayResult, error) {
	groups, err := a.store.GroupEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: aggregate %s: %w", date, err)
	}

	now := a.now().UTC()
	byFeature := make(map[string]*DailyStat)
	for _, g := range groups {
		d := byFeature[g.FeatureID]
		if d == nil {
			d = &DailyStat{FeatureID: g.FeatureID, Date: date, AggregatedAt: now}
			byFeature[g.FeatureID] = d
		}
		switch g.Type {
		case EventImpression:
			d.Impressions += g.Events
		case EventClick:
			d.Clicks += g.Events
		case EventAddToCart:
			d.AddToCarts += g.Events
		case EventPurchase:
			d.Purchases += g.Events
			d.Revenue += g.Revenue
		}
		d.UniqueProducts = max(d.UniqueProducts, g.UniqueProducts)
	}

	purchases, err := a.store.PurchaseEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: aggregate %s: purchases: %w", date, err)
	}
	attributed := AttributeOrders(purchases, a.registry.ScopeOf)

	totals := &DailyStat{FeatureID: OrderTotalsFeature, Date: date, AggregatedAt: now}
	products := make(map[int64]struct{})
	for _, e := range purchases {
		if e.ProductID > 0 {
			products[e.ProductID] = struct{}{}
		}
	}
	for _, o := range attributed {
		totals.Purchases++
		totals.Revenue += o.Revenue
	}
	totals.UniqueProducts = int64(len(products))

	stats := make([]*DailyStat, 0, len(byFeature)+1)
	for _, d := range byFeature {
		stats = append(stats, d)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].FeatureID < stats[j].FeatureID })
	stats = append(stats, totals)

	if err := a.store.ReplaceDaily(ctx, stats); err != nil {
		return nil, fmt.Errorf("analytics: aggregate %s: write: %w", date, err)
	}

	log.Debug().Str("stat_date", date).Int("features", len(byFeature)).
		Int64("orders", totals.Purchases).Float64("revenue", totals.Revenue).
		Msg("analytics: day aggregated")

	return &DayResult{
		Date:     date,
		Features: len(byFeature),
		Orders:   totals.Purchases,
		Revenue:  totals.Revenue,
	}, nil
}

// AggregateRange re-aggregates every day in [from, to]. A failing day is
// logged and the remaining days still run; the joined error is returned
// with the days that succeeded.
func (a *Aggregator) AggregateRange(ctx context.Context, from, to string) ([]DayResult, error) {
	start, err := a.ParseDate(from)
	if err != nil {
		return nil, err
	}
	end, err := a.ParseDate(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > MaxRangeDays {
		return nil, fmt.Errorf("%w: %d days exceeds %d", ErrInvalidRange, days, MaxRangeDays)
	}

	var (
		results []DayResult
		errs    []error
	)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		date := d.Format(DateLayout)
		res, err := a.AggregateDate(ctx, date)
		if err != nil {
			log.Error().Err(err).Str("stat_date", date).Msg("analytics: aggregation failed")
			errs = append(errs, err)
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

// AggregateYesterday aggregates the previous calendar day. It is the
// scheduled job.
func (a *Aggregator) AggregateYesterday(ctx context.Context) error {
	day := a.now().In(a.loc).AddDate(0, 0, -1).Format(DateLayout)
	_, err := a.AggregateDate(ctx, day)
	return err
}

// AggregateToday refreshes today's rows from raw events.
func (a *Aggregator) AggregateToday(ctx context.Context) error {
	_, err := a.AggregateDate(ctx, a.now().In(a.loc).Format(DateLayout))
	return err
}
