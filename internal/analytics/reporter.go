package analytics

import (
	"context"
	"fmt"
	"sort"
)

// FeatureSummary totals a feature's daily rows over a date range.
type FeatureSummary struct {
	FeatureID      string  `json:"feature_id"`
	Name           string  `json:"name,omitempty"`
	Impressions    int64   `json:"impressions"`
	Clicks         int64   `json:"clicks"`
	AddToCarts     int64   `json:"add_to_carts"`
	Purchases      int64   `json:"purchases"`
	Revenue        float64 `json:"revenue"`
	UniqueProducts int64   `json:"unique_products"`
	ClickRate      float64 `json:"click_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}

func (s *FeatureSummary) add(d *DailyStat) {
	s.Impressions += d.Impressions
	s.Clicks += d.Clicks
	s.AddToCarts += d.AddToCarts
	s.Purchases += d.Purchases
	s.Revenue += d.Revenue
	s.UniqueProducts = max(s.UniqueProducts, d.UniqueProducts)
}

func (s *FeatureSummary) finish() {
	if s.Impressions > 0 {
		s.ClickRate = float64(s.Clicks) / float64(s.Impressions)
		s.ConversionRate = float64(s.Purchases) / float64(s.Impressions)
	}
}

// Dashboard is the overview across every feature for a date range.
type Dashboard struct {
	From     string           `json:"from"`
	To       string           `json:"to"`
	Features []FeatureSummary `json:"features"`
	Orders   int64            `json:"orders"`
	Revenue  float64          `json:"revenue"`
	Daily    []*DailyStat     `json:"daily"`
}

// FeatureReport is one feature's daily series and totals.
type FeatureReport struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Summary FeatureSummary `json:"summary"`
	Daily   []*DailyStat   `json:"daily"`
}

// Reporter serves the read side of the daily rows.
type Reporter struct {
	store    EventStore
	registry *Registry
}

// NewReporter creates a Reporter.
func NewReporter(store EventStore, registry *Registry) *Reporter {
	return &Reporter{store: store, registry: registry}
}

// Dashboard totals every feature over [from, to]. Order count and revenue
// come from the order totals row, so orders reported by several features are
// counted once.
func (r *Reporter) Dashboard(ctx context.Context, from, to string) (*Dashboard, error) {
	rows, err := r.store.DailyStats(ctx, "", from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics: dashboard: %w", err)
	}

	dash := &Dashboard{From: from, To: to, Daily: []*DailyStat{}}
	summaries := make(map[string]*FeatureSummary)
	for _, d := range rows {
		if d.FeatureID == OrderTotalsFeature {
			dash.Orders += d.Purchases
			dash.Revenue += d.Revenue
			dash.Daily = append(dash.Daily, d)
			continue
		}
		s := summaries[d.FeatureID]
		if s == nil {
			s = &FeatureSummary{FeatureID: d.FeatureID}
			if f, ok := r.registry.Lookup(d.FeatureID); ok {
				s.Name = f.Name
			}
			summaries[d.FeatureID] = s
		}
		s.add(d)
	}

	dash.Features = make([]FeatureSummary, 0, len(summaries))
	for _, s := range summaries {
		s.finish()
		dash.Features = append(dash.Features, *s)
	}
	sort.Slice(dash.Features, func(i, j int) bool {
		return dash.Features[i].FeatureID < dash.Features[j].FeatureID
	})
	return dash, nil
}

// Feature returns the daily series of one feature over [from, to].
func (r *Reporter) Feature(ctx context.Context, featureID, from, to string) (*FeatureReport, error) {
	f, ok := r.registry.Lookup(featureID)
	if !ok && featureID != OrderTotalsFeature {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, featureID)
	}
	rows, err := r.store.DailyStats(ctx, featureID, from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics: feature %s: %w", featureID, err)
	}
	if rows == nil {
		rows = []*DailyStat{}
	}

	rep := &FeatureReport{From: from, To: to, Daily: rows}
	rep.Summary.FeatureID = featureID
	rep.Summary.Name = f.Name
	for _, d := range rows {
		rep.Summary.add(d)
	}
	rep.Summary.finish()
	return rep, nil
}
