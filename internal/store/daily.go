package store

import (
	"context"
	"fmt"
)

// DailyStat is one row of analytics_daily.
type DailyStat struct {
	FeatureID      string
	StatDate       string
	Impressions    int64
	Clicks         int64
	AddToCarts     int64
	Purchases      int64
	Revenue        float64
	UniqueProducts int64
	AggregatedAt   string
}

const dailyColumns = `feature_id, stat_date, impressions, clicks, add_to_carts,
	purchases, revenue, unique_products, aggregated_at`

// IncrementDaily merges d into the (feature, date) row additively. Used by
// live tracking; unique_products keeps the larger of the two values.
func (s *Store) IncrementDaily(ctx context.Context, d *DailyStat) error {
	if d.AggregatedAt == "" {
		d.AggregatedAt = nowUTC()
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO analytics_daily (`+dailyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feature_id, stat_date) DO UPDATE SET
			impressions = analytics_daily.impressions + excluded.impressions,
			clicks = analytics_daily.clicks + excluded.clicks,
			add_to_carts = analytics_daily.add_to_carts + excluded.add_to_carts,
			purchases = analytics_daily.purchases + excluded.purchases,
			revenue = analytics_daily.revenue + excluded.revenue,
			unique_products = MAX(analytics_daily.unique_products, excluded.unique_products),
			aggregated_at = excluded.aggregated_at`,
		d.FeatureID, d.StatDate, d.Impressions, d.Clicks, d.AddToCarts,
		d.Purchases, d.Revenue, d.UniqueProducts, d.AggregatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: increment daily %s/%s: %w", d.FeatureID, d.StatDate, err)
	}
	return nil
}

// ReplaceDaily overwrites the given rows in one transaction. Rows of other
// features on the same date are left untouched.
func (s *Store) ReplaceDaily(ctx context.Context, stats []*DailyStat) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace daily: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analytics_daily (`+dailyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feature_id, stat_date) DO UPDATE SET
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			add_to_carts = excluded.add_to_carts,
			purchases = excluded.purchases,
			revenue = excluded.revenue,
			unique_products = excluded.unique_products,
			aggregated_at = excluded.aggregated_at`)
	if err != nil {
		return fmt.Errorf("store: replace daily: prepare: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for _, d := range stats {
		if d.AggregatedAt == "" {
			d.AggregatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			d.FeatureID, d.StatDate, d.Impressions, d.Clicks, d.AddToCarts,
			d.Purchases, d.Revenue, d.UniqueProducts, d.AggregatedAt,
		); err != nil {
			return fmt.Errorf("store: replace daily %s/%s: %w", d.FeatureID, d.StatDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace daily: commit: %w", err)
	}
	return nil
}

// ListDaily returns daily rows with stat_date in [from, to] (inclusive,
// "2006-01-02" strings). An empty featureID selects every feature.
func (s *Store) ListDaily(ctx context.Context, featureID, from, to string) ([]*DailyStat, error) {
	query := `SELECT ` + dailyColumns + ` FROM analytics_daily
		WHERE stat_date >= ? AND stat_date <= ?`
	args := []any{from, to}
	if featureID != "" {
		query += " AND feature_id = ?"
		args = append(args, featureID)
	}
	query += " ORDER BY stat_date, feature_id"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list daily: %w", err)
	}
	defer rows.Close()

	var results []*DailyStat
	for rows.Next() {
		d := &DailyStat{}
		if err := rows.Scan(
			&d.FeatureID, &d.StatDate, &d.Impressions, &d.Clicks, &d.AddToCarts,
			&d.Purchases, &d.Revenue, &d.UniqueProducts, &d.AggregatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan daily row: %w", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list daily iteration: %w", err)
	}
	return results, nil
}
