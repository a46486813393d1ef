package store

import (
	"context"
	"fmt"
)

// Event is one raw analytics event row.
type Event struct {
	ID               int64
	FeatureID        string
	EventType        string
	ProductID        int64
	RelatedProductID int64
	OrderID          int64
	Quantity         int64
	Revenue          float64
	RevenueScope     string
	SessionID        string
	UserID           int64
	Metadata         string
	CreatedAt        string
}

// EventGroup is the per (feature, event type) summary of raw events within a
// time window.
type EventGroup struct {
	FeatureID      string
	EventType      string
	Events         int64
	Revenue        float64
	UniqueProducts int64
}

// InsertEvents writes a batch of raw events in one transaction, filling in
// the assigned row IDs.
func (s *Store) InsertEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert events: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analytics_events (
			feature_id, event_type, product_id, related_product_id, order_id,
			quantity, revenue, revenue_scope, session_id, user_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: insert events: prepare: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for _, e := range events {
		if e.CreatedAt == "" {
			e.CreatedAt = now
		}
		if e.Metadata == "" {
			e.Metadata = "{}"
		}
		res, err := stmt.ExecContext(ctx,
			e.FeatureID, e.EventType, e.ProductID, e.RelatedProductID, e.OrderID,
			e.Quantity, e.Revenue, e.RevenueScope, e.SessionID, e.UserID, e.Metadata, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: insert event %s/%s: %w", e.FeatureID, e.EventType, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert events: commit: %w", err)
	}
	return nil
}

// GroupEvents summarises events created in [from, to) per feature and event
// type. UniqueProducts counts distinct positive product IDs.
func (s *Store) GroupEvents(ctx context.Context, from, to string) ([]*EventGroup, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT feature_id, event_type, COUNT(*),
		       COALESCE(SUM(revenue), 0),
		       COUNT(DISTINCT CASE WHEN product_id > 0 THEN product_id END)
		FROM analytics_events
		WHERE created_at >= ? AND created_at < ?
		GROUP BY feature_id, event_type
		ORDER BY feature_id, event_type`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: group events: %w", err)
	}
	defer rows.Close()

	var results []*EventGroup
	for rows.Next() {
		g := &EventGroup{}
		if err := rows.Scan(&g.FeatureID, &g.EventType, &g.Events, &g.Revenue, &g.UniqueProducts); err != nil {
			return nil, fmt.Errorf("store: scan event group: %w", err)
		}
		results = append(results, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: group events iteration: %w", err)
	}
	return results, nil
}

// PurchaseEvents returns purchase events tied to an order created in
// [from, to), ordered by order ID.
func (s *Store) PurchaseEvents(ctx context.Context, from, to string) ([]*Event, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, feature_id, event_type, product_id, related_product_id, order_id,
		       quantity, revenue, revenue_scope, session_id, user_id, metadata, created_at
		FROM analytics_events
		WHERE event_type = 'purchase' AND order_id > 0
		  AND created_at >= ? AND created_at < ?
		ORDER BY order_id, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: purchase events: %w", err)
	}
	defer rows.Close()

	var results []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(
			&e.ID, &e.FeatureID, &e.EventType, &e.ProductID, &e.RelatedProductID, &e.OrderID,
			&e.Quantity, &e.Revenue, &e.RevenueScope, &e.SessionID, &e.UserID, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan purchase event: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: purchase events iteration: %w", err)
	}
	return results, nil
}

// DeleteEventsBefore removes at most limit events created before cutoff and
// returns the number removed.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff string, limit int) (int64, error) {
	res, err := s.writer.ExecContext(ctx, `
		DELETE FROM analytics_events
		WHERE id IN (
			SELECT id FROM analytics_events WHERE created_at < ? ORDER BY id LIMIT ?
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("store: delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete events rows affected: %w", err)
	}
	return n, nil
}

// CountEvents returns the number of raw events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM analytics_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}
