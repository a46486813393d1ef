package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Order is a storefront order persisted by the order webhook.
type Order struct {
	ID          int64
	Status      string
	Total       float64
	CreatedAt   string
	UpdatedAt   string
	CompletedAt string
	Items       []*OrderItem
}

// OrderItem is one line of an order.
type OrderItem struct {
	OrderID     int64
	ProductID   int64
	VariationID int64
	Quantity    int64
	Total       float64
}

// UpsertOrder inserts or updates an order and replaces its line items.
// CompletedAt is kept from the first time the order was seen completed.
func (s *Store) UpsertOrder(ctx context.Context, o *Order) error {
	now := nowUTC()
	if o.CreatedAt == "" {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert order %d: begin: %w", o.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, total, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			updated_at = excluded.updated_at,
			completed_at = CASE
				WHEN orders.completed_at = '' THEN excluded.completed_at
				ELSE orders.completed_at
			END`,
		o.ID, o.Status, o.Total, o.CreatedAt, o.UpdatedAt, o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert order %d: %w", o.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = ?", o.ID); err != nil {
		return fmt.Errorf("store: upsert order %d: clear items: %w", o.ID, err)
	}

	if len(o.Items) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variation_id, quantity, total)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: upsert order %d: prepare items: %w", o.ID, err)
		}
		defer stmt.Close()

		for _, it := range o.Items {
			if _, err := stmt.ExecContext(ctx, o.ID, it.ProductID, it.VariationID, it.Quantity, it.Total); err != nil {
				return fmt.Errorf("store: upsert order %d: insert item: %w", o.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert order %d: commit: %w", o.ID, err)
	}
	return nil
}

// GetOrder retrieves an order and its items.
// Returns sql.ErrNoRows (wrapped) if not found.
func (s *Store) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o := &Order{}
	err := s.reader.QueryRowContext(ctx, `
		SELECT id, status, total, created_at, updated_at, completed_at
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("store: get order %d: %w", id, err)
	}
	items, err := s.OrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// OrderItems returns the line items of an order in insertion order.
func (s *Store) OrderItems(ctx context.Context, orderID int64) ([]*OrderItem, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT order_id, product_id, variation_id, quantity, total
		FROM order_items WHERE order_id = ?
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: order items %d: %w", orderID, err)
	}
	defer rows.Close()

	var results []*OrderItem
	for rows.Next() {
		it := &OrderItem{}
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.VariationID, &it.Quantity, &it.Total); err != nil {
			return nil, fmt.Errorf("store: scan order item row: %w", err)
		}
		results = append(results, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: order items iteration: %w", err)
	}
	return results, nil
}

// CountOrders counts orders in any of statuses with an ID greater than afterID.
func (s *Store) CountOrders(ctx context.Context, statuses []string, afterID int64) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, afterID)

	var n int64
	err := s.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE status IN ("+placeholders(len(statuses))+") AND id > ?",
		args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count orders: %w", err)
	}
	return n, nil
}

// OrderIDs returns up to limit IDs of orders in any of statuses with an ID
// greater than afterID, ascending.
func (s *Store) OrderIDs(ctx context.Context, statuses []string, afterID int64, limit int) ([]int64, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+2)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, afterID, limit)

	rows, err := s.reader.QueryContext(ctx,
		"SELECT id FROM orders WHERE status IN ("+placeholders(len(statuses))+") AND id > ? ORDER BY id LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list order ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ids iteration: %w", err)
	}
	return ids, nil
}
