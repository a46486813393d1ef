package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Relationship is a co-purchase counter for an unordered product pair.
// ProductA is always the smaller ID.
type Relationship struct {
	ProductA    int64
	ProductB    int64
	Count       int64
	LastUpdated string
}

// Partner returns the other side of the pair relative to productID.
func (r *Relationship) Partner(productID int64) int64 {
	if r.ProductA == productID {
		return r.ProductB
	}
	return r.ProductA
}

// ProductStat counts the distinct completed orders containing a product.
type ProductStat struct {
	ProductID   int64
	OrderCount  int64
	LastUpdated string
}

// OrderCounts is everything one completed order contributes to the
// co-purchase tables.
type OrderCounts struct {
	OrderID  int64
	Source   string
	Products []int64
	Pairs    [][2]int64

	// Dedupe makes the processed-order ledger authoritative: an order that
	// is already in the ledger contributes nothing.
	Dedupe bool
}

// ApplyOrderCounts increments every pair and product counter for one order
// inside a single transaction, together with the processed-order ledger row.
// It reports false when Dedupe is set and the order had already been counted.
func (s *Store) ApplyOrderCounts(ctx context.Context, oc *OrderCounts) (bool, error) {
	for _, p := range oc.Pairs {
		if p[0] >= p[1] {
			return false, fmt.Errorf("store: apply order %d: pair (%d, %d) not normalized", oc.OrderID, p[0], p[1])
		}
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: apply order %d: begin: %w", oc.OrderID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := nowUTC()

	ledgerSQL := `
		INSERT INTO fbt_processed_orders (order_id, source, product_count, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET processed_at = excluded.processed_at`
	if oc.Dedupe {
		ledgerSQL = `
		INSERT OR IGNORE INTO fbt_processed_orders (order_id, source, product_count, processed_at)
		VALUES (?, ?, ?, ?)`
	}
	res, err := tx.ExecContext(ctx, ledgerSQL, oc.OrderID, oc.Source, len(oc.Products), now)
	if err != nil {
		return false, fmt.Errorf("store: apply order %d: ledger: %w", oc.OrderID, err)
	}
	if oc.Dedupe {
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("store: apply order %d: ledger rows affected: %w", oc.OrderID, err)
		}
		if n == 0 {
			return false, nil
		}
	}

	pairStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fbt_relationships (product_a, product_b, count, last_updated)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(product_a, product_b) DO UPDATE SET
			count = fbt_relationships.count + 1,
			last_updated = excluded.last_updated`)
	if err != nil {
		return false, fmt.Errorf("store: apply order %d: prepare pair upsert: %w", oc.OrderID, err)
	}
	defer pairStmt.Close()

	for _, p := range oc.Pairs {
		if _, err := pairStmt.ExecContext(ctx, p[0], p[1], now); err != nil {
			return false, fmt.Errorf("store: apply order %d: upsert pair (%d, %d): %w", oc.OrderID, p[0], p[1], err)
		}
	}

	statStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fbt_product_stats (product_id, order_count, last_updated)
		VALUES (?, 1, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			order_count = fbt_product_stats.order_count + 1,
			last_updated = excluded.last_updated`)
	if err != nil {
		return false, fmt.Errorf("store: apply order %d: prepare stat upsert: %w", oc.OrderID, err)
	}
	defer statStmt.Close()

	for _, id := range oc.Products {
		if _, err := statStmt.ExecContext(ctx, id, now); err != nil {
			return false, fmt.Errorf("store: apply order %d: upsert product %d: %w", oc.OrderID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: apply order %d: commit: %w", oc.OrderID, err)
	}
	return true, nil
}

// GetRelationship returns the counter for the pair {a, b} in either order.
// Returns sql.ErrNoRows (wrapped) if the pair was never co-purchased.
func (s *Store) GetRelationship(ctx context.Context, a, b int64) (*Relationship, error) {
	if a > b {
		a, b = b, a
	}
	r := &Relationship{}
	err := s.reader.QueryRowContext(ctx, `
		SELECT product_a, product_b, count, last_updated
		FROM fbt_relationships WHERE product_a = ? AND product_b = ?`, a, b,
	).Scan(&r.ProductA, &r.ProductB, &r.Count, &r.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("store: get relationship (%d, %d): %w", a, b, err)
	}
	return r, nil
}

// ListRelated returns the relationships touching productID with at least
// minCount co-purchases, strongest first.
func (s *Store) ListRelated(ctx context.Context, productID, minCount int64, limit int) ([]*Relationship, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT product_a, product_b, count, last_updated
		FROM fbt_relationships
		WHERE (product_a = ? OR product_b = ?) AND count >= ?
		ORDER BY count DESC, last_updated DESC
		LIMIT ?`, productID, productID, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list related %d: %w", productID, err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// ListRelationships pages through every relationship ordered by pair.
func (s *Store) ListRelationships(ctx context.Context, limit, offset int) ([]*Relationship, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT product_a, product_b, count, last_updated
		FROM fbt_relationships
		ORDER BY product_a, product_b
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list relationships: %w", err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func scanRelationships(rows *sql.Rows) ([]*Relationship, error) {
	var results []*Relationship
	for rows.Next() {
		r := &Relationship{}
		if err := rows.Scan(&r.ProductA, &r.ProductB, &r.Count, &r.LastUpdated); err != nil {
			return nil, fmt.Errorf("store: scan relationship row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: relationships iteration: %w", err)
	}
	return results, nil
}

// GetProductStat returns the order count for a product.
// Returns sql.ErrNoRows (wrapped) if the product was never purchased.
func (s *Store) GetProductStat(ctx context.Context, productID int64) (*ProductStat, error) {
	p := &ProductStat{}
	err := s.reader.QueryRowContext(ctx, `
		SELECT product_id, order_count, last_updated
		FROM fbt_product_stats WHERE product_id = ?`, productID,
	).Scan(&p.ProductID, &p.OrderCount, &p.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("store: get product stat %d: %w", productID, err)
	}
	return p, nil
}

// ProcessedOrderCount returns the number of orders in the ledger.
func (s *Store) ProcessedOrderCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM fbt_processed_orders").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count processed orders: %w", err)
	}
	return n, nil
}

// IsOrderProcessed reports whether the order is in the ledger.
func (s *Store) IsOrderProcessed(ctx context.Context, orderID int64) (bool, error) {
	var one int
	err := s.reader.QueryRowContext(ctx,
		"SELECT 1 FROM fbt_processed_orders WHERE order_id = ?", orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: lookup processed order %d: %w", orderID, err)
	}
	return true, nil
}

// ResetFBT clears relationships, product stats, the ledger and the backfill
// state in one transaction.
func (s *Store) ResetFBT(ctx context.Context) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: reset fbt: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{
		"fbt_relationships",
		"fbt_product_stats",
		"fbt_processed_orders",
		"fbt_backfill_state",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("store: reset fbt: clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: reset fbt: commit: %w", err)
	}
	return nil
}
