package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
)

// WooCommerceOptions configures a WooCommerce database source.
type WooCommerceOptions struct {
	// DSN is a go-sql-driver/mysql data source name.
	DSN string

	// TablePrefix is the WordPress table prefix. Defaults to "wp_".
	TablePrefix string

	// HPOS reads orders from the high-performance order storage table
	// ({prefix}wc_orders) instead of {prefix}posts.
	HPOS bool

	// Statuses are the order statuses treated as completed, with or without
	// the "wc-" prefix. Defaults to completed.
	Statuses []string

	MaxOpenConns int
}

// WooCommerce reads completed orders straight from a WooCommerce MySQL
// database. Line items come from {prefix}wc_order_product_lookup, which
// WooCommerce keeps in sync for both storage modes.
type WooCommerce struct {
	db       *sql.DB
	queries  wooQueries
	statuses []any
}

// NewWooCommerce opens and pings the WooCommerce database.
func NewWooCommerce(ctx context.Context, opts WooCommerceOptions) (*WooCommerce, error) {
	if opts.DSN == "" {
		return nil, errors.New("orders: woocommerce: dsn is required")
	}
	if opts.TablePrefix == "" {
		opts.TablePrefix = "wp_"
	}
	if !validIdentifier(opts.TablePrefix) {
		return nil, fmt.Errorf("orders: woocommerce: invalid table prefix %q", opts.TablePrefix)
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}

	cfg, err := mysql.ParseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("orders: woocommerce: parse dsn: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("orders: woocommerce: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("orders: woocommerce: ping: %w", err)
	}

	statuses := wooStatuses(opts.Statuses)
	log.Info().Str("addr", cfg.Addr).Str("database", cfg.DBName).Bool("hpos", opts.HPOS).
		Strs("statuses", statuses).Msg("orders: connected to WooCommerce database")

	return &WooCommerce{
		db:       db,
		queries:  newWooQueries(opts.TablePrefix, opts.HPOS, len(statuses)),
		statuses: toArgs(statuses),
	}, nil
}

// Name identifies the source.
func (w *WooCommerce) Name() string { return "woocommerce" }

// CountCompleted counts completed orders.
func (w *WooCommerce) CountCompleted(ctx context.Context) (int64, error) {
	return w.CountCompletedAfter(ctx, 0)
}

// CountCompletedAfter counts completed orders after afterID.
func (w *WooCommerce) CountCompletedAfter(ctx context.Context, afterID int64) (int64, error) {
	args := append(append([]any{}, w.statuses...), afterID)
	var n int64
	if err := w.db.QueryRowContext(ctx, w.queries.count, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("orders: woocommerce: count orders: %w", err)
	}
	return n, nil
}

// CompletedIDsAfter lists completed order IDs after afterID, ascending.
func (w *WooCommerce) CompletedIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	args := append(append([]any{}, w.statuses...), afterID, limit)
	rows, err := w.db.QueryContext(ctx, w.queries.ids, args...)
	if err != nil {
		return nil, fmt.Errorf("orders: woocommerce: list orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("orders: woocommerce: scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: woocommerce: list orders: %w", err)
	}
	return ids, nil
}

// LineItems returns the product lines of an order.
func (w *WooCommerce) LineItems(ctx context.Context, orderID int64) ([]LineItem, error) {
	rows, err := w.db.QueryContext(ctx, w.queries.items, orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: woocommerce: line items %d: %w", orderID, err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ProductID, &li.VariationID, &li.Quantity, &li.Total); err != nil {
			return nil, fmt.Errorf("orders: woocommerce: scan line item: %w", err)
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: woocommerce: line items %d: %w", orderID, err)
	}
	return items, nil
}

// Close closes the connection pool.
func (w *WooCommerce) Close() error { return w.db.Close() }

type wooQueries struct {
	count string
	ids   string
	items string
}

func newWooQueries(prefix string, hpos bool, nStatuses int) wooQueries {
	in := "(" + strings.TrimSuffix(strings.Repeat("?, ", nStatuses), ", ") + ")"

	var from, id string
	if hpos {
		from = prefix + "wc_orders WHERE type = 'shop_order' AND status IN " + in
		id = "id"
	} else {
		from = prefix + "posts WHERE post_type = 'shop_order' AND post_status IN " + in
		id = "ID"
	}

	return wooQueries{
		count: "SELECT COUNT(*) FROM " + from + " AND " + id + " > ?",
		ids:   "SELECT " + id + " FROM " + from + " AND " + id + " > ? ORDER BY " + id + " ASC LIMIT ?",
		items: "SELECT product_id, variation_id, product_qty, product_gross_revenue FROM " +
			prefix + "wc_order_product_lookup WHERE order_id = ? ORDER BY order_item_id",
	}
}

// wooStatuses normalises statuses to WooCommerce's stored "wc-" form.
func wooStatuses(statuses []string) []string {
	if len(statuses) == 0 {
		statuses = []string{StatusCompleted}
	}
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "wc-") {
			s = "wc-" + s
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, "wc-"+StatusCompleted)
	}
	return out
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// validIdentifier accepts the characters allowed in unquoted SQL names.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
