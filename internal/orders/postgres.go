package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresOptions configures a Postgres commerce-schema source.
//
// The orders table needs id and status columns; the items table needs
// order_id, product_id, variation_id, quantity and total.
type PostgresOptions struct {
	DSN         string
	OrdersTable string // default "orders", may be schema-qualified
	ItemsTable  string // default "order_items"
	Statuses    []string
	MaxConns    int32
}

// Postgres reads completed orders from a Postgres database through a pgx
// connection pool.
type Postgres struct {
	pool     *pgxpool.Pool
	queries  pgQueries
	statuses []string
}

// NewPostgres creates the pool and pings the database.
func NewPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	if opts.DSN == "" {
		return nil, errors.New("orders: postgres: dsn is required")
	}
	if opts.OrdersTable == "" {
		opts.OrdersTable = "orders"
	}
	if opts.ItemsTable == "" {
		opts.ItemsTable = "order_items"
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []string{StatusCompleted}
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("orders: postgres: parse dsn: %w", err)
	}
	poolConfig.MaxConns = opts.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("orders: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("orders: postgres: ping: %w", err)
	}

	log.Info().Str("host", poolConfig.ConnConfig.Host).Str("database", poolConfig.ConnConfig.Database).
		Str("orders_table", opts.OrdersTable).Msg("orders: connected to Postgres")

	return &Postgres{
		pool:     pool,
		queries:  newPGQueries(opts.OrdersTable, opts.ItemsTable),
		statuses: statuses,
	}, nil
}

// Name identifies the source.
func (p *Postgres) Name() string { return "postgres" }

// CountCompleted counts completed orders.
func (p *Postgres) CountCompleted(ctx context.Context) (int64, error) {
	return p.CountCompletedAfter(ctx, 0)
}

// CountCompletedAfter counts completed orders after afterID.
func (p *Postgres) CountCompletedAfter(ctx context.Context, afterID int64) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, p.queries.count, p.statuses, afterID).Scan(&n); err != nil {
		return 0, fmt.Errorf("orders: postgres: count orders: %w", err)
	}
	return n, nil
}

// CompletedIDsAfter lists completed order IDs after afterID, ascending.
func (p *Postgres) CompletedIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := p.pool.Query(ctx, p.queries.ids, p.statuses, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: postgres: list orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("orders: postgres: list orders: %w", err)
	}
	return ids, nil
}

// LineItems returns the line items of an order.
func (p *Postgres) LineItems(ctx context.Context, orderID int64) ([]LineItem, error) {
	rows, err := p.pool.Query(ctx, p.queries.items, orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: postgres: line items %d: %w", orderID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LineItem, error) {
		var li LineItem
		err := row.Scan(&li.ProductID, &li.VariationID, &li.Quantity, &li.Total)
		return li, err
	})
	if err != nil {
		return nil, fmt.Errorf("orders: postgres: line items %d: %w", orderID, err)
	}
	return items, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type pgQueries struct {
	count string
	ids   string
	items string
}

func newPGQueries(ordersTable, itemsTable string) pgQueries {
	o := quoteTable(ordersTable)
	i := quoteTable(itemsTable)
	return pgQueries{
		count: "SELECT COUNT(*) FROM " + o + " WHERE status = ANY($1) AND id > $2",
		ids:   "SELECT id FROM " + o + " WHERE status = ANY($1) AND id > $2 ORDER BY id ASC LIMIT $3",
		items: "SELECT product_id, COALESCE(variation_id, 0), quantity, total::float8 FROM " + i +
			" WHERE order_id = $1 ORDER BY id",
	}
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
