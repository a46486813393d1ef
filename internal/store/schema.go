package store

// SQL schema constants for all upsell tables.

const schemaRelationships = `
CREATE TABLE IF NOT EXISTS fbt_relationships (
    product_a INTEGER NOT NULL,
    product_b INTEGER NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    last_updated TEXT NOT NULL,
    PRIMARY KEY (product_a, product_b),
    CHECK (product_a < product_b)
);
CREATE INDEX IF NOT EXISTS idx_fbt_rel_b ON fbt_relationships(product_b);
CREATE INDEX IF NOT EXISTS idx_fbt_rel_count ON fbt_relationships(count);
`

const schemaProductStats = `
CREATE TABLE IF NOT EXISTS fbt_product_stats (
    product_id INTEGER PRIMARY KEY,
    order_count INTEGER NOT NULL DEFAULT 0,
    last_updated TEXT NOT NULL
);
`

const schemaProcessedOrders = `
CREATE TABLE IF NOT EXISTS fbt_processed_orders (
    order_id INTEGER PRIMARY KEY,
    source TEXT NOT NULL DEFAULT '',
    product_count INTEGER NOT NULL DEFAULT 0,
    processed_at TEXT NOT NULL
);
`

const schemaBackfillState = `
CREATE TABLE IF NOT EXISTS fbt_backfill_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    run_id TEXT NOT NULL DEFAULT '',
    total_orders INTEGER NOT NULL DEFAULT 0,
    last_order_id INTEGER NOT NULL DEFAULT 0,
    already_processed INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    is_running INTEGER NOT NULL DEFAULT 0,
    batch_size INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL DEFAULT '',
    last_run TEXT NOT NULL DEFAULT ''
);
`

const schemaOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY,
    status TEXT NOT NULL,
    total REAL NOT NULL DEFAULT 0.0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    completed_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, id);

CREATE TABLE IF NOT EXISTS order_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id INTEGER NOT NULL DEFAULT 0,
    variation_id INTEGER NOT NULL DEFAULT 0,
    quantity INTEGER NOT NULL DEFAULT 1,
    total REAL NOT NULL DEFAULT 0.0
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
`

const schemaEvents = `
CREATE TABLE IF NOT EXISTS analytics_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feature_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    product_id INTEGER NOT NULL DEFAULT 0,
    related_product_id INTEGER NOT NULL DEFAULT 0,
    order_id INTEGER NOT NULL DEFAULT 0,
    quantity INTEGER NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0.0,
    session_id TEXT NOT NULL DEFAULT '',
    user_id INTEGER NOT NULL DEFAULT 0,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created ON analytics_events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_feature ON analytics_events(feature_id, event_type, created_at);
`

const schemaDaily = `
CREATE TABLE IF NOT EXISTS analytics_daily (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feature_id TEXT NOT NULL,
    stat_date TEXT NOT NULL,
    impressions INTEGER NOT NULL DEFAULT 0,
    clicks INTEGER NOT NULL DEFAULT 0,
    add_to_carts INTEGER NOT NULL DEFAULT 0,
    purchases INTEGER NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0.0,
    unique_products INTEGER NOT NULL DEFAULT 0,
    aggregated_at TEXT NOT NULL DEFAULT '',
    UNIQUE (feature_id, stat_date)
);
CREATE INDEX IF NOT EXISTS idx_daily_date ON analytics_daily(stat_date);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    applied_at TEXT NOT NULL
);
`

// baseSchemas form the version-1 layout.
var baseSchemas = []string{
	schemaRelationships,
	schemaProductStats,
	schemaBackfillState,
	schemaOrders,
	schemaEvents,
	schemaDaily,
}
