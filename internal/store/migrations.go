package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// schemaStep upgrades the database from version-1 to version. Steps run in
// order, each in its own transaction together with its schema_migrations row.
type schemaStep struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var schemaSteps = []schemaStep{
	{1, "counters, orders and analytics tables", execAll(baseSchemas...)},
	{2, "processed-order ledger", execAll(schemaProcessedOrders)},
	{3, "event revenue scope", addEventRevenueScope},
}

// Migrate creates missing tables and applies every schema step newer than
// the recorded version. Running it on an up-to-date database is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, schemaMigrations); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for _, step := range schemaSteps {
		if step.version <= current {
			continue
		}
		start := time.Now()
		if err := applyStep(ctx, s.writer, step); err != nil {
			return fmt.Errorf("store: schema v%d (%s): %w", step.version, step.name, err)
		}
		log.Info().Int("version", step.version).Str("step", step.name).
			Dur("took", time.Since(start)).Msg("store: schema upgraded")
	}
	return nil
}

// schemaVersion is the highest applied step, 0 on a fresh database.
func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.writer.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

func applyStep(ctx context.Context, db *sql.DB, step schemaStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := step.apply(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		step.version, step.name, formatTime(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func execAll(ddl ...string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range ddl {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// addEventRevenueScope adds analytics_events.revenue_scope unless a partial
// earlier upgrade already did, then indexes purchases by order for
// attribution.
func addEventRevenueScope(ctx context.Context, tx *sql.Tx) error {
	has, err := hasColumn(ctx, tx, "analytics_events", "revenue_scope")
	if err != nil {
		return err
	}
	if !has {
		if _, err := tx.ExecContext(ctx,
			"ALTER TABLE analytics_events ADD COLUMN revenue_scope TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_events_purchase ON analytics_events(order_id) WHERE event_type = 'purchase'")
	return err
}

func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
