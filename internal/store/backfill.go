package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BackfillState is the single persisted row describing the current or last
// backfill run.
type BackfillState struct {
	RunID            string
	TotalOrders      int64
	LastOrderID      int64
	AlreadyProcessed int64
	Errors           int64
	IsRunning        bool
	BatchSize        int
	StartedAt        string
	LastRun          string
}

// GetBackfillState returns the persisted state, or a zero state when no run
// was ever started.
func (s *Store) GetBackfillState(ctx context.Context) (*BackfillState, error) {
	st := &BackfillState{}
	var running int
	err := s.reader.QueryRowContext(ctx, `
		SELECT run_id, total_orders, last_order_id, already_processed, errors,
		       is_running, batch_size, started_at, last_run
		FROM fbt_backfill_state WHERE id = 1`,
	).Scan(
		&st.RunID, &st.TotalOrders, &st.LastOrderID, &st.AlreadyProcessed, &st.Errors,
		&running, &st.BatchSize, &st.StartedAt, &st.LastRun,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get backfill state: %w", err)
	}
	st.IsRunning = running != 0
	return st, nil
}

// SaveBackfillState writes the state row, replacing the previous one.
func (s *Store) SaveBackfillState(ctx context.Context, st *BackfillState) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO fbt_backfill_state (
			id, run_id, total_orders, last_order_id, already_processed, errors,
			is_running, batch_size, started_at, last_run
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			total_orders = excluded.total_orders,
			last_order_id = excluded.last_order_id,
			already_processed = excluded.already_processed,
			errors = excluded.errors,
			is_running = excluded.is_running,
			batch_size = excluded.batch_size,
			started_at = excluded.started_at,
			last_run = excluded.last_run`,
		st.RunID, st.TotalOrders, st.LastOrderID, st.AlreadyProcessed, st.Errors,
		boolToInt(st.IsRunning), st.BatchSize, st.StartedAt, st.LastRun,
	)
	if err != nil {
		return fmt.Errorf("store: save backfill state: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
