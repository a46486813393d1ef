package fbt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/orders"
	"github.com/allaspectsdev/upsell/internal/tracing"
)

// ErrInvalidBatchSize is returned for a batch size below 1.
var ErrInvalidBatchSize = errors.New("fbt: batch size must be positive")

// StartResult is returned when a new backfill run begins.
type StartResult struct {
	Total            int64 `json:"total"`
	AlreadyProcessed int64 `json:"already_processed"`
	BatchesCount     int64 `json:"batches_count"`
}

// BatchResult is returned after each processed batch. Errors is the
// cumulative per-order error count of the current run.
type BatchResult struct {
	Processed   int   `json:"processed"`
	LastOrderID int64 `json:"last_order_id"`
	Remaining   int64 `json:"remaining"`
	Completed   bool  `json:"completed"`
	Errors      int64 `json:"errors"`
}

// Status is a read-only view of the backfill.
type Status struct {
	Total            int64      `json:"total"`
	Unprocessed      int64      `json:"unprocessed"`
	AlreadyProcessed int64      `json:"already_processed"`
	LastOrderID      int64      `json:"last_order_id"`
	IsRunning        bool       `json:"is_running"`
	LastRun          *time.Time `json:"last_run"`
	Errors           int64      `json:"errors"`
	RunID            string     `json:"run_id,omitempty"`
}

// Backfiller scans historical completed orders in ascending ID order and
// feeds them through the Recorder. Progress is persisted after every batch
// so a client (or the CLI) can resume from the stored watermark.
type Backfiller struct {
	source   orders.Source
	store    CounterStore
	recorder *Recorder
	maxBatch int
	metrics  Metrics

	// mu serializes Start and ProcessBatch; two batches racing on the same
	// watermark would scan the same orders twice.
	mu  sync.Mutex
	now func() time.Time
}

// NewBackfiller creates a Backfiller. maxBatch caps the batch size any
// caller can request; zero means no cap.
func NewBackfiller(source orders.Source, store CounterStore, recorder *Recorder, maxBatch int, m Metrics) *Backfiller {
	if m == nil {
		m = noopMetrics{}
	}
	return &Backfiller{
		source:   source,
		store:    store,
		recorder: recorder,
		maxBatch: maxBatch,
		metrics:  m,
		now:      time.Now,
	}
}

func (b *Backfiller) clampBatch(batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, ErrInvalidBatchSize
	}
	if b.maxBatch > 0 && batchSize > b.maxBatch {
		return b.maxBatch, nil
	}
	return batchSize, nil
}

// Start begins a new run: the watermark and error count are reset and the
// state is marked running. No order is processed.
func (b *Backfiller) Start(ctx context.Context, batchSize int) (*StartResult, error) {
	batchSize, err := b.clampBatch(batchSize)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total, err := b.source.CountCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("fbt: backfill start: count orders: %w", err)
	}
	already, err := b.processed(ctx, total)
	if err != nil {
		return nil, err
	}

	prev, err := b.store.LoadProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("fbt: backfill start: %w", err)
	}

	p := &Progress{
		RunID:            uuid.NewString(),
		TotalOrders:      total,
		AlreadyProcessed: already,
		IsRunning:        true,
		BatchSize:        batchSize,
		StartedAt:        b.now().UTC(),
		LastRun:          prev.LastRun,
	}
	if err := b.store.SaveProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("fbt: backfill start: %w", err)
	}

	log.Info().Str("run_id", p.RunID).Int64("total", total).Int64("already_processed", already).
		Int("batch_size", batchSize).Msg("fbt: backfill started")

	return &StartResult{
		Total:            total,
		AlreadyProcessed: already,
		BatchesCount:     ceilDiv(total, int64(batchSize)),
	}, nil
}

// ProcessBatch processes up to batchSize completed orders with an ID greater
// than the watermark. The effective watermark is the larger of lastOrderID
// and the stored one, so a stale client can never rewind the scan.
func (b *Backfiller) ProcessBatch(ctx context.Context, batchSize int, lastOrderID int64) (*BatchResult, error) {
	batchSize, err := b.clampBatch(batchSize)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	started := b.now()

	p, err := b.store.LoadProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("fbt: backfill batch: %w", err)
	}
	if p.RunID == "" {
		// No Start call yet; open an implicit run so progress is still tracked.
		total, err := b.source.CountCompleted(ctx)
		if err != nil {
			return nil, fmt.Errorf("fbt: backfill batch: count orders: %w", err)
		}
		p.RunID = uuid.NewString()
		p.TotalOrders = total
		p.StartedAt = started.UTC()
		p.BatchSize = batchSize
	}
	p.IsRunning = true

	watermark := max(lastOrderID, p.LastOrderID)

	ctx, span := tracing.StartBatchSpan(ctx, batchSize, watermark)
	defer span.End()

	ids, err := b.source.CompletedIDsAfter(ctx, watermark, batchSize)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("fbt: backfill batch: list orders after %d: %w", watermark, err)
	}

	var (
		processed   int
		batchErrors int
		ctxErr      error
	)
	for _, id := range ids {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		if err := b.processOrder(ctx, id); err != nil {
			batchErrors++
			log.Warn().Err(err).Int64("order_id", id).Msg("fbt: backfill skipped order")
		}
		processed++
		if id > watermark {
			watermark = id
		}
	}

	// The bookkeeping below runs even when the context was cancelled
	// mid-batch so the stored watermark reflects what was actually done.
	bg := context.WithoutCancel(ctx)

	remaining, err := b.source.CountCompletedAfter(bg, watermark)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("fbt: backfill batch: count remaining: %w", err)
	}

	already, err := b.store.ProcessedOrders(bg)
	if err != nil {
		return nil, fmt.Errorf("fbt: backfill batch: %w", err)
	}

	p.LastOrderID = watermark
	p.Errors += int64(batchErrors)
	p.AlreadyProcessed = min(already, p.TotalOrders)
	completed := ctxErr == nil && remaining == 0
	if completed {
		p.IsRunning = false
		p.LastRun = b.now().UTC()
	}

	if err := b.store.SaveProgress(bg, p); err != nil {
		return nil, fmt.Errorf("fbt: backfill batch: %w", err)
	}

	b.metrics.ObserveBatch(b.now().Sub(started), batchErrors)
	tracing.SetBatchResult(ctx, processed, watermark, remaining)

	res := &BatchResult{
		Processed:   processed,
		LastOrderID: watermark,
		Remaining:   remaining,
		Completed:   completed,
		Errors:      p.Errors,
	}
	if ctxErr != nil {
		return res, fmt.Errorf("fbt: backfill batch interrupted: %w", ctxErr)
	}
	if completed {
		log.Info().Str("run_id", p.RunID).Int64("errors", p.Errors).Msg("fbt: backfill completed")
	}
	return res, nil
}

func (b *Backfiller) processOrder(ctx context.Context, orderID int64) error {
	items, err := b.source.LineItems(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load line items: %w", err)
	}
	_, err = b.recorder.Record(ctx, orderID, b.source.Name(), items)
	return err
}

// Status reports progress without changing anything.
func (b *Backfiller) Status(ctx context.Context) (*Status, error) {
	total, err := b.source.CountCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("fbt: backfill status: count orders: %w", err)
	}
	already, err := b.processed(ctx, total)
	if err != nil {
		return nil, err
	}
	p, err := b.store.LoadProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("fbt: backfill status: %w", err)
	}

	st := &Status{
		Total:            total,
		Unprocessed:      max(total-already, 0),
		AlreadyProcessed: already,
		LastOrderID:      p.LastOrderID,
		IsRunning:        p.IsRunning,
		Errors:           p.Errors,
		RunID:            p.RunID,
	}
	if !p.LastRun.IsZero() {
		lr := p.LastRun
		st.LastRun = &lr
	}
	return st, nil
}

// Run drives a complete backfill from the CLI: it starts a new run unless
// resume is set, then processes batches until completion or cancellation.
// progress, when non-nil, is called after each batch.
func (b *Backfiller) Run(ctx context.Context, batchSize int, resume bool, progress func(*BatchResult)) (*BatchResult, error) {
	var watermark int64
	if resume {
		p, err := b.store.LoadProgress(ctx)
		if err != nil {
			return nil, fmt.Errorf("fbt: backfill resume: %w", err)
		}
		watermark = p.LastOrderID
	} else if _, err := b.Start(ctx, batchSize); err != nil {
		return nil, err
	}

	for {
		res, err := b.ProcessBatch(ctx, batchSize, watermark)
		if err != nil {
			return res, err
		}
		if progress != nil {
			progress(res)
		}
		if res.Completed {
			return res, nil
		}
		if res.Processed == 0 {
			// Orders after the watermark were counted but none could be
			// listed; the source changed underneath us.
			return res, fmt.Errorf("fbt: backfill stalled at order %d with %d remaining", res.LastOrderID, res.Remaining)
		}
		watermark = res.LastOrderID
	}
}

// processed returns the ledger size clamped to total, since the ledger can
// hold webhook orders that the source no longer reports as completed.
func (b *Backfiller) processed(ctx context.Context, total int64) (int64, error) {
	n, err := b.store.ProcessedOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("fbt: count processed orders: %w", err)
	}
	return min(n, total), nil
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 || d <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
