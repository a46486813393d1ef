package fbt

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/orders"
	"github.com/allaspectsdev/upsell/internal/tracing"
)

// Outcome describes what recording an order did to the counters.
type Outcome string

const (
	// OutcomeRecorded means the order's products and pairs were counted.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeDuplicate means the order was already in the ledger.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeEmpty means the order had no product to count.
	OutcomeEmpty Outcome = "empty"
	// OutcomeFailed means the store rejected the update.
	OutcomeFailed Outcome = "failed"
	// OutcomeIgnored means the order was not in the completed status.
	OutcomeIgnored Outcome = "ignored"
)

// Invalidator is notified about products whose relations changed.
type Invalidator interface {
	Invalidate(productIDs ...int64)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Dedupe consults the processed-order ledger so an order is counted at
	// most once. Disabling it restores the legacy behaviour where a repeated
	// completion event inflates every counter again.
	Dedupe bool

	// CompletedStatuses are the order statuses that trigger counting in
	// OnOrderCompleted. Empty means orders.StatusCompleted only.
	CompletedStatuses []string

	Metrics     Metrics
	Invalidator Invalidator
}

// Recorder applies completed orders to the co-purchase counters.
type Recorder struct {
	store       CounterStore
	dedupe      bool
	completed   orders.StatusSet
	metrics     Metrics
	invalidator Invalidator
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store CounterStore, opts RecorderOptions) *Recorder {
	r := &Recorder{
		store:       store,
		dedupe:      opts.Dedupe,
		completed:   orders.NewStatusSet(opts.CompletedStatuses...),
		metrics:     opts.Metrics,
		invalidator: opts.Invalidator,
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	return r
}

// Record counts one completed order: one increment per distinct product and
// one per unordered product pair, in a single store transaction.
func (r *Recorder) Record(ctx context.Context, orderID int64, source string, items []orders.LineItem) (Outcome, error) {
	ctx, span := tracing.StartOrderSpan(ctx, orderID, source)
	defer span.End()

	products, pairs := Extract(items)
	if len(products) == 0 {
		r.metrics.RecordOrder(source, string(OutcomeEmpty), 0)
		return OutcomeEmpty, nil
	}

	applied, err := r.store.ApplyOrder(ctx, Contribution{
		OrderID:  orderID,
		Source:   source,
		Products: products,
		Pairs:    pairs,
		Dedupe:   r.dedupe,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		r.metrics.RecordOrder(source, string(OutcomeFailed), 0)
		return OutcomeFailed, fmt.Errorf("fbt: record order %d: %w", orderID, err)
	}
	if !applied {
		r.metrics.RecordOrder(source, string(OutcomeDuplicate), 0)
		return OutcomeDuplicate, nil
	}

	r.metrics.RecordOrder(source, string(OutcomeRecorded), len(pairs))
	if r.invalidator != nil {
		r.invalidator.Invalidate(products...)
	}
	return OutcomeRecorded, nil
}

// OnOrderCompleted is the order-status hook. Orders whose status is not one
// of the configured completed statuses are ignored. Store failures are logged and swallowed so the caller's order
// flow never fails because of statistics; the backfill recovers them later.
func (r *Recorder) OnOrderCompleted(ctx context.Context, o *orders.Order, source string) Outcome {
	if !o.CompletedIn(r.completed) {
		return OutcomeIgnored
	}
	outcome, err := r.Record(ctx, o.ID, source, o.Items)
	if err != nil {
		log.Error().Err(err).Int64("order_id", o.ID).Str("source", source).
			Msg("fbt: failed to record completed order")
		return outcome
	}
	log.Debug().Int64("order_id", o.ID).Str("outcome", string(outcome)).Msg("fbt: order recorded")
	return outcome
}
