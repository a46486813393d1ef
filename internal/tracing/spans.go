package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartOrderSpan creates a child span for recording one completed order.
func StartOrderSpan(ctx context.Context, orderID int64, source string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "fbt.record_order",
		trace.WithAttributes(
			attribute.Int64("order.id", orderID),
			attribute.String("order.source", source),
		),
	)
}

// StartBatchSpan creates a child span for one backfill batch.
func StartBatchSpan(ctx context.Context, batchSize int, afterID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "fbt.backfill_batch",
		trace.WithAttributes(
			attribute.Int("backfill.batch_size", batchSize),
			attribute.Int64("backfill.after_order_id", afterID),
		),
	)
}

// StartAggregationSpan creates a child span for aggregating one day.
func StartAggregationSpan(ctx context.Context, statDate string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "analytics.aggregate_day",
		trace.WithAttributes(attribute.String("analytics.stat_date", statDate)),
	)
}

// StartCleanupSpan creates a child span for the retention cleanup.
func StartCleanupSpan(ctx context.Context, retentionDays, batchSize int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "analytics.cleanup",
		trace.WithAttributes(
			attribute.Int("analytics.retention_days", retentionDays),
			attribute.Int("analytics.batch_size", batchSize),
		),
	)
}

// SetBatchResult adds batch outcome attributes to the current span.
func SetBatchResult(ctx context.Context, processed int, lastOrderID, remaining int64) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("backfill.processed", processed),
		attribute.Int64("backfill.last_order_id", lastOrderID),
		attribute.Int64("backfill.remaining", remaining),
	)
}

// RecordError records an error on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
