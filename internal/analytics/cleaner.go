package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/tracing"
)

// Retention and cleanup batch bounds.
const (
	DefaultRetentionDays = 30
	MinRetentionDays     = 7
	MaxRetentionDays     = 365

	DefaultCleanupBatchSize = 10000
	MinCleanupBatchSize     = 1000
	MaxCleanupBatchSize     = 50000
)

// ClampRetention bounds the retention window to [7, 365] days. Zero or a
// negative value selects the default of 30.
func ClampRetention(days int) int {
	if days <= 0 {
		return DefaultRetentionDays
	}
	return min(max(days, MinRetentionDays), MaxRetentionDays)
}

// ClampBatchSize bounds the cleanup batch to [1000, 50000] rows. Zero or a
// negative value selects the default of 10000.
func ClampBatchSize(n int) int {
	if n <= 0 {
		return DefaultCleanupBatchSize
	}
	return min(max(n, MinCleanupBatchSize), MaxCleanupBatchSize)
}

// CleanupResult reports one cleanup pass.
type CleanupResult struct {
	Deleted       int64     `json:"deleted"`
	Batches       int       `json:"batches"`
	Cutoff        time.Time `json:"cutoff"`
	RetentionDays int       `json:"retention_days"`
	BatchSize     int       `json:"batch_size"`
}

// Cleaner deletes raw events older than the retention window in bounded
// batches so a large backlog never holds the writer for long.
type Cleaner struct {
	store     EventStore
	retention int
	batchSize int
	metrics   Metrics
	now       func() time.Time
}

// NewCleaner creates a Cleaner. Both settings are clamped.
func NewCleaner(store EventStore, retentionDays, batchSize int, m Metrics) *Cleaner {
	if m == nil {
		m = noopMetrics{}
	}
	return &Cleaner{
		store:     store,
		retention: ClampRetention(retentionDays),
		batchSize: ClampBatchSize(batchSize),
		metrics:   m,
		now:       time.Now,
	}
}

// Run deletes batches until a batch comes back short or ctx is done.
func (c *Cleaner) Run(ctx context.Context) (*CleanupResult, error) {
	res := &CleanupResult{
		Cutoff:        c.now().UTC().AddDate(0, 0, -c.retention),
		RetentionDays: c.retention,
		BatchSize:     c.batchSize,
	}

	ctx, span := tracing.StartCleanupSpan(ctx, c.retention, c.batchSize)
	defer span.End()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := c.store.DeleteEventsBefore(ctx, res.Cutoff, c.batchSize)
		if err != nil {
			tracing.RecordError(ctx, err)
			return res, fmt.Errorf("analytics: cleanup: %w", err)
		}
		res.Batches++
		res.Deleted += n
		c.metrics.RecordPruned(n)
		if n < int64(c.batchSize) {
			break
		}
	}

	if res.Deleted > 0 {
		log.Info().Int64("deleted", res.Deleted).Int("batches", res.Batches).
			Time("cutoff", res.Cutoff).Msg("analytics: pruned expired events")
	}
	return res, nil
}
