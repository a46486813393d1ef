package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/daemon"
	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/metrics"
)

// openEngine loads the config and opens the engine for a one-shot command.
// Engine logs go to stderr at warn level so command output stays readable.
func (e *cliEnv) openEngine(ctx context.Context) (*config.Config, *daemon.Engine, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	eng, err := daemon.OpenEngine(ctx, cfg, e.vault, metrics.NewCollector())
	if err != nil {
		return nil, nil, err
	}
	return cfg, eng, nil
}

func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// BackfillCommand builds co-purchase statistics from historical orders.
type BackfillCommand struct {
	BatchSize int  `short:"b" long:"batch-size" description:"Orders per batch (default fbt.backfill_batch_size)"`
	Resume    bool `long:"resume" description:"Continue from the stored watermark instead of starting a new run"`
	Reset     bool `long:"reset" description:"Clear all co-purchase statistics and backfill state, then exit"`
	Status    bool `long:"status" description:"Print backfill status and exit"`

	env *cliEnv
}

func (c *BackfillCommand) Execute([]string) error {
	if c.Reset && c.Status {
		return errors.New("--reset and --status are mutually exclusive")
	}
	ctx, stop := interruptible()
	defer stop()

	cfg, eng, err := c.env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	switch {
	case c.Reset:
		if err := eng.Counter.Reset(ctx); err != nil {
			return err
		}
		c.env.printf("Co-purchase statistics and backfill state cleared\n")
		return nil
	case c.Status:
		st, err := eng.Backfiller.Status(ctx)
		if err != nil {
			return err
		}
		return c.printStatus(st)
	}

	batch := c.BatchSize
	if batch == 0 {
		batch = cfg.FBT.BackfillBatchSize
	}

	if !c.Resume {
		start, err := eng.Backfiller.Start(ctx, batch)
		if err != nil {
			return err
		}
		if !c.env.globals.JSON {
			c.env.printf("Backfilling %d orders from %s (%d already processed, %d batches)\n",
				start.Total, eng.Source.Name(), start.AlreadyProcessed, start.BatchesCount)
		}
	}

	progress := func(r *fbt.BatchResult) {
		if !c.env.globals.JSON {
			c.env.printf("  processed %d, last order %d, remaining %d\n", r.Processed, r.LastOrderID, r.Remaining)
		}
	}
	// Start already reset the watermark, so a fresh run resumes from zero.
	res, err := eng.Backfiller.Run(ctx, batch, true, progress)
	if err != nil {
		if ctx.Err() != nil && res != nil {
			c.env.printf("Interrupted at order %d; run 'upsell backfill --resume' to continue\n", res.LastOrderID)
		}
		return err
	}

	if c.env.globals.JSON {
		return c.env.printJSON(res)
	}
	c.env.printf("Backfill complete: last order %d, %d order errors\n", res.LastOrderID, res.Errors)
	return nil
}

func (c *BackfillCommand) printStatus(st *fbt.Status) error {
	if c.env.globals.JSON {
		return c.env.printJSON(st)
	}
	c.env.printf("Total orders:      %s\n", humanize.Comma(st.Total))
	c.env.printf("Already processed: %s\n", humanize.Comma(st.AlreadyProcessed))
	c.env.printf("Unprocessed:       %s\n", humanize.Comma(st.Unprocessed))
	c.env.printf("Last order ID:     %d\n", st.LastOrderID)
	c.env.printf("Running:           %t\n", st.IsRunning)
	if st.LastRun != nil {
		c.env.printf("Last run:          %s (%s)\n", st.LastRun.Format(time.RFC3339), humanize.Time(*st.LastRun))
	}
	c.env.printf("Errors:            %d\n", st.Errors)
	return nil
}

// AggregateCommand re-aggregates daily analytics rows.
type AggregateCommand struct {
	From string `long:"from" description:"First day to aggregate (YYYY-MM-DD)"`
	To   string `long:"to" description:"Last day to aggregate (YYYY-MM-DD)"`

	env *cliEnv
	now func() time.Time
}

func (c *AggregateCommand) Execute([]string) error {
	ctx, stop := interruptible()
	defer stop()

	_, eng, err := c.env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	from, to := c.From, c.To
	if from == "" && to == "" {
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		from = now().In(eng.Aggregator.Location()).AddDate(0, 0, -1).Format(analytics.DateLayout)
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}

	days, runErr := eng.Aggregator.AggregateRange(ctx, from, to)
	if c.env.globals.JSON {
		if days == nil {
			days = []analytics.DayResult{}
		}
		if err := c.env.printJSON(days); err != nil {
			return err
		}
		return runErr
	}
	for _, d := range days {
		c.env.printf("%s  features=%d orders=%d revenue=%.2f\n", d.Date, d.Features, d.Orders, d.Revenue)
	}
	return runErr
}

// CleanupCommand deletes raw analytics events past retention.
type CleanupCommand struct {
	RetentionDays int `long:"retention-days" description:"Override analytics.retention_days (clamped to 7-365)"`
	BatchSize     int `long:"batch-size" description:"Override analytics.cleanup_batch_size (clamped to 1000-50000)"`

	env *cliEnv
}

func (c *CleanupCommand) Execute([]string) error {
	ctx, stop := interruptible()
	defer stop()

	cfg, eng, err := c.env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	cleaner := eng.Cleaner
	if c.RetentionDays != 0 || c.BatchSize != 0 {
		days, batch := cfg.Analytics.RetentionDays, cfg.Analytics.CleanupBatchSize
		if c.RetentionDays != 0 {
			days = c.RetentionDays
		}
		if c.BatchSize != 0 {
			batch = c.BatchSize
		}
		cleaner = analytics.NewCleaner(eng.Events, days, batch, eng.Metrics)
	}

	res, err := cleaner.Run(ctx)
	if err != nil {
		return err
	}
	if c.env.globals.JSON {
		return c.env.printJSON(res)
	}
	c.env.printf("Deleted %d events older than %s in %d batches (retention %d days, batch size %d)\n",
		res.Deleted, res.Cutoff.Format(time.RFC3339), res.Batches, res.RetentionDays, res.BatchSize)
	return nil
}
