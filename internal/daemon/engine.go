package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/jobs"
	"github.com/allaspectsdev/upsell/internal/metrics"
	"github.com/allaspectsdev/upsell/internal/orders"
	"github.com/allaspectsdev/upsell/internal/store"
)

// Job names registered with the scheduler.
const (
	JobAggregate = "aggregate-daily"
	JobCleanup   = "cleanup-events"
)

// SecretResolver turns a key reference from the config into its secret.
type SecretResolver interface {
	ResolveKeyRef(ref string) (string, error)
}

// Engine is the assembled co-purchase and analytics engine over one store.
// The daemon serves it over HTTP; the CLI drives it directly for backfill,
// aggregation and cleanup.
type Engine struct {
	Store   *store.Store
	Orders  *store.OrderSource
	Source  orders.Source
	Counter *store.FBTAdapter
	Events  *store.AnalyticsAdapter
	Metrics *metrics.Collector

	Recommender *fbt.Recommender
	Recorder    *fbt.Recorder
	Backfiller  *fbt.Backfiller

	Registry   *analytics.Registry
	Tracker    *analytics.Tracker
	Aggregator *analytics.Aggregator
	Cleaner    *analytics.Cleaner
	Reporter   *analytics.Reporter
}

// OpenEngine opens the store in the configured data directory and wires
// every engine component. The caller must Close it.
func OpenEngine(ctx context.Context, cfg *config.Config, secrets SecretResolver, collector *metrics.Collector) (*Engine, error) {
	loc, err := cfg.Analytics.Location()
	if err != nil {
		return nil, fmt.Errorf("analytics timezone %q: %w", cfg.Analytics.Timezone, err)
	}

	st, err := store.Open(expandHome(cfg.Server.DatabasePath()))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &Engine{
		Store:   st,
		Orders:  store.NewOrderSource(st, cfg.Orders.CompletedStatuses),
		Counter: store.NewFBTAdapter(st),
		Events:  store.NewAnalyticsAdapter(st),
		Metrics: collector,
	}

	e.Source, err = openSource(ctx, cfg.Orders, e.Orders, secrets)
	if err != nil {
		st.Close()
		return nil, err
	}

	e.Recommender = fbt.NewRecommender(e.Counter, fbt.RecommenderOptions{
		MinCount:     int64(cfg.FBT.MinCoPurchases),
		DefaultLimit: cfg.FBT.RelatedLimit,
		CacheSize:    cfg.FBT.CacheSize,
		CacheTTL:     cfg.FBT.CacheTTL(),
	})
	e.Recorder = fbt.NewRecorder(e.Counter, fbt.RecorderOptions{
		Dedupe:            cfg.FBT.DedupeOrders,
		CompletedStatuses: cfg.Orders.CompletedStatuses,
		Metrics:           collector,
		Invalidator:       e.Recommender,
	})
	e.Backfiller = fbt.NewBackfiller(e.Source, e.Counter, e.Recorder, cfg.FBT.MaxBatchSize, collector)

	e.Registry = analytics.DefaultRegistry()
	e.Tracker = analytics.NewTracker(e.Events, e.Registry, loc, cfg.Analytics.LiveDailyIncrements, collector)
	e.Aggregator = analytics.NewAggregator(e.Events, e.Registry, loc, collector)
	e.Cleaner = analytics.NewCleaner(e.Events, cfg.Analytics.RetentionDays, cfg.Analytics.CleanupBatchSize, collector)
	e.Reporter = analytics.NewReporter(e.Events, e.Registry)

	log.Info().
		Str("db_path", st.Path()).
		Str("order_source", e.Source.Name()).
		Bool("dedupe_orders", cfg.FBT.DedupeOrders).
		Str("timezone", loc.String()).
		Msg("engine ready")
	return e, nil
}

// Close releases the order source and the store.
func (e *Engine) Close() error {
	var errs []error
	if e.Source != nil {
		if err := e.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing order source: %w", err))
		}
	}
	if err := e.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

// Scheduler registers the aggregation and cleanup jobs. A job whose cron is
// empty is left out; nil is returned when no job remains.
func (e *Engine) Scheduler(cfg config.AnalyticsConfig) (*jobs.Scheduler, error) {
	var js []jobs.Job
	if cfg.AggregateCron != "" {
		js = append(js, jobs.Job{Name: JobAggregate, Cron: cfg.AggregateCron, Run: e.Aggregator.AggregateYesterday})
	}
	if cfg.CleanupCron != "" {
		js = append(js, jobs.Job{Name: JobCleanup, Cron: cfg.CleanupCron, Run: func(ctx context.Context) error {
			res, err := e.Cleaner.Run(ctx)
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", res.Deleted).Int("batches", res.Batches).
				Time("cutoff", res.Cutoff).Msg("event cleanup finished")
			return nil
		}})
	}
	if len(js) == 0 {
		return nil, nil
	}
	return jobs.New(e.Aggregator.Location(), js...)
}

// openSource returns the backfill source selected by cfg.Source. The local
// source reads the orders stored by the webhook.
func openSource(ctx context.Context, cfg config.OrdersConfig, local *store.OrderSource, secrets SecretResolver) (orders.Source, error) {
	switch strings.ToLower(cfg.Source) {
	case "", config.SourceLocal:
		return local, nil

	case config.SourceWooCommerce:
		dsn, err := resolveDSN(secrets, cfg.WooCommerce.DSNRef)
		if err != nil {
			return nil, fmt.Errorf("woocommerce dsn: %w", err)
		}
		return orders.NewWooCommerce(ctx, orders.WooCommerceOptions{
			DSN:          dsn,
			TablePrefix:  cfg.WooCommerce.TablePrefix,
			HPOS:         cfg.WooCommerce.HPOS,
			Statuses:     cfg.CompletedStatuses,
			MaxOpenConns: cfg.WooCommerce.MaxOpenConns,
		})

	case config.SourcePostgres:
		dsn, err := resolveDSN(secrets, cfg.Postgres.DSNRef)
		if err != nil {
			return nil, fmt.Errorf("postgres dsn: %w", err)
		}
		return orders.NewPostgres(ctx, orders.PostgresOptions{
			DSN:         dsn,
			OrdersTable: cfg.Postgres.OrdersTable,
			ItemsTable:  cfg.Postgres.ItemsTable,
			Statuses:    cfg.CompletedStatuses,
			MaxConns:    int32(cfg.Postgres.MaxConns),
		})
	}
	return nil, fmt.Errorf("unknown order source %q", cfg.Source)
}

func resolveDSN(secrets SecretResolver, ref string) (string, error) {
	if secrets == nil {
		return "", errors.New("no secret resolver configured")
	}
	dsn, err := secrets.ResolveKeyRef(ref)
	if err != nil {
		return "", err
	}
	if dsn == "" {
		return "", fmt.Errorf("key reference %q resolved to an empty value", ref)
	}
	return dsn, nil
}
