package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server
	if cfg.Server.APIPort < 1 || cfg.Server.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.api_port must be between 1 and 65535, got %d", cfg.Server.APIPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Auth
	if cfg.Auth.Enabled && cfg.Auth.TokenRef == "" {
		errs = append(errs, "auth.token_ref must be set when auth.enabled is true")
	}

	// Orders
	switch {
	case !isValidEnum(cfg.Orders.Source, ValidSources):
		errs = append(errs, fmt.Sprintf("orders.source must be one of %v, got %q", ValidSources, cfg.Orders.Source))
	case strings.EqualFold(cfg.Orders.Source, SourceWooCommerce):
		if cfg.Orders.WooCommerce.DSNRef == "" {
			errs = append(errs, "orders.woocommerce.dsn_ref must be set when orders.source is woocommerce")
		}
	case strings.EqualFold(cfg.Orders.Source, SourcePostgres):
		if cfg.Orders.Postgres.DSNRef == "" {
			errs = append(errs, "orders.postgres.dsn_ref must be set when orders.source is postgres")
		}
	}
	if len(cfg.Orders.CompletedStatuses) == 0 {
		errs = append(errs, "orders.completed_statuses must not be empty")
	}
	if cfg.Orders.WooCommerce.MaxOpenConns < 0 {
		errs = append(errs, fmt.Sprintf("orders.woocommerce.max_open_conns must be non-negative, got %d", cfg.Orders.WooCommerce.MaxOpenConns))
	}
	if cfg.Orders.Postgres.MaxConns < 0 {
		errs = append(errs, fmt.Sprintf("orders.postgres.max_conns must be non-negative, got %d", cfg.Orders.Postgres.MaxConns))
	}

	// FBT
	if cfg.FBT.MaxBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("fbt.max_batch_size must be at least 1, got %d", cfg.FBT.MaxBatchSize))
	}
	if cfg.FBT.BackfillBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("fbt.backfill_batch_size must be at least 1, got %d", cfg.FBT.BackfillBatchSize))
	} else if cfg.FBT.MaxBatchSize >= 1 && cfg.FBT.BackfillBatchSize > cfg.FBT.MaxBatchSize {
		errs = append(errs, fmt.Sprintf("fbt.backfill_batch_size (%d) must not exceed fbt.max_batch_size (%d)", cfg.FBT.BackfillBatchSize, cfg.FBT.MaxBatchSize))
	}
	if cfg.FBT.MinCoPurchases < 1 {
		errs = append(errs, fmt.Sprintf("fbt.min_co_purchases must be at least 1, got %d", cfg.FBT.MinCoPurchases))
	}
	if cfg.FBT.RelatedLimit < 1 {
		errs = append(errs, fmt.Sprintf("fbt.related_limit must be at least 1, got %d", cfg.FBT.RelatedLimit))
	}
	if cfg.FBT.CacheSize < 0 {
		errs = append(errs, fmt.Sprintf("fbt.cache_size must be non-negative, got %d", cfg.FBT.CacheSize))
	}
	if cfg.FBT.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Sprintf("fbt.cache_ttl_seconds must be non-negative, got %d", cfg.FBT.CacheTTLSeconds))
	}

	// Analytics
	if _, err := time.LoadLocation(cfg.Analytics.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("analytics.timezone %q is not a known time zone", cfg.Analytics.Timezone))
	}
	if cfg.Analytics.AggregateCron != "" && !gronx.IsValid(cfg.Analytics.AggregateCron) {
		errs = append(errs, fmt.Sprintf("analytics.aggregate_cron %q is not a valid cron expression", cfg.Analytics.AggregateCron))
	}
	if cfg.Analytics.CleanupCron != "" && !gronx.IsValid(cfg.Analytics.CleanupCron) {
		errs = append(errs, fmt.Sprintf("analytics.cleanup_cron %q is not a valid cron expression", cfg.Analytics.CleanupCron))
	}
	if cfg.Analytics.EventsRateLimit < 0 {
		errs = append(errs, fmt.Sprintf("analytics.events_rate_limit must not be negative, got %g", cfg.Analytics.EventsRateLimit))
	}
	if cfg.Analytics.EventsRateLimit > 0 && cfg.Analytics.EventsBurst < 1 {
		errs = append(errs, fmt.Sprintf("analytics.events_burst must be >= 1 when a rate limit is set, got %d", cfg.Analytics.EventsBurst))
	}

	// Tracing
	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	// Metrics
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.path must start with /, got %q", cfg.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, val) {
			return true
		}
	}
	return false
}
