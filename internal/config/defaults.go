package config

// DefaultBindAddress is the default bind address (localhost only).
const DefaultBindAddress = "127.0.0.1"

// DefaultAPIPort is the default port of the API server.
const DefaultAPIPort = 7690

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.upsell"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "upsell.toml"

// DefaultDatabaseFilename is the SQLite file inside the data directory.
const DefaultDatabaseFilename = "upsell.db"

const (
	DefaultReadTimeout  = 10  // seconds
	DefaultWriteTimeout = 120 // seconds; one backfill batch must fit
	DefaultIdleTimeout  = 120 // seconds
	DefaultMaxBodySize  = 5 << 20
)

// Order sources.
const (
	SourceLocal       = "local"
	SourceWooCommerce = "woocommerce"
	SourcePostgres    = "postgres"
)

const (
	DefaultBackfillBatchSize = 100
	DefaultMaxBatchSize      = 1000
	DefaultMinCoPurchases    = 1
	DefaultRelatedLimit      = 10
	DefaultRelatedCacheSize  = 4096
	DefaultRelatedCacheTTL   = 300
)

const (
	DefaultRetentionDays    = 30
	DefaultCleanupBatchSize = 10000

	// DefaultAggregateCron runs shortly after local midnight for the day
	// that just ended.
	DefaultAggregateCron = "15 0 * * *"
	DefaultCleanupCron   = "30 3 * * *"

	DefaultEventsRateLimit = 20.0 // per client IP per second
	DefaultEventsBurst     = 40
)

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "upsell"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultMetricsPath is where Prometheus metrics are served.
const DefaultMetricsPath = "/metrics"

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidSources lists the allowed orders.source values.
var ValidSources = []string{SourceLocal, SourceWooCommerce, SourcePostgres}

// ValidExporters lists the allowed tracing exporters.
var ValidExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			APIPort:      DefaultAPIPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenRef: "keyring://upsell/api_token",
		},
		Orders: OrdersConfig{
			Source:            SourceLocal,
			CompletedStatuses: []string{"completed"},
			WooCommerce: WooCommerceConfig{
				DSNRef:       "keyring://upsell/woocommerce_dsn",
				TablePrefix:  "wp_",
				HPOS:         true,
				MaxOpenConns: 4,
			},
			Postgres: PostgresConfig{
				DSNRef:      "env:UPSELL_POSTGRES_DSN",
				OrdersTable: "orders",
				ItemsTable:  "order_items",
				MaxConns:    4,
			},
		},
		FBT: FBTConfig{
			DedupeOrders:      true,
			BackfillBatchSize: DefaultBackfillBatchSize,
			MaxBatchSize:      DefaultMaxBatchSize,
			MinCoPurchases:    DefaultMinCoPurchases,
			RelatedLimit:      DefaultRelatedLimit,
			CacheSize:         DefaultRelatedCacheSize,
			CacheTTLSeconds:   DefaultRelatedCacheTTL,
		},
		Analytics: AnalyticsConfig{
			Timezone:            "UTC",
			RetentionDays:       DefaultRetentionDays,
			CleanupBatchSize:    DefaultCleanupBatchSize,
			AggregateCron:       DefaultAggregateCron,
			CleanupCron:         DefaultCleanupCron,
			LiveDailyIncrements: true,
			EventsRateLimit:     DefaultEventsRateLimit,
			EventsBurst:         DefaultEventsBurst,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}
