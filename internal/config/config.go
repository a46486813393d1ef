package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the upsell daemon.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	Auth      AuthConfig      `mapstructure:"auth"      toml:"auth"`
	Orders    OrdersConfig    `mapstructure:"orders"    toml:"orders"`
	FBT       FBTConfig       `mapstructure:"fbt"       toml:"fbt"`
	Analytics AnalyticsConfig `mapstructure:"analytics" toml:"analytics"`
	Tracing   TracingConfig   `mapstructure:"tracing"   toml:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   toml:"metrics"`
}

// ServerConfig holds the HTTP server and process settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	APIPort      int    `mapstructure:"api_port"      toml:"api_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// APIAddr is the listen address of the API server.
func (s ServerConfig) APIAddr() string {
	return s.BindAddress + ":" + strconv.Itoa(s.APIPort)
}

// DatabasePath is the SQLite database inside the data directory.
func (s ServerConfig) DatabasePath() string {
	return filepath.Join(s.DataDir, DefaultDatabaseFilename)
}

// AuthConfig holds the API authentication settings. TokenRef is a vault key
// reference, never the token itself.
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"   toml:"enabled"`
	TokenRef string `mapstructure:"token_ref" toml:"token_ref"`
}

// OrdersConfig selects where completed orders are read from.
type OrdersConfig struct {
	Source            string            `mapstructure:"source"             toml:"source"`
	CompletedStatuses []string          `mapstructure:"completed_statuses" toml:"completed_statuses"`
	WooCommerce       WooCommerceConfig `mapstructure:"woocommerce"        toml:"woocommerce"`
	Postgres          PostgresConfig    `mapstructure:"postgres"           toml:"postgres"`
}

// WooCommerceConfig points at a WooCommerce MySQL database.
type WooCommerceConfig struct {
	DSNRef       string `mapstructure:"dsn_ref"        toml:"dsn_ref"`
	TablePrefix  string `mapstructure:"table_prefix"   toml:"table_prefix"`
	HPOS         bool   `mapstructure:"hpos"           toml:"hpos"`
	MaxOpenConns int    `mapstructure:"max_open_conns" toml:"max_open_conns"`
}

// PostgresConfig points at a Postgres commerce schema.
type PostgresConfig struct {
	DSNRef      string `mapstructure:"dsn_ref"      toml:"dsn_ref"`
	OrdersTable string `mapstructure:"orders_table" toml:"orders_table"`
	ItemsTable  string `mapstructure:"items_table"  toml:"items_table"`
	MaxConns    int    `mapstructure:"max_conns"    toml:"max_conns"`
}

// FBTConfig controls the co-purchase engine.
type FBTConfig struct {
	DedupeOrders      bool `mapstructure:"dedupe_orders"       toml:"dedupe_orders"`
	BackfillBatchSize int  `mapstructure:"backfill_batch_size" toml:"backfill_batch_size"`
	MaxBatchSize      int  `mapstructure:"max_batch_size"      toml:"max_batch_size"`
	MinCoPurchases    int  `mapstructure:"min_co_purchases"    toml:"min_co_purchases"`
	RelatedLimit      int  `mapstructure:"related_limit"       toml:"related_limit"`
	CacheSize         int  `mapstructure:"cache_size"          toml:"cache_size"`
	CacheTTLSeconds   int  `mapstructure:"cache_ttl_seconds"   toml:"cache_ttl_seconds"`
}

// CacheTTL returns the related-products cache TTL.
func (f FBTConfig) CacheTTL() time.Duration {
	return time.Duration(f.CacheTTLSeconds) * time.Second
}

// AnalyticsConfig controls event tracking, aggregation and retention.
//
// RetentionDays and CleanupBatchSize are clamped by the cleaner rather than
// rejected here.
type AnalyticsConfig struct {
	Timezone            string `mapstructure:"timezone"              toml:"timezone"`
	RetentionDays       int    `mapstructure:"retention_days"        toml:"retention_days"`
	CleanupBatchSize    int    `mapstructure:"cleanup_batch_size"    toml:"cleanup_batch_size"`
	AggregateCron       string `mapstructure:"aggregate_cron"        toml:"aggregate_cron"`
	CleanupCron         string `mapstructure:"cleanup_cron"          toml:"cleanup_cron"`
	LiveDailyIncrements bool   `mapstructure:"live_daily_increments" toml:"live_daily_increments"`

	// EventsRateLimit caps event tracking calls per client IP per second;
	// zero disables the limit.
	EventsRateLimit float64 `mapstructure:"events_rate_limit" toml:"events_rate_limit"`
	EventsBurst     int     `mapstructure:"events_burst"      toml:"events_burst"`
}

// Location resolves Timezone. An empty timezone means UTC.
func (a AnalyticsConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Path    string `mapstructure:"path"    toml:"path"`
}

// Load reads configuration with the following precedence:
//  1. Environment variables (UPSELL_ prefix, _ as separator), including
//     variables from a .env file in the working directory
//  2. The file at explicitPath if non-empty
//  3. ~/.upsell/upsell.toml
//  4. ./upsell.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigType("toml")
	setViperDefaults(v)

	v.SetEnvPrefix("UPSELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".upsell"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("upsell")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// DefaultDir returns ~/.upsell.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(homeDir, ".upsell"), nil
}

// InitConfig writes the default configuration file to ~/.upsell/upsell.toml
// and returns its path. An existing file is left untouched and created is false.
func InitConfig() (path string, created bool, err error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", false, fmt.Errorf("creating data directory: %w", err)
	}

	path = filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := writeTOML(path, DefaultConfig()); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	return writeTOML(path, Get())
}

// ImportConfig reads a TOML config file, validates it and makes it current.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		if err := writeTOML(dest, cfg); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

func writeTOML(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.api_port", d.Server.APIPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token_ref", d.Auth.TokenRef)

	v.SetDefault("orders.source", d.Orders.Source)
	v.SetDefault("orders.completed_statuses", d.Orders.CompletedStatuses)
	v.SetDefault("orders.woocommerce.dsn_ref", d.Orders.WooCommerce.DSNRef)
	v.SetDefault("orders.woocommerce.table_prefix", d.Orders.WooCommerce.TablePrefix)
	v.SetDefault("orders.woocommerce.hpos", d.Orders.WooCommerce.HPOS)
	v.SetDefault("orders.woocommerce.max_open_conns", d.Orders.WooCommerce.MaxOpenConns)
	v.SetDefault("orders.postgres.dsn_ref", d.Orders.Postgres.DSNRef)
	v.SetDefault("orders.postgres.orders_table", d.Orders.Postgres.OrdersTable)
	v.SetDefault("orders.postgres.items_table", d.Orders.Postgres.ItemsTable)
	v.SetDefault("orders.postgres.max_conns", d.Orders.Postgres.MaxConns)

	v.SetDefault("fbt.dedupe_orders", d.FBT.DedupeOrders)
	v.SetDefault("fbt.backfill_batch_size", d.FBT.BackfillBatchSize)
	v.SetDefault("fbt.max_batch_size", d.FBT.MaxBatchSize)
	v.SetDefault("fbt.min_co_purchases", d.FBT.MinCoPurchases)
	v.SetDefault("fbt.related_limit", d.FBT.RelatedLimit)
	v.SetDefault("fbt.cache_size", d.FBT.CacheSize)
	v.SetDefault("fbt.cache_ttl_seconds", d.FBT.CacheTTLSeconds)

	v.SetDefault("analytics.timezone", d.Analytics.Timezone)
	v.SetDefault("analytics.retention_days", d.Analytics.RetentionDays)
	v.SetDefault("analytics.cleanup_batch_size", d.Analytics.CleanupBatchSize)
	v.SetDefault("analytics.aggregate_cron", d.Analytics.AggregateCron)
	v.SetDefault("analytics.cleanup_cron", d.Analytics.CleanupCron)
	v.SetDefault("analytics.live_daily_increments", d.Analytics.LiveDailyIncrements)
	v.SetDefault("analytics.events_rate_limit", d.Analytics.EventsRateLimit)
	v.SetDefault("analytics.events_burst", d.Analytics.EventsBurst)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
