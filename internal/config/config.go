// Package config loads and validates pricedb configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Azure     AzureConfig     `mapstructure:"azure"`
	Regions   []string        `mapstructure:"regions"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Output    OutputConfig    `mapstructure:"output"`
	Database  DatabaseConfig  `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// AzureConfig names the remote endpoints and the filters applied to them.
type AzureConfig struct {
	SubscriptionID       string   `mapstructure:"subscription_id"`
	Token                string   `mapstructure:"token"`
	ManagementEndpoint   string   `mapstructure:"management_endpoint"`
	SKUsAPIVersion       string   `mapstructure:"skus_api_version"`
	LocationsAPIVersion  string   `mapstructure:"locations_api_version"`
	RetailEndpoint       string   `mapstructure:"retail_endpoint"`
	ServiceName          string   `mapstructure:"service_name"`
	PriceType            string   `mapstructure:"price_type"`
	CurrencyCode         string   `mapstructure:"currency_code"`
	ExcludeMeterPatterns []string `mapstructure:"exclude_meters"`
}

// SchedulerConfig governs the region worker pool.
type SchedulerConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	ProgressEvery int `mapstructure:"progress_every"`
}

// HTTPConfig bounds every remote call.
type HTTPConfig struct {
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes          int    `mapstructure:"max_body_bytes"`
	MaxPages              int    `mapstructure:"max_pages"`
	UserAgent             string `mapstructure:"user_agent"`
}

// RateLimitConfig configures the optional per-host limiter.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// OutputConfig selects where the database artifact is written.
type OutputConfig struct {
	Backend      string `mapstructure:"backend"`
	Path         string `mapstructure:"path"`
	ContentType  string `mapstructure:"content_type"`
	Indent       bool   `mapstructure:"indent"`
	BaseDir      string `mapstructure:"base_dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// DatabaseConfig controls the optional Postgres mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Migrate         bool          `mapstructure:"migrate"`
	RecordsTable    string        `mapstructure:"records_table"`
	RunsTable       string        `mapstructure:"runs_table"`
	OutcomesTable   string        `mapstructure:"outcomes_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for build notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BarEnabled    bool                `mapstructure:"bar_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
}

// ProgressBatchConfig tunes hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// ServerConfig controls HTTP server behavior in serve mode.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	RetainRuns int `mapstructure:"retain_runs"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Secrets are usually supplied via env; registering the keys lets AutomaticEnv fill them.
	v.SetDefault("azure.subscription_id", "")
	v.SetDefault("azure.token", "")
	v.SetDefault("azure.management_endpoint", "https://management.azure.com")
	v.SetDefault("azure.skus_api_version", "2021-07-01")
	v.SetDefault("azure.locations_api_version", "2022-12-01")
	v.SetDefault("azure.retail_endpoint", "https://prices.azure.com/api/retail/prices")
	v.SetDefault("azure.service_name", "Virtual Machines")
	v.SetDefault("azure.price_type", "Consumption")
	v.SetDefault("azure.currency_code", "")
	v.SetDefault("azure.exclude_meters", []string{})
	v.SetDefault("regions", []string{})
	v.SetDefault("scheduler.concurrency", 20)
	v.SetDefault("scheduler.progress_every", 5)
	v.SetDefault("http.connect_timeout_seconds", 10)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 64*1024*1024)
	v.SetDefault("http.max_pages", 1000)
	v.SetDefault("http.user_agent", "vm-pricedb/0.1")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.default_rps", 10)
	v.SetDefault("rate_limit.default_burst", 20)
	v.SetDefault("output.backend", "local")
	v.SetDefault("output.path", "vms.json")
	v.SetDefault("output.content_type", "application/json")
	v.SetDefault("output.indent", true)
	v.SetDefault("output.base_dir", ".")
	v.SetDefault("output.bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("output.cache_control", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("db.records_table", "vm_prices")
	v.SetDefault("db.runs_table", "price_runs")
	v.SetDefault("db.outcomes_table", "region_outcomes")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.bar_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.retain_runs", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.ConnectTimeoutSeconds <= 0 || c.HTTP.ConnectTimeoutSeconds > c.HTTP.TimeoutSeconds {
		return fmt.Errorf("http.connect_timeout_seconds must be > 0 and <= http.timeout_seconds")
	}
	if c.HTTP.MaxPages <= 0 {
		return fmt.Errorf("http.max_pages must be > 0")
	}
	switch c.Output.Backend {
	case "local", "memory":
	case "gcs":
		if c.Output.Bucket == "" {
			return fmt.Errorf("output.bucket must be set when output.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown output.backend %q", c.Output.Backend)
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Credentials returns the management API credentials for a run.
func (c Config) Credentials() pricedb.Credentials {
	return pricedb.Credentials{
		Token:          strings.TrimSpace(c.Azure.Token),
		SubscriptionID: strings.TrimSpace(c.Azure.SubscriptionID),
	}
}

// ConnectTimeout is the dial budget of a single call.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutSeconds) * time.Second
}

// RequestTimeout is the overall budget of a single call.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
