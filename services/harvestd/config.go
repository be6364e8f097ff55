package harvestd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
	"github.com/i-mwangi/chai-project-sub002/storage/sqlstore"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses durations from TOML strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for harvestd.
type Config struct {
	ListenAddress   string             `yaml:"listen" toml:"Listen"`
	Environment     string             `yaml:"env" toml:"Env"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout" toml:"ShutdownTimeout"`
	RequestTimeout  Duration           `yaml:"request_timeout" toml:"RequestTimeout"`
	MaxConnections  int                `yaml:"max_connections" toml:"MaxConnections"`
	AdminToken      string             `yaml:"admin_token" toml:"AdminToken"`
	AdminTokenFile  string             `yaml:"admin_token_file" toml:"AdminTokenFile"`
	Paused          []string           `yaml:"paused" toml:"Paused"`
	Log             LogConfig          `yaml:"log" toml:"log"`
	Storage         StorageConfig      `yaml:"storage" toml:"storage"`
	Ledger          LedgerConfig       `yaml:"ledger" toml:"ledger"`
	Pricing         PricingConfig      `yaml:"pricing" toml:"pricing"`
	Lending         lending.Config     `yaml:"lending" toml:"lending"`
	Distribution    DistributionConfig `yaml:"distribution" toml:"distribution"`
	RateLimit       RateLimitConfig    `yaml:"rate_limit" toml:"rate_limit"`
	Webhook         WebhookConfig      `yaml:"webhook" toml:"webhook"`
	Telemetry       TelemetryConfig    `yaml:"telemetry" toml:"telemetry"`
}

// LogConfig controls log verbosity and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level" toml:"Level"`
	File       string `yaml:"file" toml:"File"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"MaxSizeMB"`
	MaxBackups int    `yaml:"max_backups" toml:"MaxBackups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"MaxAgeDays"`
}

// StorageConfig selects the persistence backend. "memory" keeps state in
// process; "sqlite" and "postgres" go through GORM.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"Driver"`
	DSN    string `yaml:"dsn" toml:"DSN"`
}

// LedgerConfig bounds every ledger call.
type LedgerConfig struct {
	Timeout Duration `yaml:"timeout" toml:"Timeout"`
}

// PricingConfig seeds the manual price feed.
type PricingConfig struct {
	MaxAge Duration          `yaml:"max_age" toml:"MaxAge"`
	Prices map[string]string `yaml:"prices" toml:"prices"`
}

// DistributionConfig overrides the distribution engine defaults.
type DistributionConfig struct {
	InvestorRatio  string   `yaml:"investor_ratio" toml:"InvestorRatio"`
	Asset          string   `yaml:"asset" toml:"Asset"`
	ReserveAccount string   `yaml:"reserve_account" toml:"ReserveAccount"`
	Precision      int32    `yaml:"precision" toml:"Precision"`
	FundOnCreate   *bool    `yaml:"fund_on_create" toml:"FundOnCreate"`
	BatchSize      int      `yaml:"batch_size" toml:"BatchSize"`
	MaxAttempts    int      `yaml:"max_attempts" toml:"MaxAttempts"`
	MinBackoff     Duration `yaml:"min_backoff" toml:"MinBackoff"`
	MaxBackoff     Duration `yaml:"max_backoff" toml:"MaxBackoff"`
}

// RateLimitConfig applies a per-client token bucket to the API.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"RequestsPerMinute"`
	Burst             int     `yaml:"burst" toml:"Burst"`
}

// WebhookConfig enables lifecycle notifications.
type WebhookConfig struct {
	Endpoint    string   `yaml:"endpoint" toml:"Endpoint"`
	Secret      string   `yaml:"secret" toml:"Secret"`
	SecretFile  string   `yaml:"secret_file" toml:"SecretFile"`
	MaxAttempts int      `yaml:"max_attempts" toml:"MaxAttempts"`
	MinBackoff  Duration `yaml:"min_backoff" toml:"MinBackoff"`
	MaxBackoff  Duration `yaml:"max_backoff" toml:"MaxBackoff"`
}

// TelemetryConfig wires OTLP exporters. Empty endpoints fall back to the
// OTEL_EXPORTER_OTLP_* environment.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"Endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"Insecure"`
	Metrics     bool    `yaml:"metrics" toml:"Metrics"`
	Traces      bool    `yaml:"traces" toml:"Traces"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"SampleRatio"`
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.normalise(); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DefaultConfig returns an in-memory development configuration.
func DefaultConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8087"
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 15 * time.Second
	}
	if cfg.RequestTimeout.Duration == 0 {
		cfg.RequestTimeout.Duration = 30 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Ledger.Timeout.Duration == 0 {
		cfg.Ledger.Timeout.Duration = 5 * time.Second
	}
	if cfg.Pricing.MaxAge.Duration == 0 {
		cfg.Pricing.MaxAge.Duration = 15 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 60
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

func (cfg *Config) normalise() error {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Storage.DSN = strings.TrimSpace(cfg.Storage.DSN)
	token := strings.TrimSpace(cfg.AdminToken)
	if path := strings.TrimSpace(cfg.AdminTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read admin_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	cfg.AdminToken = token
	secret := strings.TrimSpace(cfg.Webhook.Secret)
	if path := strings.TrimSpace(cfg.Webhook.SecretFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read webhook secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	cfg.Webhook.Secret = secret
	cfg.Webhook.Endpoint = strings.TrimSpace(cfg.Webhook.Endpoint)
	return nil
}

func validateConfig(cfg Config) error {
	switch cfg.Storage.Driver {
	case "memory":
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage dsn must be configured for %s", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Webhook.Endpoint != "" && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret must be configured with an endpoint")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must be non-negative")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be non-negative")
	}
	if _, err := cfg.Lending.Params(); err != nil {
		return err
	}
	if _, err := cfg.Lending.InterestModel(); err != nil {
		return err
	}
	if _, err := cfg.Distribution.Params(); err != nil {
		return err
	}
	for asset, raw := range cfg.Pricing.Prices {
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("pricing: invalid seed price for %s", asset)
		}
	}
	return nil
}

// Params converts the configuration into distribution engine parameters.
func (c DistributionConfig) Params() (distribution.Params, error) {
	params := distribution.DefaultParams()
	if raw := strings.TrimSpace(c.InvestorRatio); raw != "" {
		ratio, err := decimal.NewFromString(raw)
		if err != nil {
			return distribution.Params{}, fmt.Errorf("distribution config: investor_ratio: %w", err)
		}
		if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
			return distribution.Params{}, fmt.Errorf("distribution config: investor_ratio must be within [0, 1]")
		}
		params.InvestorRatio = ratio
	}
	if asset := strings.ToUpper(strings.TrimSpace(c.Asset)); asset != "" {
		params.Asset = asset
	}
	if reserve := strings.TrimSpace(c.ReserveAccount); reserve != "" {
		params.ReserveAccount = reserve
	}
	if c.Precision < 0 {
		return distribution.Params{}, fmt.Errorf("distribution config: precision must not be negative")
	}
	if c.Precision > 0 {
		params.Precision = c.Precision
	}
	if c.FundOnCreate != nil {
		params.FundOnCreate = *c.FundOnCreate
	}
	if c.BatchSize < 0 || c.MaxAttempts < 0 {
		return distribution.Params{}, fmt.Errorf("distribution config: batch_size and max_attempts must not be negative")
	}
	if c.BatchSize > 0 {
		params.BatchSize = c.BatchSize
	}
	if c.MaxAttempts > 0 {
		params.MaxAttempts = c.MaxAttempts
	}
	if c.MinBackoff.Duration > 0 {
		params.MinBackoff = c.MinBackoff.Duration
	}
	if c.MaxBackoff.Duration > 0 {
		params.MaxBackoff = c.MaxBackoff.Duration
	}
	if params.MaxBackoff < params.MinBackoff {
		return distribution.Params{}, fmt.Errorf("distribution config: max_backoff below min_backoff")
	}
	return params, nil
}
