// Package config provides configuration loading and validation for apisentry.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/apisentry/internal/database"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/pkg/pathutil"
)

// EnvPrefix prefixes environment overrides, e.g. APISENTRY_SCAN_TIMEOUT.
const EnvPrefix = "APISENTRY"

// DefaultFileName is looked up in the working directory and user config dir.
const DefaultFileName = "apisentry.yaml"

// Config is the complete apisentry configuration.
type Config struct {
	Triage    TriageConfig    `mapstructure:"triage" yaml:"triage"`
	Workspace string          `mapstructure:"workspace" yaml:"workspace"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Import    ImportConfig    `mapstructure:"import" yaml:"import"`
	Scan      ScanConfig      `mapstructure:"scan" yaml:"scan"`
}

// DatabaseConfig selects and tunes the repository backend.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// ScanConfig bounds and throttles scans.
type ScanConfig struct {
	Passive   PassiveConfig `mapstructure:"passive" yaml:"passive"`
	Lock      LockConfig    `mapstructure:"lock" yaml:"lock"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst"`
}

// LockConfig selects the cross-process scan lease. Backend is "none" or "redis".
type LockConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds connection settings for the redis lease.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// PassiveConfig tunes the passive checks.
type PassiveConfig struct {
	SensitiveKeywords []string `mapstructure:"sensitive_keywords" yaml:"sensitive_keywords,omitempty"`
}

// ImportConfig controls the ingestion pipeline and input acquisition.
type ImportConfig struct {
	DefaultSource     string   `mapstructure:"default_source" yaml:"default_source,omitempty"`
	AllowedDirs       []string `mapstructure:"allowed_dirs" yaml:"allowed_dirs,omitempty"`
	S3                S3Config `mapstructure:"s3" yaml:"s3"`
	Concurrency       int      `mapstructure:"concurrency" yaml:"concurrency"`
	MaxBytes          int64    `mapstructure:"max_bytes" yaml:"max_bytes"`
	SpecAsSingleAsset bool     `mapstructure:"spec_as_single_asset" yaml:"spec_as_single_asset"`
}

// S3Config points s3:// input at a region or S3-compatible endpoint.
type S3Config struct {
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// TriageConfig overrides the finding status transition table.
type TriageConfig struct {
	Transitions map[string][]string `mapstructure:"transitions" yaml:"transitions,omitempty"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// ServerConfig configures `apisentry serve`.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workspace: models.DefaultWorkspaceID,
		Database: DatabaseConfig{
			Driver:         string(database.DialectSQLite),
			DSN:            "apisentry.db",
			MaxConnections: 4,
			BusyTimeout:    5 * time.Second,
		},
		Scan: ScanConfig{
			Timeout: 2 * time.Minute,
			Burst:   1,
			Lock: LockConfig{
				Backend: "none",
				Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "apisentry:scan:"},
			},
		},
		Import: ImportConfig{
			Concurrency: 4,
			MaxBytes:    64 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Backend: "slog"},
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "apisentry",
			SampleRate:  1,
			Insecure:    true,
		},
	}
}

// NewViper returns a viper instance with defaults and environment overrides
// registered. Commands bind their flags to it before calling LoadWith.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("workspace", d.Workspace)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.busy_timeout", d.Database.BusyTimeout)
	v.SetDefault("scan.timeout", d.Scan.Timeout)
	v.SetDefault("scan.rate_limit", d.Scan.RateLimit)
	v.SetDefault("scan.burst", d.Scan.Burst)
	v.SetDefault("scan.lock.backend", d.Scan.Lock.Backend)
	v.SetDefault("scan.lock.redis.addr", d.Scan.Lock.Redis.Addr)
	v.SetDefault("scan.lock.redis.password", "")
	v.SetDefault("scan.lock.redis.db", d.Scan.Lock.Redis.DB)
	v.SetDefault("scan.lock.redis.prefix", d.Scan.Lock.Redis.Prefix)
	v.SetDefault("scan.passive.sensitive_keywords", []string{})
	v.SetDefault("import.concurrency", d.Import.Concurrency)
	v.SetDefault("import.default_source", "")
	v.SetDefault("import.spec_as_single_asset", false)
	v.SetDefault("import.max_bytes", d.Import.MaxBytes)
	v.SetDefault("import.allowed_dirs", []string{})
	v.SetDefault("import.s3.region", "")
	v.SetDefault("import.s3.endpoint", "")
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.backend", d.Logging.Backend)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from path, or from apisentry.yaml in the working
// directory or user config directory when path is empty, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith is Load on a caller-prepared viper instance.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		clean, err := pathutil.ValidateConfigPath(path)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(clean)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/apisentry")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}

	if _, err := database.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be positive")
	}
	if c.Scan.RateLimit < 0 {
		return fmt.Errorf("scan.rate_limit must not be negative")
	}
	if c.Scan.Burst < 0 {
		return fmt.Errorf("scan.burst must not be negative")
	}
	switch c.Scan.Lock.Backend {
	case "", "none":
	case "redis":
		if c.Scan.Lock.Redis.Addr == "" {
			return fmt.Errorf("scan.lock.redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("scan.lock.backend must be none or redis, got %q", c.Scan.Lock.Backend)
	}

	if c.Import.Concurrency < 1 {
		return fmt.Errorf("import.concurrency must be at least 1")
	}
	if c.Import.MaxBytes < 1 {
		return fmt.Errorf("import.max_bytes must be positive")
	}

	if _, err := c.Transitions(); err != nil {
		return fmt.Errorf("triage.transitions: %w", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Logging.Backend != "slog" && c.Logging.Backend != "zap" {
		return fmt.Errorf("logging.backend must be slog or zap, got %q", c.Logging.Backend)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

// Transitions returns the configured triage table, or the default one.
func (c *Config) Transitions() (models.Transitions, error) {
	if len(c.Triage.Transitions) == 0 {
		return models.DefaultTransitions(), nil
	}
	return models.ParseTransitions(c.Triage.Transitions)
}

// Write saves the configuration as YAML. Existing files are not overwritten
// unless force is set.
func (c *Config) Write(path string, force bool) error {
	clean, err := pathutil.ValidateConfigPath(path)
	if err != nil {
		return err
	}
	if _, err := pathutil.ValidateOutputPath(clean); err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(clean); err == nil {
			return fmt.Errorf("config file %s already exists", clean)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(clean, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
