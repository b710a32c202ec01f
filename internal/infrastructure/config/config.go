package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App   AppConfig
	Log   LogConfig
	ERP   ERPConfig
	Redis RedisConfig
	Sync  SyncConfig
	Store StoreConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// ERPConfig holds the remote accounting system connection settings
type ERPConfig struct {
	Enabled     bool
	BaseURL     string
	Database    string
	Username    string
	Password    string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	CacheTTL    time.Duration // session cache time-to-live
}

// RedisConfig holds Redis connection settings for the shared session cache
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// SyncConfig holds integration service behavior settings
type SyncConfig struct {
	// RejectConcurrent makes the idempotency guard reject a second in-flight
	// request for the same record instead of waiting and reusing the result.
	RejectConcurrent bool
	// ValidateAfterSync posts invoices remotely after every successful sync.
	ValidateAfterSync bool
	// BulkLimit caps how many records one sync-all pass processes (0 = all).
	BulkLimit int
}

// StoreConfig holds the reference record store settings
type StoreConfig struct {
	Path string // sqlite database path, ":memory:" for ephemeral
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ERPSYNC_ prefix (e.g., ERPSYNC_ERP_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/erpsync")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ERPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		ERP: ERPConfig{
			Enabled:     v.GetBool("erp.enabled"),
			BaseURL:     v.GetString("erp.base_url"),
			Database:    v.GetString("erp.database"),
			Username:    v.GetString("erp.username"),
			Password:    v.GetString("erp.password"),
			APIKey:      v.GetString("erp.api_key"),
			Timeout:     v.GetDuration("erp.timeout"),
			MaxRetries:  v.GetInt("erp.max_retries"),
			BackoffBase: v.GetDuration("erp.backoff_base"),
			BackoffMax:  v.GetDuration("erp.backoff_max"),
			CacheTTL:    v.GetDuration("erp.cache_ttl"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Sync: SyncConfig{
			RejectConcurrent:  v.GetBool("sync.reject_concurrent"),
			ValidateAfterSync: v.GetBool("sync.validate_after_sync"),
			BulkLimit:         v.GetInt("sync.bulk_limit"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erpsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.ERP.Timeout == 0 {
		cfg.ERP.Timeout = 30 * time.Second
	}
	if cfg.ERP.MaxRetries == 0 {
		cfg.ERP.MaxRetries = 3
	}
	if cfg.ERP.BackoffBase == 0 {
		cfg.ERP.BackoffBase = time.Second
	}
	if cfg.ERP.BackoffMax == 0 {
		cfg.ERP.BackoffMax = 30 * time.Second
	}
	if cfg.ERP.CacheTTL == 0 {
		cfg.ERP.CacheTTL = time.Hour
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "erpsync.db"
	}
}

// validate checks configuration consistency
func (c *Config) validate() error {
	if c.ERP.Enabled {
		if c.ERP.BaseURL == "" {
			return fmt.Errorf("erp.base_url is required when erp.enabled is true")
		}
		if _, err := url.Parse(c.ERP.BaseURL); err != nil {
			return fmt.Errorf("erp.base_url is not a valid URL: %w", err)
		}
		if c.ERP.Database == "" {
			return fmt.Errorf("erp.database is required when erp.enabled is true")
		}
		if c.ERP.Username == "" {
			return fmt.Errorf("erp.username is required when erp.enabled is true")
		}
		if c.ERP.Password == "" && c.ERP.APIKey == "" {
			return fmt.Errorf("erp.password or erp.api_key is required when erp.enabled is true")
		}
	}
	if c.ERP.MaxRetries < 0 {
		return fmt.Errorf("erp.max_retries cannot be negative")
	}
	if c.ERP.BackoffMax < c.ERP.BackoffBase {
		return fmt.Errorf("erp.backoff_max (%s) cannot be below erp.backoff_base (%s)",
			c.ERP.BackoffMax, c.ERP.BackoffBase)
	}
	if c.Sync.BulkLimit < 0 {
		return fmt.Errorf("sync.bulk_limit cannot be negative")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.ERP.Enabled && strings.HasPrefix(c.ERP.BaseURL, "http://") {
			return fmt.Errorf("erp.base_url must use https in production")
		}
	}

	return nil
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
