package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metering MeteringConfig `mapstructure:"metering"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Feed     FeedConfig     `mapstructure:"feed"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines the payer-ledger backend
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "memory", "bolt" or "redis"
	Path  string      `mapstructure:"path"` // bolt database path
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MeteringConfig defines the tick loop and cap policy
type MeteringConfig struct {
	TickInterval    string `mapstructure:"tick_interval"`
	AutoStop        bool   `mapstructure:"auto_stop"`
	DefaultCurrency string `mapstructure:"default_currency"`
	DefaultUnit     string `mapstructure:"default_unit"`
}

// RatesConfig defines the rate table seed and refresh cadence
type RatesConfig struct {
	RefreshInterval string             `mapstructure:"refresh_interval"`
	Fiat            map[string]float64 `mapstructure:"fiat"`
	Units           map[string]float64 `mapstructure:"units"`
}

// FeedConfig defines the live-update hub
type FeedConfig struct {
	BufferSize      int `mapstructure:"buffer_size"`
	ReplayCacheSize int `mapstructure:"replay_cache_size"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("NANOBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper lowercases map keys read from files; currency and unit codes
	// are matched case-sensitively everywhere else, so restore upper case.
	config.Rates.Fiat = upperKeys(config.Rates.Fiat)
	config.Rates.Units = upperKeys(config.Rates.Units)

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func upperKeys(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8880)
	v.SetDefault("server.metrics_port", 9098)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.path", "/var/lib/nanobill/ledger.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metering defaults
	v.SetDefault("metering.tick_interval", "100ms")
	v.SetDefault("metering.auto_stop", true)
	v.SetDefault("metering.default_currency", "USD")
	v.SetDefault("metering.default_unit", "ETH")

	// Rates defaults mirror the development feed
	v.SetDefault("rates.refresh_interval", "30s")
	v.SetDefault("rates.fiat", map[string]float64{
		"USD": 1.0,
		"EUR": 0.92,
		"INR": 83.5,
	})
	v.SetDefault("rates.units", map[string]float64{
		"ETH":   2500,
		"USDC":  1,
		"MATIC": 0.8,
	})

	// Feed defaults
	v.SetDefault("feed.buffer_size", 16)
	v.SetDefault("feed.replay_cache_size", 1024)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "memory", "redis":
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "":
		cfg.Storage.Type = "memory"
	default:
		return fmt.Errorf("unsupported storage type: %s (must be memory, bolt or redis)", cfg.Storage.Type)
	}

	if _, err := time.ParseDuration(cfg.Metering.TickInterval); err != nil {
		return fmt.Errorf("invalid tick_interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Rates.RefreshInterval); err != nil {
		return fmt.Errorf("invalid rates refresh_interval: %w", err)
	}
	if cfg.Metering.DefaultCurrency == "" {
		return fmt.Errorf("metering default_currency is required")
	}

	if _, ok := cfg.Rates.Fiat[cfg.Metering.DefaultCurrency]; len(cfg.Rates.Fiat) > 0 && !ok {
		return fmt.Errorf("default currency %s missing from rates.fiat", cfg.Metering.DefaultCurrency)
	}

	if cfg.Feed.BufferSize <= 0 {
		cfg.Feed.BufferSize = 16
	}
	if cfg.Feed.ReplayCacheSize <= 0 {
		cfg.Feed.ReplayCacheSize = 1024
	}

	return nil
}

// TickInterval returns the parsed tick interval.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Metering.TickInterval)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// RatesRefreshInterval returns the parsed refresh interval.
func (c *Config) RatesRefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Rates.RefreshInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
