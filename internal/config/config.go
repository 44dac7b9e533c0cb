package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the delivery engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Batch     BatchConfig     `yaml:"batch"`
	Retry     RetryConfig     `yaml:"retry"`
	Cache     CacheConfig     `yaml:"cache"`
	Reports   ReportsConfig   `yaml:"reports"`
	Rollup    RollupConfig    `yaml:"rollup"`
	Transport TransportConfig `yaml:"transport"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig holds durable queue and worker pool settings.
type QueueConfig struct {
	Workers             int `yaml:"workers"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	CleanGraceMinutes   int `yaml:"clean_grace_minutes"`
}

// BatchConfig holds recipient batching settings.
type BatchConfig struct {
	Size int `yaml:"size"`
}

// RetryConfig holds campaign retry eligibility settings.
type RetryConfig struct {
	// FailureRateThreshold is the minimum failure-rate percentage a sent
	// campaign must exceed to be eligible for retry.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
}

// CacheConfig holds cache TTL and refresh-ahead settings.
type CacheConfig struct {
	DefaultTTLSeconds   int     `yaml:"default_ttl_seconds"`
	DashboardTTLSeconds int     `yaml:"dashboard_ttl_seconds"`
	ReportTTLSeconds    int     `yaml:"report_ttl_seconds"`
	RefreshThreshold    float64 `yaml:"refresh_threshold"`
}

// ReportsConfig holds query-planner settings for the report service.
type ReportsConfig struct {
	// AggregateCoverage is the minimum fraction of requested days the
	// daily-aggregate store must cover before the fast path is used.
	AggregateCoverage float64 `yaml:"aggregate_coverage"`
}

// RollupConfig holds nightly aggregation settings.
type RollupConfig struct {
	// HourUTC is the hour of day (UTC) the nightly rollup runs.
	HourUTC int `yaml:"hour_utc"`
}

// TransportConfig holds the external batch-send provider settings.
type TransportConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// DashboardTTL returns the dashboard cache TTL as a duration.
func (c *Config) DashboardTTL() time.Duration {
	return time.Duration(c.Cache.DashboardTTLSeconds) * time.Second
}

// ReportTTL returns the campaign report cache TTL as a duration.
func (c *Config) ReportTTL() time.Duration {
	return time.Duration(c.Cache.ReportTTLSeconds) * time.Second
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.PollIntervalSeconds == 0 {
		cfg.Queue.PollIntervalSeconds = 2
	}
	if cfg.Queue.CleanGraceMinutes == 0 {
		cfg.Queue.CleanGraceMinutes = 60
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 100
	}
	if cfg.Retry.FailureRateThreshold == 0 {
		cfg.Retry.FailureRateThreshold = 10
	}
	if cfg.Cache.DefaultTTLSeconds == 0 {
		cfg.Cache.DefaultTTLSeconds = 300
	}
	if cfg.Cache.DashboardTTLSeconds == 0 {
		cfg.Cache.DashboardTTLSeconds = 60
	}
	if cfg.Cache.ReportTTLSeconds == 0 {
		cfg.Cache.ReportTTLSeconds = 120
	}
	if cfg.Cache.RefreshThreshold == 0 {
		cfg.Cache.RefreshThreshold = 0.2
	}
	if cfg.Reports.AggregateCoverage == 0 {
		cfg.Reports.AggregateCoverage = 0.8
	}
	if cfg.Rollup.HourUTC == 0 {
		cfg.Rollup.HourUTC = 2
	}
	if cfg.Transport.TimeoutSeconds == 0 {
		cfg.Transport.TimeoutSeconds = 30
	}
	if cfg.Transport.MaxRetries == 0 {
		cfg.Transport.MaxRetries = 3
	}
}

// LoadFromEnv loads config from a YAML file, then overrides settings from
// the environment. A .env file is loaded first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRANSPORT_BASE_URL"); v != "" {
		cfg.Transport.BaseURL = v
	}
	if v := os.Getenv("TRANSPORT_API_KEY"); v != "" {
		cfg.Transport.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Workers = n
		}
	}
	if v := os.Getenv("RETRY_FAILURE_RATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.FailureRateThreshold = f
		}
	}

	return cfg, nil
}
