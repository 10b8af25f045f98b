package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore, e.g. EFM_CACHE__MAX_SIZE sets cache.max_size.
const EnvPrefix = "EFM_"

// DefaultFile is read when present
const DefaultFile = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Pipeline PipelineConfig `koanf:"pipeline"`
	Cache    CacheConfig    `koanf:"cache"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	LazyLoad LazyLoadConfig `koanf:"lazy_load"`
	Remote   RemoteConfig   `koanf:"remote"`
}

type ServerConfig struct {
	Port            int             `koanf:"port"`
	ReadTimeout     time.Duration   `koanf:"read_timeout"`
	WriteTimeout    time.Duration   `koanf:"write_timeout"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	KeyPrefix    string        `koanf:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	SamplingRate   float64 `koanf:"sampling_rate"`
}

// Backend kinds for the remote source
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type PipelineConfig struct {
	Debounce          time.Duration `koanf:"debounce"`
	ServerSide        bool          `koanf:"server_side"`
	Backend           string        `koanf:"backend"`
	SeedFile          string        `koanf:"seed_file"`
	StatisticsEnabled bool          `koanf:"statistics_enabled"`
}

type CacheConfig struct {
	Expiry  time.Duration `koanf:"expiry"`
	MaxSize int           `koanf:"max_size"`
	Shared  bool          `koanf:"shared"`
}

type MonitorConfig struct {
	Enabled        bool             `koanf:"enabled"`
	Thresholds     ThresholdsConfig `koanf:"thresholds"`
	MaxAlerts      int              `koanf:"max_alerts"`
	SampleSize     int              `koanf:"sample_size"`
	MemoryInterval time.Duration    `koanf:"memory_interval"`
}

type ThresholdsConfig struct {
	RenderTime   time.Duration `koanf:"render_time"`
	FilterTime   time.Duration `koanf:"filter_time"`
	QueryTime    time.Duration `koanf:"query_time"`
	CacheHitRate float64       `koanf:"cache_hit_rate"`
	MemoryMB     float64       `koanf:"memory_mb"`
}

type LazyLoadConfig struct {
	Enabled  bool          `koanf:"enabled"`
	PageSize int           `koanf:"page_size"`
	Latency  time.Duration `koanf:"latency"`
}

type RemoteConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "efm:results:",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "esa-forecast-manager",
			ServiceVersion: "dev",
			OTLPEndpoint:   "localhost:4317",
			SamplingRate:   1.0,
		},
		Pipeline: PipelineConfig{
			Debounce:          300 * time.Millisecond,
			ServerSide:        true,
			Backend:           BackendMemory,
			StatisticsEnabled: true,
		},
		Cache: CacheConfig{
			Expiry:  5 * time.Minute,
			MaxSize: 100,
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Thresholds: ThresholdsConfig{
				RenderTime:   16 * time.Millisecond,
				FilterTime:   100 * time.Millisecond,
				QueryTime:    time.Second,
				CacheHitRate: 70,
				MemoryMB:     100,
			},
			MaxAlerts:      10,
			SampleSize:     100,
			MemoryInterval: 5 * time.Second,
		},
		LazyLoad: LazyLoadConfig{
			Enabled:  true,
			PageSize: 50,
			Latency:  100 * time.Millisecond,
		},
		Remote: RemoteConfig{
			RequestsPerSecond: 20,
			Burst:             5,
		},
	}
}

// Load reads defaults, then DefaultFile, then EFM_ environment variables
func Load() (*Config, error) {
	return LoadFile(DefaultFile)
}

// LoadFile is Load with an explicit config file path. A missing file is not an
// error; a malformed one is.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Server.RateLimit.RequestsPerSecond > 0, "server.rate_limit.requests_per_second must be positive")
	check(c.Server.RateLimit.BurstSize > 0, "server.rate_limit.burst_size must be positive")
	check(c.Pipeline.Debounce >= 0, "pipeline.debounce must not be negative")
	check(c.Pipeline.Backend == BackendMemory || c.Pipeline.Backend == BackendPostgres,
		"pipeline.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Pipeline.Backend)
	check(c.Pipeline.Backend != BackendPostgres || c.Database.URL != "", "database.url is required for the postgres backend")
	check(c.Cache.Expiry > 0, "cache.expiry must be positive")
	check(c.Cache.MaxSize > 0, "cache.max_size must be positive")
	check(!c.Cache.Shared || c.Redis.URL != "", "redis.url is required when cache.shared is set")
	check(c.Monitor.MaxAlerts > 0, "monitor.max_alerts must be positive")
	check(c.Monitor.SampleSize > 0, "monitor.sample_size must be positive")
	check(c.Monitor.MemoryInterval > 0, "monitor.memory_interval must be positive")
	check(c.Monitor.Thresholds.CacheHitRate >= 0 && c.Monitor.Thresholds.CacheHitRate <= 100,
		"monitor.thresholds.cache_hit_rate must be a percentage")
	check(c.LazyLoad.PageSize > 0, "lazy_load.page_size must be positive")
	check(c.LazyLoad.Latency >= 0, "lazy_load.latency must not be negative")
	check(c.Remote.RequestsPerSecond > 0, "remote.requests_per_second must be positive")
	check(c.Remote.Burst > 0, "remote.burst must be positive")
	check(c.Telemetry.SamplingRate >= 0 && c.Telemetry.SamplingRate <= 1, "telemetry.sampling_rate must be within [0, 1]")

	return errors.Join(errs...)
}
