package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents stagepool configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Buffer pools, one entry per named pool
	Pools []PoolConfig `yaml:"pools"`

	// Copier configuration
	Copier CopierConfig `yaml:"copier"`

	// Redis configuration (snapshot store is disabled when addr is empty)
	Redis RedisConfig `yaml:"redis"`

	// Snapshot store configuration
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Interval between pool statistics reports
	StatsInterval time.Duration `yaml:"stats_interval"`

	// Graceful shutdown timeout
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	// Port serving /health, /ready and /metrics
	HealthCheckPort int `yaml:"health_check_port"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	// One of debug, info, warn, error
	Level string `yaml:"level"`
}

// PoolConfig represents a single buffer pool
type PoolConfig struct {
	Name string `yaml:"name"`

	// Number of buffers; fixed for the pool's lifetime
	Slots int `yaml:"slots"`

	// Initial capacity of each buffer in bytes
	InitialBufferSize int `yaml:"initial_buffer_size"`

	// Bytes added per growth step
	GrowthIncrement int `yaml:"growth_increment"`

	// Zero buffer contents when a buffer returns to the pool
	ClearOnRelease bool `yaml:"clear_on_release"`
}

// CopierConfig represents copier configuration
type CopierConfig struct {
	// Pool to stage copies in
	Pool string `yaml:"pool"`

	// Codec name: gob, yaml or proto
	Codec string `yaml:"codec"`

	// Compress staged bytes with zstd
	Compress bool `yaml:"compress"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key prefix for Redis keys
	KeyPrefix string `yaml:"key_prefix"`

	// Connection pool configuration
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SnapshotConfig represents snapshot store configuration
type SnapshotConfig struct {
	// Pool to stage snapshots in
	Pool string `yaml:"pool"`

	// Expiration of stored snapshots, 0 keeps them forever
	TTL time.Duration `yaml:"ttl"`

	// Retry configuration
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Circuit breaker configuration
	BreakerMaxFailures int64         `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	// Jaeger collector endpoint, e.g. http://jaeger:14268/api/traces
	// Tracing is disabled when empty
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set default values
	setDefaults(&cfg)

	// Validate configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// ValidateConfig validates the configuration (exported for callers building Config in code)
func ValidateConfig(cfg *Config) error {
	return validateConfig(cfg)
}

// HasPool reports whether a pool with the given name is configured
func (c *Config) HasPool(name string) bool {
	for _, p := range c.Pools {
		if p.Name == name {
			return true
		}
	}
	return false
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.HealthCheckPort < 0 || cfg.Server.HealthCheckPort > 65535 {
		return fmt.Errorf("server.health_check_port must be between 0 and 65535")
	}

	if len(cfg.Pools) == 0 {
		return fmt.Errorf("at least one pool is required")
	}
	seen := make(map[string]bool, len(cfg.Pools))
	for i, p := range cfg.Pools {
		if p.Name == "" {
			return fmt.Errorf("pools[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("pools[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true
		if p.Slots <= 0 {
			return fmt.Errorf("pools[%d].slots must be greater than 0", i)
		}
		if p.InitialBufferSize < 0 {
			return fmt.Errorf("pools[%d].initial_buffer_size must not be negative", i)
		}
		if p.GrowthIncrement <= 0 {
			return fmt.Errorf("pools[%d].growth_increment must be greater than 0", i)
		}
	}

	if !seen[cfg.Copier.Pool] {
		return fmt.Errorf("copier.pool %q is not a configured pool", cfg.Copier.Pool)
	}
	switch cfg.Copier.Codec {
	case "gob", "yaml", "proto":
	default:
		return fmt.Errorf("copier.codec must be one of gob, yaml, proto")
	}

	if cfg.Redis.Addr != "" {
		if cfg.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be greater than 0")
		}
		if !seen[cfg.Snapshot.Pool] {
			return fmt.Errorf("snapshot.pool %q is not a configured pool", cfg.Snapshot.Pool)
		}
		if cfg.Snapshot.TTL < 0 {
			return fmt.Errorf("snapshot.ttl must not be negative")
		}
		if cfg.Snapshot.MaxRetries <= 0 {
			return fmt.Errorf("snapshot.max_retries must be greater than 0")
		}
	}

	if cfg.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be greater than 0")
	}

	// Validate graceful shutdown timeout
	if cfg.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be greater than 0")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Server.HealthCheckPort == 0 {
		cfg.Server.HealthCheckPort = 9090
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Without pools, run the classic single pool: 3 buffers of 1 MiB growing by 1 MiB
	if len(cfg.Pools) == 0 {
		cfg.Pools = []PoolConfig{{Name: "default"}}
	}
	for i := range cfg.Pools {
		p := &cfg.Pools[i]
		if p.Slots == 0 {
			p.Slots = 3
		}
		if p.InitialBufferSize == 0 {
			p.InitialBufferSize = 1 << 20
		}
		if p.GrowthIncrement == 0 {
			p.GrowthIncrement = 1 << 20
		}
	}

	if cfg.Copier.Pool == "" {
		cfg.Copier.Pool = cfg.Pools[0].Name
	}
	if cfg.Copier.Codec == "" {
		cfg.Copier.Codec = "gob"
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "stagepool:"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = 2
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if cfg.Snapshot.Pool == "" {
		cfg.Snapshot.Pool = cfg.Copier.Pool
	}
	if cfg.Snapshot.MaxRetries == 0 {
		cfg.Snapshot.MaxRetries = 3
	}
	if cfg.Snapshot.RetryDelay == 0 {
		cfg.Snapshot.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Snapshot.BreakerMaxFailures == 0 {
		cfg.Snapshot.BreakerMaxFailures = 5
	}
	if cfg.Snapshot.BreakerTimeout == 0 {
		cfg.Snapshot.BreakerTimeout = 10 * time.Second
	}

	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = 30 * time.Second
	}

	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = 30 * time.Second
	}
}
