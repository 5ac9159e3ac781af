// Package config loads the daemon's YAML-shaped configuration tree
// (backend selection and policy knobs) and validates it into the
// already-validated Go structs the core packages consume
// (bucket/backends/ratelimiter). It is deliberately opaque to those
// packages: nothing downstream of BuildBackend/BuildRateLimiter knows YAML
// exists.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendKind selects which storage implementation backs the rate limiter.
type BackendKind string

const (
	BackendMemory       BackendKind = "in-process"
	BackendRedis        BackendKind = "redis"
	BackendRedisCluster BackendKind = "redis-cluster"
	BackendPostgres     BackendKind = "postgres"
)

// RedisConfig configures a single-node Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RedisClusterConfig configures the ring-sharded Redis variant.
type RedisClusterConfig struct {
	Nodes map[string]string `yaml:"nodes"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	MaxConns   int32  `yaml:"max_conns"`
}

// WrapperConfig configures the optional batching/caching decorators
// layered in front of a distributed backend.
type WrapperConfig struct {
	BatchSize int64         `yaml:"batch_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// LimitConfig is the bucket shape applied to every key under one limiter.
type LimitConfig struct {
	Capacity       int64         `yaml:"capacity"`
	RefillRate     int64         `yaml:"refill_rate"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config is the top-level YAML document.
type Config struct {
	Backend BackendKind `yaml:"backend"`

	Redis        RedisConfig        `yaml:"redis"`
	RedisCluster RedisClusterConfig `yaml:"redis_cluster"`
	Postgres     PostgresConfig     `yaml:"postgres"`

	Batching *WrapperConfig `yaml:"batching"`
	Caching  *WrapperConfig `yaml:"caching"`

	Limit LimitConfig `yaml:"limit"`

	// FailOpen: when true, backend errors admit the request instead of
	// propagating; when false, they're rejected as internal errors.
	FailOpen bool `yaml:"fail_open"`

	ListenAddr string `yaml:"listen_addr"`
}

// Parse decodes a YAML document into a Config and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the decoded tree for internal consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required for backend %q", c.Backend)
		}
	case BackendRedisCluster:
		if len(c.RedisCluster.Nodes) == 0 {
			return fmt.Errorf("config: redis_cluster.nodes must be non-empty for backend %q", c.Backend)
		}
	case BackendPostgres:
		if c.Postgres.ConnString == "" {
			return fmt.Errorf("config: postgres.conn_string is required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("config: unknown backend kind %q", c.Backend)
	}

	if c.Limit.Capacity < 0 {
		return fmt.Errorf("config: limit.capacity must be non-negative")
	}
	if c.Limit.RefillRate < 0 {
		return fmt.Errorf("config: limit.refill_rate must be non-negative")
	}
	if c.Batching != nil && c.Batching.BatchSize <= 0 {
		return fmt.Errorf("config: batching.batch_size must be positive when batching is enabled")
	}
	if c.Caching != nil && c.Caching.CacheTTL <= 0 {
		return fmt.Errorf("config: caching.cache_ttl must be positive when caching is enabled")
	}
	return nil
}
