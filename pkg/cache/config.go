package cache

import "time"

// CacheConfig holds configuration for the caching layer.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool `mapstructure:"enabled"`

	// VersionTTL is the TTL for cached version records.
	VersionTTL time.Duration `mapstructure:"versionTTL"`

	// StatsTTL is the TTL for statistics responses.
	StatsTTL time.Duration `mapstructure:"statsTTL"`

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int `mapstructure:"maxSize"`
}

// MaxReplicatedVersionTTL bounds how long a replica may keep serving a
// version that another replica has deleted.
const MaxReplicatedVersionTTL = 30 * time.Second

// ForReplicas returns a copy of c for deployments with several replicas,
// with VersionTTL capped at MaxReplicatedVersionTTL.
func (c CacheConfig) ForReplicas() *CacheConfig {
	if c.VersionTTL > MaxReplicatedVersionTTL {
		c.VersionTTL = MaxReplicatedVersionTTL
	}
	return &c
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:    true,
		VersionTTL: 10 * time.Minute,
		StatsTTL:   15 * time.Second,
		MaxSize:    1000,
	}
}
