package config

import (
	"fmt"
	"time"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig holds the point-read cache configuration.
type CacheConfig struct {
	Backend         string        `env:"DOCREPO_CACHE_BACKEND" default:"none"`
	TTL             time.Duration `env:"DOCREPO_CACHE_TTL" default:"30s"`
	CleanupInterval time.Duration `env:"DOCREPO_CACHE_CLEANUP_INTERVAL" default:"1m"`

	RedisAddr     string `env:"DOCREPO_REDIS_ADDR"`
	RedisPassword string `env:"DOCREPO_REDIS_PASSWORD"`
	RedisDB       int    `env:"DOCREPO_REDIS_DB"`
	RedisPrefix   string `env:"DOCREPO_REDIS_PREFIX" default:"docrepo:"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("DOCREPO_REDIS_ADDR is required when DOCREPO_CACHE_BACKEND is %q", CacheRedis)
		}
	default:
		return fmt.Errorf("unknown DOCREPO_CACHE_BACKEND: %s", c.Backend)
	}
	return nil
}
