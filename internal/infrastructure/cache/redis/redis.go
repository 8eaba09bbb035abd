// Package redis is a shared point-read cache backed by go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Config selects the server and key namespace.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Cache stores entries under Prefix with a fixed TTL.
type Cache struct {
	c      *rdb.Client
	prefix string
	ttl    time.Duration
}

// New connects lazily; use Ping to verify the server.
func New(cfg Config) *Cache {
	return &Cache{
		c:      rdb.NewClient(&rdb.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

func (r *Cache) key(k string) string {
	return r.prefix + k
}

func (r *Cache) Get(ctx context.Context, k string) ([]byte, bool, error) {
	b, err := r.c.Get(ctx, r.key(k)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

func (r *Cache) Set(ctx context.Context, k string, v []byte) error {
	if err := r.c.Set(ctx, r.key(k), v, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Cache) Delete(ctx context.Context, k string) error {
	if err := r.c.Del(ctx, r.key(k)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping verifies the server is reachable.
func (r *Cache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Cache) Close() error {
	return r.c.Close()
}
