// Package memory is an in-process point-read cache backed by go-cache.
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache keeps entries for a fixed TTL.
type Cache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// New returns a cache whose entries expire after ttl and are swept every cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{c: gocache.New(ttl, cleanupInterval), ttl: ttl}
}

func (m *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (m *Cache) Set(_ context.Context, key string, value []byte) error {
	m.c.Set(key, value, m.ttl)
	return nil
}

func (m *Cache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len is the number of entries, expired ones included until swept.
func (m *Cache) Len() int { return m.c.ItemCount() }
