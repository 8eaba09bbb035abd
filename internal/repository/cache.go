package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rezkam/docrepo/internal/docstore"
)

// Cache stores point-read results. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (nopCache) Set(context.Context, string, []byte) error         { return nil }
func (nopCache) Delete(context.Context, string) error              { return nil }

// cachedItem is the cached form of a stored item.
type cachedItem struct {
	ID           string          `json:"id"`
	PartitionKey string          `json:"pk"`
	Version      int64           `json:"v"`
	CreatedAt    time.Time       `json:"c"`
	UpdatedAt    time.Time       `json:"u"`
	Body         json.RawMessage `json:"b"`
}

func cacheKey(ref docstore.ContainerRef, id, partitionKey string) string {
	return ref.Database + "/" + ref.Container + "/" + partitionKey + "/" + id
}

// Cache failures degrade to store reads; they are logged and never returned.

func (r *Repository[T]) cacheGet(ctx context.Context, id, partitionKey string) (docstore.Item, bool) {
	data, ok, err := r.cache.Get(ctx, cacheKey(r.container.Ref(), id, partitionKey))
	if err != nil {
		slog.WarnContext(ctx, "cache read failed", "container", r.container.Ref().String(), "error", err)
		return docstore.Item{}, false
	}
	if !ok {
		return docstore.Item{}, false
	}
	var c cachedItem
	if err := json.Unmarshal(data, &c); err != nil {
		slog.WarnContext(ctx, "discarding undecodable cache entry", "container", r.container.Ref().String(), "error", err)
		return docstore.Item{}, false
	}
	return docstore.Item{
		ID:           c.ID,
		PartitionKey: c.PartitionKey,
		Version:      c.Version,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
		Body:         c.Body,
	}, true
}

// cacheFill caches an item loaded by a read. A cached entry with a newer
// version wins, so a slow read never replaces the result of a later write.
func (r *Repository[T]) cacheFill(ctx context.Context, it docstore.Item) {
	if cached, ok := r.cacheGet(ctx, it.ID, it.PartitionKey); ok && cached.Version > it.Version {
		return
	}
	r.cachePut(ctx, it)
}

func (r *Repository[T]) cachePut(ctx context.Context, it docstore.Item) {
	data, err := json.Marshal(cachedItem(it))
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(r.container.Ref(), it.ID, it.PartitionKey), data); err != nil {
		slog.WarnContext(ctx, "cache write failed", "container", r.container.Ref().String(), "error", err)
	}
}

func (r *Repository[T]) cacheEvict(ctx context.Context, id, partitionKey string) {
	if err := r.cache.Delete(ctx, cacheKey(r.container.Ref(), id, partitionKey)); err != nil {
		slog.WarnContext(ctx, "cache eviction failed", "container", r.container.Ref().String(), "error", err)
	}
}
