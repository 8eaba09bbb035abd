// Package repository is the generic, partition-aware data access layer. One
// Repository serves one entity type over one container. Every error it returns
// is an *apperr.Error.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/pagination"
)

const msgConcurrentUpdate = "Entity was modified by another request"

// Option configures a Repository.
type Option func(*options)

type options struct {
	name    string
	baseURL string
	cache   Cache
	now     func() time.Time
}

// WithName prefixes operation names in errors, e.g. "users.update". Defaults to the container id.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithBaseURL sets the path pagination links are built on.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithCache enables the point-read cache.
func WithCache(c Cache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Repository provides CRUD, paging and bulk writes for entities of type T.
// It holds no locks; concurrent updates are arbitrated by the store.
type Repository[T Entity] struct {
	container *docstore.Container
	pkField   string
	newEntity func() T

	name    string
	baseURL string
	cache   Cache
	now     func() time.Time
}

// New returns a repository over container. T must be a pointer to a struct embedding Base.
func New[T Entity](container *docstore.Container, opts ...Option) (*Repository[T], error) {
	newEntity, err := newFunc[T]()
	if err != nil {
		return nil, err
	}
	o := options{
		name:  container.Ref().Container,
		cache: nopCache{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[T]{
		container: container,
		pkField:   container.Spec().PartitionKeyField(),
		newEntity: newEntity,
		name:      o.name,
		baseURL:   o.baseURL,
		cache:     o.cache,
		now:       o.now,
	}, nil
}

func (r *Repository[T]) op(name string) string {
	return r.name + "." + name
}

// timestamp is the current time at store precision.
func (r *Repository[T]) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Create stamps the system fields and inserts item. A duplicate id within the
// partition, or a clash on a unique key of the container, is a Conflict.
func (r *Repository[T]) Create(ctx context.Context, item T) (T, error) {
	op := r.op("create")
	it, err := r.newItem(op, item)
	if err != nil {
		var zero T
		return zero, err
	}

	created, err := r.container.Create(ctx, it)
	if err != nil {
		var zero T
		return zero, apperr.FromStore(op, err)
	}
	r.cachePut(ctx, created)
	return r.decode(op, created)
}

// FindByID reads one entity. Absence is reported as found=false, not as an error.
func (r *Repository[T]) FindByID(ctx context.Context, id, partitionKey string) (T, bool, error) {
	op := r.op("findById")
	var zero T

	if it, ok := r.cacheGet(ctx, id, partitionKey); ok {
		out, err := r.decode(op, it)
		return out, err == nil, err
	}

	it, err := r.container.Read(ctx, id, partitionKey)
	if docstore.IsNotFound(err) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, apperr.FromStore(op, err)
	}
	r.cacheFill(ctx, it)

	out, err := r.decode(op, it)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// FindAll pages through the container, applying opts.Filter when set.
func (r *Repository[T]) FindAll(ctx context.Context, opts pagination.Options) (*pagination.Result[T], error) {
	return r.page(ctx, r.op("findAll"), Filter(opts.Filter), opts)
}

// FindManyBy pages through the entities matching filter.
func (r *Repository[T]) FindManyBy(ctx context.Context, filter Filter, opts pagination.Options) (*pagination.Result[T], error) {
	return r.page(ctx, r.op("findManyBy"), filter, opts)
}

func (r *Repository[T]) page(ctx context.Context, op string, filter Filter, opts pagination.Options) (*pagination.Result[T], error) {
	n := pagination.Normalize(opts)
	if !docstore.ValidField(n.SortBy) {
		return nil, apperr.Domain(op, "sortBy", "is not a valid field name")
	}
	conds, err := filter.conditions(op)
	if err != nil {
		return nil, err
	}

	items, err := r.container.Query(ctx, docstore.Query{
		Conditions: conds,
		SortBy:     n.SortBy,
		Descending: n.SortOrder == pagination.Desc,
		Offset:     n.Offset(),
		Limit:      n.PageSize,
	})
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	// The total always comes from its own count query.
	total, err := r.container.Count(ctx, conds)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}

	out, err := r.decodeAll(op, items)
	if err != nil {
		return nil, err
	}
	return pagination.NewResult(out, total, n, r.baseURL), nil
}

// FindOneBy returns the oldest entity matching filter.
func (r *Repository[T]) FindOneBy(ctx context.Context, filter Filter) (T, bool, error) {
	op := r.op("findOneBy")
	var zero T

	conds, err := filter.conditions(op)
	if err != nil {
		return zero, false, err
	}
	items, err := r.container.Query(ctx, docstore.Query{
		Conditions: conds,
		SortBy:     docstore.FieldCreatedAt,
		Limit:      1,
	})
	if err != nil {
		return zero, false, apperr.FromStore(op, err)
	}
	if len(items) == 0 {
		return zero, false, nil
	}
	out, err := r.decode(op, items[0])
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

// Exists reports whether any entity matches filter.
func (r *Repository[T]) Exists(ctx context.Context, filter Filter) (bool, error) {
	n, err := r.count(ctx, r.op("exists"), filter)
	return n > 0, err
}

// Count returns the number of entities matching filter.
func (r *Repository[T]) Count(ctx context.Context, filter Filter) (int64, error) {
	return r.count(ctx, r.op("count"), filter)
}

func (r *Repository[T]) count(ctx context.Context, op string, filter Filter) (int64, error) {
	conds, err := filter.conditions(op)
	if err != nil {
		return 0, err
	}
	n, err := r.container.Count(ctx, conds)
	if err != nil {
		return 0, apperr.FromStore(op, err)
	}
	return n, nil
}

// Update re-reads the entity, shallow-merges patch into it and replaces it on
// the condition that nobody wrote in between. System fields and the partition
// key in patch are ignored. A lost race is a Conflict.
func (r *Repository[T]) Update(ctx context.Context, id, partitionKey string, patch map[string]any) (T, error) {
	op := r.op("update")
	var zero T

	current, err := r.container.Read(ctx, id, partitionKey)
	if err != nil {
		return zero, apperr.FromStore(op, err)
	}
	body, err := docstore.DecodeBody(current.Body)
	if err != nil {
		return zero, apperr.Internal(op, err)
	}
	for k, v := range patch {
		if docstore.IsSystemField(k) || k == r.pkField {
			continue
		}
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return zero, apperr.Wrap(apperr.KindInvalidArgument, op, "Patch is not serializable", err)
	}

	// updatedAt strictly increases even when the clock has not moved.
	now := r.timestamp()
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Microsecond)
	}
	next := docstore.Item{
		ID:           current.ID,
		PartitionKey: current.PartitionKey,
		Version:      current.Version + 1,
		CreatedAt:    current.CreatedAt,
		UpdatedAt:    now,
		Body:         data,
	}

	updated, err := r.container.Replace(ctx, next, current.Version)
	if err != nil {
		e := apperr.FromStore(op, err)
		if docstore.IsPreconditionFailed(err) {
			// Only the version check can fail the precondition here.
			e.Kind = apperr.KindConflict
			e.Message = msgConcurrentUpdate
		}
		r.cacheEvict(ctx, id, partitionKey)
		return zero, e
	}
	r.cachePut(ctx, updated)
	return r.decode(op, updated)
}

// Upsert creates item or replaces the stored one with it. Replacing keeps
// createdAt and bumps the version.
func (r *Repository[T]) Upsert(ctx context.Context, item T) (T, error) {
	op := r.op("upsert")
	var zero T

	it, err := r.newItem(op, item)
	if err != nil {
		return zero, err
	}
	out, err := r.container.Upsert(ctx, it)
	if err != nil {
		r.cacheEvict(ctx, it.ID, it.PartitionKey)
		return zero, apperr.FromStore(op, err)
	}
	r.cachePut(ctx, out)
	return r.decode(op, out)
}

// Delete removes an entity. Deleting a missing entity is NotFound.
func (r *Repository[T]) Delete(ctx context.Context, id, partitionKey string) error {
	op := r.op("delete")
	r.cacheEvict(ctx, id, partitionKey)
	err := r.container.Delete(ctx, id, partitionKey)
	// A read that ran while the delete was in flight may have cached the entity again.
	r.cacheEvict(ctx, id, partitionKey)
	if err != nil {
		return apperr.FromStore(op, err)
	}
	return nil
}

// BulkCreate inserts items atomically: either all are stored or none are, and
// the first failure is returned.
func (r *Repository[T]) BulkCreate(ctx context.Context, items []T) ([]T, error) {
	return r.bulk(ctx, r.op("bulkCreate"), items)
}

// CreateMany is BulkCreate reported under its own operation name.
func (r *Repository[T]) CreateMany(ctx context.Context, items []T) ([]T, error) {
	return r.bulk(ctx, r.op("createMany"), items)
}

func (r *Repository[T]) bulk(ctx context.Context, op string, items []T) ([]T, error) {
	batch := make([]docstore.Item, 0, len(items))
	for _, item := range items {
		it, err := r.newItem(op, item)
		if err != nil {
			return nil, err
		}
		batch = append(batch, it)
	}

	created, err := r.container.CreateBatch(ctx, batch)
	if err != nil {
		return nil, apperr.FromStore(op, err)
	}
	return r.decodeAll(op, created)
}

// newItem stamps a fresh document: id when absent, version 1 and both timestamps.
func (r *Repository[T]) newItem(op string, entity T) (docstore.Item, error) {
	id, body, err := encode(entity)
	if err != nil {
		return docstore.Item{}, apperr.Wrap(apperr.KindInvalidArgument, op, "Entity is not serializable", err)
	}

	pk, err := r.partitionKey(op, id, body)
	if err != nil {
		return docstore.Item{}, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return docstore.Item{}, apperr.Wrap(apperr.KindInvalidArgument, op, "Entity is not serializable", err)
	}

	now := r.timestamp()
	return docstore.Item{
		ID:           id,
		PartitionKey: pk,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Body:         data,
	}, nil
}

// partitionKey reads the value at the container's partition key path.
func (r *Repository[T]) partitionKey(op, id string, body map[string]any) (string, error) {
	if r.pkField == docstore.FieldID {
		return id, nil
	}
	pk, ok := body[r.pkField].(string)
	if !ok || pk == "" {
		return "", apperr.Domain(op, r.pkField, "partition key is required")
	}
	return pk, nil
}

func (r *Repository[T]) decode(op string, it docstore.Item) (T, error) {
	out, err := decode(it, r.newEntity)
	if err != nil {
		var zero T
		return zero, apperr.Internal(op, err)
	}
	return out, nil
}

func (r *Repository[T]) decodeAll(op string, items []docstore.Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		e, err := r.decode(op, it)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
