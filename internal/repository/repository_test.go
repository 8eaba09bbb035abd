package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rezkam/docrepo/internal/apperr"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/rezkam/docrepo/internal/infrastructure/persistence/sqlite"
	"github.com/rezkam/docrepo/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	Base
	Name   string   `json:"name"`
	Email  string   `json:"email,omitempty"`
	Status string   `json:"status,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Rank   int      `json:"rank"`
}

var usersSpec = docstore.ContainerSpec{
	ID:         "users",
	UniqueKeys: []docstore.UniqueKey{{Paths: []string{"/email"}}},
}

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := sqlite.Open(context.Background(), sqlite.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newContainer(t *testing.T, driver docstore.Driver, spec docstore.ContainerSpec) *docstore.Container {
	t.Helper()
	client := docstore.NewClient(driver, docstore.WithRetryPolicy(docstore.RetryPolicy{
		RequestTimeout: 5 * time.Second,
		RetryInterval:  time.Millisecond,
		MaxWait:        time.Second,
	}))
	db, err := client.EnsureDatabase(context.Background(), "app")
	require.NoError(t, err)
	c, err := db.EnsureContainer(context.Background(), spec)
	require.NoError(t, err)
	return c
}

func newRepo(t *testing.T, opts ...Option) *Repository[*user] {
	t.Helper()
	c := newContainer(t, openStore(t), usersSpec)
	opts = append([]Option{WithClock(newClock().Now), WithBaseURL("/v1/containers/users/documents")}, opts...)
	repo, err := New[*user](c, opts...)
	require.NoError(t, err)
	return repo
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	assert.Equal(t, kind, e.Kind, "error: %v", err)
	return e
}

func TestRepository_CreateThenFindByID(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &user{Base: Base{PartitionKey: "t1"}, Name: "Ada", Tags: []string{"admin"}})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	got, found, err := repo.FindByID(ctx, created.ID, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "t1", got.PartitionKey)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, []string{"admin"}, got.Tags)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, created.UpdatedAt.Equal(got.UpdatedAt))
}

func TestRepository_CreateKeepsCallerID(t *testing.T) {
	repo := newRepo(t)
	created, err := repo.Create(context.Background(), &user{Base: Base{ID: "u1", PartitionKey: "t1"}})
	require.NoError(t, err)
	assert.Equal(t, "u1", created.ID)
}

func TestRepository_CreateRequiresPartitionKey(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.Create(context.Background(), &user{Name: "Ada"})

	e := requireKind(t, err, apperr.KindInvalidArgument)
	assert.Equal(t, "partitionKey", e.Field)
	assert.Equal(t, "users.create", e.Operation)
}

func TestRepository_CreateConflicts(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Email: "ada@example.com"})
	require.NoError(t, err)

	t.Run("duplicate id", func(t *testing.T) {
		_, err := repo.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}})
		e := requireKind(t, err, apperr.KindConflict)
		assert.Equal(t, apperr.MsgDuplicateEntity, e.Message)
		assert.Equal(t, docstore.StatusConflict, e.StoreCode)
	})

	t.Run("unique key", func(t *testing.T) {
		_, err := repo.Create(ctx, &user{Base: Base{ID: "u2", PartitionKey: "t2"}, Email: "ada@example.com"})
		requireKind(t, err, apperr.KindConflict)
	})
}

func TestRepository_FindByIDMissingIsNotAnError(t *testing.T) {
	repo := newRepo(t)
	got, found, err := repo.FindByID(context.Background(), "missing", "t1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestRepository_Update(t *testing.T) {
	// A frozen clock still yields updatedAt > createdAt.
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newRepo(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	created, err := repo.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Ada", Status: "active"})
	require.NoError(t, err)

	updated, err := repo.Update(ctx, "u1", "t1", map[string]any{
		"name":         "Ada Lovelace",
		"version":      99,
		"id":           "hijack",
		"partitionKey": "t9",
	})
	require.NoError(t, err)

	assert.Equal(t, created.Version+1, updated.Version)
	assert.Equal(t, "u1", updated.ID)
	assert.Equal(t, "t1", updated.PartitionKey)
	assert.Equal(t, "Ada Lovelace", updated.Name)
	assert.Equal(t, "active", updated.Status, "merge is shallow, untouched fields stay")
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	again, err := repo.Update(ctx, "u1", "t1", map[string]any{"rank": 3})
	require.NoError(t, err)
	assert.Equal(t, updated.Version+1, again.Version)
	assert.True(t, again.UpdatedAt.After(updated.UpdatedAt))
}

func TestRepository_UpdateMissingIsNotFound(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.Update(context.Background(), "missing", "t1", map[string]any{"name": "x"})
	e := requireKind(t, err, apperr.KindNotFound)
	assert.Equal(t, apperr.MsgNotFound, e.Message)
}

// barrierDriver holds every Read until the expected number of readers arrived,
// so racing updates all see the same version.
type barrierDriver struct {
	docstore.Driver
	readers sync.WaitGroup
}

func (d *barrierDriver) Read(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) (docstore.Item, error) {
	it, err := d.Driver.Read(ctx, ref, id, partitionKey)
	d.readers.Done()
	d.readers.Wait()
	return it, err
}

func TestRepository_ConcurrentUpdatesOneWins(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	plain, err := New[*user](newContainer(t, store, usersSpec))
	require.NoError(t, err)
	_, err = plain.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Ada"})
	require.NoError(t, err)

	barrier := &barrierDriver{Driver: store}
	barrier.readers.Add(2)
	racing, err := New[*user](newContainer(t, barrier, usersSpec))
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = racing.Update(ctx, "u1", "t1", map[string]any{"name": fmt.Sprintf("writer-%d", i)})
		}()
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.IsKind(err, apperr.KindConflict):
			conflicted++
			e, _ := apperr.As(err)
			assert.Equal(t, msgConcurrentUpdate, e.Message)
			assert.Equal(t, docstore.StatusPreconditionFailed, e.StoreCode)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	got, found, err := plain.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.Version)
}

func TestRepository_Upsert(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	second, err := repo.Upsert(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, "Grace", second.Name)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestRepository_Delete(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "u1", "t1"))

	_, found, err := repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.False(t, found)

	err = repo.Delete(ctx, "u1", "t1")
	e := requireKind(t, err, apperr.KindNotFound)
	assert.Equal(t, "users.delete", e.Operation)
}

func seedUsers(t *testing.T, repo *Repository[*user], n int) []*user {
	t.Helper()
	batch := make([]*user, n)
	for i := range batch {
		batch[i] = &user{
			Base:   Base{ID: fmt.Sprintf("u%02d", i+1), PartitionKey: "t1"},
			Name:   fmt.Sprintf("user %d", i+1),
			Status: []string{"active", "inactive"}[i%2],
			Rank:   i % 5,
		}
	}
	created, err := repo.BulkCreate(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, created, n)
	return created
}

func TestRepository_FindAllPages(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 45)

	res, err := repo.FindAll(ctx, pagination.Options{PageSize: 20, PageNumber: 3, SortOrder: pagination.Asc})
	require.NoError(t, err)

	assert.Len(t, res.Items, 5)
	assert.Equal(t, int64(45), res.Meta.TotalCount)
	assert.Equal(t, 3, res.Meta.TotalPages)
	assert.Equal(t, 3, res.Meta.CurrentPage)
	assert.False(t, res.Meta.HasNextPage)
	assert.True(t, res.Meta.HasPreviousPage)
	assert.Empty(t, res.ContinuationToken)
	assert.Equal(t, "u41", res.Items[0].ID)
	assert.Equal(t, "/v1/containers/users/documents?pageSize=20&pageNumber=2&sortBy=createdAt&sortOrder=asc", res.Links.Prev)
	assert.Empty(t, res.Links.Next)
}

func TestRepository_FindAllFarPastTheEndIsEmpty(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 5)

	for _, page := range []int{5, 500_000_000_000_000_000} {
		res, err := repo.FindAll(ctx, pagination.Options{PageSize: 20, PageNumber: page})
		require.NoError(t, err)
		assert.Empty(t, res.Items, "page=%d", page)
		assert.Equal(t, int64(5), res.Meta.TotalCount)
	}
}

func TestRepository_FindAllDefaultsToNewestFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 3)

	res, err := repo.FindAll(ctx, pagination.Options{})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, 20, res.Meta.PageSize)
	assert.Equal(t, []string{"u03", "u02", "u01"}, ids(res.Items))

	res, err = repo.FindAll(ctx, pagination.Options{SortBy: "rank", SortOrder: pagination.Asc})
	require.NoError(t, err)
	assert.Equal(t, []string{"u01", "u02", "u03"}, ids(res.Items))
}

func TestRepository_ContinuationToken(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 5)

	first, err := repo.FindAll(ctx, pagination.Options{PageSize: 2, SortBy: "id", SortOrder: pagination.Asc})
	require.NoError(t, err)
	require.NotEmpty(t, first.ContinuationToken)
	assert.Equal(t, []string{"u01", "u02"}, ids(first.Items))

	second, err := repo.FindAll(ctx, pagination.Options{ContinuationToken: first.ContinuationToken})
	require.NoError(t, err)
	assert.Equal(t, []string{"u03", "u04"}, ids(second.Items))
	assert.Equal(t, 2, second.Meta.CurrentPage)
}

func TestRepository_FindManyBy(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 10)
	_, err := repo.Create(ctx, &user{Base: Base{ID: "tagged", PartitionKey: "t2"}, Tags: []string{"vip", "beta"}})
	require.NoError(t, err)

	t.Run("scalar", func(t *testing.T) {
		res, err := repo.FindManyBy(ctx, Filter{"status": "active"}, pagination.Options{PageSize: 100})
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.Meta.TotalCount)
	})

	t.Run("any of", func(t *testing.T) {
		res, err := repo.FindManyBy(ctx, Filter{"rank": []int{0, 4}, "status": "active"},
			pagination.Options{SortBy: "id", SortOrder: pagination.Asc})
		require.NoError(t, err)
		assert.Equal(t, []string{"u01", "u05"}, ids(res.Items))
	})

	t.Run("array contains", func(t *testing.T) {
		res, err := repo.FindManyBy(ctx, Filter{"tags": "beta"}, pagination.Options{})
		require.NoError(t, err)
		assert.Equal(t, []string{"tagged"}, ids(res.Items))
	})

	t.Run("invalid field", func(t *testing.T) {
		_, err := repo.FindManyBy(ctx, Filter{"name; DROP TABLE documents": "x"}, pagination.Options{})
		e := requireKind(t, err, apperr.KindInvalidArgument)
		assert.Equal(t, "name; DROP TABLE documents", e.Field)
	})

	t.Run("invalid sort", func(t *testing.T) {
		_, err := repo.FindAll(ctx, pagination.Options{SortBy: "a.b"})
		requireKind(t, err, apperr.KindInvalidArgument)
	})

	t.Run("object value", func(t *testing.T) {
		_, err := repo.FindManyBy(ctx, Filter{"status": map[string]any{"$ne": "x"}}, pagination.Options{})
		requireKind(t, err, apperr.KindInvalidArgument)
	})
}

func TestRepository_FindManyByBooleanDoesNotMatchNumbers(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 2) // ranks 0 and 1

	res, err := repo.FindManyBy(ctx, Filter{"rank": true}, pagination.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, int64(0), res.Meta.TotalCount)

	res, err = repo.FindManyBy(ctx, Filter{"rank": 1}, pagination.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u02"}, ids(res.Items))
}

func TestRepository_FindOneByAndExists(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	seedUsers(t, repo, 4)

	got, found, err := repo.FindOneBy(ctx, Filter{"status": "inactive"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u02", got.ID)

	_, found, err = repo.FindOneBy(ctx, Filter{"status": "banned"})
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := repo.Exists(ctx, Filter{"name": "user 3"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, Filter{"name": "nobody"})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestRepository_BulkCreateIsAllOrNothing(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.CreateMany(ctx, []*user{
		{Base: Base{ID: "a", PartitionKey: "t1"}},
		{Base: Base{ID: "b", PartitionKey: "t1"}},
		{Base: Base{ID: "a", PartitionKey: "t1"}},
	})
	e := requireKind(t, err, apperr.KindConflict)
	assert.Equal(t, "users.createMany", e.Operation)

	n, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.BulkCreate(ctx, []*user{{Base: Base{ID: "a", PartitionKey: "t1"}}, {Name: "no partition"}})
	requireKind(t, err, apperr.KindInvalidArgument)

	out, err := repo.BulkCreate(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRepository_CustomPartitionKeyPath(t *testing.T) {
	type shift struct {
		Base
		TenantID string `json:"tenantId"`
	}
	c := newContainer(t, openStore(t), docstore.ContainerSpec{ID: "shifts", PartitionKeyPath: "/tenantId"})
	repo, err := New[*shift](c)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := repo.Create(ctx, &shift{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", created.PartitionKey)

	_, err = repo.Create(ctx, &shift{})
	e := requireKind(t, err, apperr.KindInvalidArgument)
	assert.Equal(t, "tenantId", e.Field)
}

// mapCache is an in-process Cache that can be told to fail.
type mapCache struct {
	mu    sync.Mutex
	data  map[string][]byte
	fail  bool
	reads int
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, false, errors.New("cache down")
	}
	v, ok := c.data[key]
	if ok {
		c.reads++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache down")
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("cache down")
	}
	delete(c.data, key)
	return nil
}

func TestRepository_Cache(t *testing.T) {
	cache := &mapCache{data: map[string][]byte{}}
	repo := newRepo(t, WithCache(cache))
	ctx := context.Background()

	_, err := repo.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Ada"})
	require.NoError(t, err)

	got, found, err := repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, 1, cache.reads)

	_, err = repo.Update(ctx, "u1", "t1", map[string]any{"name": "Grace"})
	require.NoError(t, err)
	got, _, err = repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.Name)
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, repo.Delete(ctx, "u1", "t1"))
	_, found, err = repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.False(t, found)

	cache.fail = true
	_, err = repo.Create(ctx, &user{Base: Base{ID: "u2", PartitionKey: "t1"}})
	require.NoError(t, err, "cache failures never fail the request")
	_, found, err = repo.FindByID(ctx, "u2", "t1")
	require.NoError(t, err)
	assert.True(t, found)
}

// gatedDriver pauses the next gated call until release is closed.
type gatedDriver struct {
	docstore.Driver
	mu         sync.Mutex
	gateRead   bool
	gateDelete bool
	entered    chan struct{}
	release    chan struct{}
}

func newGatedDriver(d docstore.Driver) *gatedDriver {
	return &gatedDriver{Driver: d, entered: make(chan struct{}), release: make(chan struct{})}
}

// take reports whether the gate was armed and disarms it.
func (d *gatedDriver) take(gate *bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	armed := *gate
	*gate = false
	return armed
}

func (d *gatedDriver) arm(gate *bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	*gate = true
}

func (d *gatedDriver) Read(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) (docstore.Item, error) {
	it, err := d.Driver.Read(ctx, ref, id, partitionKey)
	if d.take(&d.gateRead) {
		d.entered <- struct{}{}
		<-d.release
	}
	return it, err
}

func (d *gatedDriver) Delete(ctx context.Context, ref docstore.ContainerRef, id, partitionKey string) error {
	if d.take(&d.gateDelete) {
		d.entered <- struct{}{}
		<-d.release
	}
	return d.Driver.Delete(ctx, ref, id, partitionKey)
}

func TestRepository_CacheDoesNotOutliveDelete(t *testing.T) {
	cache := &mapCache{data: map[string][]byte{}}
	gated := newGatedDriver(openStore(t))
	repo, err := New[*user](newContainer(t, gated, usersSpec), WithCache(cache))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Ada"})
	require.NoError(t, err)

	gated.arm(&gated.gateDelete)
	done := make(chan error, 1)
	go func() { done <- repo.Delete(ctx, "u1", "t1") }()
	<-gated.entered

	// The row is still stored, so this read repopulates the cache.
	_, found, err := repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, found)

	close(gated.release)
	require.NoError(t, <-done)

	_, found, err = repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.False(t, found, "deleted entity served from cache")
}

func TestRepository_SlowReadDoesNotOverwriteNewerCacheEntry(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	plain, err := New[*user](newContainer(t, store, usersSpec))
	require.NoError(t, err)
	_, err = plain.Create(ctx, &user{Base: Base{ID: "u1", PartitionKey: "t1"}, Name: "Ada"})
	require.NoError(t, err)

	cache := &mapCache{data: map[string][]byte{}}
	gated := newGatedDriver(store)
	repo, err := New[*user](newContainer(t, gated, usersSpec), WithCache(cache))
	require.NoError(t, err)

	gated.arm(&gated.gateRead)
	type readResult struct {
		u   *user
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		u, _, err := repo.FindByID(ctx, "u1", "t1")
		done <- readResult{u, err}
	}()
	<-gated.entered

	updated, err := repo.Update(ctx, "u1", "t1", map[string]any{"name": "Grace"})
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	close(gated.release)
	slow := <-done
	require.NoError(t, slow.err)
	assert.Equal(t, int64(1), slow.u.Version)

	got, found, err := repo.FindByID(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Grace", got.Name)
}

func ids(users []*user) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}
