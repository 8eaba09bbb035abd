// Package compliance holds the behaviour every docstore.Driver must share.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rezkam/docrepo/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run runs a standard set of tests against a Driver implementation.
// setup returns a fresh driver and a cleanup function for it.
func Run(t *testing.T, setup func(t *testing.T) (docstore.Driver, func())) {
	newContainer := func(t *testing.T, spec docstore.ContainerSpec) *docstore.Container {
		t.Helper()
		c, _ := provision(t, setup, spec)
		return c
	}

	t.Run("CreateAndRead", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()

		in := newItem(t, "u1", "p1", 0, map[string]any{"name": "Ada", "partitionKey": "p1"})
		_, err := c.Create(ctx, in)
		require.NoError(t, err)

		got, err := c.Read(ctx, "u1", "p1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.ID)
		assert.Equal(t, "p1", got.PartitionKey)
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, in.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, "Ada", decode(t, got)["name"])
	})

	t.Run("ReadMissing", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		_, err := c.Read(context.Background(), "missing", "p1")
		assert.True(t, docstore.IsNotFound(err), "got %v", err)
	})

	t.Run("PartitionKeyScopesReads", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		_, err := c.Create(ctx, newItem(t, "u1", "p1", 0, nil))
		require.NoError(t, err)

		_, err = c.Read(ctx, "u1", "p2")
		assert.True(t, docstore.IsNotFound(err))

		_, err = c.Create(ctx, newItem(t, "u1", "p2", 0, nil))
		assert.NoError(t, err, "same id in another partition is a different item")
	})

	t.Run("DuplicateIDConflicts", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		_, err := c.Create(ctx, newItem(t, "u1", "p1", 0, nil))
		require.NoError(t, err)

		_, err = c.Create(ctx, newItem(t, "u1", "p1", 0, nil))
		assert.True(t, docstore.IsConflict(err), "got %v", err)
	})

	t.Run("UniqueKeyConflicts", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{
			ID:         "users",
			UniqueKeys: []docstore.UniqueKey{{Paths: []string{"/email"}}},
		})
		ctx := context.Background()
		_, err := c.Create(ctx, newItem(t, "u1", "p1", 0, map[string]any{"email": "a@example.com"}))
		require.NoError(t, err)

		_, err = c.Create(ctx, newItem(t, "u2", "p2", 0, map[string]any{"email": "a@example.com"}))
		assert.True(t, docstore.IsConflict(err), "got %v", err)

		_, err = c.Create(ctx, newItem(t, "u3", "p1", 0, map[string]any{"email": "b@example.com"}))
		assert.NoError(t, err)
	})

	t.Run("ReplaceChecksVersion", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		created, err := c.Create(ctx, newItem(t, "u1", "p1", 0, map[string]any{"name": "Ada"}))
		require.NoError(t, err)

		next := withBody(t, created, map[string]any{"name": "Grace"})
		next.Version = created.Version + 1
		next.UpdatedAt = created.UpdatedAt.Add(time.Second)

		replaced, err := c.Replace(ctx, next, created.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(2), replaced.Version)
		assert.True(t, created.CreatedAt.Equal(replaced.CreatedAt))

		stale := withBody(t, created, map[string]any{"name": "Stale"})
		stale.Version = created.Version + 1
		_, err = c.Replace(ctx, stale, created.Version)
		assert.True(t, docstore.IsPreconditionFailed(err), "got %v", err)

		got, err := c.Read(ctx, "u1", "p1")
		require.NoError(t, err)
		assert.Equal(t, "Grace", decode(t, got)["name"])

		gone := newItem(t, "missing", "p1", 0, nil)
		gone.Version = 2
		_, err = c.Replace(ctx, gone, 1)
		assert.True(t, docstore.IsNotFound(err), "got %v", err)
	})

	t.Run("ConcurrentReplaceOnlyOneWins", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		created, err := c.Create(ctx, newItem(t, "u1", "p1", 0, map[string]any{"n": 0}))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := withBody(t, created, map[string]any{"n": i + 1})
				next.Version = created.Version + 1
				_, errs[i] = c.Replace(ctx, next, created.Version)
			}(i)
		}
		wg.Wait()

		wins, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case docstore.IsPreconditionFailed(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, conflicts)
	})

	t.Run("UpsertCreatesThenBumpsVersion", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()

		first, err := c.Upsert(ctx, newItem(t, "u1", "p1", 0, map[string]any{"name": "Ada"}))
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.Version)

		again := newItem(t, "u1", "p1", time.Minute, map[string]any{"name": "Grace"})
		second, err := c.Upsert(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, int64(2), second.Version)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "creation time survives upsert")
		assert.Equal(t, "Grace", decode(t, second)["name"])
	})

	t.Run("Delete", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		_, err := c.Create(ctx, newItem(t, "u1", "p1", 0, nil))
		require.NoError(t, err)

		require.NoError(t, c.Delete(ctx, "u1", "p1"))
		_, err = c.Read(ctx, "u1", "p1")
		assert.True(t, docstore.IsNotFound(err))

		err = c.Delete(ctx, "u1", "p1")
		assert.True(t, docstore.IsNotFound(err), "got %v", err)
	})

	t.Run("QueryFiltersSortsAndPages", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		for i := range 7 {
			status := "active"
			if i%2 == 1 {
				status = "inactive"
			}
			_, err := c.Create(ctx, newItem(t, fmt.Sprintf("u%d", i), "p1", time.Duration(i)*time.Second,
				map[string]any{"status": status, "rank": i, "tags": []string{fmt.Sprintf("t%d", i%3)}}))
			require.NoError(t, err)
		}

		active := []docstore.Condition{{Field: "status", Values: []any{"active"}}}
		n, err := c.Count(ctx, active)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		page, err := c.Query(ctx, docstore.Query{
			Conditions: active,
			SortBy:     docstore.FieldCreatedAt,
			Descending: true,
			Offset:     1,
			Limit:      2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u4", "u2"}, ids(page))

		byRank, err := c.Query(ctx, docstore.Query{SortBy: "rank", Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"u0", "u1", "u2"}, ids(byRank))

		tagged, err := c.Query(ctx, docstore.Query{
			Conditions: []docstore.Condition{{Field: "tags", Values: []any{"t1"}}},
			SortBy:     "rank",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u4"}, ids(tagged))

		anyOf, err := c.Query(ctx, docstore.Query{
			Conditions: []docstore.Condition{{Field: "rank", Values: []any{2, 5}}},
			SortBy:     "rank",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u2", "u5"}, ids(anyOf))

		none, err := c.Query(ctx, docstore.Query{Conditions: active, Offset: 10, Limit: 5})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FiltersAreTypeStrict", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "flags"})
		ctx := context.Background()
		docs := map[string]any{
			"bool-false": false,
			"bool-true":  true,
			"list":       []any{true, 2},
			"num-one":    1,
			"num-zero":   0,
			"text-one":   "1",
		}
		for id, flag := range docs {
			_, err := c.Create(ctx, newItem(t, id, "p1", 0, map[string]any{"flag": flag}))
			require.NoError(t, err)
		}

		tests := []struct {
			value any
			want  []string
		}{
			{true, []string{"bool-true", "list"}},
			{false, []string{"bool-false"}},
			{1, []string{"num-one"}},
			{0, []string{"num-zero"}},
			{"1", []string{"text-one"}},
			{2, []string{"list"}},
		}
		for _, tt := range tests {
			conds := []docstore.Condition{{Field: "flag", Values: []any{tt.value}}}
			got, err := c.Query(ctx, docstore.Query{Conditions: conds, SortBy: docstore.FieldID})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got), "flag=%#v", tt.value)

			n, err := c.Count(ctx, conds)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.want)), n, "flag=%#v", tt.value)
		}
	})

	t.Run("QueryTiesBreakByID", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		for _, id := range []string{"c", "a", "b"} {
			_, err := c.Create(ctx, newItem(t, id, "p1", 0, map[string]any{"group": 1}))
			require.NoError(t, err)
		}

		got, err := c.Query(ctx, docstore.Query{SortBy: "group", Descending: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	})

	t.Run("BatchIsAllOrNothing", func(t *testing.T) {
		c := newContainer(t, docstore.ContainerSpec{ID: "users"})
		ctx := context.Background()
		_, err := c.Create(ctx, newItem(t, "existing", "p1", 0, nil))
		require.NoError(t, err)

		_, err = c.CreateBatch(ctx, []docstore.Item{
			newItem(t, "b1", "p1", 0, nil),
			newItem(t, "existing", "p1", 0, nil),
			newItem(t, "b2", "p1", 0, nil),
		})
		assert.True(t, docstore.IsConflict(err), "got %v", err)

		n, err := c.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "failed batch must leave nothing behind")

		created, err := c.CreateBatch(ctx, []docstore.Item{
			newItem(t, "b1", "p1", 0, nil),
			newItem(t, "b2", "p2", 0, nil),
		})
		require.NoError(t, err)
		assert.Len(t, created, 2)
	})

	t.Run("ReadContainer", func(t *testing.T) {
		c, driver := provision(t, setup, docstore.ContainerSpec{
			ID:               "orders",
			PartitionKeyPath: "/tenantId",
			UniqueKeys:       []docstore.UniqueKey{{Paths: []string{"/number"}}},
		})
		ctx := context.Background()

		spec, err := driver.ReadContainer(ctx, c.Ref().Database, "orders")
		require.NoError(t, err)
		assert.Equal(t, "/tenantId", spec.PartitionKeyPath)
		require.Len(t, spec.UniqueKeys, 1)
		assert.Equal(t, []string{"/number"}, spec.UniqueKeys[0].Paths)

		_, err = driver.ReadContainer(ctx, c.Ref().Database, "nope")
		assert.True(t, docstore.IsNotFound(err), "got %v", err)
	})
}

func provision(t *testing.T, setup func(t *testing.T) (docstore.Driver, func()), spec docstore.ContainerSpec) (*docstore.Container, docstore.Driver) {
	t.Helper()
	driver, teardown := setup(t)
	t.Cleanup(teardown)

	client := docstore.NewClient(driver, docstore.WithRetryPolicy(docstore.RetryPolicy{
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  10 * time.Millisecond,
		MaxWait:        5 * time.Second,
	}))
	db, err := client.EnsureDatabase(context.Background(), "db"+strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	require.NoError(t, err)
	container, err := db.EnsureContainer(context.Background(), spec)
	require.NoError(t, err)
	return container, driver
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newItem(t *testing.T, id, pk string, offset time.Duration, body map[string]any) docstore.Item {
	t.Helper()
	if body == nil {
		body = map[string]any{}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	ts := base.Add(offset)
	return docstore.Item{ID: id, PartitionKey: pk, Version: 1, CreatedAt: ts, UpdatedAt: ts, Body: raw}
}

func withBody(t *testing.T, it docstore.Item, body map[string]any) docstore.Item {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	it.Body = raw
	return it
}

func decode(t *testing.T, it docstore.Item) map[string]any {
	t.Helper()
	m, err := docstore.DecodeBody(it.Body)
	require.NoError(t, err)
	return m
}

func ids(items []docstore.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
