package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rezkam/docrepo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Key(t *testing.T) {
	c := New(Config{Addr: "localhost:0", Prefix: "docrepo:"})
	defer c.Close()
	assert.Equal(t, "docrepo:app/users/t1/u1", c.key("app/users/t1/u1"))
}

func TestCache_Redis(t *testing.T) {
	cfg, err := config.LoadTestConfig()
	if err != nil || cfg.RedisAddr == "" {
		t.Skip("DOCREPO_TEST_REDIS_ADDR not set, skipping redis tests")
	}

	ctx := context.Background()
	c := New(Config{Addr: cfg.RedisAddr, Prefix: "docrepo-test:" + uuid.NewString() + ":", TTL: time.Minute})
	defer c.Close()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
