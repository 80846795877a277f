package idempotency

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "1:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "1:abc")
	require.NoError(t, err)
	assert.False(t, ok, "second use within TTL is a duplicate")

	ok, err = g.Acquire(ctx, "2:abc")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(2 * time.Minute)
	ok, err = g.Acquire(ctx, "1:abc")
	require.NoError(t, err)
	assert.True(t, ok, "expired key can be reused")

	require.NoError(t, g.Release(ctx, "1:abc"))
	ok, err = g.Acquire(ctx, "1:abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS is not set")
	}
	ctx := context.Background()

	rdb, err := Connect(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	g := NewRedisGuard(rdb, time.Minute)
	key := fmt.Sprintf("test:%d", time.Now().UnixNano())

	ok, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, key))
}

func TestConnect_EmptyAddress(t *testing.T) {
	rdb, err := Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, rdb)
}
