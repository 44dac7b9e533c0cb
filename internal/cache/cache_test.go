package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestCache_SetGet(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	err := c.Set(ctx, "dashboard", "t1:2026-01-01:2026-01-31", payload{Name: "jan", Count: 42}, time.Minute)
	require.NoError(t, err)

	var got payload
	ok := c.Get(ctx, "dashboard", "t1:2026-01-01:2026-01-31", &got)
	require.True(t, ok)
	assert.Equal(t, "jan", got.Name)
	assert.Equal(t, 42, got.Count)
}

func TestCache_GetNeverErrors(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	var dest map[string]any

	// Miss
	assert.False(t, c.Get(ctx, "dashboard", "missing", &dest))

	// Corrupt value
	mr.Set(Key("dashboard", "bad"), "{not json")
	assert.False(t, c.Get(ctx, "dashboard", "bad", &dest))

	// Backend down
	mr.Close()
	assert.False(t, c.Get(ctx, "dashboard", "anything", &dest))
}

func TestCache_DefaultTTL(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "report", "c1", "value", 0))
	ttl := mr.TTL(Key("report", "c1"))
	assert.Equal(t, DefaultTTL, ttl)
}

func TestCache_GetOrSet_FetchesOnceBeforeThreshold(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&fetches, 1)
		return map[string]int{"n": 7}, nil
	}

	var first map[string]int
	require.NoError(t, c.GetOrSet(ctx, "dashboard", "k", time.Minute, 0.2, &first, fetch))
	assert.Equal(t, 7, first["n"])

	// Plenty of TTL left, so this must come from the cache.
	var second map[string]int
	require.NoError(t, c.GetOrSet(ctx, "dashboard", "k", time.Minute, 0.2, &second, fetch))
	assert.Equal(t, 7, second["n"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestCache_GetOrSet_RefreshAhead(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) (any, error) {
		atomic.AddInt32(&fetches, 1)
		return atomic.LoadInt32(&fetches), nil
	}

	var v int32
	require.NoError(t, c.GetOrSet(ctx, "dashboard", "k", time.Minute, 0.2, &v, fetch))

	// Burn the TTL down past the refresh threshold.
	mr.SetTTL(Key("dashboard", "k"), 5*time.Second)

	require.NoError(t, c.GetOrSet(ctx, "dashboard", "k", time.Minute, 0.2, &v, fetch))

	// The stale value was served; the refresh happens in the background.
	assert.Equal(t, int32(1), v)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetches) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCache_InvalidateTenant(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "dashboard", "tenant-a:jan", "a", time.Minute))
	require.NoError(t, c.Set(ctx, "report", "tenant-a:c1", "b", time.Minute))
	require.NoError(t, c.Set(ctx, "dashboard", "tenant-b:jan", "c", time.Minute))

	require.NoError(t, c.InvalidateTenant(ctx, "tenant-a"))

	assert.False(t, mr.Exists(Key("dashboard", "tenant-a:jan")))
	assert.False(t, mr.Exists(Key("report", "tenant-a:c1")))
	assert.True(t, mr.Exists(Key("dashboard", "tenant-b:jan")))
}

func TestAcquireLock_MutualExclusion(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	token, err := c.AcquireLock(ctx, "campaign:dispatch:c1", time.Minute, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Second acquisition within the TTL fails.
	second, err := c.AcquireLock(ctx, "campaign:dispatch:c1", time.Minute, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, second)

	// Release with the wrong token is a no-op.
	released, err := c.ReleaseLock(ctx, "campaign:dispatch:c1", "wrong-token")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = c.ReleaseLock(ctx, "campaign:dispatch:c1", token)
	require.NoError(t, err)
	assert.True(t, released)

	// Lock is free again.
	third, err := c.AcquireLock(ctx, "campaign:dispatch:c1", time.Minute, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, third)
}

func TestAcquireLock_Retries(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	token, err := c.AcquireLock(ctx, "rollup", time.Minute, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	done := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, err := c.AcquireLock(ctx, "rollup", time.Minute, 20, 50*time.Millisecond)
		require.NoError(t, err)
		done <- got
	}()

	time.Sleep(150 * time.Millisecond)
	_, err = c.ReleaseLock(ctx, "rollup", token)
	require.NoError(t, err)

	wg.Wait()
	assert.NotEmpty(t, <-done)
}
