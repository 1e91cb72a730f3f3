package redisx

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb)
}

func TestCache_SetGetDel(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := fmt.Sprintf(KeyOrderStatus, uuid.NewString())

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, key, []byte(`{"status":"pending"}`), time.Minute))
	b, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"pending"}`, string(b))

	require.NoError(t, c.Del(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_SetNXKeepsExisting(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := fmt.Sprintf(KeyOrderStatus, uuid.NewString())

	require.NoError(t, c.Set(ctx, key, []byte(`{"status":"shipped"}`), time.Minute))
	stored, err := c.SetNX(ctx, key, []byte(`{"status":"pending"}`), time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	b, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"shipped"}`, string(b))
}

func TestMarkOnce(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := fmt.Sprintf(KeyDedup, "test", uuid.NewString())

	first, err := MarkOnce(ctx, c.rdb, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := MarkOnce(ctx, c.rdb, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	ttl, err := c.rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDedup_ClaimIsExclusive(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	d := NewDedup(c.rdb, "test-"+uuid.NewString())
	eventID := uuid.NewString()

	const racers = 8
	wins := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.Claim(ctx, eventID)
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)

	require.NoError(t, d.Release(ctx, eventID))
	again, err := d.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, again, "released event can be claimed again")
}
