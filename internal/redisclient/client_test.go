package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClient(rdb), mr
}

func TestClient_Ping(t *testing.T) {
	client, _ := setupMiniRedis(t)
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestClient_SetGetDel(t *testing.T) {
	client, _ := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "test:key", "value", time.Minute).Err())

	got, err := client.Get(ctx, "test:key").Result()
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	deleted, err := client.Del(ctx, "test:key").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = client.Get(ctx, "test:key").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestClient_TTL(t *testing.T) {
	client, mr := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "test:ttl", "v", 10*time.Minute).Err())
	ttl, err := client.TTL(ctx, "test:ttl").Result()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)

	mr.FastForward(11 * time.Minute)
	_, err = client.Get(ctx, "test:ttl").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestClient_ConnectionError(t *testing.T) {
	client, mr := setupMiniRedis(t)
	mr.Close()

	assert.Error(t, client.Ping(context.Background()).Err())
}
