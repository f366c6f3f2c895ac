package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a live Redis: REDIS_TEST_ADDR=localhost:6379 go test ./lock
func newTestLocker(t *testing.T) *RedisLocker {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := NewRedisClient(addr, "", 0)
	if client == nil {
		t.Skipf("redis at %s unreachable", addr)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client)
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()
	key := "test:lock:" + t.Name()

	// GIVEN: The key is held
	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	// WHEN: A second caller tries with a short deadline
	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, key)

	// THEN: It waits and gives up with the context error
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// AND: After release the key is free again
	unlock()
	unlock2, err := l.Lock(ctx, key)
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	l := newTestLocker(t)
	l.TTL = 300 * time.Millisecond
	ctx := context.Background()
	key := "test:lock:" + t.Name()

	// GIVEN: The key is held for several TTLs
	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	time.Sleep(3 * l.TTL)

	// WHEN: A second caller tries
	short, cancel := context.WithTimeout(ctx, l.TTL)
	defer cancel()
	_, err = l.Lock(short, key)

	// THEN: The first holder still owns the key
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// AND: Release is idempotent and frees the key
	unlock()
	unlock()
	n, err := l.Client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()
	key := "test:lock:" + t.Name()

	// GIVEN: Our lock expired and somebody else took the key
	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, l.Client.Set(ctx, key, "other", time.Minute).Err())

	// WHEN: We release
	unlock()

	// THEN: Their value survives
	v, err := l.Client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "other", v)
	require.NoError(t, l.Client.Del(ctx, key).Err())
}

func TestNewRedisClient_EmptyAddr(t *testing.T) {
	assert.Nil(t, NewRedisClient("", "", 0))
}
