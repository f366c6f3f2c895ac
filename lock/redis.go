/*
Package lock provides a Redis-backed session lock for running several API
instances against one database.

The in-process count.LocalLocker is enough for a single instance. With more
than one instance, two approvals of the same session may land on different
processes; RedisLocker makes them queue on a shared key instead.

LOCK PROTOCOL:
  acquire: SET key token NX PX ttl, retried every RetryInterval until it
           succeeds or ctx is done
  renew:   every TTL/3 while held, push the expiry out again if the key
           still holds our token (Lua script)
  release: stop renewing, then delete the key only if it still holds our
           token (Lua script)

The TTL bounds how long a crashed holder blocks others; a live holder keeps
the key for as long as it runs. If renewal fails anyway, the status
compare-and-set in the store still rejects a second approval.
*/
package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/stockcount/count"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements count.Locker on a Redis key per session.
type RedisLocker struct {
	Client        *redis.Client
	TTL           time.Duration
	RetryInterval time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{Client: client, TTL: DefaultTTL, RetryInterval: DefaultRetryInterval}
}

// Lock blocks until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(l.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be cancelled by the time we release.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.Client, []string{key}, token).Err(); err != nil {
				log.Printf("[Lock] Failed to release %s: %v", key, err)
			}
		})
	}, nil
}

// renew extends the key's TTL until stop is closed or the key is lost.
func (l *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.TTL/3 <= 0 {
		// No expiry to push out.
		<-stop
		return
	}
	ticker := time.NewTicker(l.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.TTL/3)
			n, err := renewScript.Run(ctx, l.Client, []string{key}, token, l.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Printf("[Lock] Failed to renew %s: %v", key, err)
				continue
			}
			if n == 0 {
				log.Printf("[Lock] Lost %s before release", key)
				return
			}
		}
	}
}

var _ count.Locker = (*RedisLocker)(nil)

// NewRedisClient connects to Redis and pings it. It returns nil when the
// server is unreachable; callers fall back to the in-process lock.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[Lock] Redis at %s unreachable: %v", addr, err)
		_ = client.Close()
		return nil
	}
	return client
}
