// Package lock serializes writers across processes that share one database.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"tasktree/internal/logger"
)

// Locker grants exclusive access to key until the returned release is called
// or ttl expires.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Noop always succeeds. It is used when no shared lock is configured and
// the in-process mutex is the only writer guard.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a single-instance SET NX PX lock.
type Redis struct {
	client redis.UniversalClient
	// Retry is the wait between attempts while the lock is held elsewhere.
	Retry time.Duration
}

// NewRedis connects and pings the server. Callers may fall back to Noop when
// it fails.
func NewRedis(addr, password string, db int) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{client: client, Retry: 50 * time.Millisecond}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(c redis.UniversalClient) *Redis {
	return &Redis{client: c, Retry: 50 * time.Millisecond}
}

// Acquire blocks until the lock is taken or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
					// The key still expires after ttl.
					logger.Warn("redis lock release failed", "key", key, "err", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(r.Retry):
		}
	}
}

func (r *Redis) Close() error { return r.client.Close() }
