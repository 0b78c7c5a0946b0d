package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"predict_go/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so a holder whose TTL expired cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	minRetryDelay = 5 * time.Millisecond
	maxRetryDelay = 200 * time.Millisecond
)

// RedisOptions holds connection parameters for the Redis client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisLocker implements domain.Locker across processes with SET NX PX and a
// Lua-guarded unlock. Use it when several ledger processes share one database.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	prefix   string
}

// NewRedisLocker connects and pings Redis.
func NewRedisLocker(ctx context.Context, opts RedisOptions) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisLockerFromClient(rdb), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		prefix:   "predict:lock:",
	}
}

// Acquire retries SET NX with capped exponential backoff until the lock is
// taken or ctx ends. The returned unlock is safe to call more than once.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := l.prefix + key

	delay := minRetryDelay
	for {
		ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("acquire %s: %w", key, domain.ErrLockTimeout)
			}
			return nil, domain.NewStoreError("redis: acquire lock "+key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire %s: %w", key, domain.ErrLockTimeout)
		case <-timer.C:
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Must run even when the caller's ctx is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// Compile-time interface check.
var _ domain.Locker = (*RedisLocker)(nil)
