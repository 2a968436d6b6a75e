package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces lock keys in Redis.
const KeyPrefix = "amocrm:lock:"

// ErrTimeout is returned when a lock could not be taken within the wait budget.
var ErrTimeout = errors.New("lock: wait timeout")

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only while the key still holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lock shared by every replica pointing at the same Redis.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedis connects to Redis and verifies it answers PING.
func NewRedis(addr string, db int, password string, ttl, wait time.Duration, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(rdb, ttl, wait, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rdb:    rdb,
		logger: logger,
		ttl:    ttl,
		wait:   wait,
		poll:   50 * time.Millisecond,
	}
}

// Acquire takes key with SET NX PX, polling until the wait budget or ctx runs out.
// While held, the lock is extended every ttl/3; it expires after ttl if the
// holder dies without calling release.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := KeyPrefix + key
	token := uuid.NewString()

	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			r.release(redisKey, token)
		})
	}, nil
}

// keepAlive extends the lock every ttl/3 until stop is closed or the lock is lost.
func (r *Redis) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := r.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := extendScript.Run(ctx, r.rdb, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn("lock.extend_failed", zap.String("key", redisKey), zap.Error(err))
				continue
			}
			if n == 0 {
				r.logger.Warn("lock.lost", zap.String("key", redisKey))
				return
			}
		}
	}
}

func (r *Redis) release(redisKey, token string) {
	// release must run even when the request context is already cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.rdb, []string{redisKey}, token).Int()
	if err != nil {
		r.logger.Warn("lock.release_failed",
			zap.String("key", redisKey),
			zap.Error(err))
		return
	}
	if n == 0 {
		r.logger.Warn("lock.release_expired",
			zap.String("key", redisKey),
			zap.Duration("ttl", r.ttl))
	}
}

// HealthCheck pings Redis.
func (r *Redis) HealthCheck(ctx context.Context) error {
	if r.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
