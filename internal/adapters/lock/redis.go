package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polybet/internal/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the key only if it still holds the caller's token, so an
// expired holder never releases a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisConfig holds connection parameters for the Redis locker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis implements ports.Locker with SET NX + TTL and a Lua-based
// conditional unlock.
type Redis struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

var _ ports.Locker = (*Redis)(nil)

// NewRedis connects to Redis and pings it before returning.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lock.NewRedis: ping %s: %w", cfg.Addr, err)
	}
	return &Redis{rdb: rdb, unlockSc: redis.NewScript(unlockLua)}, nil
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to take key for ttl. It returns ErrLockHeld if another
// party holds it.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := r.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock.Redis.Acquire: %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// contexto propio: el del caller puede estar ya cancelado
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.unlockSc.Run(unlockCtx, r.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
