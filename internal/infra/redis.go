package infra

import (
	"context"
	"fmt"
	"time"

	"cajapos/internal/apperror"
	"cajapos/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedis creates and validates a go-redis client connection.
func NewRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	// Validate connectivity at startup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// ── Till lock ─────────────────────────────────────────────────────────────────
// Cross-process mutual exclusion per punto de venta for deployments that run
// several API replicas. SET NX PX with a random token; release only deletes
// the key if it still holds our token, so an expired lock taken over by
// another process is never released by us.

const tillLockPrefix = "lock:caja:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisTillLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
}

func NewRedisTillLocker(rdb *redis.Client, ttl time.Duration) *RedisTillLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisTillLocker{rdb: rdb, ttl: ttl, retry: 25 * time.Millisecond}
}

func tillLockKey(puntoDeVenta int) string {
	return fmt.Sprintf("%s%d", tillLockPrefix, puntoDeVenta)
}

// Lock blocks until the till is free or ctx is done.
func (l *RedisTillLocker) Lock(ctx context.Context, puntoDeVenta int) (func(), error) {
	key := tillLockKey(puntoDeVenta)
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, apperror.Withf(model.ErrAlmacenamientoNoDisponible, "lock caja %d: %v", puntoDeVenta, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperror.Withf(model.ErrAlmacenamientoNoDisponible, "caja %d ocupada", puntoDeVenta)
		case <-time.After(l.retry):
		}
	}
}
