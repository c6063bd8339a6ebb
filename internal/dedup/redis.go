package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Снятие и продление аренды только владельцем, атомарно на стороне Redis.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisGuard аренды в Redis для нескольких процессов (движок и CLI рядом).
// Истечение делает сам Redis, поэтому Sweep ничего не удаляет.
type RedisGuard struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGuard(rdb redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "exit-engine"
	}
	return &RedisGuard{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger.Named("dedup")}
}

func (g *RedisGuard) redisKey(kind Kind, asset string) string {
	return fmt.Sprintf("%s:lease:%s", g.prefix, key(kind, asset))
}

func (g *RedisGuard) Acquire(ctx context.Context, kind Kind, asset, holder string) (bool, error) {
	k := g.redisKey(kind, asset)
	ok, err := g.rdb.SetNX(ctx, k, holder, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", k, err)
	}
	return ok, nil
}

func (g *RedisGuard) Refresh(ctx context.Context, kind Kind, asset, holder string) (bool, error) {
	k := g.redisKey(kind, asset)
	n, err := refreshScript.Run(ctx, g.rdb, []string{k}, holder, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh %s: %w", k, err)
	}
	return n == 1, nil
}

func (g *RedisGuard) Release(ctx context.Context, kind Kind, asset, holder string) error {
	k := g.redisKey(kind, asset)
	n, err := releaseScript.Run(ctx, g.rdb, []string{k}, holder).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", k, err)
	}
	if n == 0 {
		g.logger.Debug("Release skipped, lease not owned", zap.String("key", k), zap.String("holder", holder))
	}
	return nil
}

func (g *RedisGuard) IsHeld(ctx context.Context, kind Kind, asset string) (bool, error) {
	k := g.redisKey(kind, asset)
	_, err := g.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is held %s: %w", k, err)
	}
	return true, nil
}

func (g *RedisGuard) Sweep(context.Context) int { return 0 }
