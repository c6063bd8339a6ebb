// internal/bot/storage.go
package bot

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/config"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dedup"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/filestore"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/redisstore"
)

// OpenStore открывает хранилище позиций и журнала покупок по storage.driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "", "file":
		return filestore.New(cfg.Dir, logger)
	case "redis":
		return redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, logger)
	case "postgres":
		return postgres.New(cfg.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenGuard создаёт DedupGuard. Redis-бэкенд берёт клиент у redis-хранилища,
// если оно используется, иначе подключается по адресу из storage.
// Возвращаемая функция закрывает собственное подключение guard'а.
func OpenGuard(ctx context.Context, cfg config.DedupConfig, st config.StorageConfig, kv storage.Store, logger *zap.Logger) (dedup.Guard, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", "memory":
		return dedup.NewMemoryGuard(cfg.TTL(), logger), noop, nil
	case "redis":
		if rs, ok := kv.(*redisstore.Store); ok {
			return dedup.NewRedisGuard(rs.Client(), st.RedisPrefix, cfg.TTL(), logger), noop, nil
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     st.RedisAddr,
			Password: st.RedisPassword,
			DB:       st.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis for dedup: %w", err)
		}
		return dedup.NewRedisGuard(rdb, st.RedisPrefix, cfg.TTL(), logger), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}
