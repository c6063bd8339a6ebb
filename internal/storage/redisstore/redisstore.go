// internal/storage/redisstore/redisstore.go
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
)

const maxTxRetries = 100

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix пространство имён ключей, чтобы несколько ботов делили один Redis.
	Prefix string
}

// Store одна строка Redis на запись плюс множество-индекс ключей на бакет.
// Update оптимистичный: WATCH/MULTI с повтором при конфликте.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	owned  bool
	logger *zap.Logger
}

// New подключается к Redis и проверяет соединение.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s := NewWithClient(rdb, opts.Prefix, logger)
	s.owned = true
	return s, nil
}

// NewWithClient использует готовый клиент; Close его не закрывает.
func NewWithClient(rdb redis.UniversalClient, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = "exit-engine"
	}
	return &Store{rdb: rdb, prefix: prefix, logger: logger.Named("redisstore")}
}

// Client нижележащий клиент, чтобы DedupGuard делил подключение.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

func (s *Store) recordKey(bucket, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, bucket, key)
}

func (s *Store) indexKey(bucket string) string {
	return fmt.Sprintf("%s:%s:_index", s.prefix, bucket)
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, s.recordKey(bucket, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(bucket, key), value, 0)
		pipe.SAdd(ctx, s.indexKey(bucket), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, bucket, key string, fn storage.UpdateFunc) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	rk := s.recordKey(bucket, key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rk).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, next, 0)
			pipe.SAdd(ctx, s.indexKey(bucket), key)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, rk)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Optimistic update conflict, retrying",
				zap.String("bucket", bucket),
				zap.String("key", key),
				zap.Int("attempt", i+1))
			continue
		}
		return err
	}
	return fmt.Errorf("update %s/%s: %w", bucket, key, storage.ErrConflict)
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(bucket, key))
		pipe.SRem(ctx, s.indexKey(bucket), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket string) ([]storage.Record, error) {
	if err := storage.ValidateKey(bucket, "list"); err != nil {
		return nil, err
	}
	keys, err := s.rdb.SMembers(ctx, s.indexKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	recordKeys := make([]string, len(keys))
	for i, k := range keys {
		recordKeys[i] = s.recordKey(bucket, k)
	}
	values, err := s.rdb.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}

	records := make([]storage.Record, 0, len(keys))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// индекс пережил запись; пропускаем
			continue
		}
		records = append(records, storage.Record{Key: keys[i], Value: []byte(str)})
	}
	return records, nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}
