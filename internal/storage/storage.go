// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound запись отсутствует.
	ErrNotFound = errors.New("record not found")
	// ErrConflict оптимистичная транзакция не прошла после всех повторов.
	ErrConflict = errors.New("concurrent update conflict")
)

// Record значение с ключом, как его возвращает List.
type Record struct {
	Key   string
	Value []byte
}

// UpdateFunc получает текущее значение (nil если записи нет) и возвращает новое.
// Ошибка отменяет запись и возвращается из Update как есть.
type UpdateFunc func(current []byte) ([]byte, error)

// Store транзакционное хранилище ключ-значение, разбитое на бакеты.
// Все записи устойчивы к перезапуску и идемпотентны.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	// Update атомарное чтение-изменение-запись одного ключа.
	Update(ctx context.Context, bucket, key string, fn UpdateFunc) error
	Delete(ctx context.Context, bucket, key string) error
	// List все записи бакета, отсортированные по ключу.
	List(ctx context.Context, bucket string) ([]Record, error)
	Close() error
}

// ValidateKey запрещает ключи, которые нельзя безопасно положить в путь файла или ключ Redis.
func ValidateKey(bucket, key string) error {
	for _, part := range []string{bucket, key} {
		if part == "" {
			return fmt.Errorf("bucket and key must not be empty")
		}
		if strings.ContainsAny(part, `/\:`) || strings.HasPrefix(part, ".") {
			return fmt.Errorf("invalid storage name %q", part)
		}
	}
	return nil
}
