// internal/storage/filestore/filestore.go
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
)

const recordExt = ".json"

// Store одна запись на файл: <dir>/<bucket>/<key>.json.
// Внутри процесса ключ защищён мьютексом, между процессами flock на <key>.lock.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("filestore"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) path(bucket, key string) string {
	return filepath.Join(s.dir, bucket, key+recordExt)
}

func (s *Store) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	return s.Update(ctx, bucket, key, func([]byte) ([]byte, error) { return value, nil })
}

func (s *Store) Update(ctx context.Context, bucket, key string, fn storage.UpdateFunc) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock, err := s.lock(bucket, key)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := os.ReadFile(s.path(bucket, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return writeAtomic(s.path(bucket, key), next)
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	if err := storage.ValidateKey(bucket, key); err != nil {
		return err
	}
	unlock, err := s.lock(bucket, key)
	if err != nil {
		return err
	}
	defer unlock()

	err = os.Remove(s.path(bucket, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) List(_ context.Context, bucket string) ([]storage.Record, error) {
	if err := storage.ValidateKey(bucket, "list"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, bucket))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}

	records := make([]storage.Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		key := strings.TrimSuffix(name, recordExt)
		data, err := os.ReadFile(filepath.Join(s.dir, bucket, name))
		if errors.Is(err, fs.ErrNotExist) {
			// удалён между ReadDir и ReadFile
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
		}
		records = append(records, storage.Record{Key: key, Value: data})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) lockPath(bucket, key string) string {
	return filepath.Join(s.dir, bucket, "."+key+".lock")
}

// lock берёт мьютекс ключа и эксклюзивный flock на файл блокировки.
func (s *Store) lock(bucket, key string) (func(), error) {
	s.mu.Lock()
	id := bucket + "/" + key
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()
	m.Lock()

	if err := os.MkdirAll(filepath.Join(s.dir, bucket), 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("failed to create bucket dir: %w", err)
	}
	f, err := os.OpenFile(s.lockPath(bucket, key), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		m.Unlock()
		return nil, fmt.Errorf("flock %s: %w", id, err)
	}

	return func() {
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			s.logger.Warn("Failed to release file lock", zap.String("key", id), zap.Error(err))
		}
		_ = f.Close()
		m.Unlock()
	}, nil
}

// writeAtomic пишет во временный файл и переименовывает, чтобы читатель не увидел половину записи.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
