// Package storagetest общий набор проверок для реализаций storage.Store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
)

// Factory создаёт хранилище; reopen=true должен открыть те же данные заново.
type Factory func(t *testing.T) (store storage.Store, reopen func() storage.Store)

// Run прогоняет проверки контракта Store.
func Run(t *testing.T, factory Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s, _ := factory(t)
		_, err := s.Get(context.Background(), "positions", "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutGetDelete", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "positions", "mintA", []byte(`{"a":1}`)))

		got, err := s.Get(ctx, "positions", "mintA")
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))

		require.NoError(t, s.Delete(ctx, "positions", "mintA"))
		_, err = s.Get(ctx, "positions", "mintA")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		// повторное удаление не ошибка
		require.NoError(t, s.Delete(ctx, "positions", "mintA"))
	})

	t.Run("ListIsSortedPerBucket", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()
		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, s.Put(ctx, "purchases", k, []byte(k)))
		}
		require.NoError(t, s.Put(ctx, "positions", "z", []byte("z")))

		records, err := s.List(ctx, "purchases")
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, k := range []string{"a", "b", "c"} {
			assert.Equal(t, k, records[i].Key)
			assert.Equal(t, k, string(records[i].Value))
		}

		empty, err := s.List(ctx, "positions_history")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("UpdateAbortKeepsValue", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "positions", "m", []byte("v1")))

		boom := errors.New("boom")
		err := s.Update(ctx, "positions", "m", func(cur []byte) ([]byte, error) {
			assert.Equal(t, "v1", string(cur))
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, "positions", "m")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(got))
	})

	t.Run("UpdateSeesNilForMissing", func(t *testing.T) {
		s, _ := factory(t)
		err := s.Update(context.Background(), "positions", "fresh", func(cur []byte) ([]byte, error) {
			assert.Nil(t, cur)
			return []byte("created"), nil
		})
		require.NoError(t, err)
	})

	t.Run("ConcurrentUpdatesAreSerialized", func(t *testing.T) {
		s, _ := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "positions", "counter", []byte("0")))

		const workers = 8
		const perWorker = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					err := s.Update(ctx, "positions", "counter", func(cur []byte) ([]byte, error) {
						n, err := strconv.Atoi(string(cur))
						if err != nil {
							return nil, fmt.Errorf("bad counter %q: %w", cur, err)
						}
						return []byte(strconv.Itoa(n + 1)), nil
					})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "positions", "counter")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers*perWorker), string(got))
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		s, reopen := factory(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "purchases", "mint", []byte("record")))
		require.NoError(t, s.Close())

		again := reopen()
		got, err := again.Get(ctx, "purchases", "mint")
		require.NoError(t, err)
		assert.Equal(t, "record", string(got))
	})

	t.Run("RejectsBadKeys", func(t *testing.T) {
		s, _ := factory(t)
		assert.Error(t, s.Put(context.Background(), "positions", "../escape", []byte("x")))
		assert.Error(t, s.Put(context.Background(), "", "k", []byte("x")))
	})
}
