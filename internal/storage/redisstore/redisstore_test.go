package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.Store, func() storage.Store) {
		mr := miniredis.RunT(t)
		open := func() storage.Store {
			s, err := New(context.Background(), Options{Addr: mr.Addr(), Prefix: "test"}, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
		return open(), open
	})
}

func TestPrefixesIsolateBots(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	a, err := New(ctx, Options{Addr: mr.Addr(), Prefix: "bot-a"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, Options{Addr: mr.Addr(), Prefix: "bot-b"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Put(ctx, "positions", "mint", []byte("a")))
	_, err = b.Get(ctx, "positions", "mint")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.True(t, mr.Exists("bot-a:positions:mint"))
}

func TestNewFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{Addr: addr}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
