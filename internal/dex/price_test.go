package dex

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

type pricedRoute struct {
	fakeRoute
	price float64
	err   error
	asked int
}

func (r *pricedRoute) Price(context.Context, solana.PublicKey) (float64, error) {
	r.asked++
	return r.price, r.err
}

func TestPriceSourceFallsBack(t *testing.T) {
	curve := &pricedRoute{fakeRoute: fakeRoute{name: "pumpfun"}, err: types.NonRetryable("price", errors.New("bonding curve complete"))}
	pool := &pricedRoute{fakeRoute: fakeRoute{name: "pumpswap"}, price: 0.00003}
	jup := &fakeRoute{name: "jupiter"}

	src, err := NewPriceSource([]Route{curve, pool, jup}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	mint := solana.NewWallet().PublicKey()

	price, err := src.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.InDelta(t, 0.00003, price, 1e-12)

	// завершённая кривая больше не опрашивается
	_, err = src.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, 1, curve.asked)
	assert.Equal(t, 2, pool.asked)

	src.Forget(mint)
	_, _ = src.Price(context.Background(), mint)
	assert.Equal(t, 2, curve.asked)
}

func TestPriceSourceTransientErrorsKeepSource(t *testing.T) {
	curve := &pricedRoute{fakeRoute: fakeRoute{name: "pumpfun"}, err: types.Transient("rpc", errors.New("timeout"))}
	src, err := NewPriceSource([]Route{curve}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	mint := solana.NewWallet().PublicKey()

	for i := 0; i < 2; i++ {
		_, err = src.Price(context.Background(), mint)
		require.Error(t, err)
		assert.Equal(t, types.ClassDataUnavailable, types.Classify(err))
	}
	assert.Equal(t, 2, curve.asked)
}

func TestNewPriceSourceNeedsPricer(t *testing.T) {
	_, err := NewPriceSource([]Route{&fakeRoute{name: "jupiter"}}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
