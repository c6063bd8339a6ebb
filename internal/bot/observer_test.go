package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

func TestEventObserverPublishesOutcome(t *testing.T) {
	pub := &recorder{}
	var seen int
	obs := Observers{
		newEventObserver("wallet-1", pub, zaptest.NewLogger(t)),
		dex.ObserverFunc(func(context.Context, dex.ExecutionResult) { seen++ }),
	}
	mint := solana.NewWallet().PublicKey()

	obs.OnTrade(context.Background(), dex.ExecutionResult{
		Side: types.SideSell, Mint: mint, Success: true, Route: "pumpswap", Quantity: 10, Lamports: 20,
	})
	obs.OnTrade(context.Background(), dex.ExecutionResult{
		Side: types.SideBuy, Mint: mint, Err: types.Transient("rpc", errors.New("timeout")),
	})

	assert.Equal(t, 2, seen)
	require.Len(t, pub.events, 2)

	executed, ok := pub.events[0].(*events.TradeExecutedEvent)
	require.True(t, ok)
	assert.Equal(t, "sell", executed.Side)
	assert.Equal(t, "pumpswap", executed.Route)
	assert.Equal(t, "wallet-1", executed.Wallet)
	assert.Equal(t, uint64(20), executed.Lamports)

	failed, ok := pub.events[1].(*events.TradeFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "buy", failed.Side)
	assert.Equal(t, string(types.ClassTransient), failed.Class)
}
