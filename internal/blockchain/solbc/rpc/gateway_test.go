package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

func newTestGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	g, err := NewGateway(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return g
}

func TestProfileFor(t *testing.T) {
	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{{Name: "a", URL: "http://a", RPM: 60}},
		Profiles: map[string][]string{
			"default":    {"a"},
			"sniper":     {"a"},
			"sniper-bot": {"a"},
			"monitor":    {"a"},
		},
	})

	assert.Equal(t, "monitor", g.ProfileFor("monitor"))
	assert.Equal(t, "sniper-bot", g.ProfileFor("sniper-bot-2"))
	assert.Equal(t, "sniper", g.ProfileFor("Sniper-x"))
	assert.Equal(t, DefaultProfile, g.ProfileFor("whale-follower"))
}

func TestNewGatewayRejectsUnknownProvider(t *testing.T) {
	_, err := NewGateway(Config{
		Providers: []ProviderConfig{{Name: "a", URL: "http://a", RPM: 60}},
		Profiles:  map[string][]string{"default": {"b"}},
	}, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDoSkipsProviderWithoutCapability(t *testing.T) {
	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{
			{Name: "query-only", URL: "http://a", RPM: 600, Capabilities: []Capability{CapQuery}},
			{Name: "streaming", URL: "http://b", RPM: 600, Capabilities: []Capability{CapSubscribe}},
		},
	})

	var used *solanarpc.Client
	err := g.Do(context.Background(), "monitor", CapSubscribe, func(_ context.Context, c *solanarpc.Client) error {
		used = c
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, g.providers["streaming"].client, used)

	// subscribe implies query
	err = g.Do(context.Background(), "monitor", CapQuery, func(_ context.Context, c *solanarpc.Client) error {
		used = c
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, g.providers["query-only"].client, used)
}

func TestDoSkipsProviderOverBudget(t *testing.T) {
	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{
			{Name: "tiny", URL: "http://a", RPM: 1},
			{Name: "big", URL: "http://b", RPM: 6000},
		},
	})

	var used []*solanarpc.Client
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Do(context.Background(), "x", CapQuery, func(_ context.Context, c *solanarpc.Client) error {
			used = append(used, c)
			return nil
		}))
	}
	require.Len(t, used, 3)
	assert.Same(t, g.providers["tiny"].client, used[0])
	assert.Same(t, g.providers["big"].client, used[1])
	assert.Same(t, g.providers["big"].client, used[2])
}

func TestDoFailoverDependsOnErrorClass(t *testing.T) {
	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{
			{Name: "first", URL: "http://a", RPM: 6000},
			{Name: "second", URL: "http://b", RPM: 6000},
		},
	})
	first := g.providers["first"].client

	calls := 0
	err := g.Do(context.Background(), "x", CapQuery, func(_ context.Context, c *solanarpc.Client) error {
		calls++
		if c == first {
			return errors.New("429 Too Many Requests")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = g.Do(context.Background(), "x", CapQuery, func(_ context.Context, c *solanarpc.Client) error {
		calls++
		return types.NonRetryable("send", errors.New("insufficient funds"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "first", rpcErr.Provider)
}

func TestDoWithoutCapableProvider(t *testing.T) {
	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{{Name: "a", URL: "http://a", RPM: 60}},
	})
	err := g.Do(context.Background(), "x", CapSubscribe, func(context.Context, *solanarpc.Client) error { return nil })
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestBlockhashCacheRefreshesOnlyWhenStale(t *testing.T) {
	node := newFakeNode(t)
	hash := solana.Hash(solana.NewWallet().PublicKey())
	node.handle("getLatestBlockhash", func(int) (interface{}, *rpcFailure) {
		return withContext(map[string]interface{}{
			"blockhash":            hash.String(),
			"lastValidBlockHeight": 100,
		}), nil
	})

	g := newTestGateway(t, Config{
		Providers:      []ProviderConfig{{Name: "a", URL: node.srv.URL, RPM: 6000}},
		BlockhashStale: 10 * time.Second,
	})
	now := time.Now()
	cache := g.Blockhash()
	cache.now = func() time.Time { return now }

	got, err := g.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	now = now.Add(5 * time.Second)
	_, err = g.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, node.count("getLatestBlockhash"))

	now = now.Add(6 * time.Second)
	_, err = g.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, node.count("getLatestBlockhash"))
}

func TestBlockhashFailsOverOnHTTP429(t *testing.T) {
	limited := newFakeNode(t)
	limited.failHTTP(429)
	healthy := newFakeNode(t)
	hash := solana.Hash(solana.NewWallet().PublicKey())
	healthy.handle("getLatestBlockhash", func(int) (interface{}, *rpcFailure) {
		return withContext(map[string]interface{}{"blockhash": hash.String(), "lastValidBlockHeight": 1}), nil
	})

	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{
			{Name: "limited", URL: limited.srv.URL, RPM: 6000},
			{Name: "healthy", URL: healthy.srv.URL, RPM: 6000},
		},
	})

	got, err := g.Blockhash().Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, got)
	assert.Equal(t, 1, limited.count("getLatestBlockhash"))
}

func TestAwaitConfirmationPolling(t *testing.T) {
	node := newFakeNode(t)
	node.handle("getSignatureStatuses", func(call int) (interface{}, *rpcFailure) {
		if call < 3 {
			return withContext([]interface{}{nil}), nil
		}
		return withContext([]interface{}{map[string]interface{}{
			"slot":               10,
			"confirmations":      1,
			"err":                nil,
			"confirmationStatus": "confirmed",
		}}), nil
	})

	g := newTestGateway(t, Config{
		Providers:   []ProviderConfig{{Name: "a", URL: node.srv.URL, RPM: 6000}},
		ConfirmPoll: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, g.AwaitConfirmation(ctx, "sell", solana.Signature{1}))
	assert.Equal(t, 3, node.count("getSignatureStatuses"))
}

func TestAwaitConfirmationReportsOnChainFailure(t *testing.T) {
	node := newFakeNode(t)
	node.handle("getSignatureStatuses", func(int) (interface{}, *rpcFailure) {
		return withContext([]interface{}{map[string]interface{}{
			"slot":               10,
			"err":                map[string]interface{}{"InstructionError": []interface{}{2, map[string]interface{}{"Custom": 6004}}},
			"confirmationStatus": "confirmed",
		}}), nil
	})

	g := newTestGateway(t, Config{
		Providers:   []ProviderConfig{{Name: "a", URL: node.srv.URL, RPM: 6000}},
		ConfirmPoll: 10 * time.Millisecond,
	})

	err := g.AwaitConfirmation(context.Background(), "sell", solana.Signature{2})
	require.Error(t, err)
	assert.Equal(t, types.ClassNonRetryable, types.Classify(err))
	assert.True(t, types.IsSlippageExceeded(err))
}

func TestAwaitConfirmationTimeoutIsTransient(t *testing.T) {
	node := newFakeNode(t)
	node.handle("getSignatureStatuses", func(int) (interface{}, *rpcFailure) {
		return withContext([]interface{}{nil}), nil
	})
	g := newTestGateway(t, Config{
		Providers:   []ProviderConfig{{Name: "a", URL: node.srv.URL, RPM: 6000}},
		ConfirmPoll: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := g.AwaitConfirmation(ctx, "sell", solana.Signature{3})
	require.Error(t, err)
	assert.Equal(t, types.ClassTransient, types.Classify(err))
}

func TestTokenBalance(t *testing.T) {
	node := newFakeNode(t)
	node.handle("getTokenAccountBalance", func(call int) (interface{}, *rpcFailure) {
		if call == 1 {
			return withContext(map[string]interface{}{"amount": "1234567", "decimals": 6, "uiAmountString": "1.234567"}), nil
		}
		return nil, &rpcFailure{Code: -32602, Message: "Invalid param: could not find account"}
	})
	g := newTestGateway(t, Config{
		Providers: []ProviderConfig{{Name: "a", URL: node.srv.URL, RPM: 6000}},
	})

	balance, err := g.TokenBalance(context.Background(), "sell", solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567), balance)

	balance, err = g.TokenBalance(context.Background(), "sell", solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Zero(t, balance)
}
