package dex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	soltx "github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/transaction"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
	"github.com/rovshanmuradov/solana-exit-engine/internal/wallet"
)

// fakeRoute возвращает ошибки из очереди, затем успех.
type fakeRoute struct {
	name   string
	errs   []error
	always error

	mu    sync.Mutex
	calls int
	at    []time.Time
}

func (r *fakeRoute) Name() string { return r.name }

func (r *fakeRoute) Quote(context.Context, types.SwapRequest) (uint64, error) { return 1, nil }

func (r *fakeRoute) BuildSwap(_ context.Context, req types.SwapRequest) ([]solana.Instruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.at = append(r.at, time.Now())
	if r.always != nil {
		return nil, r.always
	}
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}
	// маркер маршрута в инструкции, чтобы fakeChain знал, кто исполнил
	return []solana.Instruction{system.NewTransferInstruction(1, req.Owner, req.Owner).Build()}, nil
}

func (r *fakeRoute) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeChain исполняет транзакции и хранит балансы кошелька.
type fakeChain struct {
	mu       sync.Mutex
	tokens   uint64
	lamports uint64
	// effect изменение балансов после подтверждённой транзакции
	effect func(c *fakeChain)
	sent   int
}

func (c *fakeChain) Execute(_ context.Context, _ *wallet.Wallet, _ types.PriorityConfig, _ []solana.Instruction) (*soltx.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	if c.effect != nil {
		c.effect(c)
	}
	now := time.Now()
	return &soltx.Status{Signature: solana.Signature{byte(c.sent)}, SentAt: now, ConfirmedAt: now}, nil
}

func (c *fakeChain) TokenBalance(context.Context, string, solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens, nil
}

func (c *fakeChain) SOLBalance(context.Context, string, solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lamports, nil
}

type fixedFee struct{}

func (fixedFee) Estimate(context.Context, types.Side, ...solana.PublicKey) types.PriorityConfig {
	return types.PriorityConfig{ComputeUnits: 200_000, PriorityFee: 1_000}
}

func sellEffect(quantity, lamports uint64) func(*fakeChain) {
	return func(c *fakeChain) {
		c.tokens -= quantity
		c.lamports += lamports
	}
}

func newTestExecutor(t *testing.T, chain *fakeChain, routes ...Route) (*Executor, *[]ExecutionResult) {
	t.Helper()
	factory, err := NewFactory(routes...)
	require.NoError(t, err)

	w := wallet.FromPrivateKey("test", solana.NewWallet().PrivateKey)
	exec := NewExecutor(factory, chain, fixedFee{}, chain, w, ExecutorConfig{
		SlippageBps:    500,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		VerifyAttempts: 2,
		VerifyDelay:    time.Millisecond,
	}, metrics.NewCollector(), zaptest.NewLogger(t))

	var (
		mu      sync.Mutex
		results []ExecutionResult
	)
	exec.SetObserver(ObserverFunc(func(_ context.Context, r ExecutionResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}))
	return exec, &results
}

func attemptsOn(res ExecutionResult, route string) []RouteAttempt {
	var out []RouteAttempt
	for _, a := range res.Attempts {
		if a.Route == route {
			out = append(out, a)
		}
	}
	return out
}

func TestSellNonRetryableMovesToNextRoute(t *testing.T) {
	chain := &fakeChain{tokens: 1_000, lamports: 5_000}
	chain.effect = sellEffect(1_000, 30_000)
	curve := &fakeRoute{name: "pumpfun", always: types.NonRetryable("pumpfun curve", errors.New("bonding curve complete"))}
	pool := &fakeRoute{name: "pumpswap"}

	exec, observed := newTestExecutor(t, chain, curve, pool)
	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 1_000})

	require.True(t, res.Success, "err: %v", res.Err)
	assert.Equal(t, "pumpswap", res.Route)
	assert.Equal(t, 1, curve.count())
	require.Len(t, attemptsOn(res, "pumpfun"), 1)
	assert.Equal(t, types.ClassNonRetryable, attemptsOn(res, "pumpfun")[0].Class)
	assert.True(t, res.Verified)
	assert.Equal(t, uint64(1_000), res.Quantity)
	assert.Equal(t, uint64(30_000), res.Lamports)
	require.Len(t, *observed, 1)
	assert.True(t, (*observed)[0].Success)
}

func TestSellRetriesTransientThenFallsBack(t *testing.T) {
	chain := &fakeChain{tokens: 500}
	chain.effect = sellEffect(500, 0)
	flaky := &fakeRoute{name: "pumpfun", always: types.Transient("rpc", errors.New("429 too many requests"))}
	pool := &fakeRoute{name: "pumpswap"}

	exec, _ := newTestExecutor(t, chain, flaky, pool)
	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 500})

	require.True(t, res.Success)
	assert.Equal(t, "pumpswap", res.Route)
	attempts := attemptsOn(res, "pumpfun")
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i, a.Retry)
		assert.Equal(t, types.ClassTransient, a.Class)
	}

	// повторы разнесены паузами backoff, и все до перехода на pumpswap
	assert.Zero(t, attempts[0].Backoff)
	flaky.mu.Lock()
	calls := append([]time.Time(nil), flaky.at...)
	flaky.mu.Unlock()
	pool.mu.Lock()
	fallbackAt := pool.at[0]
	pool.mu.Unlock()
	for i := 1; i < len(attempts); i++ {
		assert.Positive(t, attempts[i].Backoff, "attempt %d", i)
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), attempts[i].Backoff, "attempt %d", i)
	}
	assert.True(t, fallbackAt.After(calls[2]))
}

func TestTransientRecoversOnSameRoute(t *testing.T) {
	chain := &fakeChain{tokens: 500}
	chain.effect = sellEffect(500, 0)
	flaky := &fakeRoute{name: "pumpfun", errs: []error{types.Transient("rpc", errors.New("timeout"))}}
	pool := &fakeRoute{name: "pumpswap"}

	exec, _ := newTestExecutor(t, chain, flaky, pool)
	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 500})

	require.True(t, res.Success)
	assert.Equal(t, "pumpfun", res.Route)
	assert.Equal(t, 2, flaky.count())
	assert.Zero(t, pool.count())
}

func TestUnknownErrorsHaveSmallerBudget(t *testing.T) {
	chain := &fakeChain{tokens: 10}
	chain.effect = sellEffect(10, 0)
	odd := &fakeRoute{name: "pumpfun", always: errors.New("something odd happened")}
	pool := &fakeRoute{name: "pumpswap"}

	exec, _ := newTestExecutor(t, chain, odd, pool)
	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 10})

	require.True(t, res.Success)
	assert.Equal(t, 2, odd.count())
	for _, a := range attemptsOn(res, "pumpfun") {
		assert.Equal(t, types.ClassUnknown, a.Class)
	}
}

func TestAllRoutesFailReturnsLastError(t *testing.T) {
	chain := &fakeChain{tokens: 10}
	lastErr := errors.New("pool has no liquidity")
	a := &fakeRoute{name: "pumpfun", always: types.NonRetryable("a", errors.New("curve complete"))}
	b := &fakeRoute{name: "pumpswap", always: types.NonRetryable("b", lastErr)}

	exec, observed := newTestExecutor(t, chain, a, b)
	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 10})

	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, lastErr)
	assert.Equal(t, types.ClassNonRetryable, res.Class())
	assert.Len(t, res.Attempts, 2)
	assert.Zero(t, chain.sent)
	require.Len(t, *observed, 1)
	assert.False(t, (*observed)[0].Success)
}

func TestRouteHintGoesFirst(t *testing.T) {
	chain := &fakeChain{tokens: 10}
	chain.effect = sellEffect(10, 0)
	a := &fakeRoute{name: "pumpfun"}
	b := &fakeRoute{name: "pumpswap"}

	exec, _ := newTestExecutor(t, chain, a, b)
	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 10, RouteHint: "pumpswap"})

	require.True(t, res.Success)
	assert.Equal(t, "pumpswap", res.Route)
	assert.Zero(t, a.count())
}

func TestSellWithoutBalanceChangeFails(t *testing.T) {
	chain := &fakeChain{tokens: 100}
	exec, observed := newTestExecutor(t, chain, &fakeRoute{name: "pumpfun"})

	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 100})

	assert.False(t, res.Success)
	assert.False(t, res.Verified)
	assert.Zero(t, res.Quantity)
	assert.ErrorIs(t, res.Err, ErrUnverifiedFill)
	assert.Equal(t, types.ClassStateInconsistency, res.Class())
	assert.Equal(t, 1, chain.sent)
	require.Len(t, *observed, 1)
	assert.False(t, (*observed)[0].Success)
}

func TestSellPartialFillReportsMeasuredQuantity(t *testing.T) {
	chain := &fakeChain{tokens: 1_000, lamports: 10_000}
	chain.effect = sellEffect(400, 12_000)
	exec, _ := newTestExecutor(t, chain, &fakeRoute{name: "pumpfun"})

	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 1_000})

	require.True(t, res.Success, "err: %v", res.Err)
	assert.False(t, res.Verified)
	assert.Equal(t, uint64(400), res.Quantity)
	assert.Equal(t, uint64(12_000), res.Lamports)
	assert.Equal(t, uint64(600), chain.tokens)
}

func TestBuyMeasuresReceivedTokens(t *testing.T) {
	chain := &fakeChain{tokens: 0, lamports: 2_000_000_000}
	chain.effect = func(c *fakeChain) {
		c.tokens += 7_777
		c.lamports -= 100_000_000
	}
	exec, _ := newTestExecutor(t, chain, &fakeRoute{name: "pumpfun"})

	res := exec.Buy(context.Background(), BuyRequest{Mint: solana.NewWallet().PublicKey(), Lamports: 100_000_000})

	require.True(t, res.Success)
	assert.Equal(t, types.SideBuy, res.Side)
	assert.True(t, res.Verified)
	assert.Equal(t, uint64(7_777), res.Quantity)
	assert.Equal(t, uint64(100_000_000), res.Lamports)
}

func TestInvalidRequestFailsWithoutRouting(t *testing.T) {
	chain := &fakeChain{}
	route := &fakeRoute{name: "pumpfun"}
	exec, _ := newTestExecutor(t, chain, route)

	res := exec.Sell(context.Background(), SellRequest{Mint: solana.NewWallet().PublicKey(), Quantity: 0})

	assert.False(t, res.Success)
	assert.Equal(t, types.ClassNonRetryable, res.Class())
	assert.Zero(t, route.count())
}

func TestFactoryOrder(t *testing.T) {
	a, b, c := &fakeRoute{name: "a"}, &fakeRoute{name: "b"}, &fakeRoute{name: "c"}
	f, err := NewFactory(a, b, c)
	require.NoError(t, err)

	names := func(rs []Route) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.Name())
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, names(f.Order("")))
	assert.Equal(t, []string{"c", "a", "b"}, names(f.Order("c")))
	assert.Equal(t, []string{"a", "b", "c"}, names(f.Order("unknown")))

	_, err = NewFactory(a, a)
	assert.Error(t, err)
}
