package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dedup"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/filestore"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
)

var errNoQuote = errors.New("no quote")

// fakePrices отдаёт цены по очереди, последняя повторяется.
type fakePrices struct {
	mu     sync.Mutex
	prices []float64
	errs   []error
	calls  int
}

func (p *fakePrices) Price(context.Context, solana.PublicKey) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := min(p.calls, len(p.prices)-1)
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return 0, p.errs[i]
	}
	return p.prices[i], nil
}

func (p *fakePrices) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeTrader исполняет сделки против баланса кошелька в памяти.
type fakeTrader struct {
	mu        sync.Mutex
	balance   uint64
	failSells int
	fillCap   uint64 // частичное исполнение следующей продажи
	sells     []dex.SellRequest
	buys      []dex.BuyRequest
}

func (f *fakeTrader) Sell(_ context.Context, req dex.SellRequest) dex.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, req)
	if f.failSells > 0 {
		f.failSells--
		return dex.ExecutionResult{Side: types.SideSell, Mint: req.Mint, Err: types.Transient("rpc", errors.New("blockhash expired"))}
	}
	q := min(req.Quantity, f.balance)
	verified := true
	if f.fillCap > 0 && q > f.fillCap {
		q, verified = f.fillCap, false
		f.fillCap = 0
	}
	f.balance -= q
	return dex.ExecutionResult{
		Side: types.SideSell, Mint: req.Mint, Success: true, Route: "pumpfun",
		Quantity: q, Lamports: q * 1_000_000, Verified: verified,
	}
}

func (f *fakeTrader) Buy(_ context.Context, req dex.BuyRequest) dex.ExecutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, req)
	q := req.Lamports / 1_000_000
	f.balance += q
	return dex.ExecutionResult{
		Side: types.SideBuy, Mint: req.Mint, Success: true, Route: "pumpfun",
		Quantity: q, Lamports: req.Lamports, Verified: true,
	}
}

func (f *fakeTrader) TokenBalance(context.Context, solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeTrader) sellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sells)
}

type harness struct {
	svc    *Service
	store  *position.Store
	prices *fakePrices
	trader *fakeTrader
	guard  *dedup.MemoryGuard
	pub    *recordingPublisher
}

func newHarness(t *testing.T, prices ...float64) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	kv, err := filestore.New(t.TempDir(), logger)
	require.NoError(t, err)

	h := &harness{
		store:  position.NewStore(kv, logger),
		prices: &fakePrices{prices: prices},
		trader: &fakeTrader{},
		guard:  dedup.NewMemoryGuard(time.Minute, logger),
		pub:    &recordingPublisher{},
	}
	h.svc = NewService(Config{Tick: 5 * time.Millisecond, PriceTimeout: 100 * time.Millisecond}, Deps{
		Store:     h.store,
		Prices:    h.prices,
		Trader:    h.trader,
		Holdings:  h.trader,
		Guard:     h.guard,
		Publisher: h.pub,
		Metrics:   metrics.NewCollector(),
		Logger:    logger,
	}, "engine-test")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

// open создаёт позицию на 1000 токенов по цене 1.0 со стопом 0.5.
func (h *harness) open(t *testing.T, mutate func(p *position.Position)) *position.Position {
	t.Helper()
	p := &position.Position{
		Mint:          solana.NewWallet().PublicKey().String(),
		Wallet:        "bot",
		QuantityTotal: 1_000,
		Decimals:      6,
		EntryPrice:    1.0,
		EntryLamports: 1_000_000_000,
		EntryTime:     time.Now(),
		StopLossPrice: 0.5,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, h.store.Create(context.Background(), p))
	h.trader.mu.Lock()
	h.trader.balance = p.QuantityTotal
	h.trader.mu.Unlock()
	return p
}

func (h *harness) waitStopped(t *testing.T, mint string) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.svc.IsMonitored(mint) }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) get(t *testing.T, mint string) *position.Position {
	t.Helper()
	p, err := h.store.Get(context.Background(), mint)
	require.NoError(t, err)
	return p
}

func TestRecoveredMonitorUsesStoredPriceWhenSourceIsDown(t *testing.T) {
	h := newHarness(t, 1.0)
	h.prices.errs = []error{errNoQuote}
	// цена ниже жёсткого стопа 0.75 сохранена до рестарта
	pos := h.open(t, func(p *position.Position) { p.LastPrice = 0.6 })

	require.NoError(t, h.svc.Start(context.Background(), pos))
	h.waitStopped(t, pos.Mint)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StateClosed, got.State)
	assert.Equal(t, string(ReasonHardStopLoss), got.CloseReason)
	assert.GreaterOrEqual(t, h.prices.count(), DefaultMaxPriceErrors)
	assert.Equal(t, 1, h.trader.sellCount())
}

func TestPartialFillKeepsRemainderOpenAndRetries(t *testing.T) {
	h := newHarness(t, 1.0, 0.7)
	pos := h.open(t, nil)
	h.trader.fillCap = 400

	require.NoError(t, h.svc.Start(context.Background(), pos))
	h.waitStopped(t, pos.Mint)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StateClosed, got.State)
	assert.Equal(t, uint64(1_000), got.QuantitySold)
	h.trader.mu.Lock()
	defer h.trader.mu.Unlock()
	require.Len(t, h.trader.sells, 2)
	assert.Equal(t, uint64(1_000), h.trader.sells[0].Quantity)
	assert.Equal(t, uint64(600), h.trader.sells[1].Quantity)
}

func TestLastKnownPriceFallsBackToEntry(t *testing.T) {
	assert.Equal(t, 0.6, lastKnownPrice(&position.Position{EntryPrice: 1.0, LastPrice: 0.6}))
	assert.Equal(t, 1.0, lastKnownPrice(&position.Position{EntryPrice: 1.0}))
}

func TestHardStopClosesPosition(t *testing.T) {
	h := newHarness(t, 1.0, 0.81, 0.74)
	pos := h.open(t, nil)

	require.NoError(t, h.svc.Start(context.Background(), pos))
	h.waitStopped(t, pos.Mint)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StateClosed, got.State)
	assert.Equal(t, string(ReasonHardStopLoss), got.CloseReason)
	assert.Equal(t, uint64(1_000), got.QuantitySold)
	assert.Equal(t, uint64(1_000_000_000), got.RealizedLamports)
	assert.Equal(t, "pumpfun", got.RouteHint)
	assert.Equal(t, 1, h.trader.sellCount())

	held, err := h.guard.IsHeld(context.Background(), dedup.KindMonitor, pos.Mint)
	require.NoError(t, err)
	assert.False(t, held)

	require.Len(t, h.pub.ofType(events.PositionClosed), 1)
	stopped := h.pub.ofType(events.MonitoringStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "closed", stopped[0].(*events.MonitoringStoppedEvent).Reason)
	assert.Len(t, h.pub.ofType(events.ExitTriggered), 1)
}

func TestPartialTakeProfitLeavesMoonBag(t *testing.T) {
	h := newHarness(t, 1.0, 2.1)
	pos := h.open(t, func(p *position.Position) {
		p.TakeProfitPrice = 2.0
		p.PartialTP.SellFraction = 0.5
	})

	require.NoError(t, h.svc.Start(context.Background(), pos))
	require.Eventually(t, func() bool {
		return h.get(t, pos.Mint).MoonBag
	}, 2*time.Second, 5*time.Millisecond)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StatePartiallyClosed, got.State)
	assert.Equal(t, uint64(500), got.QuantitySold)
	assert.True(t, got.PartialTP.Done)
	assert.Zero(t, got.TakeProfitPrice)
	assert.InDelta(t, 1.47, got.StopLossPrice, 1e-9)
	assert.True(t, h.svc.IsMonitored(pos.Mint))

	snap, ok := h.svc.Get(pos.Mint)
	require.True(t, ok)
	assert.True(t, snap.MoonBag)
}

func TestPriceErrorsFallBackToLastPrice(t *testing.T) {
	h := newHarness(t, 0.9, 0.9)
	h.prices.errs = []error{nil, errNoQuote, errNoQuote, errNoQuote, errNoQuote}
	h.prices.prices = []float64{0.9, 0, 0, 0, 0}
	pos := h.open(t, nil)

	require.NoError(t, h.svc.Start(context.Background(), pos))
	require.Eventually(t, func() bool {
		return len(h.pub.ofType(events.PriceUpdated)) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	// два сбоя подряд пропускают тик, третий оценивает по последней цене
	assert.GreaterOrEqual(t, h.prices.count(), 4)
	updates := h.pub.ofType(events.PriceUpdated)
	assert.Equal(t, 0.9, updates[1].(*events.PriceUpdatedEvent).Price)
	assert.Zero(t, h.trader.sellCount())
}

func TestFailedSellRetriesNextTick(t *testing.T) {
	h := newHarness(t, 1.0, 0.4)
	h.trader.failSells = 2
	pos := h.open(t, nil)

	require.NoError(t, h.svc.Start(context.Background(), pos))
	h.waitStopped(t, pos.Mint)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StateClosed, got.State)
	assert.Equal(t, 3, h.trader.sellCount())
	assert.Zero(t, got.SellFailures)
	assert.Empty(t, got.LastError)
}

func TestZeroBalanceClosesWithoutSelling(t *testing.T) {
	h := newHarness(t, 1.0, 0.4)
	pos := h.open(t, nil)
	h.trader.balance = 0

	require.NoError(t, h.svc.Start(context.Background(), pos))
	h.waitStopped(t, pos.Mint)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StateClosed, got.State)
	assert.Equal(t, position.ReasonReconciledZeroBalance, got.CloseReason)
	assert.Zero(t, h.trader.sellCount())
}

func TestSellClampedToWalletBalance(t *testing.T) {
	h := newHarness(t, 1.0, 0.4)
	pos := h.open(t, nil)
	h.trader.balance = 600

	require.NoError(t, h.svc.Start(context.Background(), pos))
	h.waitStopped(t, pos.Mint)

	got := h.get(t, pos.Mint)
	assert.Equal(t, position.StateClosed, got.State)
	assert.Equal(t, uint64(600), got.QuantityTotal)
	require.Equal(t, 1, h.trader.sellCount())
	assert.Equal(t, uint64(600), h.trader.sells[0].Quantity)
}

func TestDCABuysOnce(t *testing.T) {
	h := newHarness(t, 1.0, 0.8)
	pos := h.open(t, func(p *position.Position) {
		p.StopLossPrice = 0.3
		p.DCA = position.DCA{Enabled: true, TriggerPct: 0.15, Fraction: 0.5}
	})

	require.NoError(t, h.svc.Start(context.Background(), pos))
	require.Eventually(t, func() bool {
		return h.get(t, pos.Mint).DCA.Executed
	}, 2*time.Second, 5*time.Millisecond)

	// ещё несколько тиков на той же цене
	time.Sleep(50 * time.Millisecond)
	h.trader.mu.Lock()
	buys := len(h.trader.buys)
	h.trader.mu.Unlock()
	assert.Equal(t, 1, buys)

	got := h.get(t, pos.Mint)
	assert.False(t, got.DCA.Pending)
	assert.Greater(t, got.QuantityTotal, uint64(1_000))
	assert.Less(t, got.EntryPrice, 1.0)
}

func TestStartRejectsSecondMonitor(t *testing.T) {
	h := newHarness(t, 1.0)
	pos := h.open(t, nil)
	ctx := context.Background()

	require.NoError(t, h.svc.Start(ctx, pos))
	assert.ErrorIs(t, h.svc.Start(ctx, pos), ErrAlreadyMonitored)

	// другой процесс с общим хранилищем аренд
	other := NewService(Config{Tick: time.Hour}, Deps{
		Store:  h.store,
		Prices: h.prices,
		Trader: h.trader,
		Guard:  h.guard,
		Logger: zaptest.NewLogger(t),
	}, "engine-other")
	assert.ErrorIs(t, other.Start(ctx, pos), ErrAlreadyMonitored)
}

func TestManualCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, 1.0)
	pos := h.open(t, nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Start(ctx, pos))

	res, err := h.svc.ClosePosition(ctx, pos.Mint)
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.True(t, res.Trade.Success)
	assert.Equal(t, position.StateClosed, res.Position.State)
	assert.Equal(t, string(ReasonManualClose), res.Position.CloseReason)
	h.waitStopped(t, pos.Mint)

	again, err := h.svc.ClosePosition(ctx, pos.Mint)
	require.NoError(t, err)
	assert.True(t, again.AlreadyClosed)
	assert.Nil(t, again.Trade)
	assert.Equal(t, 1, h.trader.sellCount())
}

func TestCloseWithoutRunningMonitor(t *testing.T) {
	h := newHarness(t, 1.0)
	pos := h.open(t, nil)
	ctx := context.Background()

	res, err := h.svc.ClosePosition(ctx, pos.Mint)
	require.NoError(t, err)
	assert.Equal(t, position.StateClosed, res.Position.State)

	held, err := h.guard.IsHeld(ctx, dedup.KindMonitor, pos.Mint)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestCloseRefusedWhileMonitoredElsewhere(t *testing.T) {
	h := newHarness(t, 1.0)
	pos := h.open(t, nil)
	ctx := context.Background()

	ok, err := h.guard.Acquire(ctx, dedup.KindMonitor, pos.Mint, "engine-remote")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.svc.ClosePosition(ctx, pos.Mint)
	assert.ErrorIs(t, err, ErrAlreadyMonitored)
	assert.Zero(t, h.trader.sellCount())
}

func TestShutdownKeepsPositionsOpen(t *testing.T) {
	h := newHarness(t, 1.0)
	pos := h.open(t, nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Start(ctx, pos))

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(sctx))

	assert.Zero(t, h.svc.Len())
	assert.True(t, h.get(t, pos.Mint).IsOpen())
	held, err := h.guard.IsHeld(ctx, dedup.KindMonitor, pos.Mint)
	require.NoError(t, err)
	assert.False(t, held)
	assert.Error(t, h.svc.Start(ctx, pos))
}
