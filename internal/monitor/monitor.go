// =============================
// File: internal/monitor/monitor.go
// =============================
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dedup"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
)

var (
	// ErrStopped монитор завершился до обработки запроса.
	ErrStopped = errors.New("monitor stopped")
	// ErrLeaseLost аренду монитора перехватил другой процесс.
	ErrLeaseLost = errors.New("monitor lease lost")
)

// PriceSource текущая цена токена в SOL.
type PriceSource interface {
	Price(ctx context.Context, mint solana.PublicKey) (float64, error)
}

// Trader исполняет сделки. Сбой возвращается в результате, а не ошибкой.
type Trader interface {
	Sell(ctx context.Context, req dex.SellRequest) dex.ExecutionResult
	Buy(ctx context.Context, req dex.BuyRequest) dex.ExecutionResult
}

// Holdings баланс токена в кошельке бота.
type Holdings interface {
	TokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error)
}

// Publisher шина событий.
type Publisher interface {
	Publish(event events.Event) error
}

const (
	DefaultTick           = time.Second
	DefaultPriceTimeout   = 800 * time.Millisecond
	DefaultMaxPriceErrors = 3
)

type Config struct {
	Tick         time.Duration
	PriceTimeout time.Duration
	// MaxPriceErrors подряд, после которых правила оцениваются по последней известной цене.
	MaxPriceErrors int
	Params         Params
	// LeaseTTL срок аренды монитора; продлевается каждую треть срока.
	LeaseTTL time.Duration
	// PriceEventInterval не чаще одного PriceUpdated за интервал; 0 публикует каждый тик.
	PriceEventInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = DefaultPriceTimeout
	}
	if c.MaxPriceErrors <= 0 {
		c.MaxPriceErrors = DefaultMaxPriceErrors
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = dedup.DefaultTTL
	}
	c.Params = c.Params.withDefaults()
}

// Deps зависимости монитора и сервиса.
type Deps struct {
	Store     *position.Store
	Prices    PriceSource
	Trader    Trader
	Holdings  Holdings
	Guard     dedup.Guard
	Publisher Publisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// CloseResult исход ручного закрытия.
type CloseResult struct {
	Position *position.Position
	// Trade nil, если продавать было нечего.
	Trade         *dex.ExecutionResult
	AlreadyClosed bool
}

type closeRequest struct {
	reply chan closeReply
}

type closeReply struct {
	result CloseResult
	err    error
}

// Monitor управляющий цикл одной позиции. Единственный, кто пишет её запись в хранилище.
type Monitor struct {
	mint   solana.PublicKey
	key    string
	holder string
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	closeCh  chan closeRequest
	done     chan struct{}
	throttle *PriceThrottler

	lastPrice    float64
	priceErrors  int
	leaseRenewed time.Time

	snapshot atomic.Pointer[position.Position]
}

func newMonitor(mint solana.PublicKey, holder string, cfg Config, deps Deps) *Monitor {
	cfg.setDefaults()
	logger := deps.Logger.Named("monitor").With(zap.String("mint", mint.String()))
	return &Monitor{
		mint:     mint,
		key:      mint.String(),
		holder:   holder,
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		closeCh:  make(chan closeRequest),
		done:     make(chan struct{}),
		throttle: NewPriceThrottler(cfg.PriceEventInterval, deps.Publisher, logger),
	}
}

// Snapshot последнее известное состояние позиции.
func (m *Monitor) Snapshot() (position.Position, bool) {
	p := m.snapshot.Load()
	if p == nil {
		return position.Position{}, false
	}
	return *p, true
}

// Done закрывается по завершении цикла.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// RequestClose просит монитор продать остаток на своей горутине и ждёт исхода.
func (m *Monitor) RequestClose(ctx context.Context) (CloseResult, error) {
	req := closeRequest{reply: make(chan closeReply, 1)}
	select {
	case m.closeCh <- req:
	case <-m.done:
		return CloseResult{}, ErrStopped
	case <-ctx.Done():
		return CloseResult{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-ctx.Done():
		return CloseResult{}, ctx.Err()
	}
}

// run работает, пока позиция не закрыта или контекст не отменён.
func (m *Monitor) run(ctx context.Context) (reason string, err error) {
	defer close(m.done)
	defer m.throttle.Flush(true)

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()
	m.leaseRenewed = m.now()

	for {
		if m.tick(ctx) {
			return "closed", nil
		}

		select {
		case <-ctx.Done():
			return "shutdown", nil
		case req := <-m.closeCh:
			res, err := m.closeNow(ctx)
			req.reply <- closeReply{result: res, err: err}
			if err == nil && !res.Position.IsOpen() {
				return "closed", nil
			}
		case <-ticker.C:
			if err := m.renewLease(ctx); err != nil {
				return "lease_lost", err
			}
		}
	}
}

func (m *Monitor) renewLease(ctx context.Context) error {
	if m.deps.Guard == nil || m.now().Sub(m.leaseRenewed) < m.cfg.LeaseTTL/3 {
		return nil
	}
	ok, err := m.deps.Guard.Refresh(ctx, dedup.KindMonitor, m.key, m.holder)
	if err != nil {
		// сбой хранилища аренд не останавливает защиту позиции
		m.logger.Warn("Failed to refresh monitor lease", zap.Error(err))
		return nil
	}
	if !ok {
		m.logger.Error("Monitor lease taken over, stopping")
		return ErrLeaseLost
	}
	m.leaseRenewed = m.now()
	return nil
}

// tick один проход: цена, правила, сделка. true если позиция закрыта.
func (m *Monitor) tick(ctx context.Context) bool {
	pos, err := m.deps.Store.Get(ctx, m.key)
	if err != nil {
		m.logger.Error("Failed to load position", zap.Error(err))
		return errors.Is(err, position.ErrNotFound)
	}
	m.snapshot.Store(pos)
	if !pos.IsOpen() {
		return true
	}

	price, ok := m.price(ctx)
	if !ok {
		return false
	}

	d := Evaluate(*pos, price, m.cfg.Params)
	m.throttle.Send(&events.PriceUpdatedEvent{
		BaseEvent:     events.NewBase(events.PriceUpdated),
		Mint:          m.key,
		Price:         price,
		EntryPrice:    pos.EntryPrice,
		HighWatermark: d.Next.Trailing.HighWaterMark,
		PnLPct:        pos.PnLPercent(price),
	})

	if d.Action != ActionHold || trackingChanged(pos, &d.Next) {
		next := d.Next
		saved, err := m.save(ctx, func(p *position.Position) error {
			p.LastPrice = next.LastPrice
			p.Trailing = next.Trailing
			return nil
		})
		if err != nil {
			m.logger.Error("Failed to persist tracking state", zap.Error(err))
			if d.Action == ActionHold {
				return false
			}
		} else {
			pos = saved
		}
	} else {
		snap := *pos
		snap.LastPrice = price
		m.snapshot.Store(&snap)
	}

	switch d.Action {
	case ActionSell:
		closed, _ := m.sell(ctx, pos, d)
		return closed
	case ActionBuy:
		m.dca(ctx, pos, d, price)
	}
	return false
}

// price цена с таймаутом. До MaxPriceErrors сбоев подряд тик пропускается,
// дальше используется последняя известная цена.
func (m *Monitor) price(ctx context.Context) (float64, bool) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	defer cancel()

	price, err := m.deps.Prices.Price(pctx, m.mint)
	if err == nil && price > 0 {
		m.lastPrice = price
		m.priceErrors = 0
		return price, true
	}

	m.priceErrors++
	if m.priceErrors < m.cfg.MaxPriceErrors || m.lastPrice == 0 {
		m.logger.Debug("Price unavailable, skipping tick",
			zap.Int("consecutive_errors", m.priceErrors),
			zap.Error(err))
		return 0, false
	}
	m.logger.Warn("Price unavailable, evaluating with last known price",
		zap.Int("consecutive_errors", m.priceErrors),
		zap.Float64("last_price", m.lastPrice),
		zap.Error(err))
	return m.lastPrice, true
}

// lastKnownPrice стартовая цена для fallback: сохранённая последняя, иначе цена входа.
func lastKnownPrice(pos *position.Position) float64 {
	if pos.LastPrice > 0 {
		return pos.LastPrice
	}
	return pos.EntryPrice
}

func trackingChanged(prev, next *position.Position) bool {
	return prev.Trailing != next.Trailing
}

// sell исполняет решение о продаже. true если позиция закрыта.
func (m *Monitor) sell(ctx context.Context, pos *position.Position, d Decision) (bool, *dex.ExecutionResult) {
	log := m.logger.With(zap.String("reason", string(d.Reason)))
	m.deps.Metrics.RecordExitDecision(string(d.Reason))
	m.publish(&events.ExitTriggeredEvent{
		BaseEvent: events.NewBase(events.ExitTriggered),
		Mint:      m.key,
		Wallet:    pos.Wallet,
		Reason:    string(d.Reason),
		Price:     d.Next.LastPrice,
		Quantity:  d.Quantity,
	})

	quantity, pos, closed := m.clampToBalance(ctx, pos, d.Quantity)
	if closed {
		return true, nil
	}
	if quantity == 0 {
		return false, nil
	}

	release, ok := m.lease(ctx, dedup.KindSell)
	if !ok {
		log.Warn("Another sell is in flight, skipping tick")
		return false, nil
	}
	defer release()

	res := m.deps.Trader.Sell(ctx, dex.SellRequest{Mint: m.mint, Quantity: quantity, RouteHint: pos.RouteHint})
	if !res.Success {
		log.Error("Sell failed, position stays open",
			zap.Uint64("quantity", quantity),
			zap.String("class", string(res.Class())),
			zap.Error(res.Err))
		if _, err := m.save(ctx, func(p *position.Position) error {
			p.SellFailures++
			if res.Err != nil {
				p.LastError = res.Err.Error()
			}
			return nil
		}); err != nil {
			log.Error("Failed to record sell failure", zap.Error(err))
		}
		return false, &res
	}

	var applied uint64
	saved, err := m.save(ctx, func(p *position.Position) error {
		applied = ApplySellFill(p, d, res.Quantity, res.Lamports, m.cfg.Params, m.now())
		p.RouteHint = res.Route
		return nil
	})
	if err != nil {
		// продажа прошла on-chain, но запись не обновилась: следующий тик сверит баланс
		log.Error("Sell executed but position update failed",
			zap.String("signature", res.Signature.String()),
			zap.Error(err))
		return false, &res
	}
	if applied < res.Quantity {
		log.Error("Sold more than position remainder, clamped",
			zap.Uint64("sold", res.Quantity),
			zap.Uint64("applied", applied))
	}

	log.Info("Exit executed",
		zap.Uint64("quantity", applied),
		zap.Uint64("remaining", saved.Remaining()),
		zap.String("state", string(saved.State)),
		zap.String("route", res.Route))

	if saved.IsOpen() {
		return false, &res
	}
	m.publishClosed(saved)
	return true, &res
}

// clampToBalance сверяет позицию с кошельком перед продажей. Нулевой баланс закрывает позицию.
func (m *Monitor) clampToBalance(ctx context.Context, pos *position.Position, want uint64) (uint64, *position.Position, bool) {
	if m.deps.Holdings == nil {
		return min(want, pos.Remaining()), pos, false
	}
	balance, err := m.deps.Holdings.TokenBalance(ctx, m.mint)
	if err != nil {
		m.logger.Warn("Failed to read balance before sell, using recorded quantity", zap.Error(err))
		return min(want, pos.Remaining()), pos, false
	}
	if balance >= pos.Remaining() {
		return min(want, pos.Remaining()), pos, false
	}

	m.logger.Error("Wallet balance below recorded remainder, reconciling",
		zap.Uint64("balance", balance),
		zap.Uint64("remaining", pos.Remaining()))
	saved, err := m.save(ctx, func(p *position.Position) error {
		p.Reconcile(balance, m.now())
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to reconcile position", zap.Error(err))
		return min(want, balance), pos, false
	}
	if !saved.IsOpen() {
		m.publishClosed(saved)
		return 0, saved, true
	}
	return min(want, saved.Remaining()), saved, false
}

func (m *Monitor) dca(ctx context.Context, pos *position.Position, d Decision, price float64) {
	log := m.logger.With(zap.String("reason", string(d.Reason)))

	release, ok := m.lease(ctx, dedup.KindBuy)
	if !ok {
		log.Warn("Another buy is in flight, skipping DCA")
		return
	}
	defer release()

	// Pending сохраняется до отправки, чтобы после рестарта сверка засчитала докупку
	if _, err := m.save(ctx, func(p *position.Position) error {
		p.DCA.Pending = true
		return nil
	}); err != nil {
		log.Error("Failed to mark DCA pending", zap.Error(err))
		return
	}
	m.deps.Metrics.RecordExitDecision(string(d.Reason))

	res := m.deps.Trader.Buy(ctx, dex.BuyRequest{Mint: m.mint, Lamports: d.Lamports, RouteHint: pos.RouteHint})
	if !res.Success {
		log.Error("DCA buy failed", zap.Error(res.Err))
		if _, err := m.save(ctx, func(p *position.Position) error {
			p.DCA.Pending = false
			if res.Err != nil {
				p.LastError = res.Err.Error()
			}
			return nil
		}); err != nil {
			log.Error("Failed to clear DCA pending", zap.Error(err))
		}
		return
	}

	if _, err := m.save(ctx, func(p *position.Position) error {
		ApplyBuyFill(p, res.Quantity, res.Lamports, price, m.now())
		return nil
	}); err != nil {
		log.Error("DCA executed but position update failed",
			zap.String("signature", res.Signature.String()),
			zap.Error(err))
		return
	}
	log.Info("DCA executed", zap.Uint64("quantity", res.Quantity), zap.Uint64("lamports", res.Lamports))
}

// closeNow ручное закрытие. Повторный вызов по закрытой позиции ничего не продаёт.
func (m *Monitor) closeNow(ctx context.Context) (CloseResult, error) {
	pos, err := m.deps.Store.Get(ctx, m.key)
	if err != nil {
		return CloseResult{}, err
	}
	if !pos.IsOpen() {
		return CloseResult{Position: pos, AlreadyClosed: true}, nil
	}

	d := Decision{
		Action:   ActionSell,
		Reason:   ReasonManualClose,
		Quantity: pos.Remaining(),
		Next:     *pos,
	}
	if m.lastPrice > 0 {
		d.Next.LastPrice = m.lastPrice
	}
	_, trade := m.sell(ctx, pos, d)

	latest, err := m.deps.Store.Get(ctx, m.key)
	if err != nil {
		return CloseResult{Trade: trade}, err
	}
	m.snapshot.Store(latest)
	if trade != nil && !trade.Success {
		return CloseResult{Position: latest, Trade: trade}, fmt.Errorf("close %s: %w", m.key, trade.Err)
	}
	return CloseResult{Position: latest, Trade: trade}, nil
}

// save пишет позицию с повтором временных сбоев хранилища.
func (m *Monitor) save(ctx context.Context, fn func(*position.Position) error) (*position.Position, error) {
	op := func() (*position.Position, error) {
		p, err := m.deps.Store.Update(ctx, m.key, fn)
		if errors.Is(err, position.ErrClosed) || errors.Is(err, position.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond

	p, err := backoff.Retry(ctx, op, backoff.WithBackOff(policy), backoff.WithMaxTries(4))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return nil, err
	}
	m.snapshot.Store(p)
	return p, nil
}

// lease берёт аренду на сделку; без guard всегда успешно.
func (m *Monitor) lease(ctx context.Context, kind dedup.Kind) (func(), bool) {
	if m.deps.Guard == nil {
		return func() {}, true
	}
	ok, err := m.deps.Guard.Acquire(ctx, kind, m.key, m.holder)
	if err != nil {
		m.logger.Warn("Lease store unavailable, proceeding as single writer",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return func() {}, true
	}
	if !ok {
		m.deps.Metrics.RecordDedupConflict(string(kind))
		return nil, false
	}
	return func() {
		// освобождаем даже после отмены контекста
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := m.deps.Guard.Release(rctx, kind, m.key, m.holder); err != nil {
			m.logger.Warn("Failed to release lease", zap.String("kind", string(kind)), zap.Error(err))
		}
	}, true
}

func (m *Monitor) publishClosed(p *position.Position) {
	realized, _ := p.RealizedSOL().Float64()
	m.publish(&events.PositionClosedEvent{
		BaseEvent:   events.NewBase(events.PositionClosed),
		Mint:        p.Mint,
		Wallet:      p.Wallet,
		Reason:      p.CloseReason,
		RealizedSOL: realized,
	})
}

func (m *Monitor) publish(e events.Event) {
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.Publish(e); err != nil {
		m.logger.Debug("Event dropped", zap.String("type", string(e.Type())), zap.Error(err))
	}
}
