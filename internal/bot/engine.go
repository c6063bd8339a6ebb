// internal/bot/engine.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/config"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dedup"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/ledger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/monitor"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/logger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
)

// ErrBuyInFlight покупка этого актива уже идёт.
var ErrBuyInFlight = errors.New("buy already in flight")

// EngineDeps всё, что нужно движку; собирается в App или в тестах.
type EngineDeps struct {
	Positions *position.Store
	Ledger    *ledger.Ledger
	Trader    monitor.Trader
	Prices    monitor.PriceSource
	Holdings  monitor.Holdings
	Guard     dedup.Guard
	Publisher monitor.Publisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

type EngineConfig struct {
	// Wallet адрес кошелька бота для записей позиций.
	Wallet   string
	Holder   string
	Monitor  monitor.Config
	Defaults config.ExitDefaults
}

// Engine точка входа в позиции и управление ими: покупка по сигналу,
// восстановление после рестарта, ручное закрытие.
type Engine struct {
	cfg      EngineConfig
	deps     EngineDeps
	monitors *monitor.Service
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	monitors := monitor.NewService(cfg.Monitor, monitor.Deps{
		Store:     deps.Positions,
		Prices:    deps.Prices,
		Trader:    deps.Trader,
		Holdings:  deps.Holdings,
		Guard:     deps.Guard,
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}, cfg.Holder)

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		monitors: monitors,
		logger:   deps.Logger.Named("engine"),
		now:      time.Now,
	}
}

// Buy входит в позицию по сигналу и запускает её монитор.
// Актив из журнала покупок повторно не покупается.
func (e *Engine) Buy(ctx context.Context, sig BuySignal) (*position.Position, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	mint := solana.MustPublicKeyFromBase58(sig.Mint)
	log := logger.WithOperation(e.logger, "buy").With(zap.String("mint", sig.Mint))
	defer logger.TrackPerformance(e.logger, "buy")()

	if e.deps.Guard != nil {
		ok, err := e.deps.Guard.Acquire(ctx, dedup.KindBuy, sig.Mint, e.cfg.Holder)
		if err != nil {
			return nil, fmt.Errorf("acquire buy lease: %w", err)
		}
		if !ok {
			e.deps.Metrics.RecordDedupConflict(string(dedup.KindBuy))
			return nil, fmt.Errorf("%s: %w", sig.Mint, ErrBuyInFlight)
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := e.deps.Guard.Release(rctx, dedup.KindBuy, sig.Mint, e.cfg.Holder); err != nil {
				log.Warn("Failed to release buy lease", zap.Error(err))
			}
		}()
	}

	purchased, err := e.deps.Ledger.WasPurchased(ctx, sig.Mint)
	if err != nil {
		return nil, err
	}
	if purchased {
		e.deps.Metrics.RecordDedupConflict("ledger")
		return nil, fmt.Errorf("%s: %w", sig.Mint, ledger.ErrAlreadyPurchased)
	}
	if existing, err := e.deps.Positions.Get(ctx, sig.Mint); err == nil && existing.IsOpen() {
		return nil, fmt.Errorf("%s: %w", sig.Mint, position.ErrExists)
	}

	res := e.deps.Trader.Buy(ctx, dex.BuyRequest{Mint: mint, Lamports: sig.Lamports(), RouteHint: sig.Route})
	if !res.Success {
		return nil, fmt.Errorf("buy %s: %w", sig.Mint, res.Err)
	}
	if res.Quantity == 0 {
		return nil, fmt.Errorf("buy %s confirmed (%s) but no tokens received", sig.Mint, res.Signature)
	}

	spent := res.Lamports
	if spent == 0 {
		spent = sig.Lamports()
	}
	entry := entryPrice(spent, res.Quantity, sig.decimals())
	now := e.now()

	pos := &position.Position{
		Mint:          sig.Mint,
		Symbol:        sig.Symbol,
		Wallet:        e.cfg.Wallet,
		QuantityTotal: res.Quantity,
		Decimals:      sig.decimals(),
		EntryPrice:    entry,
		EntryLamports: spent,
		EntryTime:     now,
		RouteHint:     res.Route,
		SignalRef:     sig.Ref,
		LastPrice:     entry,
	}
	pos.StopLossPrice, pos.TakeProfitPrice, pos.PartialTP, pos.Trailing, pos.DCA = sig.ExitPlan(entry, e.cfg.Defaults)

	// журнал пишется первым: повторный сигнал не должен купить ещё раз, даже если запись позиции не удалась
	if err := e.deps.Ledger.Record(ctx, ledger.Record{
		Mint:        sig.Mint,
		Symbol:      sig.Symbol,
		Buyer:       e.cfg.Wallet,
		Route:       res.Route,
		Price:       entry,
		Quantity:    res.Quantity,
		Lamports:    spent,
		Signature:   res.Signature.String(),
		PurchasedAt: now,
	}); err != nil {
		log.Error("Failed to record purchase", zap.Error(err))
	}

	if err := e.deps.Positions.Create(ctx, pos); err != nil {
		log.Error("Bought but failed to persist position, tokens are unmanaged",
			zap.String("signature", res.Signature.String()),
			zap.Uint64("quantity", res.Quantity),
			zap.Error(err))
		return nil, fmt.Errorf("persist position %s: %w", sig.Mint, err)
	}

	e.publish(&events.PositionOpenedEvent{
		BaseEvent:  events.NewBase(events.PositionOpened),
		Mint:       pos.Mint,
		Wallet:     pos.Wallet,
		Quantity:   pos.QuantityTotal,
		EntryPrice: pos.EntryPrice,
		Signature:  res.Signature.String(),
	})
	logger.WithTransaction(log, res.Signature.String()).Info("Position opened",
		zap.Uint64("quantity", pos.QuantityTotal),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLossPrice),
		zap.Float64("take_profit", pos.TakeProfitPrice),
		zap.String("route", res.Route))

	if err := e.monitors.Start(ctx, pos); err != nil {
		return pos, fmt.Errorf("start monitor %s: %w", pos.Mint, err)
	}
	return pos, nil
}

// entryPrice цена в SOL за целый токен.
func entryPrice(lamports, quantity uint64, decimals uint8) float64 {
	sol := decimal.New(int64(lamports), -9)
	tokens := decimal.New(int64(quantity), -int32(decimals))
	price, _ := sol.Div(tokens).Float64()
	return price
}

// Recover сверяет открытые позиции с кошельком и запускает их мониторы.
// Возвращает число запущенных.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	active, err := e.deps.Positions.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active positions: %w", err)
	}

	started := 0
	for _, stored := range active {
		log := logger.WithPosition(e.logger, stored.Mint, stored.Wallet)

		pos, err := e.reconcile(ctx, stored)
		if err != nil {
			log.Error("Reconciliation failed, monitoring recorded state", zap.Error(err))
		}
		if !pos.IsOpen() {
			continue
		}

		if err := e.monitors.Start(ctx, pos); err != nil {
			if errors.Is(err, monitor.ErrAlreadyMonitored) {
				log.Warn("Position monitored by another holder, skipping")
				continue
			}
			log.Error("Failed to start monitor", zap.Error(err))
			continue
		}
		started++
	}

	e.logger.Info("Positions recovered", zap.Int("active", len(active)), zap.Int("monitored", started))
	return started, nil
}

func (e *Engine) reconcile(ctx context.Context, pos *position.Position) (*position.Position, error) {
	if e.deps.Holdings == nil {
		return pos, nil
	}
	mint, err := solana.PublicKeyFromBase58(pos.Mint)
	if err != nil {
		return pos, err
	}
	balance, err := e.deps.Holdings.TokenBalance(ctx, mint)
	if err != nil {
		return pos, err
	}

	var changed bool
	updated, err := e.deps.Positions.Update(ctx, pos.Mint, func(p *position.Position) error {
		changed = p.Reconcile(balance, e.now())
		return nil
	})
	if err != nil {
		return pos, err
	}
	if changed {
		e.logger.Warn("Position reconciled with wallet",
			zap.String("mint", pos.Mint),
			zap.Uint64("balance", balance),
			zap.Uint64("remaining", updated.Remaining()),
			zap.String("state", string(updated.State)))
		if !updated.IsOpen() {
			realized, _ := updated.RealizedSOL().Float64()
			e.publish(&events.PositionClosedEvent{
				BaseEvent:   events.NewBase(events.PositionClosed),
				Mint:        updated.Mint,
				Wallet:      updated.Wallet,
				Reason:      updated.CloseReason,
				RealizedSOL: realized,
			})
		}
	}
	return updated, nil
}

// ClosePosition продаёт остаток позиции. По закрытой позиции ничего не делает.
func (e *Engine) ClosePosition(ctx context.Context, mint string) (monitor.CloseResult, error) {
	res, err := e.monitors.ClosePosition(ctx, mint)
	if err != nil {
		return res, err
	}
	if res.AlreadyClosed {
		e.logger.Info("Position already closed", zap.String("mint", mint))
	}
	return res, nil
}

// ActivePositions открытые позиции; для отслеживаемых берётся свежий снимок монитора.
func (e *Engine) ActivePositions(ctx context.Context) ([]position.Position, error) {
	stored, err := e.deps.Positions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]position.Position, 0, len(stored))
	for _, p := range stored {
		if snap, ok := e.monitors.Get(p.Mint); ok && snap.IsOpen() {
			out = append(out, snap)
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// IsActive для компакции журнала покупок.
func (e *Engine) IsActive(ctx context.Context, mint string) (bool, error) {
	return ActiveIn(e.deps.Positions)(ctx, mint)
}

// ActiveIn проверка "позиция открыта" для ledger.Compact.
func ActiveIn(positions *position.Store) ledger.ActiveFunc {
	return func(ctx context.Context, mint string) (bool, error) {
		p, err := positions.Get(ctx, mint)
		if errors.Is(err, position.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return p.IsOpen(), nil
	}
}

func (e *Engine) Monitors() *monitor.Service { return e.monitors }

// Shutdown останавливает мониторы; позиции остаются открытыми до следующего запуска.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.monitors.Shutdown(ctx)
}

func (e *Engine) publish(ev events.Event) {
	if e.deps.Publisher == nil {
		return
	}
	if err := e.deps.Publisher.Publish(ev); err != nil {
		e.logger.Debug("Event dropped", zap.String("type", string(ev.Type())), zap.Error(err))
	}
}
