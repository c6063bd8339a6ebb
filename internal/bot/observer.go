package bot

import (
	"context"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/monitor"
)

// Observers раздаёт исход сделки нескольким наблюдателям по порядку.
type Observers []dex.Observer

func (o Observers) OnTrade(ctx context.Context, r dex.ExecutionResult) {
	for _, obs := range o {
		obs.OnTrade(ctx, r)
	}
}

// eventObserver публикует TradeExecuted / TradeFailed.
type eventObserver struct {
	wallet string
	pub    monitor.Publisher
	logger *zap.Logger
}

func newEventObserver(wallet string, pub monitor.Publisher, logger *zap.Logger) *eventObserver {
	return &eventObserver{wallet: wallet, pub: pub, logger: logger}
}

func (o *eventObserver) OnTrade(_ context.Context, r dex.ExecutionResult) {
	var ev events.Event
	if r.Success {
		ev = &events.TradeExecutedEvent{
			BaseEvent: events.NewBase(events.TradeExecuted),
			Side:      string(r.Side),
			Mint:      r.Mint.String(),
			Wallet:    o.wallet,
			Route:     r.Route,
			Signature: r.Signature.String(),
			Quantity:  r.Quantity,
			Lamports:  r.Lamports,
		}
	} else {
		ev = &events.TradeFailedEvent{
			BaseEvent: events.NewBase(events.TradeFailed),
			Side:      string(r.Side),
			Mint:      r.Mint.String(),
			Wallet:    o.wallet,
			Class:     string(r.Class()),
			Error:     r.Err,
		}
	}
	if err := o.pub.Publish(ev); err != nil {
		o.logger.Debug("Trade event dropped", zap.Error(err))
	}
}
