// internal/bot/worker.go
package bot

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/ledger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
)

// Buyer входит в позицию по сигналу.
type Buyer interface {
	Buy(ctx context.Context, sig BuySignal) (*position.Position, error)
}

// WorkerPool обрабатывает сигналы на покупку в n горутинах.
type WorkerPool struct {
	wg      sync.WaitGroup
	ctx     context.Context
	signals <-chan BuySignal
	buyer   Buyer
	logger  *zap.Logger

	mu      sync.Mutex
	handled int
	failed  int
}

// NewWorkerPool пул читает signals до закрытия канала или отмены ctx.
// Исход сделок публикует наблюдатель исполнителя, пул только логирует.
func NewWorkerPool(ctx context.Context, buyer Buyer, signals <-chan BuySignal, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		ctx:     ctx,
		signals: signals,
		buyer:   buyer,
		logger:  logger.Named("workers"),
	}
}

func (wp *WorkerPool) Start(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		wp.wg.Add(1)
		go wp.worker(i + 1)
	}
}

func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Stats число обработанных и неудачных сигналов.
func (wp *WorkerPool) Stats() (handled, failed int) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.handled, wp.failed
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	logger := wp.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		select {
		case <-wp.ctx.Done():
			logger.Debug("Worker shutting down due to context cancellation")
			return
		case sig, ok := <-wp.signals:
			if !ok {
				logger.Debug("Signal channel closed")
				return
			}
			wp.handleSignal(sig, logger)
		}
	}
}

func (wp *WorkerPool) handleSignal(sig BuySignal, logger *zap.Logger) {
	logger = logger.With(zap.String("mint", sig.Mint), zap.String("ref", sig.Ref))
	logger.Info("Executing buy signal", zap.Float64("amount_sol", sig.AmountSOL), zap.String("route", sig.Route))

	pos, err := wp.buyer.Buy(wp.ctx, sig)

	wp.mu.Lock()
	wp.handled++
	if err != nil {
		wp.failed++
	}
	wp.mu.Unlock()

	switch {
	case err == nil:
		logger.Info("Buy signal executed", zap.Uint64("quantity", pos.QuantityTotal))
	case errors.Is(err, ledger.ErrAlreadyPurchased), errors.Is(err, position.ErrExists), errors.Is(err, ErrBuyInFlight):
		logger.Info("Buy signal skipped", zap.Error(err))
	default:
		logger.Error("Buy signal failed", zap.Error(err))
	}
}
