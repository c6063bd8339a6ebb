package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
)

// PriceThrottler ограничивает частоту событий PriceUpdated одного монитора.
// Отброшенное обновление хранится как pending и уходит при следующем Flush.
type PriceThrottler struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	pending *events.PriceUpdatedEvent
	out     Publisher
	logger  *zap.Logger

	sentUpdates    uint64
	droppedUpdates uint64
}

// NewPriceThrottler интервал 0 отключает ограничение.
func NewPriceThrottler(interval time.Duration, out Publisher, logger *zap.Logger) *PriceThrottler {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &PriceThrottler{
		limiter: rate.NewLimiter(limit, 1),
		out:     out,
		logger:  logger,
	}
}

// Send публикует событие или откладывает его до конца интервала.
func (pt *PriceThrottler) Send(e *events.PriceUpdatedEvent) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !pt.limiter.Allow() {
		pt.pending = e
		pt.droppedUpdates++
		return
	}
	pt.pending = nil
	pt.publish(e)
}

// Flush отправляет отложенное событие. force игнорирует лимит (остановка монитора).
func (pt *PriceThrottler) Flush(force bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.pending == nil {
		return
	}
	if !force && !pt.limiter.Allow() {
		return
	}
	pt.publish(pt.pending)
	pt.pending = nil
}

func (pt *PriceThrottler) publish(e *events.PriceUpdatedEvent) {
	if pt.out == nil {
		return
	}
	if err := pt.out.Publish(e); err != nil {
		pt.logger.Debug("Price event dropped", zap.String("mint", e.Mint), zap.Error(err))
		return
	}
	pt.sentUpdates++
}

// Stats количество отправленных и отложенных обновлений.
func (pt *PriceThrottler) Stats() (sent, dropped uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.sentUpdates, pt.droppedUpdates
}

func (pt *PriceThrottler) HasPending() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.pending != nil
}
