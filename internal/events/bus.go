// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed = errors.New("event bus is shutting down")
	ErrQueueFull = errors.New("event queue full")
)

const defaultBuffer = 256

// Bus внутренняя шина событий. Асинхронные события разбирает одна горутина,
// поэтому подписчики видят их в порядке публикации. Торговый путь никогда
// не ждёт подписчиков: при переполненной очереди событие отбрасывается.
type Bus struct {
	logger *zap.Logger
	queue  chan Event
	done   chan struct{}

	mu       sync.RWMutex
	closed   bool
	handlers map[EventType]map[string]Handler

	dropped  atomic.Uint64
	stopOnce sync.Once
}

func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	b := &Bus{
		logger:   logger.Named("event_bus"),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
		handlers: make(map[EventType]map[string]Handler),
	}
	go b.run()
	return b
}

func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	id := uuid.NewString()

	b.mu.Lock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler
	b.mu.Unlock()

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
	return &subscription{bus: b, id: id, eventType: eventType}
}

func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish ставит событие в очередь без ожидания.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.queue <- event:
		return nil
	default:
		b.dropped.Add(1)
		return ErrQueueFull
	}
}

// PublishSync вызывает обработчики в горутине вызывающего и собирает их ошибки.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, h := range b.snapshot(event.Type()) {
		if err := h.Handle(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dropped число событий, отброшенных из-за переполнения очереди.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, 0, len(b.handlers[eventType]))
	for _, h := range b.handlers[eventType] {
		out = append(out, h)
	}
	return out
}

func (b *Bus) run() {
	defer close(b.done)
	// очередь закрывается в Shutdown; range дочитывает всё, что успели опубликовать
	for event := range b.queue {
		if err := b.PublishSync(context.Background(), event); err != nil {
			b.logger.Error("Event handler failed",
				zap.String("event_type", string(event.Type())),
				zap.Error(err))
		}
	}
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers, ok := b.handlers[eventType]
	if !ok {
		return
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(b.handlers, eventType)
	}
}

// Shutdown перестаёт принимать события и ждёт, пока очередь опустеет.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})

	select {
	case <-b.done:
		if n := b.Dropped(); n > 0 {
			b.logger.Warn("Events were dropped on a full queue", zap.Uint64("dropped", n))
		}
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}
