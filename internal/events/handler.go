// internal/events/handler.go
package events

import (
	"context"
)

// Handler обрабатывает событие. Асинхронные обработчики вызываются
// из одной горутины шины, поэтому не должны блокироваться.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// On подписывает типизированный обработчик. События другого конкретного
// типа (например, значение вместо указателя) молча пропускаются.
func On[T Event](b *Bus, eventType EventType, fn func(ctx context.Context, event T) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(func(ctx context.Context, e Event) error {
		typed, ok := e.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	}))
}

// Subscription отменяет подписку. Повторный Unsubscribe безопасен.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus       *Bus
	id        string
	eventType EventType
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id, s.eventType)
}
