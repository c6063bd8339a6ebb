package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
)

// recordingPublisher собирает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func priceEvent(price float64) *events.PriceUpdatedEvent {
	return &events.PriceUpdatedEvent{BaseEvent: events.NewBase(events.PriceUpdated), Mint: "mint", Price: price}
}

func TestPriceThrottlerKeepsLatestPending(t *testing.T) {
	out := &recordingPublisher{}
	throttler := NewPriceThrottler(time.Hour, out, zap.NewNop())

	for i := 0; i < 5; i++ {
		throttler.Send(priceEvent(float64(100 + i)))
	}

	sent, dropped := throttler.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(4), dropped)
	assert.True(t, throttler.HasPending())

	// лимит ещё не восстановился
	throttler.Flush(false)
	assert.True(t, throttler.HasPending())

	throttler.Flush(true)
	assert.False(t, throttler.HasPending())

	published := out.ofType(events.PriceUpdated)
	require.Len(t, published, 2)
	assert.Equal(t, 100.0, published[0].(*events.PriceUpdatedEvent).Price)
	assert.Equal(t, 104.0, published[1].(*events.PriceUpdatedEvent).Price)
}

func TestPriceThrottlerZeroIntervalPassesEverything(t *testing.T) {
	out := &recordingPublisher{}
	throttler := NewPriceThrottler(0, out, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			throttler.Send(priceEvent(float64(i)))
		}(i)
	}
	wg.Wait()

	sent, dropped := throttler.Stats()
	assert.Equal(t, uint64(10), sent)
	assert.Zero(t, dropped)
}
