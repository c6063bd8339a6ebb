// internal/dedup/guard.go
package dedup

import (
	"context"
	"fmt"
	"time"
)

// Kind тип аренды: один монитор и одна сделка каждого направления на актив.
type Kind string

const (
	KindMonitor Kind = "monitor"
	KindBuy     Kind = "buy"
	KindSell    Kind = "sell"
)

// DefaultTTL время жизни аренды без явного освобождения.
const DefaultTTL = 300 * time.Second

// Guard даёт взаимное исключение по (kind, asset). Держатель, не продливший аренду
// в течение TTL, теряет её.
type Guard interface {
	// Acquire берёт аренду; false если действующая аренда уже есть, в том числе у этого же holder.
	// Продление только через Refresh.
	Acquire(ctx context.Context, kind Kind, asset, holder string) (bool, error)
	// Refresh продлевает аренду; false если она истекла или принадлежит другому.
	Refresh(ctx context.Context, kind Kind, asset, holder string) (bool, error)
	// Release освобождает аренду, только если её держит holder.
	Release(ctx context.Context, kind Kind, asset, holder string) error
	IsHeld(ctx context.Context, kind Kind, asset string) (bool, error)
	// Sweep удаляет истёкшие аренды и возвращает их число.
	Sweep(ctx context.Context) int
}

func key(kind Kind, asset string) string {
	return fmt.Sprintf("%s:%s", kind, asset)
}
