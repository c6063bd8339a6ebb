package dedup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type lease struct {
	holder    string
	kind      Kind
	acquired  time.Time
	expiresAt time.Time
}

// MemoryGuard аренды в памяти процесса. Истечение ленивое плюс периодический Sweep.
type MemoryGuard struct {
	mu     sync.Mutex
	leases map[string]lease
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewMemoryGuard(ttl time.Duration, logger *zap.Logger) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{
		leases: make(map[string]lease),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("dedup"),
	}
}

func (g *MemoryGuard) Acquire(_ context.Context, kind Kind, asset, holder string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	k := key(kind, asset)
	if l, ok := g.leases[k]; ok && now.Before(l.expiresAt) {
		g.logger.Debug("Lease is held",
			zap.String("key", k),
			zap.String("holder", l.holder),
			zap.Bool("same_holder", l.holder == holder),
			zap.Duration("age", now.Sub(l.acquired)))
		return false, nil
	}
	g.leases[k] = lease{holder: holder, kind: kind, acquired: now, expiresAt: now.Add(g.ttl)}
	return true, nil
}

func (g *MemoryGuard) Refresh(_ context.Context, kind Kind, asset, holder string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	k := key(kind, asset)
	l, ok := g.leases[k]
	if !ok || l.holder != holder || !now.Before(l.expiresAt) {
		return false, nil
	}
	l.expiresAt = now.Add(g.ttl)
	g.leases[k] = l
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, kind Kind, asset, holder string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(kind, asset)
	if l, ok := g.leases[k]; ok && l.holder == holder {
		delete(g.leases, k)
	}
	return nil
}

func (g *MemoryGuard) IsHeld(_ context.Context, kind Kind, asset string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(kind, asset)
	l, ok := g.leases[k]
	if !ok {
		return false, nil
	}
	if !g.now().Before(l.expiresAt) {
		delete(g.leases, k)
		return false, nil
	}
	return true, nil
}

func (g *MemoryGuard) Sweep(context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for k, l := range g.leases {
		if !now.Before(l.expiresAt) {
			delete(g.leases, k)
			removed++
		}
	}
	if removed > 0 {
		g.logger.Debug("Expired leases swept", zap.Int("count", removed))
	}
	return removed
}
