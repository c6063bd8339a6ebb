// internal/blockchain/solbc/rpc/blockhash.go
package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	blockhashWorkload       = "blockhash"
	defaultBlockhashRefresh = 2 * time.Second
	defaultBlockhashStale   = 10 * time.Second
)

// BlockhashCache держит свежий blockhash, чтобы сборка транзакции
// не ходила в сеть. Фоновый цикл обновляет его каждые refresh;
// Get форсирует обновление только если значение старше stale.
type BlockhashCache struct {
	gw      *Gateway
	refresh time.Duration
	stale   time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.RWMutex
	hash      solana.Hash
	fetchedAt time.Time

	group singleflight.Group
}

func NewBlockhashCache(gw *Gateway, refresh, stale time.Duration, logger *zap.Logger) *BlockhashCache {
	if refresh <= 0 {
		refresh = defaultBlockhashRefresh
	}
	if stale <= 0 {
		stale = defaultBlockhashStale
	}
	return &BlockhashCache{
		gw:      gw,
		refresh: refresh,
		stale:   stale,
		logger:  logger.Named("blockhash"),
		now:     time.Now,
	}
}

// Get возвращает кешированный blockhash или обновляет его, если он устарел.
func (c *BlockhashCache) Get(ctx context.Context) (solana.Hash, error) {
	c.mu.RLock()
	hash, at := c.hash, c.fetchedAt
	c.mu.RUnlock()

	if !hash.IsZero() && c.now().Sub(at) < c.stale {
		return hash, nil
	}
	return c.Refresh(ctx)
}

// Age возраст кешированного значения.
func (c *BlockhashCache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return -1
	}
	return c.now().Sub(c.fetchedAt)
}

// Refresh запрашивает blockhash. Одновременные вызовы схлопываются в один запрос.
func (c *BlockhashCache) Refresh(ctx context.Context) (solana.Hash, error) {
	v, err, _ := c.group.Do("latest", func() (interface{}, error) {
		var hash solana.Hash
		err := c.gw.Do(ctx, blockhashWorkload, CapQuery, func(ctx context.Context, client *solanarpc.Client) error {
			res, err := client.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
			if err != nil {
				return err
			}
			hash = res.Value.Blockhash
			return nil
		})
		if err != nil {
			return solana.Hash{}, err
		}

		c.mu.Lock()
		c.hash = hash
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return hash, nil
	})
	if err != nil {
		return solana.Hash{}, err
	}
	return v.(solana.Hash), nil
}

// Run обновляет кеш каждые refresh до отмены контекста.
func (c *BlockhashCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn("Initial blockhash refresh failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Blockhash refresh failed",
					zap.Duration("age", c.Age()),
					zap.Error(err))
			}
		}
	}
}
