package dex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
)

// Pricer маршрут, умеющий считать спотовую цену токена в SOL.
type Pricer interface {
	Name() string
	Price(ctx context.Context, mint solana.PublicKey) (float64, error)
}

// PriceSource опрашивает источники по порядку и возвращает первую цену.
// Источник, ответивший non-retryable ошибкой (например, кривая завершена),
// для этого mint больше не опрашивается.
type PriceSource struct {
	pricers []Pricer
	metrics *metrics.Collector
	logger  *zap.Logger

	mu      sync.RWMutex
	skipped map[solana.PublicKey]map[string]struct{}
}

// NewPriceSource собирает источник цены из маршрутов, которые реализуют Pricer.
func NewPriceSource(routes []Route, collector *metrics.Collector, logger *zap.Logger) (*PriceSource, error) {
	var pricers []Pricer
	for _, r := range routes {
		if p, ok := r.(Pricer); ok {
			pricers = append(pricers, p)
		}
	}
	if len(pricers) == 0 {
		return nil, fmt.Errorf("no route can price tokens")
	}
	return &PriceSource{
		pricers: pricers,
		metrics: collector,
		logger:  logger.Named("price"),
		skipped: make(map[solana.PublicKey]map[string]struct{}),
	}, nil
}

// Price текущая цена токена в SOL.
func (s *PriceSource) Price(ctx context.Context, mint solana.PublicKey) (float64, error) {
	var errs []error
	for _, p := range s.pricers {
		if s.isSkipped(mint, p.Name()) {
			continue
		}
		price, err := p.Price(ctx, mint)
		if err == nil && price > 0 {
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %v", price)
		}

		s.metrics.RecordPriceError(p.Name())
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if types.Classify(err) == types.ClassNonRetryable && ctx.Err() == nil {
			s.skip(mint, p.Name())
			s.logger.Info("Price source no longer applies to token",
				zap.String("mint", mint.String()),
				zap.String("source", p.Name()),
				zap.Error(err))
		}
	}
	if len(errs) == 0 {
		return 0, types.WithClass(types.ClassDataUnavailable, "price", fmt.Errorf("no price source left for %s", mint))
	}
	return 0, types.WithClass(types.ClassDataUnavailable, "price", errors.Join(errs...))
}

// Forget сбрасывает пропуски источников для mint (позиция закрыта).
func (s *PriceSource) Forget(mint solana.PublicKey) {
	s.mu.Lock()
	delete(s.skipped, mint)
	s.mu.Unlock()
}

func (s *PriceSource) isSkipped(mint solana.PublicKey, source string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.skipped[mint][source]
	return ok
}

func (s *PriceSource) skip(mint solana.PublicKey, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipped[mint] == nil {
		s.skipped[mint] = make(map[string]struct{})
	}
	s.skipped[mint][source] = struct{}{}
}
