package dex

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

// RouteAttempt одна попытка исполнения на одном маршруте.
type RouteAttempt struct {
	Route   string
	Class   types.ErrorClass // пусто для успешной попытки
	Latency time.Duration
	Retry   int // 0 для первой попытки на маршруте
	// Backoff пауза перед попыткой; 0 для первой попытки на маршруте.
	Backoff time.Duration
	Err     error
}

// ExecutionResult итог сделки. Ошибки исполнения возвращаются здесь, а не паникой или error.
type ExecutionResult struct {
	Side      types.Side
	Mint      solana.PublicKey
	Success   bool
	Route     string
	Signature solana.Signature
	// Quantity токенов: проданных при sell, купленных при buy (по изменению баланса).
	Quantity uint64
	// Lamports полученные при sell или потраченные при buy; 0 если баланс SOL не читался.
	Lamports uint64
	// Verified изменение баланса токена подтверждено on-chain.
	Verified bool
	Attempts []RouteAttempt
	Latency  time.Duration
	Err      error
}

// Class класс последней ошибки или пустая строка при успехе.
func (r ExecutionResult) Class() types.ErrorClass {
	if r.Success {
		return ""
	}
	return types.Classify(r.Err)
}

// Observer получает исход каждой сделки.
type Observer interface {
	OnTrade(ctx context.Context, result ExecutionResult)
}

// ObserverFunc адаптер функции к Observer.
type ObserverFunc func(ctx context.Context, result ExecutionResult)

func (f ObserverFunc) OnTrade(ctx context.Context, result ExecutionResult) { f(ctx, result) }
