// internal/types/slippage.go
package types

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const bpsDenominator = 10_000

// MinAmountOut уменьшает ожидаемый выход на допустимое проскальзывание (округление вниз).
// Никогда не возвращает 0 для ненулевого ожидания: программа отвергает min_out == 0 как "без защиты".
func MinAmountOut(expected uint64, slippageBps uint16) uint64 {
	if expected == 0 {
		return 0
	}
	out := scaleBps(expected, bpsDenominator-int64(slippageBps)).Floor()
	if out.Sign() <= 0 {
		return 1
	}
	return out.BigInt().Uint64()
}

// MaxAmountIn увеличивает ожидаемую стоимость на допустимое проскальзывание (округление вверх).
func MaxAmountIn(expected uint64, slippageBps uint16) uint64 {
	out := scaleBps(expected, bpsDenominator+int64(slippageBps)).Ceil()
	if !out.BigInt().IsUint64() {
		return ^uint64(0)
	}
	return out.BigInt().Uint64()
}

func scaleBps(amount uint64, numerator int64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(decimal.NewFromInt(numerator)).
		Div(decimal.NewFromInt(bpsDenominator))
}
