// internal/types/types.go
package types

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Side направление сделки.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SwapRequest описывает одну операцию обмена, которую маршрут должен превратить в инструкции.
type SwapRequest struct {
	Side  Side
	Mint  solana.PublicKey
	Owner solana.PublicKey
	// Amount для продажи в минимальных единицах токена, для покупки в лампортах.
	Amount      uint64
	SlippageBps uint16
	// Decimals токена; 0 означает "неизвестно, маршрут определит сам".
	Decimals uint8
}

// Validate проверяет запрос перед построением инструкций.
func (r SwapRequest) Validate() error {
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid side: %q", r.Side)
	}
	if r.Mint.IsZero() {
		return fmt.Errorf("mint is required")
	}
	if r.Owner.IsZero() {
		return fmt.Errorf("owner is required")
	}
	if r.Amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	if r.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage must be below 100%%, got %d bps", r.SlippageBps)
	}
	return nil
}

// WrappedSOLMint mint обёрнутого SOL, общий для всех маршрутов.
var WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
