package bot

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-exit-engine/internal/wallet"
)

// TokenBalances баланс токен-аккаунта; реализуется rpc.Gateway.
type TokenBalances interface {
	TokenBalance(ctx context.Context, workload string, account solana.PublicKey) (uint64, error)
}

// walletHoldings баланс токена на ATA кошелька бота.
type walletHoldings struct {
	wallet   *wallet.Wallet
	balances TokenBalances
	workload string
}

func newWalletHoldings(w *wallet.Wallet, balances TokenBalances, workload string) *walletHoldings {
	return &walletHoldings{wallet: w, balances: balances, workload: workload}
}

func (h *walletHoldings) TokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	ata, err := h.wallet.ATA(mint)
	if err != nil {
		return 0, err
	}
	return h.balances.TokenBalance(ctx, h.workload, ata)
}
