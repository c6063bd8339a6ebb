// internal/blockchain/solbc/transaction/manager.go
package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/wallet"
)

// Chain часть RPC-шлюза, нужная для отправки транзакций.
type Chain interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, workload string, tx *solana.Transaction) (solana.Signature, error)
	AwaitConfirmation(ctx context.Context, workload string, sig solana.Signature) error
}

// Manager собирает, подписывает, отправляет и подтверждает транзакции.
// Повторы здесь не делаются: решение о повторе принимает исполнитель по классу ошибки.
type Manager struct {
	chain     Chain
	config    Config
	validator Validator
	logger    *zap.Logger
}

func NewManager(chain Chain, config Config, logger *zap.Logger) *Manager {
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Manager{
		chain:  chain,
		config: config,
		logger: logger.Named("tx-manager"),
	}
}

// Build собирает транзакцию: сначала инструкции compute budget, затем инструкции маршрута.
func (tm *Manager) Build(ctx context.Context, payer *wallet.Wallet, fee types.PriorityConfig, instructions []solana.Instruction) (*solana.Transaction, error) {
	blockhash, err := tm.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	all := append(fee.Instructions(), instructions...)
	tx, err := solana.NewTransaction(all, blockhash, solana.TransactionPayer(payer.PublicKey))
	if err != nil {
		return nil, types.NonRetryable("build transaction", err)
	}
	if err := payer.Sign(tx); err != nil {
		return nil, types.NonRetryable("sign transaction", err)
	}
	if err := tm.validator.ValidateTransaction(tx, payer.PublicKey); err != nil {
		return nil, types.NonRetryable("validate transaction", err)
	}
	return tx, nil
}

// SendAndConfirm отправляет транзакцию и ждёт подтверждения не дольше ConfirmTimeout.
func (tm *Manager) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (*Status, error) {
	sentAt := time.Now()
	signature, err := tm.chain.SendTransaction(ctx, tm.config.Workload, tx)
	if err != nil {
		tm.logger.Warn("Failed to send transaction", zap.Error(err))
		return nil, err
	}

	confirmCtx, cancel := context.WithTimeout(ctx, tm.config.ConfirmTimeout)
	defer cancel()

	if err := tm.chain.AwaitConfirmation(confirmCtx, tm.config.Workload, signature); err != nil {
		tm.logger.Warn("Transaction confirmation failed",
			zap.String("signature", signature.String()),
			zap.Error(err))
		return nil, err
	}

	return &Status{Signature: signature, SentAt: sentAt, ConfirmedAt: time.Now()}, nil
}

// Execute Build + SendAndConfirm.
func (tm *Manager) Execute(ctx context.Context, payer *wallet.Wallet, fee types.PriorityConfig, instructions []solana.Instruction) (*Status, error) {
	tx, err := tm.Build(ctx, payer, fee, instructions)
	if err != nil {
		return nil, err
	}
	return tm.SendAndConfirm(ctx, tx)
}
