// internal/dex/pumpfun/route.go
package pumpfun

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/token"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

// Name имя маршрута в конфигурации и подсказках позиций.
const Name = "pumpfun"

// Chain доступ к данным аккаунтов через RPC-шлюз.
type Chain interface {
	AccountData(ctx context.Context, workload string, account solana.PublicKey) ([]byte, error)
}

// Route торгует токеном напрямую через bonding curve Pump.fun.
type Route struct {
	chain    Chain
	workload string
	logger   *zap.Logger

	// глобальный аккаунт меняется редко, кешируем fee recipient
	mu     sync.Mutex
	global *GlobalAccount
}

func NewRoute(chain Chain, workload string, logger *zap.Logger) *Route {
	return &Route{
		chain:    chain,
		workload: workload,
		logger:   logger.Named(Name),
	}
}

func (r *Route) Name() string { return Name }

// Curve читает текущее состояние bonding curve токена.
func (r *Route) Curve(ctx context.Context, mint solana.PublicKey) (*BondingCurve, Accounts, error) {
	accounts, err := DeriveAccounts(mint)
	if err != nil {
		return nil, Accounts{}, types.NonRetryable("derive accounts", err)
	}

	data, err := r.chain.AccountData(ctx, r.workload, accounts.BondingCurve)
	if err != nil {
		return nil, accounts, fmt.Errorf("failed to get bonding curve account: %w", err)
	}
	curve, err := ParseBondingCurve(data)
	if err != nil {
		return nil, accounts, types.NonRetryable("parse bonding curve", err)
	}
	return curve, accounts, nil
}

// Price спотовая цена токена в SOL по виртуальным резервам.
func (r *Route) Price(ctx context.Context, mint solana.PublicKey) (float64, error) {
	curve, _, err := r.Curve(ctx, mint)
	if err != nil {
		return 0, err
	}
	if curve.Complete {
		return 0, types.NonRetryable("price", fmt.Errorf("%w: %s", ErrCurveComplete, mint))
	}
	return curve.SpotPrice()
}

// Quote ожидаемый выход: лампорты при продаже, токены при покупке.
func (r *Route) Quote(ctx context.Context, req types.SwapRequest) (uint64, error) {
	curve, _, err := r.tradableCurve(ctx, req.Mint)
	if err != nil {
		return 0, err
	}
	if req.Side == types.SideSell {
		return curve.SellQuote(req.Amount), nil
	}
	return curve.BuyQuote(req.Amount), nil
}

// BuildSwap строит инструкции обмена с границами проскальзывания от текущей кривой.
func (r *Route) BuildSwap(ctx context.Context, req types.SwapRequest) ([]solana.Instruction, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NonRetryable("pumpfun request", err)
	}

	curve, accounts, err := r.tradableCurve(ctx, req.Mint)
	if err != nil {
		return nil, err
	}
	feeRecipient, err := r.feeRecipient(ctx, accounts.Global)
	if err != nil {
		return nil, err
	}
	createATA, userATA, err := token.CreateATAIdempotent(req.Owner, req.Owner, req.Mint)
	if err != nil {
		return nil, types.NonRetryable("derive user ata", err)
	}

	if req.Side == types.SideSell {
		expected := curve.SellQuote(req.Amount)
		minOut := types.MinAmountOut(expected, req.SlippageBps)
		r.logger.Debug("Sell via bonding curve",
			zap.String("mint", req.Mint.String()),
			zap.Uint64("amount", req.Amount),
			zap.Uint64("expected_lamports", expected),
			zap.Uint64("min_sol_output", minOut))
		return []solana.Instruction{
			BuildSellInstruction(accounts, feeRecipient, req.Owner, userATA, req.Amount, minOut),
		}, nil
	}

	tokens := curve.BuyQuote(req.Amount)
	if tokens == 0 {
		return nil, types.NonRetryable("pumpfun quote", fmt.Errorf("curve returns zero tokens for %d lamports", req.Amount))
	}
	maxCost := types.MaxAmountIn(req.Amount, req.SlippageBps)
	r.logger.Debug("Buy via bonding curve",
		zap.String("mint", req.Mint.String()),
		zap.Uint64("lamports", req.Amount),
		zap.Uint64("tokens", tokens),
		zap.Uint64("max_sol_cost", maxCost))
	return []solana.Instruction{
		createATA,
		BuildBuyInstruction(accounts, feeRecipient, req.Owner, userATA, tokens, maxCost),
	}, nil
}

func (r *Route) tradableCurve(ctx context.Context, mint solana.PublicKey) (*BondingCurve, Accounts, error) {
	curve, accounts, err := r.Curve(ctx, mint)
	if err != nil {
		return nil, accounts, err
	}
	// Мигрировавший токен торгуется только в AMM: отдаём исполнителю следующий маршрут.
	if curve.Complete {
		return nil, accounts, types.NonRetryable("pumpfun", fmt.Errorf("%w: %s", ErrCurveComplete, mint))
	}
	return curve, accounts, nil
}

func (r *Route) feeRecipient(ctx context.Context, global solana.PublicKey) (solana.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.global != nil {
		return r.global.FeeRecipient, nil
	}

	data, err := r.chain.AccountData(ctx, r.workload, global)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to get global account: %w", err)
	}
	account, err := ParseGlobalAccount(data)
	if err != nil {
		return solana.PublicKey{}, types.NonRetryable("parse global account", err)
	}
	r.global = account
	return account.FeeRecipient, nil
}
