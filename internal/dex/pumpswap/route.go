package pumpswap

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/token"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

// Name имя маршрута в конфигурации и подсказках позиций.
const Name = "pumpswap"

const (
	tokenDecimals = 6
	solDecimals   = 9
)

// Route торгует мигрировавшими токенами через пул PumpSwap против WSOL.
type Route struct {
	pools     *PoolManager
	addresses Addresses
	logger    *zap.Logger
}

func NewRoute(chain Chain, workload string, logger *zap.Logger) (*Route, error) {
	addresses, err := DeriveAddresses()
	if err != nil {
		return nil, err
	}
	logger = logger.Named(Name)
	return &Route{
		pools:     NewPoolManager(chain, workload, logger),
		addresses: addresses,
		logger:    logger,
	}, nil
}

func (r *Route) Name() string { return Name }

// Price спотовая цена токена в SOL по резервам пула.
func (r *Route) Price(ctx context.Context, mint solana.PublicKey) (float64, error) {
	pool, err := r.pools.FindPool(ctx, mint)
	if err != nil {
		return 0, err
	}
	tokenRes, solRes := pool.TokenReserves()
	if tokenRes == 0 || solRes == 0 {
		return 0, fmt.Errorf("pool %s has zero reserves", pool.Address)
	}
	sol := decimal.New(int64(solRes), -solDecimals)
	tokens := decimal.New(int64(tokenRes), -tokenDecimals)
	price, _ := sol.Div(tokens).Float64()
	return price, nil
}

// Quote ожидаемый выход: лампорты при продаже, токены при покупке.
func (r *Route) Quote(ctx context.Context, req types.SwapRequest) (uint64, error) {
	pool, cfg, err := r.state(ctx, req)
	if err != nil {
		return 0, err
	}
	return quote(pool, cfg.TotalFeeBps(), req), nil
}

func quote(pool *PoolInfo, feeBps uint64, req types.SwapRequest) uint64 {
	tokenRes, solRes := pool.TokenReserves()
	if req.Side == types.SideSell {
		return calculateOutput(tokenRes, solRes, req.Amount, feeBps)
	}
	return calculateOutput(solRes, tokenRes, req.Amount, feeBps)
}

// BuildSwap строит обмен токен↔WSOL с оборачиванием и закрытием WSOL-аккаунта.
func (r *Route) BuildSwap(ctx context.Context, req types.SwapRequest) ([]solana.Instruction, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NonRetryable("pumpswap request", err)
	}

	pool, cfg, err := r.state(ctx, req)
	if err != nil {
		return nil, err
	}
	feeRecipient, err := cfg.FeeRecipient()
	if err != nil {
		return nil, types.NonRetryable("pumpswap fee recipient", err)
	}
	feeRecipientATA, _, err := solana.FindAssociatedTokenAddress(feeRecipient, types.WrappedSOLMint)
	if err != nil {
		return nil, types.NonRetryable("derive fee recipient ata", err)
	}
	vaultAuthority, vaultATA, err := CoinCreatorVault(pool.CoinCreator, types.WrappedSOLMint)
	if err != nil {
		return nil, types.NonRetryable("derive creator vault", err)
	}

	createToken, userToken, err := token.CreateATAIdempotent(req.Owner, req.Owner, req.Mint)
	if err != nil {
		return nil, types.NonRetryable("derive user ata", err)
	}
	createWSOL, userWSOL, err := token.CreateATAIdempotent(req.Owner, req.Owner, types.WrappedSOLMint)
	if err != nil {
		return nil, types.NonRetryable("derive user wsol ata", err)
	}

	accounts := swapAccounts{
		Pool:                  pool.Address,
		User:                  req.Owner,
		GlobalConfig:          r.addresses.GlobalConfig,
		BaseMint:              pool.BaseMint,
		QuoteMint:             pool.QuoteMint,
		PoolBase:              pool.PoolBaseTokenAccount,
		PoolQuote:             pool.PoolQuoteTokenAccount,
		FeeRecipient:          feeRecipient,
		FeeRecipientATA:       feeRecipientATA,
		EventAuthority:        r.addresses.EventAuthority,
		Program:               r.addresses.Program,
		CreatorVaultATA:       vaultATA,
		CreatorVaultAuthority: vaultAuthority,
	}
	if pool.Reversed {
		accounts.UserBase, accounts.UserQuote = userWSOL, userToken
	} else {
		accounts.UserBase, accounts.UserQuote = userToken, userWSOL
	}

	expected := quote(pool, cfg.TotalFeeBps(), req)
	if expected == 0 {
		return nil, types.NonRetryable("pumpswap quote", fmt.Errorf("pool %s returns zero for %d", pool.Address, req.Amount))
	}

	var swap solana.Instruction
	ixs := []solana.Instruction{createWSOL}
	if req.Side == types.SideSell {
		minOut := types.MinAmountOut(expected, req.SlippageBps)
		if pool.Reversed {
			// токен на стороне quote: "покупаем" базовый WSOL
			swap = poolBuy(accounts, minOut, req.Amount)
		} else {
			swap = poolSell(accounts, req.Amount, minOut)
		}
		r.logger.Debug("Sell via pool",
			zap.String("mint", req.Mint.String()),
			zap.String("pool", pool.Address.String()),
			zap.Uint64("amount", req.Amount),
			zap.Uint64("expected_lamports", expected),
			zap.Uint64("min_out", minOut))
	} else {
		maxIn := types.MaxAmountIn(req.Amount, req.SlippageBps)
		wrap := maxIn
		if pool.Reversed {
			swap = poolSell(accounts, req.Amount, types.MinAmountOut(expected, req.SlippageBps))
			wrap = req.Amount
		} else {
			swap = poolBuy(accounts, expected, maxIn)
		}
		ixs = append(ixs, token.WrapSOL(req.Owner, userWSOL, wrap)...)
		ixs = append(ixs, createToken)
		r.logger.Debug("Buy via pool",
			zap.String("mint", req.Mint.String()),
			zap.String("pool", pool.Address.String()),
			zap.Uint64("lamports", req.Amount),
			zap.Uint64("expected_tokens", expected))
	}

	ixs = append(ixs,
		swap,
		token.CloseAccount(userWSOL, req.Owner),
	)
	return ixs, nil
}

func (r *Route) state(ctx context.Context, req types.SwapRequest) (*PoolInfo, *GlobalConfig, error) {
	cfg, err := r.pools.GlobalConfig(ctx, r.addresses.GlobalConfig)
	if err != nil {
		return nil, nil, err
	}
	if req.Side == types.SideSell && cfg.DisableFlags&DisableSell != 0 {
		return nil, nil, types.NonRetryable("pumpswap", fmt.Errorf("sells are disabled"))
	}
	if req.Side == types.SideBuy && cfg.DisableFlags&DisableBuy != 0 {
		return nil, nil, types.NonRetryable("pumpswap", fmt.Errorf("buys are disabled"))
	}

	pool, err := r.pools.FindPool(ctx, req.Mint)
	if err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}
