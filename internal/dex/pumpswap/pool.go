// =============================
// File: internal/dex/pumpswap/pool.go
// =============================
package pumpswap

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/token"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
)

const (
	offsetBaseMint  = 8 + 1 + 2 + 32 // 43
	offsetQuoteMint = offsetBaseMint + 32
	bpsDenominator  = 10_000
)

// Chain часть RPC-шлюза, нужная для поиска и чтения пулов.
type Chain interface {
	AccountData(ctx context.Context, workload string, account solana.PublicKey) ([]byte, error)
	ProgramAccounts(ctx context.Context, workload string, program solana.PublicKey, filters []rpc.RPCFilter) (rpc.GetProgramAccountsResult, error)
}

// Pool represents a liquidity pool in PumpSwap
type Pool struct {
	PoolBump              uint8
	Index                 uint16
	Creator               solana.PublicKey
	BaseMint              solana.PublicKey
	QuoteMint             solana.PublicKey
	LPMint                solana.PublicKey
	PoolBaseTokenAccount  solana.PublicKey
	PoolQuoteTokenAccount solana.PublicKey
	LPSupply              uint64
	CoinCreator           solana.PublicKey
}

// PoolInfo пул вместе с текущими резервами.
type PoolInfo struct {
	Pool
	Address       solana.PublicKey
	BaseReserves  uint64
	QuoteReserves uint64
	// Reversed базой пула является WSOL, а токен лежит на стороне quote.
	Reversed bool
}

// TokenReserves резервы токена и SOL независимо от ориентации пула.
func (p *PoolInfo) TokenReserves() (tokenRes, solRes uint64) {
	if p.Reversed {
		return p.QuoteReserves, p.BaseReserves
	}
	return p.BaseReserves, p.QuoteReserves
}

// PoolManager отвечает за поиск пулов и чтение их состояния.
type PoolManager struct {
	chain    Chain
	workload string
	logger   *zap.Logger

	mu        sync.Mutex
	addresses map[solana.PublicKey]solana.PublicKey // mint -> pool
	cfg       *GlobalConfig
}

func NewPoolManager(chain Chain, workload string, logger *zap.Logger) *PoolManager {
	return &PoolManager{
		chain:     chain,
		workload:  workload,
		logger:    logger,
		addresses: make(map[solana.PublicKey]solana.PublicKey),
	}
}

// FindPool возвращает пул mint/WSOL с ненулевой ликвидностью.
// Адрес найденного пула кешируется, резервы читаются при каждом вызове.
func (pm *PoolManager) FindPool(ctx context.Context, mint solana.PublicKey) (*PoolInfo, error) {
	pm.mu.Lock()
	addr, ok := pm.addresses[mint]
	pm.mu.Unlock()
	if ok {
		return pm.FetchPoolInfo(ctx, addr, mint)
	}

	var direct, reversed *PoolInfo
	g, gctx := errgroup.WithContext(ctx)

	// прямой порядок: токен в base
	g.Go(func() error {
		p, err := pm.findByProgramAccounts(gctx, mint, types.WrappedSOLMint)
		direct = p
		return err
	})
	// обратный порядок
	g.Go(func() error {
		p, err := pm.findByProgramAccounts(gctx, types.WrappedSOLMint, mint)
		reversed = p
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := direct
	if found == nil {
		found = reversed
	}
	if found == nil {
		return nil, types.NonRetryable("find pool", fmt.Errorf("no pumpswap pool with liquidity for %s", mint))
	}

	pm.mu.Lock()
	pm.addresses[mint] = found.Address
	pm.mu.Unlock()

	pm.logger.Debug("Found pool",
		zap.String("mint", mint.String()),
		zap.String("pool", found.Address.String()),
		zap.Bool("reversed", found.Reversed),
		zap.Uint64("base_reserves", found.BaseReserves),
		zap.Uint64("quote_reserves", found.QuoteReserves))
	return found, nil
}

// findByProgramAccounts ищет пул по паре mint'ов memcmp-фильтрами.
// Отсутствие пула не ошибка: возвращается nil.
func (pm *PoolManager) findByProgramAccounts(ctx context.Context, baseMint, quoteMint solana.PublicKey) (*PoolInfo, error) {
	filters := []rpc.RPCFilter{
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: PoolDiscriminator}},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: offsetBaseMint, Bytes: baseMint.Bytes()}},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: offsetQuoteMint, Bytes: quoteMint.Bytes()}},
	}

	accounts, err := pm.chain.ProgramAccounts(ctx, pm.workload, PumpSwapProgramID, filters)
	if err != nil {
		return nil, fmt.Errorf("get program accounts: %w", err)
	}

	for _, acc := range accounts {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}
		pool, err := ParsePool(acc.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		info, err := pm.withReserves(ctx, acc.Pubkey, pool)
		if err != nil {
			return nil, err
		}
		if info.BaseReserves == 0 || info.QuoteReserves == 0 {
			continue
		}
		return info, nil
	}
	return nil, nil
}

// FetchPoolInfo читает пул по известному адресу.
func (pm *PoolManager) FetchPoolInfo(ctx context.Context, address, mint solana.PublicKey) (*PoolInfo, error) {
	data, err := pm.chain.AccountData(ctx, pm.workload, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool account: %w", err)
	}
	pool, err := ParsePool(data)
	if err != nil {
		return nil, types.NonRetryable("parse pool", err)
	}
	if !pool.BaseMint.Equals(mint) && !pool.QuoteMint.Equals(mint) {
		return nil, types.NonRetryable("pool", fmt.Errorf("pool %s does not trade %s", address, mint))
	}
	return pm.withReserves(ctx, address, pool)
}

func (pm *PoolManager) withReserves(ctx context.Context, address solana.PublicKey, pool *Pool) (*PoolInfo, error) {
	baseRes, err := pm.tokenAmount(ctx, pool.PoolBaseTokenAccount)
	if err != nil {
		return nil, err
	}
	quoteRes, err := pm.tokenAmount(ctx, pool.PoolQuoteTokenAccount)
	if err != nil {
		return nil, err
	}
	return &PoolInfo{
		Pool:          *pool,
		Address:       address,
		BaseReserves:  baseRes,
		QuoteReserves: quoteRes,
		Reversed:      pool.BaseMint.Equals(types.WrappedSOLMint),
	}, nil
}

func (pm *PoolManager) tokenAmount(ctx context.Context, account solana.PublicKey) (uint64, error) {
	data, err := pm.chain.AccountData(ctx, pm.workload, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get pool token account %s: %w", account, err)
	}
	amount, err := token.ParseAmount(data)
	if err != nil {
		return 0, types.NonRetryable("parse pool token account", err)
	}
	return amount, nil
}

// GlobalConfig читает и кеширует глобальную конфигурацию программы.
func (pm *PoolManager) GlobalConfig(ctx context.Context, address solana.PublicKey) (*GlobalConfig, error) {
	pm.mu.Lock()
	cfg := pm.cfg
	pm.mu.Unlock()
	if cfg != nil {
		return cfg, nil
	}

	data, err := pm.chain.AccountData(ctx, pm.workload, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get global config: %w", err)
	}
	cfg, err = ParseGlobalConfig(data)
	if err != nil {
		pm.logger.Error("Не удалось разобрать глобальную конфигурацию",
			zap.String("global_config", address.String()), zap.Error(err))
		return nil, types.NonRetryable("parse global config", err)
	}

	pm.mu.Lock()
	pm.cfg = cfg
	pm.mu.Unlock()
	return cfg, nil
}

// ParsePool парсит бинарные данные аккаунта пула.
func ParsePool(data []byte) (*Pool, error) {
	if err := checkDiscriminator(data, PoolDiscriminator, "Pool"); err != nil {
		return nil, err
	}

	pos := 8
	if len(data) < pos+1+2+32*6+8 {
		return nil, fmt.Errorf("data too short for Pool content")
	}

	pool := &Pool{}
	pool.PoolBump = data[pos]
	pos++
	pool.Index = binary.LittleEndian.Uint16(data[pos : pos+2])
	pos += 2

	pool.Creator = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32
	pool.BaseMint = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32
	pool.QuoteMint = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32
	pool.LPMint = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32
	pool.PoolBaseTokenAccount = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32
	pool.PoolQuoteTokenAccount = solana.PublicKeyFromBytes(data[pos : pos+32])
	pos += 32

	pool.LPSupply = binary.LittleEndian.Uint64(data[pos : pos+8])
	pos += 8

	// CoinCreator есть только у пулов новой версии
	if len(data) >= pos+32 {
		pool.CoinCreator = solana.PublicKeyFromBytes(data[pos : pos+32])
	}

	return pool, nil
}

// calculateOutput реализует формулу Constant Product AMM:
// out = y·a' / (x + a'), где a' = a·(1 − fee).
func calculateOutput(reserveIn, reserveOut, amount, feeBps uint64) uint64 {
	if reserveIn == 0 || reserveOut == 0 || amount == 0 || feeBps >= bpsDenominator {
		return 0
	}
	a := new(big.Int).SetUint64(amount)
	a.Mul(a, big.NewInt(int64(bpsDenominator-feeBps)))
	a.Quo(a, big.NewInt(bpsDenominator))

	num := new(big.Int).Mul(new(big.Int).SetUint64(reserveOut), a)
	den := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), a)
	return num.Quo(num, den).Uint64()
}
