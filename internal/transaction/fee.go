// internal/transaction/fee.go
package transaction

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
)

// Strategy насколько агрессивно перебивать текущие комиссии сети.
type Strategy string

const (
	Conservative Strategy = "conservative"
	Aggressive   Strategy = "aggressive"
	Sniper       Strategy = "sniper"
)

// percentile и множитель для каждой стратегии; агрессивность растёт монотонно.
var strategyParams = map[Strategy]struct {
	percentile float64
	multiplier float64
}{
	Conservative: {0.50, 1.0},
	Aggressive:   {0.75, 1.5},
	Sniper:       {0.90, 2.5},
}

const feeWorkload = "fees"

// FeeSource источник недавних комиссий (micro-lamports за CU).
type FeeSource interface {
	RecentPrioritizationFees(ctx context.Context, workload string, accounts solana.PublicKeySlice) ([]uint64, error)
}

// FeeConfig все комиссии в micro-lamports за compute unit.
type FeeConfig struct {
	Strategy     Strategy
	MinFee       uint64
	HardCap      uint64
	FixedFee     uint64
	FixedFeeSOL  string // если задан, переопределяет FixedFee: полная доплата в SOL за транзакцию
	BuyExtraPct  float64
	SellExtraPct float64
	ComputeUnits uint32
}

// FeeEstimator считает priority fee:
// fee = clamp(base × (1 + extra_pct), min_fee, hard_cap).
type FeeEstimator struct {
	cfg     FeeConfig
	source  FeeSource
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewFeeEstimator(cfg FeeConfig, source FeeSource, collector *metrics.Collector, logger *zap.Logger) (*FeeEstimator, error) {
	if _, ok := strategyParams[cfg.Strategy]; !ok {
		return nil, fmt.Errorf("unknown fee strategy %q", cfg.Strategy)
	}
	if cfg.MinFee > cfg.HardCap {
		return nil, fmt.Errorf("min fee %d exceeds hard cap %d", cfg.MinFee, cfg.HardCap)
	}
	if cfg.ComputeUnits == 0 {
		cfg.ComputeUnits = 200_000
	}
	if cfg.FixedFeeSOL != "" {
		fixed, err := fixedFeeFromSOL(cfg.FixedFeeSOL, cfg.ComputeUnits)
		if err != nil {
			return nil, err
		}
		cfg.FixedFee = fixed
	}

	return &FeeEstimator{
		cfg:     cfg,
		source:  source,
		metrics: collector,
		logger:  logger.Named("fee-estimator"),
	}, nil
}

// Estimate никогда не падает из-за недоступности сигнала: используется фиксированная комиссия.
// accounts сужают выборку комиссий до аккаунтов, которые транзакция будет блокировать на запись.
func (e *FeeEstimator) Estimate(ctx context.Context, side types.Side, accounts ...solana.PublicKey) types.PriorityConfig {
	base, dynamic := e.baseFee(ctx, accounts)

	extra := e.cfg.BuyExtraPct
	if side == types.SideSell {
		extra = e.cfg.SellExtraPct
	}
	fee := clamp(
		decimal.NewFromInt(int64(min64(base, math.MaxInt64))).Mul(decimal.NewFromFloat(1+extra)),
		e.cfg.MinFee, e.cfg.HardCap,
	)

	e.metrics.SetPriorityFee(string(side), fee)
	e.logger.Debug("Priority fee estimated",
		zap.String("side", string(side)),
		zap.String("strategy", string(e.cfg.Strategy)),
		zap.Bool("dynamic", dynamic),
		zap.Uint64("base", base),
		zap.Uint64("fee", fee))

	return types.PriorityConfig{ComputeUnits: e.cfg.ComputeUnits, PriorityFee: fee}
}

func (e *FeeEstimator) baseFee(ctx context.Context, accounts []solana.PublicKey) (uint64, bool) {
	if e.source == nil {
		return e.cfg.FixedFee, false
	}
	fees, err := e.source.RecentPrioritizationFees(ctx, feeWorkload, accounts)
	if err != nil || len(fees) == 0 {
		e.logger.Debug("Congestion signal unavailable, using fixed fee", zap.Error(err))
		return e.cfg.FixedFee, false
	}

	params := strategyParams[e.cfg.Strategy]
	p := percentile(fees, params.percentile)
	base := decimal.NewFromInt(int64(min64(p, math.MaxInt64))).Mul(decimal.NewFromFloat(params.multiplier))
	return uint64(base.Ceil().IntPart()), true
}

// percentile по методу ближайшего ранга.
func percentile(values []uint64, p float64) uint64 {
	sorted := append([]uint64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

func clamp(v decimal.Decimal, lo, hi uint64) uint64 {
	v = v.Ceil()
	if v.LessThan(decimal.NewFromInt(int64(min64(lo, math.MaxInt64)))) {
		return lo
	}
	if v.GreaterThan(decimal.NewFromInt(int64(min64(hi, math.MaxInt64)))) {
		return hi
	}
	return uint64(v.IntPart())
}

// fixedFeeFromSOL переводит полную доплату в SOL в цену за compute unit.
func fixedFeeFromSOL(sol string, computeUnits uint32) (uint64, error) {
	amount, err := decimal.NewFromString(sol)
	if err != nil {
		return 0, fmt.Errorf("invalid fixed fee %q: %w", sol, err)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("fixed fee must not be negative: %s", sol)
	}
	microLamports := amount.Shift(9 + 6).Div(decimal.NewFromInt(int64(computeUnits)))
	return uint64(microLamports.Floor().IntPart()), nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
