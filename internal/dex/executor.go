// =============================
// File: internal/dex/executor.go
// =============================
package dex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	soltx "github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/transaction"
	"github.com/rovshanmuradov/solana-exit-engine/internal/types"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/logger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
	"github.com/rovshanmuradov/solana-exit-engine/internal/wallet"
)

// TxExecutor собирает, отправляет и подтверждает транзакцию.
type TxExecutor interface {
	Execute(ctx context.Context, payer *wallet.Wallet, fee types.PriorityConfig, instructions []solana.Instruction) (*soltx.Status, error)
}

// FeeEstimator priority fee для стороны сделки.
type FeeEstimator interface {
	Estimate(ctx context.Context, side types.Side, accounts ...solana.PublicKey) types.PriorityConfig
}

// Balances чтение балансов кошелька.
type Balances interface {
	TokenBalance(ctx context.Context, workload string, account solana.PublicKey) (uint64, error)
	SOLBalance(ctx context.Context, workload string, owner solana.PublicKey) (uint64, error)
}

type ExecutorConfig struct {
	Workload    string
	SlippageBps uint16
	// TransientAttempts попыток на маршрут для transient-ошибок.
	TransientAttempts uint
	// UnknownAttempts меньший бюджет для неклассифицированных ошибок.
	UnknownAttempts uint
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	VerifyAttempts  int
	VerifyDelay     time.Duration
}

func (c *ExecutorConfig) setDefaults() {
	if c.TransientAttempts == 0 {
		c.TransientAttempts = 3
	}
	if c.UnknownAttempts == 0 {
		c.UnknownAttempts = 2
	}
	if c.UnknownAttempts > c.TransientAttempts {
		c.UnknownAttempts = c.TransientAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 200 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.VerifyAttempts <= 0 {
		c.VerifyAttempts = 5
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = 400 * time.Millisecond
	}
}

// ErrUnverifiedFill транзакция подтверждена, но баланс токена не подтвердил продажу.
var ErrUnverifiedFill = errors.New("confirmed trade not reflected in token balance")

// SellRequest продажа quantity токенов mint.
type SellRequest struct {
	Mint      solana.PublicKey
	Quantity  uint64
	RouteHint string
}

// BuyRequest покупка токена mint на lamports.
type BuyRequest struct {
	Mint      solana.PublicKey
	Lamports  uint64
	RouteHint string
}

// Executor исполняет сделки через упорядоченный список маршрутов с повторами и fallback.
type Executor struct {
	routes   *Factory
	tx       TxExecutor
	fees     FeeEstimator
	balances Balances
	wallet   *wallet.Wallet
	cfg      ExecutorConfig
	observer Observer
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewExecutor(
	routes *Factory,
	tx TxExecutor,
	fees FeeEstimator,
	balances Balances,
	w *wallet.Wallet,
	cfg ExecutorConfig,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Executor {
	cfg.setDefaults()
	return &Executor{
		routes:   routes,
		tx:       tx,
		fees:     fees,
		balances: balances,
		wallet:   w,
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.Named("executor"),
	}
}

// SetObserver подключает получателя исходов сделок. Вызывать до начала торговли.
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

// Wallet кошелёк, от имени которого исполняются сделки.
func (e *Executor) Wallet() *wallet.Wallet {
	return e.wallet
}

// Sell продаёт токены; сбой возвращается в результате.
func (e *Executor) Sell(ctx context.Context, req SellRequest) ExecutionResult {
	return e.execute(ctx, types.SwapRequest{
		Side:        types.SideSell,
		Mint:        req.Mint,
		Owner:       e.wallet.PublicKey,
		Amount:      req.Quantity,
		SlippageBps: e.cfg.SlippageBps,
	}, req.RouteHint)
}

// Buy покупает токен на заданное число лампортов.
func (e *Executor) Buy(ctx context.Context, req BuyRequest) ExecutionResult {
	return e.execute(ctx, types.SwapRequest{
		Side:        types.SideBuy,
		Mint:        req.Mint,
		Owner:       e.wallet.PublicKey,
		Amount:      req.Lamports,
		SlippageBps: e.cfg.SlippageBps,
	}, req.RouteHint)
}

func (e *Executor) execute(ctx context.Context, swap types.SwapRequest, hint string) (res ExecutionResult) {
	start := time.Now()
	log := logger.WithPosition(logger.WithOperation(e.logger, string(swap.Side)), swap.Mint.String(), e.wallet.String())
	res = ExecutionResult{Side: swap.Side, Mint: swap.Mint}

	defer func() {
		res.Latency = time.Since(start)
		e.report(ctx, log, res)
	}()

	if err := swap.Validate(); err != nil {
		res.Err = types.NonRetryable("validate "+string(swap.Side), err)
		return res
	}
	ata, err := e.wallet.ATA(swap.Mint)
	if err != nil {
		res.Err = types.NonRetryable("derive ata", err)
		return res
	}

	before := e.snapshot(ctx, ata)
	fee := e.fees.Estimate(ctx, swap.Side, swap.Mint)
	e.metrics.SetPriorityFee(string(swap.Side), fee.PriorityFee)

	for _, route := range e.routes.Order(hint) {
		status, err := e.tryRoute(ctx, log, route, swap, fee, &res)
		if err == nil {
			res.Success = true
			res.Route = route.Name()
			res.Signature = status.Signature
			res.Err = nil
			break
		}
		res.Err = err
		if ctx.Err() != nil {
			break
		}
		log.Warn("Route failed, trying next",
			zap.String("route", route.Name()),
			zap.String("class", string(types.Classify(err))),
			zap.Error(err))
	}

	if res.Success {
		e.verify(ctx, log, ata, swap, before, &res)
	}
	return res
}

// tryRoute повторяет маршрут: transient до TransientAttempts, unknown до UnknownAttempts,
// non-retryable сразу отдаёт управление следующему маршруту.
func (e *Executor) tryRoute(ctx context.Context, log *zap.Logger, route Route, swap types.SwapRequest, fee types.PriorityConfig, res *ExecutionResult) (*soltx.Status, error) {
	var (
		retry   int
		unknown uint
		wait    time.Duration
	)

	operation := func() (*soltx.Status, error) {
		attemptStart := time.Now()
		status, err := e.attempt(ctx, route, swap, fee)
		attempt := RouteAttempt{Route: route.Name(), Latency: time.Since(attemptStart), Retry: retry, Backoff: wait}
		retry++

		if err == nil {
			res.Attempts = append(res.Attempts, attempt)
			e.metrics.RecordRouteAttempt(route.Name(), "success")
			return status, nil
		}

		class := types.Classify(err)
		attempt.Class, attempt.Err = class, err
		res.Attempts = append(res.Attempts, attempt)
		e.metrics.RecordRouteAttempt(route.Name(), string(class))

		switch class {
		case types.ClassTransient:
			return nil, err
		case types.ClassUnknown:
			unknown++
			if unknown >= e.cfg.UnknownAttempts {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     e.cfg.BackoffInitial,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         e.cfg.BackoffMax,
	}
	notify := func(err error, d time.Duration) {
		wait = d
		log.Info("Повтор попытки после ошибки",
			zap.String("route", route.Name()),
			zap.Error(err),
			zap.Duration("backoff", d))
	}

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.cfg.TransientAttempts),
		backoff.WithNotify(notify))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return nil, err
	}
	return status, nil
}

func (e *Executor) attempt(ctx context.Context, route Route, swap types.SwapRequest, fee types.PriorityConfig) (*soltx.Status, error) {
	ixs, err := route.BuildSwap(ctx, swap)
	if err != nil {
		return nil, fmt.Errorf("%s build: %w", route.Name(), err)
	}
	status, err := e.tx.Execute(ctx, e.wallet, fee, ixs)
	if err != nil {
		return nil, fmt.Errorf("%s execute: %w", route.Name(), err)
	}
	return status, nil
}

type balanceSnapshot struct {
	tokens, lamports     uint64
	tokensOK, lamportsOK bool
}

func (e *Executor) snapshot(ctx context.Context, ata solana.PublicKey) balanceSnapshot {
	var s balanceSnapshot
	var err error
	if s.tokens, err = e.balances.TokenBalance(ctx, e.cfg.Workload, ata); err == nil {
		s.tokensOK = true
	} else {
		e.logger.Warn("Failed to read token balance before trade", zap.Error(err))
	}
	if s.lamports, err = e.balances.SOLBalance(ctx, e.cfg.Workload, e.wallet.PublicKey); err == nil {
		s.lamportsOK = true
	}
	return s
}

// verify опрашивает баланс токена, пока изменение не покроет сделку.
// Продажа засчитывается только на измеренный объём: частичное списание
// даёт частичный fill, неизменный или нечитаемый баланс делает сделку неуспешной.
func (e *Executor) verify(ctx context.Context, log *zap.Logger, ata solana.PublicKey, swap types.SwapRequest, before balanceSnapshot, res *ExecutionResult) {
	var (
		after uint64
		read  bool
	)
	for i := 0; i < e.cfg.VerifyAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				i = e.cfg.VerifyAttempts
				continue
			case <-time.After(e.cfg.VerifyDelay):
			}
		}
		balance, err := e.balances.TokenBalance(ctx, e.cfg.Workload, ata)
		if err != nil {
			continue
		}
		after, read = balance, true
		if before.tokensOK && e.covered(swap, before.tokens, after) {
			res.Verified = true
			break
		}
	}
	measured := read && before.tokensOK

	switch {
	case res.Verified && swap.Side == types.SideSell:
		res.Quantity = min(before.tokens-after, swap.Amount)
	case res.Verified:
		res.Quantity = after - before.tokens
	case swap.Side == types.SideSell && measured && after < before.tokens:
		res.Quantity = before.tokens - after
		log.Error("Sell confirmed but only partially filled",
			zap.String("signature", res.Signature.String()),
			zap.Uint64("requested", swap.Amount),
			zap.Uint64("filled", res.Quantity))
	case swap.Side == types.SideSell:
		res.Success = false
		res.Quantity = 0
		res.Err = types.WithClass(types.ClassStateInconsistency, "verify sell",
			fmt.Errorf("%w: signature %s, balance before %d (read %t), after %d (read %t)",
				ErrUnverifiedFill, res.Signature, before.tokens, before.tokensOK, after, read))
		log.Error("Sell confirmed but token balance did not decrease",
			zap.String("signature", res.Signature.String()),
			zap.Uint64("requested", swap.Amount),
			zap.Uint64("balance_after", after),
			zap.Bool("balance_read", measured))
	default:
		res.Quantity = after
		log.Error("Buy confirmed but token balance did not increase",
			zap.String("signature", res.Signature.String()),
			zap.Uint64("balance_after", after))
	}

	if !before.lamportsOK {
		return
	}
	lamports, err := e.balances.SOLBalance(ctx, e.cfg.Workload, e.wallet.PublicKey)
	if err != nil {
		return
	}
	if swap.Side == types.SideSell && lamports > before.lamports {
		res.Lamports = lamports - before.lamports
	}
	if swap.Side == types.SideBuy && before.lamports > lamports {
		res.Lamports = before.lamports - lamports
	}
}

func (e *Executor) covered(swap types.SwapRequest, before, after uint64) bool {
	if swap.Side == types.SideSell {
		return after <= before && before-after >= swap.Amount
	}
	return after > before
}

func (e *Executor) report(ctx context.Context, log *zap.Logger, res ExecutionResult) {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	e.metrics.RecordTrade(string(res.Side), res.Route, outcome, res.Latency)

	if res.Success {
		logger.WithTransaction(log, res.Signature.String()).Info("Trade executed",
			zap.String("route", res.Route),
			zap.Uint64("quantity", res.Quantity),
			zap.Uint64("lamports", res.Lamports),
			zap.Bool("verified", res.Verified),
			zap.Int("attempts", len(res.Attempts)),
			zap.Duration("latency", res.Latency))
	} else {
		log.Error("Trade failed on all routes",
			zap.String("class", string(res.Class())),
			zap.Int("attempts", len(res.Attempts)),
			zap.Duration("latency", res.Latency),
			zap.Error(res.Err))
	}

	if e.observer != nil {
		e.observer.OnTrade(ctx, res)
	}
}
