// internal/bot/app.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/rpc"
	soltx "github.com/rovshanmuradov/solana-exit-engine/internal/blockchain/solbc/transaction"
	"github.com/rovshanmuradov/solana-exit-engine/internal/config"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dedup"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex/jupiter"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex/pumpfun"
	"github.com/rovshanmuradov/solana-exit-engine/internal/dex/pumpswap"
	"github.com/rovshanmuradov/solana-exit-engine/internal/events"
	"github.com/rovshanmuradov/solana-exit-engine/internal/journal"
	"github.com/rovshanmuradov/solana-exit-engine/internal/ledger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/monitor"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
	"github.com/rovshanmuradov/solana-exit-engine/internal/transaction"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/metrics"
	"github.com/rovshanmuradov/solana-exit-engine/internal/wallet"
)

// Имена нагрузок для профилей RPC.
const (
	WorkloadTrade   = "trade"
	WorkloadPrice   = "price"
	WorkloadMonitor = "monitor"
)

const (
	DefaultWorkers   = 2
	eventBufferSize  = 1024
	jupiterTimeout   = 10 * time.Second
	priceEventPeriod = 5 * time.Second
)

// App собранный бот: шлюз, исполнитель, хранилища и движок позиций.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	wallet   *wallet.Wallet
	gateway  *rpc.Gateway
	store    storage.Store
	guard    dedup.Guard
	ledger   *ledger.Ledger
	bus      *events.Bus
	journal  *journal.Journal
	metrics  *metrics.Collector
	engine   *Engine
	shutdown *ShutdownHandler
}

// LoadWallet выбирает кошелёк из файла по имени; без имени файл должен содержать ровно один.
func LoadWallet(cfg config.WalletConfig) (*wallet.Wallet, error) {
	wallets, err := wallet.LoadWallets(cfg.File)
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		w, ok := wallets[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("wallet %q not found in %s", cfg.Name, cfg.File)
		}
		return w, nil
	}
	if len(wallets) != 1 {
		return nil, fmt.Errorf("%s has %d wallets, set wallet.name", cfg.File, len(wallets))
	}
	var only *wallet.Wallet
	for _, w := range wallets {
		only = w
	}
	return only, nil
}

func gatewayConfig(c config.RPCConfig) rpc.Config {
	providers := make([]rpc.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		caps := make([]rpc.Capability, 0, len(p.Capabilities))
		for _, c := range p.Capabilities {
			caps = append(caps, rpc.Capability(c))
		}
		providers = append(providers, rpc.ProviderConfig{
			Name:         p.Name,
			URL:          p.URL,
			WSURL:        p.WSURL,
			Capabilities: caps,
			RPM:          p.RPM,
		})
	}
	return rpc.Config{
		Providers:        providers,
		Profiles:         c.Profiles,
		CallTimeout:      c.CallTimeout(),
		BlockhashRefresh: c.BlockhashRefresh(),
		BlockhashStale:   c.BlockhashStale(),
		ConfirmPoll:      c.ConfirmPoll(),
	}
}

func buildRoutes(names []string, gw *rpc.Gateway, jupiterURL string, logger *zap.Logger) ([]dex.Route, error) {
	routes := make([]dex.Route, 0, len(names))
	for _, name := range names {
		switch name {
		case pumpfun.Name:
			routes = append(routes, pumpfun.NewRoute(gw, WorkloadTrade, logger))
		case pumpswap.Name:
			r, err := pumpswap.NewRoute(gw, WorkloadTrade, logger)
			if err != nil {
				return nil, err
			}
			routes = append(routes, r)
		case jupiter.Name:
			routes = append(routes, jupiter.NewRoute(jupiterURL, &http.Client{Timeout: jupiterTimeout}, logger))
		default:
			return nil, fmt.Errorf("unknown route %q", name)
		}
	}
	return routes, nil
}

// NewApp собирает все компоненты. Сетевые циклы запускает Run.
func NewApp(ctx context.Context, cfg *config.Config, w *wallet.Wallet, logger *zap.Logger) (_ *App, err error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		wallet:   w,
		metrics:  metrics.NewCollector(),
		shutdown: NewShutdownHandler(logger, 30*time.Second),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.gateway, err = rpc.NewGateway(gatewayConfig(cfg.RPC), a.metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("rpc gateway: %w", err)
	}
	a.shutdown.AddFunc("rpc", func() error { a.gateway.Close(); return nil })

	a.store, err = OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.shutdown.Add("storage", a.store)

	var closeGuard func() error
	a.guard, closeGuard, err = OpenGuard(ctx, cfg.Dedup, cfg.Storage, a.store, logger)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	a.shutdown.AddFunc("dedup", closeGuard)

	a.journal, err = journal.Open(cfg.Storage.Dir, w.String(), journal.DefaultMaxRecent, logger)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	a.shutdown.Add("journal", a.journal)

	a.bus = events.NewBus(logger, eventBufferSize)
	a.shutdown.AddFunc("events", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.bus.Shutdown(sctx)
	})
	a.subscribe()

	routes, err := buildRoutes(cfg.Executor.Routes, a.gateway, cfg.Executor.JupiterURL, logger)
	if err != nil {
		return nil, err
	}
	factory, err := dex.NewFactory(routes...)
	if err != nil {
		return nil, err
	}
	prices, err := dex.NewPriceSource(routes, a.metrics, logger)
	if err != nil {
		return nil, err
	}

	fees, err := transaction.NewFeeEstimator(transaction.FeeConfig{
		Strategy:     transaction.Strategy(cfg.Fees.Strategy),
		MinFee:       cfg.Fees.MinFee,
		HardCap:      cfg.Fees.HardCap,
		FixedFee:     cfg.Fees.FixedFee,
		FixedFeeSOL:  cfg.Fees.FixedFeeSOL,
		BuyExtraPct:  cfg.Fees.BuyExtraPct,
		SellExtraPct: cfg.Fees.SellExtraPct,
		ComputeUnits: cfg.Fees.ComputeUnits,
	}, a.gateway, a.metrics, logger)
	if err != nil {
		return nil, err
	}

	txm := soltx.NewManager(a.gateway, soltx.Config{
		Workload:       WorkloadTrade,
		ConfirmTimeout: cfg.Executor.ConfirmTimeout(),
	}, logger)

	executor := dex.NewExecutor(factory, txm, fees, a.gateway, w, dex.ExecutorConfig{
		Workload:          WorkloadTrade,
		SlippageBps:       cfg.Executor.SlippageBps,
		TransientAttempts: cfg.Executor.TransientAttempts,
		UnknownAttempts:   cfg.Executor.UnknownAttempts,
		BackoffInitial:    cfg.Executor.BackoffInitial(),
		BackoffMax:        cfg.Executor.BackoffMax(),
		VerifyAttempts:    cfg.Executor.VerifyAttempts,
		VerifyDelay:       cfg.Executor.VerifyDelay(),
	}, a.metrics, logger)
	executor.SetObserver(Observers{a.journal, newEventObserver(w.String(), a.bus, logger)})

	a.ledger = ledger.New(a.store, cfg.Ledger.Retention(), logger)

	a.engine = NewEngine(EngineConfig{
		Wallet: w.String(),
		Holder: fmt.Sprintf("%s/%s", cfg.BotName, uuid.NewString()),
		Monitor: monitor.Config{
			Tick:           cfg.Monitor.Tick(),
			PriceTimeout:   cfg.Monitor.PriceTimeout(),
			MaxPriceErrors: cfg.Monitor.MaxPriceErrors,
			Params: monitor.Params{
				HardStopLossPct:      cfg.Monitor.HardStopLossPct,
				MoonBagFloorFraction: cfg.Monitor.MoonBagFloorFraction,
			},
			LeaseTTL:           cfg.Dedup.TTL(),
			PriceEventInterval: priceEventPeriod,
		},
		Defaults: cfg.Monitor.Defaults,
	}, EngineDeps{
		Positions: position.NewStore(a.store, logger),
		Ledger:    a.ledger,
		Trader:    executor,
		Prices:    prices,
		Holdings:  newWalletHoldings(w, a.gateway, WorkloadMonitor),
		Guard:     a.guard,
		Publisher: a.bus,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	a.shutdown.AddFunc("monitors", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.engine.Shutdown(sctx)
	})

	return a, nil
}

// subscribe пишет ключевые события жизненного цикла позиции в лог.
func (a *App) subscribe() {
	log := a.logger.Named("events")
	events.On(a.bus, events.ExitTriggered, func(_ context.Context, ev *events.ExitTriggeredEvent) error {
		log.Info("Exit triggered",
			zap.String("mint", ev.Mint),
			zap.String("reason", ev.Reason),
			zap.Float64("price", ev.Price),
			zap.Uint64("quantity", ev.Quantity))
		return nil
	})
	events.On(a.bus, events.PositionClosed, func(_ context.Context, ev *events.PositionClosedEvent) error {
		log.Info("Position closed",
			zap.String("mint", ev.Mint),
			zap.String("reason", ev.Reason),
			zap.Float64("realized_sol", ev.RealizedSOL))
		return nil
	})
	events.On(a.bus, events.TradeFailed, func(_ context.Context, ev *events.TradeFailedEvent) error {
		log.Warn("Trade failed",
			zap.String("side", ev.Side),
			zap.String("mint", ev.Mint),
			zap.String("class", ev.Class),
			zap.Error(ev.Error))
		return nil
	})
}

func (a *App) Engine() *Engine { return a.engine }

func (a *App) Ledger() *ledger.Ledger { return a.ledger }

func (a *App) Journal() *journal.Journal { return a.journal }

// Close останавливает мониторы и закрывает ресурсы в обратном порядке открытия.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

// RunOptions что делать после восстановления позиций.
type RunOptions struct {
	Signals []BuySignal
	Workers int
	// Exit завершить работу, когда не останется открытых позиций.
	Exit bool
}

// Run восстанавливает позиции, исполняет сигналы и следит за позициями до отмены ctx.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Error("Shutdown finished with errors", zap.Error(err))
		}
	}()

	compactor, err := ledger.NewCompactor(a.ledger, a.engine.IsActive, a.guard,
		a.cfg.Ledger.CompactSchedule, a.cfg.Dedup.SweepSchedule, a.logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.gateway.Run(gctx) })
	g.Go(func() error { return compactor.Run(gctx) })
	if a.cfg.Metrics.Listen != "" {
		g.Go(func() error { return a.metrics.Serve(gctx, a.cfg.Metrics.Listen) })
	}

	g.Go(func() error {
		if _, err := a.engine.Recover(gctx); err != nil {
			return err
		}
		a.runSignals(gctx, opts)
		if opts.Exit {
			return a.waitIdle(gctx)
		}
		return nil
	})

	a.logger.Info("Exit engine running",
		zap.String("wallet", a.wallet.String()),
		zap.Int("signals", len(opts.Signals)))

	err = g.Wait()
	if errors.Is(err, errIdle) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errIdle = errors.New("no open positions left")

func (a *App) runSignals(ctx context.Context, opts RunOptions) {
	if len(opts.Signals) == 0 {
		return
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ch := make(chan BuySignal, len(opts.Signals))
	for _, s := range opts.Signals {
		ch <- s
	}
	close(ch)

	pool := NewWorkerPool(ctx, a.engine, ch, a.logger)
	pool.Start(workers)
	pool.Wait()

	handled, failed := pool.Stats()
	a.logger.Info("Signals processed", zap.Int("handled", handled), zap.Int("failed", failed))
}

// waitIdle возвращает errIdle, когда все мониторы остановились, чтобы errgroup свернул остальные циклы.
func (a *App) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if a.engine.Monitors().Len() == 0 {
			a.logger.Info("No positions left to monitor")
			return errIdle
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
