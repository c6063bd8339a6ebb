package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/bot"
	"github.com/rovshanmuradov/solana-exit-engine/internal/config"
	"github.com/rovshanmuradov/solana-exit-engine/internal/ledger"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
	"github.com/rovshanmuradov/solana-exit-engine/internal/storage"
	"github.com/rovshanmuradov/solana-exit-engine/internal/utils/logger"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "exit-engine",
	Short: "Solana position exit engine",
	Long: `Buys tokens on signal and manages every open position until exit:
stop-loss, take-profit with moon-bag, trailing stop and DCA.

Examples:
  exit-engine run --signals configs/signals.yaml
  exit-engine positions list --all
  exit-engine positions close <mint>
  exit-engine ledger compact`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// runtime то, что нужно любой команде: конфиг и логгер.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	logger *zap.Logger
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(&logger.Config{
		File:        cfg.Logging.File,
		Level:       cfg.Logging.Level,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		MaxBackups:  cfg.Logging.MaxBackups,
		Compress:    cfg.Logging.Compress,
		Development: cfg.Logging.Development || verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &runtime{cfg: cfg, log: log, logger: log.Logger}, nil
}

func (r *runtime) close() {
	_ = r.log.Close()
}

// stores открывает хранилище без сети: для команд только на чтение.
type stores struct {
	kv        storage.Store
	positions *position.Store
	ledger    *ledger.Ledger
}

func (r *runtime) openStores(ctx context.Context) (*stores, error) {
	kv, err := bot.OpenStore(ctx, r.cfg.Storage, r.logger)
	if err != nil {
		return nil, err
	}
	return &stores{
		kv:        kv,
		positions: position.NewStore(kv, r.logger),
		ledger:    ledger.New(kv, r.cfg.Ledger.Retention(), r.logger),
	}, nil
}
