package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-exit-engine/internal/bot"
)

var (
	signalsFile  string
	workers      int
	exitWhenIdle bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Recover open positions, execute buy signals and monitor until exit",
	Long: `Starts the engine. Open positions from storage are reconciled with the wallet
and monitored again; signals from --signals are bought and monitored.
Positions stay open on shutdown and are picked up by the next run.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&signalsFile, "signals", "", "YAML file with buy signals")
	runCmd.Flags().IntVar(&workers, "workers", bot.DefaultWorkers, "parallel buy workers")
	runCmd.Flags().BoolVar(&exitWhenIdle, "exit-when-idle", false, "stop when no open positions are left")
}

func runEngine(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	var signals []bot.BuySignal
	if signalsFile != "" {
		if signals, err = bot.LoadSignals(signalsFile); err != nil {
			return err
		}
	}

	w, err := bot.LoadWallet(rt.cfg.Wallet)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.logger.Info("Starting exit engine",
		zap.String("bot", rt.cfg.BotName),
		zap.String("config", configFile),
		zap.String("storage", rt.cfg.Storage.Driver))

	app, err := bot.NewApp(ctx, rt.cfg, w, rt.logger)
	if err != nil {
		return err
	}
	err = app.Run(ctx, bot.RunOptions{Signals: signals, Workers: workers, Exit: exitWhenIdle})
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error("Engine stopped with error", zap.Error(err))
		return err
	}
	rt.logger.Info("Exit engine stopped")
	return nil
}
