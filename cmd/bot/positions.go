package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-exit-engine/internal/bot"
	"github.com/rovshanmuradov/solana-exit-engine/internal/position"
)

var showAll bool

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Inspect and close positions",
}

var positionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open positions (--all adds closed ones)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		st, err := rt.openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.kv.Close()

		var list []*position.Position
		if showAll {
			list, err = st.positions.ListAll(cmd.Context())
		} else {
			list, err = st.positions.ListActive(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderPositions(list))
		return nil
	},
}

var positionsShowCmd = &cobra.Command{
	Use:   "show <mint>",
	Short: "Show one position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		st, err := rt.openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.kv.Close()

		p, err := st.positions.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderPosition(p))
		return nil
	},
}

var positionsCloseCmd = &cobra.Command{
	Use:   "close <mint>",
	Short: "Sell the remainder of a position now",
	Long: `Sells the whole remainder through the executor. Refused while a running
engine holds the position; close it from that engine or stop it first.
Closing an already closed position is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		w, err := bot.LoadWallet(rt.cfg.Wallet)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := bot.NewApp(ctx, rt.cfg, w, rt.logger)
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		res, err := app.Engine().ClosePosition(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if res.AlreadyClosed {
			fmt.Fprintln(out, "position already closed")
		}
		if res.Trade != nil {
			fmt.Fprintf(out, "sold %d via %s, signature %s\n", res.Trade.Quantity, res.Trade.Route, res.Trade.Signature)
		}
		if res.Position != nil {
			fmt.Fprintln(out, renderPosition(res.Position))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.AddCommand(positionsListCmd, positionsShowCmd, positionsCloseCmd)
	positionsListCmd.Flags().BoolVar(&showAll, "all", false, "include closed positions")
}
