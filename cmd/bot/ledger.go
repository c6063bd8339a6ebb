package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-exit-engine/internal/bot"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Purchase ledger: assets that will not be bought again",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded purchases",
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

		records, err := st.ledger.List(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderLedger(records))
		return nil
	},
}

var ledgerCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Drop expired purchases of assets without an open position",
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

		removed, err := st.ledger.Compact(cmd.Context(), time.Now(), bot.ActiveIn(st.positions))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired purchase(s)\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd, ledgerCompactCmd)
}
