package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-labs/edgar-insights/internal/store"
)

var resetTickers []string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear failed ledger entries so the next run retries them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		n, err := st.ResetFailed(ctx, resetTickers)
		if err != nil {
			return eris.Wrap(err, "reset failed entries")
		}

		zap.L().Info("reset complete",
			zap.Int("cleared", n),
			zap.Strings("tickers", resetTickers),
		)
		return nil
	},
}

func init() {
	resetCmd.Flags().StringSliceVar(&resetTickers, "ticker", nil, "limit reset to these tickers (default: all failed)")
	rootCmd.AddCommand(resetCmd)
}
