package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/finsight-labs/edgar-insights/internal/catalog"
	"github.com/finsight-labs/edgar-insights/internal/pipeline"
	"github.com/finsight-labs/edgar-insights/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report ledger coverage against the configured universe",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		done, err := st.DoneSet(ctx)
		if err != nil {
			return eris.Wrap(err, "load ledger")
		}

		cat := catalog.New(cfg.Universe, cfg.ForeignFilerSet())
		report := pipeline.BuildGapReport(cat.Enumerate(), done)
		fmt.Print(report.Format())

		sum, err := st.Summary(ctx)
		if err != nil {
			return eris.Wrap(err, "load summary")
		}
		fmt.Printf("\ninsights stored: %d\n", sum.Insights)
		if sum.LastRun != nil {
			fmt.Printf("last run: %s (%s, started %s)\n",
				sum.LastRun.ID, sum.LastRun.Status, sum.LastRun.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
