package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-labs/edgar-insights/internal/store"
)

var importPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Restore insights from a JSONL backup into the database",
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

		path := importPath
		if path == "" {
			path = cfg.Store.BackupPath
		}

		ins, err := store.ReadBackup(path)
		if err != nil {
			return eris.Wrap(err, "read backup")
		}

		n, err := st.ImportInsights(ctx, ins)
		if err != nil {
			return eris.Wrap(err, "import insights")
		}

		zap.L().Info("import complete",
			zap.String("backup", path),
			zap.Int("read", len(ins)),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "backup", "", "backup file path (default: store.backup_path)")
	rootCmd.AddCommand(importCmd)
}
