package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finsight-labs/edgar-insights/internal/catalog"
	"github.com/finsight-labs/edgar-insights/internal/edgar"
	"github.com/finsight-labs/edgar-insights/internal/fetcher"
	"github.com/finsight-labs/edgar-insights/internal/insight"
	"github.com/finsight-labs/edgar-insights/internal/monitoring"
	"github.com/finsight-labs/edgar-insights/internal/pipeline"
	"github.com/finsight-labs/edgar-insights/internal/resilience"
	"github.com/finsight-labs/edgar-insights/internal/store"
	anthropicpkg "github.com/finsight-labs/edgar-insights/pkg/anthropic"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the configured ticker universe",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (EDGAR_ANTHROPIC_KEY)")
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		backup, err := store.NewBackupWriter(cfg.Store.BackupPath)
		if err != nil {
			return eris.Wrap(err, "open backup")
		}
		defer backup.Close()

		retry := resilience.FromPipelineConfig(
			cfg.Pipeline.MaxAttempts,
			cfg.Pipeline.InitialBackoffMs,
			cfg.Pipeline.MaxBackoffMs,
			cfg.Pipeline.JitterFraction,
		)

		httpClient := fetcher.New(fetcher.Options{
			UserAgent: cfg.EDGAR.UserAgent,
			Retry:     retry,
		})
		edgarSvc := edgar.NewService(httpClient, cfg.EDGAR)

		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		candidates := append([]string{cfg.Anthropic.Model}, cfg.Anthropic.FallbackModels...)
		modelName, err := insight.Probe(ctx, anthropicClient, candidates)
		if err != nil {
			return eris.Wrap(err, "probe model")
		}
		extractor := insight.NewExtractor(anthropicClient, modelName, cfg.Anthropic.MaxTokens, retry)

		cat := catalog.New(cfg.Universe, cfg.ForeignFilerSet())

		p := pipeline.New(cfg, st, backup, edgarSvc, extractor, cat)

		start := time.Now()
		result, err := p.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("model", modelName),
			zap.Duration("elapsed", time.Since(start)),
		)

		cost := anthropicpkg.TokenUsage{
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
		}.EstimateCost(modelName)
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerter.SendAlerts(ctx, alerter.Evaluate(result, cost))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
