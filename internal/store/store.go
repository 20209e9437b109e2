// Package store persists the completion ledger, extracted insights, and run
// records behind a driver-agnostic interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/finsight-labs/edgar-insights/internal/config"
	"github.com/finsight-labs/edgar-insights/internal/model"
)

// Summary aggregates ledger and insight counts for the status report.
type Summary struct {
	Statuses map[model.LedgerStatus]int `json:"statuses"`
	Insights int                        `json:"insights"`
	LastRun  *model.Run                 `json:"last_run,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
//
// Ledger writes are the pipeline's commit points: an item's status row is
// updated only after everything that status implies has durably happened,
// so a crash at any moment leaves the ledger conservative, never ahead.
type Store interface {
	// Ledger
	DoneSet(ctx context.Context) (map[string]model.LedgerStatus, error)
	RecordStatus(ctx context.Context, e model.LedgerEntry) error
	ResetFailed(ctx context.Context, tickers []string) (int, error)

	// Insights
	UpsertInsight(ctx context.Context, in *model.Insight) error
	GetInsight(ctx context.Context, ticker string, year int) (*model.Insight, error)
	ImportInsights(ctx context.Context, ins []*model.Insight) (int64, error)

	// Runs
	CreateRun(ctx context.Context, modelName string) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error

	// Reporting and lifecycle
	Summary(ctx context.Context) (*Summary, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs the store named by the config driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
