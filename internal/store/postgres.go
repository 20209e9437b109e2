package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/finsight-labs/edgar-insights/internal/db"
	"github.com/finsight-labs/edgar-insights/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS filing_insights (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	ticker                   TEXT NOT NULL,
	fiscal_year              INTEGER NOT NULL,
	filing_type              TEXT NOT NULL,
	tier                     TEXT,
	ai_investment_focus      TEXT,
	ai_monetization_status   TEXT,
	capex_guidance_tone      TEXT NOT NULL,
	china_exposure_risk      TEXT,
	supply_chain_bottlenecks TEXT,
	restructuring_plans      TEXT,
	efficiency_initiatives   TEXT,
	mda_sentiment_score      INTEGER NOT NULL,
	macro_concerns           JSONB NOT NULL,
	growing_segments         TEXT,
	shrinking_segments       TEXT,
	mda_chars                INTEGER,
	risk_chars               INTEGER,
	model                    TEXT,
	extracted_at             TIMESTAMPTZ NOT NULL,
	UNIQUE (ticker, fiscal_year)
);

CREATE TABLE IF NOT EXISTS processing_log (
	ticker      TEXT NOT NULL,
	fiscal_year INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	attempts    INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (ticker, fiscal_year)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	model       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	result      JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_insights_ticker ON filing_insights(ticker);
CREATE INDEX IF NOT EXISTS idx_insights_year ON filing_insights(fiscal_year);
CREATE INDEX IF NOT EXISTS idx_log_status ON processing_log(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) DoneSet(ctx context.Context) (map[string]model.LedgerStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, fiscal_year, status FROM processing_log`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: done set")
	}
	defer rows.Close()

	done := make(map[string]model.LedgerStatus)
	for rows.Next() {
		var ticker string
		var year int
		var status model.LedgerStatus
		if err := rows.Scan(&ticker, &year, &status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger row")
		}
		done[fmt.Sprintf("%s/%d", ticker, year)] = status
	}
	return done, eris.Wrap(rows.Err(), "postgres: done set iterate")
}

func (s *PostgresStore) RecordStatus(ctx context.Context, e model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_log (ticker, fiscal_year, status, error, attempts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ticker, fiscal_year) DO UPDATE SET
		   status = EXCLUDED.status, error = EXCLUDED.error,
		   attempts = EXCLUDED.attempts, updated_at = EXCLUDED.updated_at`,
		e.Ticker, e.Year, string(e.Status), nullString(e.Error), e.Attempts, e.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record status %s/%d", e.Ticker, e.Year)
}

func (s *PostgresStore) ResetFailed(ctx context.Context, tickers []string) (int, error) {
	query := `DELETE FROM processing_log WHERE status = $1`
	args := []any{string(model.StatusFailed)}

	if len(tickers) > 0 {
		upper := make([]string, len(tickers))
		for i, t := range tickers {
			upper[i] = strings.ToUpper(t)
		}
		query += ` AND ticker = ANY($2)`
		args = append(args, upper)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset failed")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpsertInsight(ctx context.Context, in *model.Insight) error {
	concernsJSON, err := json.Marshal(in.MacroConcerns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal macro concerns")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO filing_insights (
		   id, ticker, fiscal_year, filing_type, tier,
		   ai_investment_focus, ai_monetization_status, capex_guidance_tone,
		   china_exposure_risk, supply_chain_bottlenecks, restructuring_plans,
		   efficiency_initiatives, mda_sentiment_score, macro_concerns,
		   growing_segments, shrinking_segments,
		   mda_chars, risk_chars, model, extracted_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 ON CONFLICT (ticker, fiscal_year) DO UPDATE SET
		   filing_type = EXCLUDED.filing_type, tier = EXCLUDED.tier,
		   ai_investment_focus = EXCLUDED.ai_investment_focus,
		   ai_monetization_status = EXCLUDED.ai_monetization_status,
		   capex_guidance_tone = EXCLUDED.capex_guidance_tone,
		   china_exposure_risk = EXCLUDED.china_exposure_risk,
		   supply_chain_bottlenecks = EXCLUDED.supply_chain_bottlenecks,
		   restructuring_plans = EXCLUDED.restructuring_plans,
		   efficiency_initiatives = EXCLUDED.efficiency_initiatives,
		   mda_sentiment_score = EXCLUDED.mda_sentiment_score,
		   macro_concerns = EXCLUDED.macro_concerns,
		   growing_segments = EXCLUDED.growing_segments,
		   shrinking_segments = EXCLUDED.shrinking_segments,
		   mda_chars = EXCLUDED.mda_chars, risk_chars = EXCLUDED.risk_chars,
		   model = EXCLUDED.model, extracted_at = EXCLUDED.extracted_at`,
		uuid.New().String(), in.Ticker, in.Year, string(in.FilingType), nullString(in.Tier),
		in.AIInvestmentFocus, in.AIMonetizationStatus, string(in.CapexGuidanceTone),
		in.ChinaExposureRisk, in.SupplyChainBottlenecks, in.RestructuringPlans,
		in.EfficiencyInitiatives, in.MDASentimentScore, concernsJSON,
		in.GrowingSegments, in.ShrinkingSegments,
		in.MDAChars, in.RiskChars, in.Model, in.ExtractedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert insight %s/%d", in.Ticker, in.Year)
}

func (s *PostgresStore) GetInsight(ctx context.Context, ticker string, year int) (*model.Insight, error) {
	var in model.Insight
	var tier, insightModel *string
	var concernsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT ticker, fiscal_year, filing_type, tier,
		        ai_investment_focus, ai_monetization_status, capex_guidance_tone,
		        china_exposure_risk, supply_chain_bottlenecks, restructuring_plans,
		        efficiency_initiatives, mda_sentiment_score, macro_concerns,
		        growing_segments, shrinking_segments,
		        mda_chars, risk_chars, model, extracted_at
		 FROM filing_insights WHERE ticker = $1 AND fiscal_year = $2`,
		strings.ToUpper(ticker), year,
	).Scan(
		&in.Ticker, &in.Year, &in.FilingType, &tier,
		&in.AIInvestmentFocus, &in.AIMonetizationStatus, &in.CapexGuidanceTone,
		&in.ChinaExposureRisk, &in.SupplyChainBottlenecks, &in.RestructuringPlans,
		&in.EfficiencyInitiatives, &in.MDASentimentScore, &concernsJSON,
		&in.GrowingSegments, &in.ShrinkingSegments,
		&in.MDAChars, &in.RiskChars, &insightModel, &in.ExtractedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get insight %s/%d", ticker, year)
	}

	if tier != nil {
		in.Tier = *tier
	}
	if insightModel != nil {
		in.Model = *insightModel
	}
	if err := json.Unmarshal(concernsJSON, &in.MacroConcerns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal macro concerns")
	}
	return &in, nil
}

// insightColumns is the column order used by the bulk import path.
var insightColumns = []string{
	"id", "ticker", "fiscal_year", "filing_type", "tier",
	"ai_investment_focus", "ai_monetization_status", "capex_guidance_tone",
	"china_exposure_risk", "supply_chain_bottlenecks", "restructuring_plans",
	"efficiency_initiatives", "mda_sentiment_score", "macro_concerns",
	"growing_segments", "shrinking_segments",
	"mda_chars", "risk_chars", "model", "extracted_at",
}

func (s *PostgresStore) ImportInsights(ctx context.Context, ins []*model.Insight) (int64, error) {
	rows := make([][]any, 0, len(ins))
	for _, in := range ins {
		concernsJSON, err := json.Marshal(in.MacroConcerns)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal macro concerns")
		}
		rows = append(rows, []any{
			uuid.New().String(), in.Ticker, in.Year, string(in.FilingType), nullString(in.Tier),
			in.AIInvestmentFocus, in.AIMonetizationStatus, string(in.CapexGuidanceTone),
			in.ChinaExposureRisk, in.SupplyChainBottlenecks, in.RestructuringPlans,
			in.EfficiencyInitiatives, in.MDASentimentScore, concernsJSON,
			in.GrowingSegments, in.ShrinkingSegments,
			in.MDAChars, in.RiskChars, in.Model, in.ExtractedAt.UTC(),
		})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "filing_insights",
		Columns:      insightColumns,
		ConflictKeys: []string{"ticker", "fiscal_year"},
		UpdateCols:   insightColumns[3:],
	}, rows)
}

func (s *PostgresStore) CreateRun(ctx context.Context, modelName string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, model, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, modelName, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Model:     modelName,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result = $2, finished_at = $3 WHERE id = $4`,
		string(status), resultJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{Statuses: make(map[model.LedgerStatus]int)}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM processing_log GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summary statuses")
	}
	defer rows.Close()
	for rows.Next() {
		var status model.LedgerStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		sum.Statuses[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: summary iterate")
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM filing_insights`,
	).Scan(&sum.Insights); err != nil {
		return nil, eris.Wrap(err, "postgres: count insights")
	}

	run, err := s.lastRun(ctx)
	if err != nil {
		return nil, err
	}
	sum.LastRun = run
	return sum, nil
}

func (s *PostgresStore) lastRun(ctx context.Context) (*model.Run, error) {
	var r model.Run
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, model, status, result, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&r.ID, &r.Model, &r.Status, &resultJSON, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: last run")
	}

	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run result")
		}
	}
	return &r, nil
}
