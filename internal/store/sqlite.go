package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/finsight-labs/edgar-insights/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS filing_insights (
	id                       TEXT PRIMARY KEY,
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
	macro_concerns           TEXT NOT NULL,
	growing_segments         TEXT,
	shrinking_segments       TEXT,
	mda_chars                INTEGER,
	risk_chars               INTEGER,
	model                    TEXT,
	extracted_at             DATETIME NOT NULL,
	UNIQUE(ticker, fiscal_year)
);

CREATE TABLE IF NOT EXISTS processing_log (
	ticker      TEXT NOT NULL,
	fiscal_year INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	attempts    INTEGER NOT NULL DEFAULT 0,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (ticker, fiscal_year)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	model       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	result      TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_insights_ticker ON filing_insights(ticker);
CREATE INDEX IF NOT EXISTS idx_insights_year ON filing_insights(fiscal_year);
CREATE INDEX IF NOT EXISTS idx_log_status ON processing_log(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DoneSet(ctx context.Context) (map[string]model.LedgerStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, fiscal_year, status FROM processing_log`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: done set")
	}
	defer rows.Close()

	done := make(map[string]model.LedgerStatus)
	for rows.Next() {
		var ticker string
		var year int
		var status model.LedgerStatus
		if err := rows.Scan(&ticker, &year, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger row")
		}
		done[fmt.Sprintf("%s/%d", ticker, year)] = status
	}
	return done, eris.Wrap(rows.Err(), "sqlite: done set iterate")
}

func (s *SQLiteStore) RecordStatus(ctx context.Context, e model.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_log (ticker, fiscal_year, status, error, attempts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticker, fiscal_year) DO UPDATE SET
		   status = excluded.status, error = excluded.error,
		   attempts = excluded.attempts, updated_at = excluded.updated_at`,
		e.Ticker, e.Year, string(e.Status), nullString(e.Error), e.Attempts, e.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record status %s/%d", e.Ticker, e.Year)
}

func (s *SQLiteStore) ResetFailed(ctx context.Context, tickers []string) (int, error) {
	query := `DELETE FROM processing_log WHERE status = ?`
	args := []any{string(model.StatusFailed)}

	if len(tickers) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tickers)), ",")
		query += ` AND ticker IN (` + placeholders + `)`
		for _, t := range tickers {
			args = append(args, strings.ToUpper(t))
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reset failed")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) UpsertInsight(ctx context.Context, in *model.Insight) error {
	concernsJSON, err := json.Marshal(in.MacroConcerns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal macro concerns")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO filing_insights (
		   id, ticker, fiscal_year, filing_type, tier,
		   ai_investment_focus, ai_monetization_status, capex_guidance_tone,
		   china_exposure_risk, supply_chain_bottlenecks, restructuring_plans,
		   efficiency_initiatives, mda_sentiment_score, macro_concerns,
		   growing_segments, shrinking_segments,
		   mda_chars, risk_chars, model, extracted_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticker, fiscal_year) DO UPDATE SET
		   filing_type = excluded.filing_type, tier = excluded.tier,
		   ai_investment_focus = excluded.ai_investment_focus,
		   ai_monetization_status = excluded.ai_monetization_status,
		   capex_guidance_tone = excluded.capex_guidance_tone,
		   china_exposure_risk = excluded.china_exposure_risk,
		   supply_chain_bottlenecks = excluded.supply_chain_bottlenecks,
		   restructuring_plans = excluded.restructuring_plans,
		   efficiency_initiatives = excluded.efficiency_initiatives,
		   mda_sentiment_score = excluded.mda_sentiment_score,
		   macro_concerns = excluded.macro_concerns,
		   growing_segments = excluded.growing_segments,
		   shrinking_segments = excluded.shrinking_segments,
		   mda_chars = excluded.mda_chars, risk_chars = excluded.risk_chars,
		   model = excluded.model, extracted_at = excluded.extracted_at`,
		uuid.New().String(), in.Ticker, in.Year, string(in.FilingType), nullString(in.Tier),
		in.AIInvestmentFocus, in.AIMonetizationStatus, string(in.CapexGuidanceTone),
		in.ChinaExposureRisk, in.SupplyChainBottlenecks, in.RestructuringPlans,
		in.EfficiencyInitiatives, in.MDASentimentScore, string(concernsJSON),
		in.GrowingSegments, in.ShrinkingSegments,
		in.MDAChars, in.RiskChars, in.Model, in.ExtractedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert insight %s/%d", in.Ticker, in.Year)
}

func (s *SQLiteStore) GetInsight(ctx context.Context, ticker string, year int) (*model.Insight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ticker, fiscal_year, filing_type, tier,
		        ai_investment_focus, ai_monetization_status, capex_guidance_tone,
		        china_exposure_risk, supply_chain_bottlenecks, restructuring_plans,
		        efficiency_initiatives, mda_sentiment_score, macro_concerns,
		        growing_segments, shrinking_segments,
		        mda_chars, risk_chars, model, extracted_at
		 FROM filing_insights WHERE ticker = ? AND fiscal_year = ?`,
		strings.ToUpper(ticker), year,
	)

	var in model.Insight
	var tier, insightModel sql.NullString
	var concernsJSON string
	err := row.Scan(
		&in.Ticker, &in.Year, &in.FilingType, &tier,
		&in.AIInvestmentFocus, &in.AIMonetizationStatus, &in.CapexGuidanceTone,
		&in.ChinaExposureRisk, &in.SupplyChainBottlenecks, &in.RestructuringPlans,
		&in.EfficiencyInitiatives, &in.MDASentimentScore, &concernsJSON,
		&in.GrowingSegments, &in.ShrinkingSegments,
		&in.MDAChars, &in.RiskChars, &insightModel, &in.ExtractedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get insight %s/%d", ticker, year)
	}

	in.Tier = tier.String
	in.Model = insightModel.String
	if err := json.Unmarshal([]byte(concernsJSON), &in.MacroConcerns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal macro concerns")
	}
	return &in, nil
}

func (s *SQLiteStore) ImportInsights(ctx context.Context, ins []*model.Insight) (int64, error) {
	var n int64
	for _, in := range ins {
		if err := s.UpsertInsight(ctx, in); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, modelName string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model, status, started_at) VALUES (?, ?, ?, ?)`,
		id, modelName, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Model:     modelName,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, finished_at = ? WHERE id = ?`,
		string(status), string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{Statuses: make(map[model.LedgerStatus]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM processing_log GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summary statuses")
	}
	defer rows.Close()
	for rows.Next() {
		var status model.LedgerStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		sum.Statuses[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: summary iterate")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM filing_insights`,
	).Scan(&sum.Insights); err != nil {
		return nil, eris.Wrap(err, "sqlite: count insights")
	}

	run, err := s.lastRun(ctx)
	if err != nil {
		return nil, err
	}
	sum.LastRun = run
	return sum, nil
}

func (s *SQLiteStore) lastRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model, status, result, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	)

	var r model.Run
	var resultJSON sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&r.ID, &r.Model, &r.Status, &resultJSON, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run result")
		}
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
