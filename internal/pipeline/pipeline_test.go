package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/finsight-labs/edgar-insights/internal/catalog"
	"github.com/finsight-labs/edgar-insights/internal/config"
	"github.com/finsight-labs/edgar-insights/internal/edgar"
	"github.com/finsight-labs/edgar-insights/internal/fetcher"
	"github.com/finsight-labs/edgar-insights/internal/insight"
	"github.com/finsight-labs/edgar-insights/internal/model"
	"github.com/finsight-labs/edgar-insights/internal/resilience"
	"github.com/finsight-labs/edgar-insights/internal/store"
	"github.com/finsight-labs/edgar-insights/pkg/anthropic"
)

const modelResponse = `{
	"ai_investment_focus": "on-device inference silicon",
	"ai_monetization_status": null,
	"capex_guidance_tone": "conservative",
	"china_exposure_risk": "assembly concentration in China",
	"supply_chain_bottlenecks": null,
	"restructuring_plans": null,
	"efficiency_initiatives": null,
	"mda_sentiment_score": 7,
	"macro_concerns": ["fx headwinds", "consumer demand", "tariffs"],
	"growing_segments": "services",
	"shrinking_segments": null
}`

// stubModel answers every extraction request with the same canned text,
// counting calls.
type stubModel struct {
	text  string
	calls atomic.Int64
}

func (c *stubModel) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.calls.Add(1)
	return &anthropic.MessageResponse{
		Text:  c.text,
		Usage: anthropic.TokenUsage{InputTokens: 500, OutputTokens: 100},
	}, nil
}

// testEnv wires an httptest EDGAR, a stub model, and a sqlite store into
// a runnable pipeline.
type testEnv struct {
	cfg      *config.Config
	store    store.Store
	model    *stubModel
	edgarReq atomic.Int64
	srv      *httptest.Server
}

func newEnv(t *testing.T, modelText string) *testEnv {
	t.Helper()
	env := &testEnv{model: &stubModel{text: modelText}}

	filingBody := "<html><body><p>" +
		strings.Repeat("Management discussion of results and liquidity. ", 40) +
		"</p></body></html>"

	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."}}`))
	})
	mux.HandleFunc("/submissions/CIK0000320193.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"cik": "320193",
			"filings": {
				"recent": {
					"accessionNumber": ["0000320193-23-000106"],
					"filingDate": ["2023-11-03"],
					"reportDate": ["2023-09-30"],
					"form": ["10-K"],
					"primaryDocument": ["aapl-20230930.htm"]
				},
				"files": []
			}
		}`))
	})
	mux.HandleFunc("/Archives/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(filingBody))
	})
	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.edgarReq.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(env.srv.Close)

	dir := t.TempDir()
	env.cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(dir, "insights.db"),
			BackupPath: filepath.Join(dir, "insights.jsonl"),
		},
		EDGAR: config.EDGARConfig{
			UserAgent:   "test test@example.com",
			DataURL:     env.srv.URL,
			ArchivesURL: env.srv.URL,
			TickersURL:  env.srv.URL + "/files/company_tickers.json",
			FilingDir:   filepath.Join(dir, "filings"),
		},
		Pipeline: config.PipelineConfig{
			DownloadWorkers: 2,
			ExtractWorkers:  2,
			QueueSize:       4,
			MaxAttempts:     2,
		},
		Universe: config.UniverseConfig{
			Years: []int{2023},
			Groups: []config.TickerGroup{
				{Name: "test", Tickers: []string{"AAPL", "ZZGONE"}},
			},
		},
	}

	st, err := store.Open(context.Background(), env.cfg.Store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	env.store = st
	return env
}

func (env *testEnv) pipeline(t *testing.T) *Pipeline {
	return env.pipelineWith(t, env.model)
}

func (env *testEnv) pipelineWith(t *testing.T, client anthropic.Client) *Pipeline {
	t.Helper()

	u, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	fc := fetcher.New(fetcher.Options{
		UserAgent: env.cfg.EDGAR.UserAgent,
		Retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
		RateLimiters: map[string]*rate.Limiter{
			u.Host: rate.NewLimiter(rate.Inf, 1),
		},
	})

	backup, err := store.NewBackupWriter(env.cfg.Store.BackupPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backup.Close() })

	extractor := insight.NewExtractor(client, "claude-haiku-4-5-20251001", 2048, resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	})

	return New(
		env.cfg,
		env.store,
		backup,
		edgar.NewService(fc, env.cfg.EDGAR),
		extractor,
		catalog.New(env.cfg.Universe, env.cfg.ForeignFilerSet()),
	)
}

func TestRun(t *testing.T) {
	env := newEnv(t, modelResponse)
	ctx := context.Background()

	result, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)

	// AAPL extracts; ZZGONE has no CIK and records as no_filing.
	assert.Equal(t, 2, result.Planned)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.Extracted)
	assert.Equal(t, 1, result.NoFiling)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(500), result.InputTokens)

	in, err := env.store.GetInsight(ctx, "AAPL", 2023)
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, 7, in.MDASentimentScore)
	assert.Equal(t, "test", in.Tier)
	assert.Equal(t, "claude-haiku-4-5-20251001", in.Model)

	done, err := env.store.DoneSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExtracted, done["AAPL/2023"])
	assert.Equal(t, model.StatusNoFiling, done["ZZGONE/2023"])

	backups, err := store.ReadBackup(env.cfg.Store.BackupPath)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "AAPL", backups[0].Ticker)

	sum, err := env.store.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, sum.LastRun)
	assert.Equal(t, model.RunStatusComplete, sum.LastRun.Status)
}

func TestRun_ResumeSkipsCompletedItems(t *testing.T) {
	env := newEnv(t, modelResponse)
	ctx := context.Background()

	_, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)

	apiCalls := env.model.calls.Load()
	edgarCalls := env.edgarReq.Load()

	result, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Extracted)
	assert.Equal(t, 0, result.NoFiling)

	// A fully-complete rerun touches neither EDGAR nor the model.
	assert.Equal(t, apiCalls, env.model.calls.Load())
	assert.Equal(t, edgarCalls, env.edgarReq.Load())
}

func TestRun_SchemaFailureRecordsFailed(t *testing.T) {
	env := newEnv(t, "this is not json")
	ctx := context.Background()

	result, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Extracted)

	done, err := env.store.DoneSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, done["AAPL/2023"])

	in, err := env.store.GetInsight(ctx, "AAPL", 2023)
	require.NoError(t, err)
	assert.Nil(t, in)

	// Failed items stay parked until reset, then become pending again.
	result, err = env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)

	n, err := env.store.ResetFailed(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env.model.text = modelResponse
	result, err = env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Extracted)
}

// blockingModel parks every request until its context is cancelled,
// signalling once the first request arrives.
type blockingModel struct {
	started chan struct{}
}

func (c *blockingModel) CreateMessage(ctx context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	select {
	case c.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_CancellationLeavesItemResumable(t *testing.T) {
	env := newEnv(t, modelResponse)
	blocked := &blockingModel{started: make(chan struct{}, 1)}
	p := env.pipelineWith(t, blocked)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		errCh <- err
	}()

	select {
	case <-blocked.started:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never started")
	}
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	// The interrupted item gets no terminal status and no insight, so the
	// next run picks it right back up.
	done, err := env.store.DoneSet(context.Background())
	require.NoError(t, err)
	assert.False(t, done["AAPL/2023"].Skippable())

	in, err := env.store.GetInsight(context.Background(), "AAPL", 2023)
	require.NoError(t, err)
	assert.Nil(t, in)

	result, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Extracted)
}

func TestRun_CachedFilingSkipsDownload(t *testing.T) {
	env := newEnv(t, modelResponse)
	ctx := context.Background()

	_, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)

	// Knock the ledger row back to pending but keep the filing on disk:
	// the rerun must re-extract without re-fetching the document.
	require.NoError(t, env.store.RecordStatus(ctx, model.LedgerEntry{
		Ticker: "AAPL", Year: 2023, Status: model.StatusPending, UpdatedAt: time.Now(),
	}))

	edgarCalls := env.edgarReq.Load()
	result, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Extracted)

	// Only the CIK map is refetched; the filing itself comes from disk.
	assert.Equal(t, edgarCalls+1, env.edgarReq.Load())
}
