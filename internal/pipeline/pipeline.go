// Package pipeline coordinates the filing extraction run: locate and
// download filings with one worker pool, extract insights with another,
// and record every outcome in the ledger.
package pipeline

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finsight-labs/edgar-insights/internal/catalog"
	"github.com/finsight-labs/edgar-insights/internal/config"
	"github.com/finsight-labs/edgar-insights/internal/edgar"
	"github.com/finsight-labs/edgar-insights/internal/filing"
	"github.com/finsight-labs/edgar-insights/internal/insight"
	"github.com/finsight-labs/edgar-insights/internal/model"
	"github.com/finsight-labs/edgar-insights/internal/resilience"
	"github.com/finsight-labs/edgar-insights/internal/store"
)

// Pipeline wires the catalog, the filing source, the extractor, and the
// persistence layer into one resumable run.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	backup    *store.BackupWriter
	edgar     *edgar.Service
	extractor *insight.Extractor
	catalog   *catalog.Catalog
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	backup *store.BackupWriter,
	edgarSvc *edgar.Service,
	extractor *insight.Extractor,
	cat *catalog.Catalog,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		backup:    backup,
		edgar:     edgarSvc,
		extractor: extractor,
		catalog:   cat,
	}
}

// extractJob carries a downloaded filing from the download pool to the
// extraction pool.
type extractJob struct {
	item model.WorkItem
	raw  *model.RawFiling
}

// counters tallies per-item outcomes across both pools.
type counters struct {
	skipped   atomic.Int64
	extracted atomic.Int64
	noFiling  atomic.Int64
	failed    atomic.Int64
}

// Run executes the full pipeline over the configured universe. Per-item
// failures are recorded and absorbed; only infrastructure failures (store
// writes, CIK map load) or context cancellation abort the run.
func (p *Pipeline) Run(ctx context.Context) (*model.RunResult, error) {
	log := zap.L()

	items := p.catalog.Enumerate()
	done, err := p.store.DoneSet(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load ledger")
	}

	var pending []model.WorkItem
	var skipped int
	for _, item := range items {
		if status, ok := done[item.Key()]; ok && status.Skippable() {
			skipped++
			continue
		}
		pending = append(pending, item)
	}
	log.Info("pipeline: run planned",
		zap.Int("universe", len(items)),
		zap.Int("skipped", skipped),
		zap.Int("pending", len(pending)),
	)

	run, err := p.store.CreateRun(ctx, p.extractor.Model())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	result, runErr := p.process(ctx, pending)
	result.Planned = len(items)
	result.Skipped = skipped
	result.InputTokens, result.OutputTokens = p.extractor.Usage()

	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
	}
	if finishErr := p.store.FinishRun(ctx, run.ID, status, result); finishErr != nil {
		log.Warn("pipeline: failed to record run result", zap.Error(finishErr))
	}

	log.Info("pipeline: run finished",
		zap.String("run_id", run.ID),
		zap.Int("extracted", result.Extracted),
		zap.Int("no_filing", result.NoFiling),
		zap.Int("failed", result.Failed),
		zap.Int64("input_tokens", result.InputTokens),
		zap.Int64("output_tokens", result.OutputTokens),
	)
	return result, runErr
}

// process fans the pending items through the download pool, hands results
// to the extraction pool over a bounded queue, and waits for both.
func (p *Pipeline) process(ctx context.Context, pending []model.WorkItem) (*model.RunResult, error) {
	result := &model.RunResult{}
	if len(pending) == 0 {
		return result, nil
	}

	ciks, err := p.edgar.LoadCIKMap(ctx)
	if err != nil {
		return result, eris.Wrap(err, "pipeline: load CIK map")
	}

	var tally counters
	queue := make(chan extractJob, p.cfg.Pipeline.QueueSize)

	g, gCtx := errgroup.WithContext(ctx)

	// Download pool. Closes the queue when every item has been located
	// and fetched (or recorded as no_filing/failed).
	g.Go(func() error {
		defer close(queue)

		dg, dgCtx := errgroup.WithContext(gCtx)
		dg.SetLimit(p.cfg.Pipeline.DownloadWorkers)
		for _, item := range pending {
			item := item
			dg.Go(func() error {
				return p.downloadOne(dgCtx, item, ciks, queue, &tally)
			})
		}
		return dg.Wait()
	})

	// Extraction pool: fixed consumers draining the queue. A fatal error
	// cancels gCtx, which unblocks producers waiting on a full queue.
	for i := 0; i < p.cfg.Pipeline.ExtractWorkers; i++ {
		g.Go(func() error {
			for job := range queue {
				if err := p.extractOne(gCtx, job, &tally); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()

	result.Extracted = int(tally.extracted.Load())
	result.NoFiling = int(tally.noFiling.Load())
	result.Failed = int(tally.failed.Load())
	return result, err
}

// downloadOne resolves and fetches one item's filing. Terminal per-item
// outcomes (no filing, permanent failure) are recorded here; only ledger
// write failures propagate.
func (p *Pipeline) downloadOne(ctx context.Context, item model.WorkItem, ciks edgar.CIKMap, queue chan<- extractJob, tally *counters) error {
	log := zap.L().With(zap.String("item", item.Key()))

	if raw, ok := p.edgar.CachedFiling(item.Ticker, item.Year); ok {
		log.Debug("pipeline: using cached filing", zap.String("path", raw.Path))
		return sendJob(ctx, queue, extractJob{item: item, raw: raw})
	}

	ref, err := p.edgar.Locate(ctx, ciks.Lookup(item.Ticker), item.Ticker, item.Year, item.FilingType)
	if err != nil {
		if resilience.IsNotFound(err) {
			log.Info("pipeline: no filing for fiscal year")
			tally.noFiling.Add(1)
			return p.record(ctx, item, model.StatusNoFiling, nil)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("pipeline: locate failed", zap.Error(err))
		tally.failed.Add(1)
		return p.record(ctx, item, model.StatusFailed, err)
	}

	raw, err := p.edgar.Download(ctx, ref, item.Ticker, item.Year)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("pipeline: download failed", zap.Error(err))
		tally.failed.Add(1)
		return p.record(ctx, item, model.StatusFailed, err)
	}

	if err := p.record(ctx, item, model.StatusDownloaded, nil); err != nil {
		return err
	}
	log.Info("pipeline: filing downloaded",
		zap.String("form", ref.FormType),
		zap.String("filed", ref.FilingDate),
		zap.Int64("bytes", raw.Bytes),
	)
	return sendJob(ctx, queue, extractJob{item: item, raw: raw})
}

// extractOne parses sections from a downloaded filing, runs the model,
// and persists the result. The ledger row moves to extracted only after
// the insight and its backup line are durably written.
func (p *Pipeline) extractOne(ctx context.Context, job extractJob, tally *counters) error {
	item := job.item
	log := zap.L().With(zap.String("item", item.Key()))

	secs, err := sectionsFromDisk(job.raw)
	if err != nil {
		log.Warn("pipeline: section extraction failed", zap.Error(err))
		tally.failed.Add(1)
		return p.record(ctx, item, model.StatusFailed, err)
	}
	log.Debug("pipeline: sections extracted",
		zap.Int("mda_chars", secs.MDAChars),
		zap.Int("risk_chars", secs.RiskChars),
		zap.Bool("ai_exposure", secs.AIExposure),
	)

	in, err := p.extractor.Extract(ctx, item, secs)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("pipeline: extraction failed", zap.Error(err))
		tally.failed.Add(1)
		return p.record(ctx, item, model.StatusFailed, err)
	}

	if err := p.store.UpsertInsight(ctx, in); err != nil {
		return eris.Wrapf(err, "pipeline: persist insight %s", item.Key())
	}
	if p.backup != nil {
		if err := p.backup.Append(in); err != nil {
			return eris.Wrapf(err, "pipeline: backup insight %s", item.Key())
		}
	}
	if err := p.record(ctx, item, model.StatusExtracted, nil); err != nil {
		return err
	}

	tally.extracted.Add(1)
	log.Info("pipeline: insight extracted",
		zap.Int("sentiment", in.MDASentimentScore),
		zap.String("capex_tone", string(in.CapexGuidanceTone)),
	)
	return nil
}

// record writes a ledger row. Ledger writes are the pipeline's commit
// points, so a failure here is fatal to the run.
func (p *Pipeline) record(ctx context.Context, item model.WorkItem, status model.LedgerStatus, cause error) error {
	e := model.LedgerEntry{
		Ticker:    item.Ticker,
		Year:      item.Year,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
		e.Attempts = p.cfg.Pipeline.MaxAttempts
	} else {
		e.Attempts = 1
	}
	if err := p.store.RecordStatus(ctx, e); err != nil {
		return eris.Wrapf(err, "pipeline: record %s %s", status, item.Key())
	}
	return nil
}

func sectionsFromDisk(raw *model.RawFiling) (*filing.Sections, error) {
	body, err := os.ReadFile(raw.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read filing %s", raw.Path)
	}
	return filing.ExtractSections(body)
}

func sendJob(ctx context.Context, queue chan<- extractJob, job extractJob) error {
	select {
	case queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
