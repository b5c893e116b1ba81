// Package pipeline drives one ingestion run per date range: fetch, parse,
// normalize and commit page by page, checkpointing after every page.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/da-ingest/internal/fetcher"
	"github.com/sells-group/da-ingest/internal/model"
	"github.com/sells-group/da-ingest/internal/normalize"
	"github.com/sells-group/da-ingest/internal/parser"
	"github.com/sells-group/da-ingest/internal/resilience"
	"github.com/sells-group/da-ingest/internal/store"
)

// ErrMaxPages is returned when a run reaches RunConfig.MaxPages while the
// portal still reports more results.
var ErrMaxPages = eris.New("pipeline: page limit reached before the last page")

// Orchestrator runs the ingestion state machine for one date range at a time.
type Orchestrator struct {
	fetcher fetcher.PageFetcher
	store   store.Store
	parser  *parser.Parser
	vocab   *normalize.Vocabulary

	nowFunc  func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithParser replaces the default-registry parser.
func WithParser(p *parser.Parser) Option {
	return func(o *Orchestrator) { o.parser = p }
}

// WithVocabulary replaces the default decision/category vocabulary.
func WithVocabulary(v *normalize.Vocabulary) Option {
	return func(o *Orchestrator) { o.vocab = v }
}

// WithClock sets the time source used for statistics and checkpoints.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// WithSleep sets the function used to wait out the page retry cooldown.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an Orchestrator over f and st.
func New(f fetcher.PageFetcher, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:  f,
		store:    st,
		parser:   parser.New(parser.DefaultRegistry()),
		vocab:    normalize.DefaultVocabulary(),
		nowFunc:  time.Now,
		sleep:    resilience.Sleep,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type fetchResult struct {
	raw *fetcher.RawPage
	err error
}

// run holds the mutable state of one Run call.
type run struct {
	cfg    model.RunConfig
	log    *zap.Logger
	sm     *machine
	stats  *model.RunStatistics
	report *model.RunReport
	norm   *normalize.Normalizer

	// latest holds the most recent version of every record written this run,
	// for the category and decision breakdown.
	latest  map[string]model.ApplicationRecord
	written int64
	// checkpointed is set once a checkpoint for the range exists, making a
	// failed run resumable.
	checkpointed bool
}

// Run ingests cfg.Range. It returns the terminal report in every case once
// cfg is valid; the error is non-nil when the run failed.
func (o *Orchestrator) Run(ctx context.Context, cfg model.RunConfig) (*model.RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := o.newRunID()
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", runID),
		zap.String("range", cfg.Range.Key()),
	)
	started := o.nowFunc()
	r := &run{
		cfg:    cfg,
		log:    log,
		sm:     newMachine(log),
		stats:  model.NewRunStatistics(started),
		norm:   normalize.New(cfg.Range, o.vocab),
		latest: make(map[string]model.ApplicationRecord),
		report: &model.RunReport{RunID: runID, Range: cfg.Range},
	}
	r.report.Statistics = r.stats
	log.Info("pipeline: run starting",
		zap.String("on_transient", string(cfg.OnTransient)),
		zap.String("on_unrecognized", string(cfg.OnUnrecognized)),
		zap.Bool("prefetch", cfg.Prefetch),
	)

	failedPage, err := o.execute(ctx, r)
	r.stats.Elapsed = o.nowFunc().Sub(started)
	r.report.FinishedAt = o.nowFunc()

	if err != nil {
		r.sm.fail()
		r.report.Outcome = model.OutcomeFailed
		r.report.FailedPage = failedPage
		r.report.Resumable = r.checkpointed
		r.report.Error = err.Error()
		o.finish(ctx, r)
		log.Error("pipeline: run failed",
			zap.Int("page", failedPage),
			zap.Bool("resumable", r.checkpointed),
			zap.Error(err),
		)
		return r.report, err
	}

	r.report.Outcome = model.OutcomeCompleted
	if r.stats.TotalRejected() > 0 {
		r.report.Outcome = model.OutcomeCompletedWithRejections
	}
	o.finish(ctx, r)
	if err := r.sm.to(model.RunStateDone); err != nil {
		return r.report, err
	}
	log.Info("pipeline: "+r.report.Summary(),
		zap.Int("pages_fetched", r.stats.PagesFetched),
		zap.Int("records_written", r.stats.RecordsWritten),
		zap.Int("records_rejected", r.stats.TotalRejected()),
		zap.Int("records_deduplicated", r.stats.RecordsDeduplicated),
		zap.Int("total_in_store", r.stats.TotalInStore),
		zap.Duration("elapsed", r.stats.Elapsed),
	)
	return r.report, nil
}

// execute runs the page loop. On failure it returns the page the run stopped at.
func (o *Orchestrator) execute(ctx context.Context, r *run) (int, error) {
	dr := r.cfg.Range

	page, err := o.startPage(ctx, r)
	if err != nil {
		return 0, err
	}

	// Prefetch goroutines run under their own context so a finished run can
	// discard an in-flight request for the page after the last.
	pctx, cancelPrefetch := context.WithCancel(ctx)
	var g errgroup.Group
	defer func() {
		cancelPrefetch()
		_ = g.Wait()
	}()

	var pending <-chan fetchResult
	fetchedThisRun := 0
	for {
		if err := ctx.Err(); err != nil {
			return page, err
		}
		if err := r.sm.to(model.RunStateFetchingPage); err != nil {
			return page, err
		}

		var res fetchResult
		if pending != nil {
			res = <-pending
			pending = nil
		} else {
			res = o.fetch(ctx, page, dr)
		}
		if res.err != nil {
			r.stats.PagesFailed++
			if res, err = o.retryPage(ctx, r, page, res.err); err != nil {
				return page, err
			}
		}
		r.stats.PagesFetched++
		fetchedThisRun++
		plog := r.log.With(zap.Int("page", page))

		if err := r.sm.to(model.RunStateParsing); err != nil {
			return page, err
		}
		pg, err := o.parser.Parse(res.raw)
		if err != nil {
			if !parser.IsUnrecognized(err) || r.cfg.OnUnrecognized != model.UnrecognizedSkip {
				return page, err
			}
			plog.Warn("pipeline: skipping unrecognized page", zap.Error(err))
			r.stats.PagesSkipped = append(r.stats.PagesSkipped, page)
			if err := o.commit(ctx, r, page, nil); err != nil {
				return page, err
			}
			if r.cfg.MaxPages > 0 && fetchedThisRun >= r.cfg.MaxPages {
				return page + 1, ErrMaxPages
			}
			page++
			continue
		}
		plog.Debug("pipeline: page parsed",
			zap.String("format", string(pg.Format)),
			zap.String("fingerprint", pg.Fingerprint),
			zap.Int("rows", pg.Count),
			zap.Bool("has_next", pg.HasNext),
		)

		if r.cfg.Prefetch && pg.HasNext && (r.cfg.MaxPages == 0 || fetchedThisRun < r.cfg.MaxPages) {
			pending = o.prefetch(pctx, &g, page+1, dr)
		}

		if err := r.sm.to(model.RunStateNormalizing); err != nil {
			return page, err
		}
		batch := o.normalizePage(r, plog, pg)

		if err := r.sm.to(model.RunStateWriting); err != nil {
			return page, err
		}
		if err := o.commit(ctx, r, page, batch); err != nil {
			return page, err
		}
		plog.Info("pipeline: page committed",
			zap.Int("records", len(batch)),
			zap.Int64("written_so_far", r.written),
		)

		if !pg.HasNext {
			break
		}
		if r.cfg.MaxPages > 0 && fetchedThisRun >= r.cfg.MaxPages {
			return page + 1, ErrMaxPages
		}
		page++
	}

	if err := r.sm.to(model.RunStateCompleted); err != nil {
		return page, err
	}
	if err := o.store.DeleteCheckpoint(ctx, dr); err != nil {
		return page, err
	}
	r.checkpointed = false
	return 0, nil
}

// startPage loads or creates the checkpoint for the run's range and returns
// the first page to fetch.
func (o *Orchestrator) startPage(ctx context.Context, r *run) (int, error) {
	dr := r.cfg.Range
	cp, err := o.store.GetCheckpoint(ctx, dr)
	if err != nil {
		return 0, err
	}
	if cp != nil && r.cfg.Fresh {
		r.log.Info("pipeline: discarding checkpoint", zap.Int("last_completed_page", cp.LastCompletedPage))
		if err := o.store.DeleteCheckpoint(ctx, dr); err != nil {
			return 0, err
		}
		cp = nil
	}
	if cp != nil {
		if err := r.sm.to(model.RunStateResuming); err != nil {
			return 0, err
		}
		r.checkpointed = true
		r.written = cp.RecordsWrittenSoFar
		r.log.Info("pipeline: resuming from checkpoint",
			zap.String("previous_run_id", cp.RunID),
			zap.Int("last_completed_page", cp.LastCompletedPage),
			zap.Int64("records_written_so_far", cp.RecordsWrittenSoFar),
		)
		return cp.LastCompletedPage + 1, nil
	}

	if err := o.store.SaveCheckpoint(ctx, model.FetchCheckpoint{
		RunID:          r.report.RunID,
		DateRangeStart: dr.Start,
		DateRangeEnd:   dr.End,
		UpdatedAt:      o.nowFunc(),
	}); err != nil {
		return 0, err
	}
	r.checkpointed = true
	return 1, nil
}

func (o *Orchestrator) fetch(ctx context.Context, page int, dr model.DateRange) fetchResult {
	raw, err := o.fetcher.FetchPage(ctx, fetcher.TokenForPage(page), dr)
	return fetchResult{raw: raw, err: err}
}

// prefetch starts fetching page in the background. The returned channel
// receives exactly one result.
func (o *Orchestrator) prefetch(ctx context.Context, g *errgroup.Group, page int, dr model.DateRange) <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	g.Go(func() error {
		ch <- o.fetch(ctx, page, dr)
		return nil
	})
	return ch
}

// retryPage applies the transient policy to a failed fetch of page.
func (o *Orchestrator) retryPage(ctx context.Context, r *run, page int, cause error) (fetchResult, error) {
	if err := ctx.Err(); err != nil {
		return fetchResult{}, err
	}
	if !fetcher.IsTransient(cause) || r.cfg.OnTransient != model.TransientRetry {
		return fetchResult{}, cause
	}
	r.log.Warn("pipeline: page fetch failed, retrying after cooldown",
		zap.Int("page", page),
		zap.Duration("cooldown", r.cfg.PageRetryCooldown),
		zap.Error(cause),
	)
	if err := o.sleep(ctx, r.cfg.PageRetryCooldown); err != nil {
		return fetchResult{}, err
	}
	res := o.fetch(ctx, page, r.cfg.Range)
	if res.err != nil {
		r.stats.PagesFailed++
		return fetchResult{}, res.err
	}
	return res, nil
}

// normalizePage turns one parsed page into the batch to write, counting
// rejections and records already seen earlier in the run.
func (o *Orchestrator) normalizePage(r *run, log *zap.Logger, pg *parser.Page) []model.ApplicationRecord {
	var batch []model.ApplicationRecord
	for raw := range pg.Records {
		r.stats.RecordsParsed++
		rec, err := r.norm.Normalize(raw)
		if err != nil {
			reason := model.RejectMalformedField
			if rej, ok := normalize.AsRejected(err); ok {
				reason = rej.Reason
			}
			r.stats.Reject(reason)
			log.Warn("pipeline: record rejected",
				zap.Int("position", raw.Position),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
			continue
		}
		if _, seen := r.latest[rec.DANumber]; seen {
			r.stats.RecordsDeduplicated++
			log.Debug("pipeline: duplicate application", zap.String("da_number", rec.DANumber))
		}
		r.latest[rec.DANumber] = rec
		batch = append(batch, rec)
	}
	return batch
}

// commit writes batch together with a checkpoint advanced to page.
func (o *Orchestrator) commit(ctx context.Context, r *run, page int, batch []model.ApplicationRecord) error {
	distinct := make(map[string]struct{}, len(batch))
	for _, rec := range batch {
		distinct[rec.DANumber] = struct{}{}
	}
	written := r.written + int64(len(distinct))
	cp := model.FetchCheckpoint{
		RunID:               r.report.RunID,
		LastCompletedPage:   page,
		DateRangeStart:      r.cfg.Range.Start,
		DateRangeEnd:        r.cfg.Range.End,
		RecordsWrittenSoFar: written,
		UpdatedAt:           o.nowFunc(),
	}
	if err := o.store.CommitPage(ctx, batch, cp); err != nil {
		return err
	}
	r.written = written
	r.stats.RecordsWritten += len(distinct)
	return nil
}

// finish fills the summary counts and persists the report. The category and
// decision breakdown covers pages committed by this invocation only, while
// TotalInStore counts the whole store. Persistence runs even after
// cancellation so an interrupted run is still recorded.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	for _, rec := range r.latest {
		r.stats.ByCategory[rec.Category]++
		r.stats.ByDecision[rec.Decision]++
	}
	sctx := context.WithoutCancel(ctx)
	if n, err := o.store.Count(sctx); err != nil {
		r.log.Warn("pipeline: count stored records", zap.Error(err))
	} else {
		r.stats.TotalInStore = n
	}
	if err := o.store.RecordRun(sctx, r.report); err != nil {
		r.log.Warn("pipeline: record run", zap.Error(err))
	}
}
