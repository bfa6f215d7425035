// Package engine orchestrates one manifest run: cheap pre-resolution,
// page context scraping, windowed download/classify/dedup/compose, batched
// inference, and a durable checkpoint after every batch.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/alttext-cli/internal/classify"
	"github.com/sells-group/alttext-cli/internal/compose"
	"github.com/sells-group/alttext-cli/internal/config"
	"github.com/sells-group/alttext-cli/internal/cost"
	"github.com/sells-group/alttext-cli/internal/dedup"
	"github.com/sells-group/alttext-cli/internal/fetcher"
	"github.com/sells-group/alttext-cli/internal/manifest"
	"github.com/sells-group/alttext-cli/internal/model"
	"github.com/sells-group/alttext-cli/internal/progress"
	"github.com/sells-group/alttext-cli/internal/resilience"
	"github.com/sells-group/alttext-cli/internal/scrape"
	"github.com/sells-group/alttext-cli/internal/store"
	"github.com/sells-group/alttext-cli/internal/vision"
	"github.com/sells-group/alttext-cli/pkg/anthropic"
)

// ImageFetcher downloads one image.
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL string) (*fetcher.ImageData, error)
}

// AltTextGenerator produces alt text for a batch of images.
type AltTextGenerator interface {
	Generate(ctx context.Context, items []vision.Item) ([]vision.Result, vision.Usage, error)
}

// Summary is the outcome of one run.
type Summary struct {
	RunID     string
	TotalRows int
	Processed int
	Skipped   int
	Failed    int
	CostUSD   float64
	Halt      string // empty when the run completed
	Outputs   *manifest.Outputs
}

// Engine processes manifests. One Engine may process manifests sequentially;
// a single manifest is never processed concurrently.
type Engine struct {
	cfg       *config.Config
	store     store.Store
	scraper   scrape.Scraper
	fetcher   ImageFetcher
	generator AltTextGenerator
	calc      *cost.Calculator
	retry     resilience.RetryConfig

	stop atomic.Bool

	mu      sync.Mutex
	tracker *progress.Tracker // current run's counters, nil before first run
}

// New assembles an Engine from its collaborators.
func New(cfg *config.Config, st store.Store, scraper scrape.Scraper, f ImageFetcher, gen AltTextGenerator) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     st,
		scraper:   scraper,
		fetcher:   f,
		generator: gen,
		calc: cost.NewCalculator(cost.Rates{
			InputPerMTok:  cfg.Pricing.InputPerMTok,
			OutputPerMTok: cfg.Pricing.OutputPerMTok,
			BytesPerToken: cfg.Pricing.BytesPerToken,
		}),
		retry: resilience.FromConfig(
			cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier, cfg.Retry.JitterFraction),
	}
}

// RequestStop asks the current run to halt at the next batch boundary.
// Work already checkpointed stays durable.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// run carries the mutable state of one manifest run.
type run struct {
	state   *model.RunState
	man     *manifest.Manifest
	job     config.JobConfig
	records []model.ImageRecord // indexed by row
	index   *dedup.Index
	ledger  *cost.Ledger
	tracker *progress.Tracker
	halt    string
}

// Run processes one manifest to completion, halt, or error. Rows whose ALT
// text column is already filled are skipped, which is what makes rerunning
// an interrupted manifest resume instead of redo.
func (e *Engine) Run(ctx context.Context, manifestPath string, job config.JobConfig) (*Summary, error) {
	e.stop.Store(false)

	absPath, err := filepath.Abs(manifestPath)
	if err != nil {
		absPath = manifestPath
	}

	man, err := manifest.Load(absPath)
	if err != nil {
		return nil, err
	}
	if max := e.cfg.Engine.MaxManifestRows; max > 0 && man.Len() > max {
		return nil, eris.Errorf("engine: manifest has %d rows, limit is %d", man.Len(), max)
	}

	state, err := e.prepareRun(ctx, absPath, man, job)
	if err != nil {
		return nil, err
	}

	r := &run{
		state:   state,
		man:     man,
		job:     job,
		index:   dedup.NewIndex(),
		ledger:  cost.NewLedger(job.MaxCost),
		tracker: progress.NewTracker(man.Len(), state.RowsCompleted, state.RowsSkipped, state.RowsFailed, state.CumulativeCost),
	}
	r.ledger.Resume(state.CumulativeCost)

	e.mu.Lock()
	e.tracker = r.tracker
	e.mu.Unlock()

	zap.L().Info("engine: run starting",
		zap.String("run_id", state.ID),
		zap.String("manifest", absPath),
		zap.Int("rows", man.Len()),
		zap.Float64("prior_cost_usd", state.CumulativeCost))

	if err := e.resolveRows(ctx, r); err != nil {
		return nil, e.markFailed(ctx, state.ID, err)
	}

	if r.halt == "" {
		if err := e.scrapeContexts(ctx, r); err != nil {
			return nil, e.markFailed(ctx, state.ID, err)
		}
	}
	if r.halt == "" {
		if err := e.processWindows(ctx, r); err != nil {
			return nil, e.markFailed(ctx, state.ID, err)
		}
	}

	summary, err := e.finish(ctx, r)
	if err != nil {
		return nil, e.markFailed(ctx, state.ID, err)
	}
	return summary, nil
}

// markFailed stamps the run failed before surfacing the error. Uses a
// detached context so cancellation, the usual cause, does not also block the
// stamp.
func (e *Engine) markFailed(ctx context.Context, runID string, cause error) error {
	if err := e.store.FinishRun(context.WithoutCancel(ctx), runID, model.RunStatusFailed, ""); err != nil {
		zap.L().Warn("engine: could not mark run failed",
			zap.String("run_id", runID), zap.Error(err))
	}
	return cause
}

// prepareRun loads or creates the persisted run, handling restart mode.
func (e *Engine) prepareRun(ctx context.Context, absPath string, man *manifest.Manifest, job config.JobConfig) (*model.RunState, error) {
	state, err := e.store.LoadRun(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return e.store.CreateRun(ctx, absPath, man.Len())
	}

	if job.Restart {
		zap.L().Info("engine: restart requested, clearing prior results",
			zap.String("run_id", state.ID),
			zap.Float64("discarded_cost_usd", state.CumulativeCost))
		man.ClearAltText()
		if err := man.Save(); err != nil {
			return nil, err
		}
		if err := e.store.ResetRun(ctx, state.ID, man.Len()); err != nil {
			return nil, err
		}
		return e.store.LoadRun(ctx, absPath)
	}
	return state, nil
}

// resolveRows builds the in-memory record set, overlays prior outcomes from
// the store, resolves everything resolvable without a download, and
// checkpoints the newly terminal rows.
func (e *Engine) resolveRows(ctx context.Context, r *run) error {
	prior := make(map[int]model.ImageRecord)
	stored, err := e.store.ListRecords(ctx, r.state.ID)
	if err != nil {
		return err
	}
	for _, rec := range stored {
		prior[rec.Row] = rec
	}

	r.records = make([]model.ImageRecord, r.man.Len())
	var newlyTerminal []model.ImageRecord
	skipped := 0

	for i := 0; i < r.man.Len(); i++ {
		rec := model.ImageRecord{
			Row:        i,
			SourcePage: r.man.Get(i, manifest.ColSource),
			ImageURL:   r.man.Get(i, manifest.ColDestination),
			Status:     model.StatusPending,
		}
		rec.DeclaredBytes, rec.DeclaredW, rec.DeclaredH = r.man.DeclaredSize(i)
		rec.CanonicalKey = dedup.CanonicalKey(rec.ImageURL)

		if p, ok := prior[i]; ok {
			if p.Status.Terminal() {
				// A prior invocation finished this row; reflect it in the CSV
				// if the checkpoint landed but the manifest save did not.
				rec = p
				if rec.AltText != "" && r.man.Get(i, manifest.ColAltText) == "" {
					r.man.Set(i, manifest.ColAltText, rec.AltText)
				}
				r.records[i] = rec
				continue
			}
			// Context scraped by a prior invocation; restore it so the resumed
			// run does not hit the page again.
			rec.Context = p.Context
		}

		switch {
		case r.man.Get(i, manifest.ColAltText) != "":
			rec.Status = model.StatusSkipped
			rec.AltText = r.man.Get(i, manifest.ColAltText)
			rec.Message = "existing alt text"
			skipped++
			newlyTerminal = append(newlyTerminal, rec)

		case classify.SkipReason(rec.ImageURL) != "":
			rec.Status = model.StatusSkipped
			rec.Message = classify.SkipReason(rec.ImageURL)
			r.man.Set(i, manifest.ColAltText, rec.Message)
			r.man.Set(i, manifest.ColMessage, rec.Message)
			skipped++
			newlyTerminal = append(newlyTerminal, rec)

		default:
			if res := classify.Declared(rec.DeclaredBytes, rec.DeclaredW, rec.DeclaredH); res.Bucket == classify.Rejected {
				rec.Status = model.StatusRejected
				rec.Message = res.Message
				r.man.Set(i, manifest.ColAltText, rec.Message)
				r.man.Set(i, manifest.ColMessage, rec.Message)
				skipped++
				newlyTerminal = append(newlyTerminal, rec)
			}
		}
		r.records[i] = rec
	}

	// Register pending rows in manifest order so dedup representatives and
	// batch composition follow row order.
	for i := range r.records {
		if r.records[i].Status == model.StatusPending {
			key, _ := r.index.Register(i, r.records[i].ImageURL)
			r.records[i].CanonicalKey = key
		}
	}

	if len(newlyTerminal) > 0 {
		cp := store.Checkpoint{Records: newlyTerminal, Skipped: skipped}
		if err := e.store.ApplyCheckpoint(ctx, r.state.ID, cp); err != nil {
			return err
		}
		if err := r.man.Save(); err != nil {
			return err
		}
		r.tracker.Record(0, skipped, 0, 0)
	}

	zap.L().Info("engine: rows resolved",
		zap.Int("pending_unique", r.index.Unique()),
		zap.Int("skipped_upfront", skipped))
	return nil
}

// scrapeContexts fetches page context for every page that still has pending
// rows. A blocked page halts the run; any other scrape failure leaves the
// context empty and the row proceeds.
func (e *Engine) scrapeContexts(ctx context.Context, r *run) error {
	pages := make(map[string][]int) // page URL -> pending rows, in order
	var order []string
	for i := range r.records {
		rec := &r.records[i]
		if rec.Status != model.StatusPending || rec.SourcePage == "" {
			continue
		}
		if rec.Context != (model.PageContext{}) {
			// Restored from a prior invocation; refill the columns in case
			// that run checkpointed without reaching the manifest save.
			r.man.Set(i, manifest.ColTitle, rec.Context.Title)
			r.man.Set(i, manifest.ColH1, rec.Context.H1)
			r.man.Set(i, manifest.ColAdjacent, rec.Context.AdjacentText)
			continue
		}
		if _, ok := pages[rec.SourcePage]; !ok {
			order = append(order, rec.SourcePage)
		}
		pages[rec.SourcePage] = append(pages[rec.SourcePage], i)
	}

	delay := time.Duration(r.job.ScrapeDelay * float64(time.Second))
	retryCfg := r.scrapeRetry(e.retry)

	for n, page := range order {
		if n > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		rows := pages[page]
		imageURLs := make([]string, 0, len(rows))
		for _, row := range rows {
			imageURLs = append(imageURLs, r.records[row].ImageURL)
		}

		result, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*scrape.PageResult, error) {
			return e.scraper.ScrapePage(ctx, page, imageURLs)
		})
		if err != nil {
			if resilience.IsBlocked(err) {
				zap.L().Error("engine: source site blocked scraping, halting run",
					zap.String("page", page), zap.Error(err))
				r.halt = model.HaltBlocked
				return nil
			}
			zap.L().Warn("engine: page scrape failed, proceeding without context",
				zap.String("page", page), zap.Error(err))
			continue
		}

		for _, row := range rows {
			rec := &r.records[row]
			rec.Context = result.Context(rec.ImageURL)
			r.man.Set(row, manifest.ColTitle, rec.Context.Title)
			r.man.Set(row, manifest.ColH1, rec.Context.H1)
			r.man.Set(row, manifest.ColAdjacent, rec.Context.AdjacentText)
		}
	}

	// Persist contexts so a resumed run does not re-scrape finished pages'
	// rows differently from this one.
	var pending []model.ImageRecord
	for i := range r.records {
		if r.records[i].Status == model.StatusPending {
			pending = append(pending, r.records[i])
		}
	}
	if len(pending) > 0 {
		if err := e.store.UpsertRecords(ctx, r.state.ID, pending); err != nil {
			return err
		}
	}
	return r.man.Save()
}

func (r *run) scrapeRetry(base resilience.RetryConfig) resilience.RetryConfig {
	base.OnRetry = resilience.RetryLogger("scrape", "page_context")
	return base
}

// windowKeys returns the unique pending keys in representative-row order.
func (r *run) windowKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for i := range r.records {
		rec := &r.records[i]
		if rec.Status != model.StatusPending || seen[rec.CanonicalKey] {
			continue
		}
		if r.index.RepresentativeRow(rec.CanonicalKey) != rec.Row {
			seen[rec.CanonicalKey] = true
			continue
		}
		seen[rec.CanonicalKey] = true
		keys = append(keys, rec.CanonicalKey)
	}
	return keys
}

// processWindows walks the unique pending images window by window:
// download, final classification, composition, inference, checkpoint.
func (e *Engine) processWindows(ctx context.Context, r *run) error {
	keys := r.windowKeys()
	windowSize := e.cfg.Engine.WindowRows
	if windowSize <= 0 {
		windowSize = 64
	}

	for start := 0; start < len(keys); start += windowSize {
		if r.halt != "" {
			return nil
		}
		end := start + windowSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := e.processWindow(ctx, r, keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processWindow(ctx context.Context, r *run, keys []string) error {
	images := make(map[string]*fetcher.ImageData, len(keys))
	var entries []compose.Entry

	for _, key := range keys {
		if err := e.checkBoundary(ctx, r); err != nil || r.halt != "" {
			return err
		}

		repRow := r.index.RepresentativeRow(key)
		rec := &r.records[repRow]

		data, err := resilience.DoVal(ctx, e.fetchRetry(), func(ctx context.Context) (*fetcher.ImageData, error) {
			return e.fetcher.Fetch(ctx, rec.ImageURL)
		})
		if err != nil {
			if resilience.IsBlocked(err) {
				zap.L().Error("engine: source site blocked image download, halting run",
					zap.String("image", rec.ImageURL), zap.Error(err))
				r.halt = model.HaltBlocked
				return nil
			}
			var oversized *fetcher.SizeRejectedError
			if errors.As(err, &oversized) {
				res := classify.Measured(oversized.Bytes, 0, 0)
				if err := e.resolveGroup(ctx, r, key, "", model.StatusRejected, res.Message); err != nil {
					return err
				}
				continue
			}
			msg := "Download error: " + eris.Cause(err).Error()
			if err := e.resolveGroup(ctx, r, key, "", model.StatusFailed, msg); err != nil {
				return err
			}
			continue
		}

		if msg := classify.TooSmall(data.Width, data.Height); msg != "" {
			if err := e.resolveGroup(ctx, r, key, "", model.StatusSkipped, msg); err != nil {
				return err
			}
			continue
		}

		res := classify.Measured(int64(len(data.Bytes)), data.Width, data.Height)
		if res.Bucket == classify.Rejected {
			if err := e.resolveGroup(ctx, r, key, "", model.StatusRejected, res.Message); err != nil {
				return err
			}
			continue
		}

		for _, row := range r.index.Rows(key) {
			r.records[row].Status = model.StatusQueued
		}
		images[key] = data
		entries = append(entries, compose.Entry{Key: key, Bucket: res.Bucket})
	}

	if r.halt != "" || len(entries) == 0 {
		return nil
	}

	for _, batch := range compose.Window(entries, e.cfg.Engine.BatchSize) {
		if err := e.checkBoundary(ctx, r); err != nil || r.halt != "" {
			return err
		}
		if err := e.runBatch(ctx, r, batch, images); err != nil {
			return err
		}
	}
	return nil
}

// runBatch reserves cost, submits one composed batch, and checkpoints the
// fan-out of its results.
func (e *Engine) runBatch(ctx context.Context, r *run, batch model.Batch, images map[string]*fetcher.ImageData) error {
	sizes := make([]int64, len(batch.Members))
	items := make([]vision.Item, len(batch.Members))
	for i, key := range batch.Members {
		data := images[key]
		sizes[i] = int64(len(data.Bytes))
		items[i] = vision.Item{
			Key:       key,
			MediaType: data.MediaType,
			Data:      data.Bytes,
			Context:   r.records[r.index.RepresentativeRow(key)].Context,
		}
	}

	estimate := e.calc.EstimateBatch(sizes)
	if err := r.ledger.Reserve(batch.ID, estimate); err != nil {
		if errors.Is(err, cost.ErrCeilingExceeded) {
			zap.L().Warn("engine: cost ceiling reached, halting run",
				zap.Float64("ceiling_usd", r.job.MaxCost),
				zap.Float64("spent_usd", r.ledger.Total()),
				zap.Float64("next_batch_estimate_usd", estimate))
			r.halt = model.HaltCostExceeded
			return nil
		}
		return err
	}

	batch.State = model.BatchSubmitted
	var inFlight []model.ImageRecord
	for _, key := range batch.Members {
		for _, row := range r.index.Rows(key) {
			r.records[row].Status = model.StatusInFlight
			inFlight = append(inFlight, r.records[row])
		}
	}
	// Persist in-flight status so an interrupted run shows which batch was
	// live when it died.
	if err := e.store.UpsertRecords(ctx, r.state.ID, inFlight); err != nil {
		return err
	}
	r.tracker.StartBatch(batch.ID)
	defer r.tracker.FinishBatch()

	type generated struct {
		results []vision.Result
		usage   vision.Usage
	}
	out, err := resilience.DoVal(ctx, e.inferenceRetry(), func(ctx context.Context) (generated, error) {
		res, u, err := e.generator.Generate(ctx, items)
		return generated{results: res, usage: u}, err
	})
	if err != nil {
		r.ledger.Release(batch.ID)
		zap.L().Error("engine: batch inference failed",
			zap.String("batch_id", batch.ID),
			zap.Int("members", len(batch.Members)),
			zap.Error(err))
		msg := "Error: " + eris.Cause(err).Error()
		for _, key := range batch.Members {
			if err := e.resolveGroup(ctx, r, key, "", model.StatusFailed, msg); err != nil {
				return err
			}
		}
		return nil
	}

	actual := e.calc.Actual(out.usage.InputTokens, out.usage.OutputTokens)
	r.ledger.Settle(batch.ID, actual)

	cp := store.Checkpoint{BatchID: batch.ID, CostDelta: actual}
	for _, res := range out.results {
		rows := r.index.Rows(res.Key)
		for _, row := range rows {
			rec := &r.records[row]
			if res.Err != "" {
				rec.Status = model.StatusFailed
				rec.Message = res.Err
				r.man.Set(row, manifest.ColAltText, "Error: "+res.Err)
				r.man.Set(row, manifest.ColMessage, res.Err)
				cp.Failed++
			} else {
				rec.Status = model.StatusDone
				rec.AltText = res.AltText
				r.man.Set(row, manifest.ColAltText, res.AltText)
				cp.Completed++
			}
			cp.Records = append(cp.Records, *rec)
		}
	}

	if err := e.store.ApplyCheckpoint(ctx, r.state.ID, cp); err != nil {
		return err
	}
	if err := r.man.Save(); err != nil {
		return err
	}

	batch.State = model.BatchCompleted
	if cp.Failed > 0 {
		batch.State = model.BatchPartiallyFailed
	}
	zap.L().Info("engine: batch settled",
		zap.String("batch_id", batch.ID),
		zap.String("kind", string(batch.Kind)),
		zap.String("state", string(batch.State)),
		zap.Float64("cost_usd", actual))

	r.tracker.Record(cp.Completed, cp.Skipped, cp.Failed, actual)
	r.tracker.LogBatch(batch.ID)
	return nil
}

// resolveGroup marks every row of one dedup group terminal with the same
// outcome and checkpoints it.
func (e *Engine) resolveGroup(ctx context.Context, r *run, key, altText string, status model.RecordStatus, msg string) error {
	cp := store.Checkpoint{}
	for _, row := range r.index.Rows(key) {
		rec := &r.records[row]
		rec.Status = status
		rec.AltText = altText
		rec.Message = msg

		cell := altText
		if cell == "" {
			cell = msg
		}
		r.man.Set(row, manifest.ColAltText, cell)
		r.man.Set(row, manifest.ColMessage, msg)

		switch status {
		case model.StatusDone:
			cp.Completed++
		case model.StatusFailed:
			cp.Failed++
		default:
			cp.Skipped++
		}
		cp.Records = append(cp.Records, *rec)
	}

	if err := e.store.ApplyCheckpoint(ctx, r.state.ID, cp); err != nil {
		return err
	}
	if err := r.man.Save(); err != nil {
		return err
	}
	r.tracker.Record(cp.Completed, cp.Skipped, cp.Failed, 0)
	return nil
}

// checkBoundary enforces stop requests and context cancellation between
// units of work.
func (e *Engine) checkBoundary(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.stop.Load() {
		r.halt = model.HaltStopped
	}
	return nil
}

func (e *Engine) fetchRetry() resilience.RetryConfig {
	cfg := e.retry
	cfg.OnRetry = resilience.RetryLogger("fetcher", "download_image")
	return cfg
}

func (e *Engine) inferenceRetry() resilience.RetryConfig {
	cfg := e.retry
	cfg.ShouldRetry = anthropic.IsRetryable
	cfg.OnRetry = resilience.RetryLogger("anthropic", "generate_alt_text")
	return cfg
}

// finish writes outputs, stamps the run's terminal status, and builds the
// summary.
func (e *Engine) finish(ctx context.Context, r *run) (*Summary, error) {
	outputs, err := r.man.WriteOutputs(e.cfg.Watch.OutputDir)
	if err != nil {
		return nil, err
	}

	status := model.RunStatusComplete
	if r.halt != "" {
		status = model.RunStatusHalted
	}
	if err := e.store.FinishRun(ctx, r.state.ID, status, r.halt); err != nil {
		return nil, err
	}

	snap := r.tracker.Snapshot()
	r.tracker.LogSummary()
	if r.halt != "" {
		zap.L().Warn("engine: run halted", zap.String("reason", r.halt))
	}

	return &Summary{
		RunID:     r.state.ID,
		TotalRows: snap.TotalRows,
		Processed: snap.Processed,
		Skipped:   snap.Skipped,
		Failed:    snap.Failed,
		CostUSD:   snap.CostUSD,
		Halt:      r.halt,
		Outputs:   outputs,
	}, nil
}
