// Package scheduler implements the Scheduler (C11): the crawl's sole
// control-plane authority. It is the only package that imports frontier,
// the only one that constructs admission decisions, and the only place
// retry/continue/abort control flow is decided — every other component
// classifies failures but never acts on them.
package scheduler

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohmanhakim/atlas-crawler/internal/archive"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/internal/atlasctx"
	"github.com/rohmanhakim/atlas-crawler/internal/checkpoint"
	"github.com/rohmanhakim/atlas-crawler/internal/config"
	"github.com/rohmanhakim/atlas-crawler/internal/events"
	"github.com/rohmanhakim/atlas-crawler/internal/extract"
	"github.com/rohmanhakim/atlas-crawler/internal/frontier"
	"github.com/rohmanhakim/atlas-crawler/internal/ratelimit"
	"github.com/rohmanhakim/atlas-crawler/internal/robots"
	"github.com/rohmanhakim/atlas-crawler/internal/urlnorm"
	"github.com/rohmanhakim/atlas-crawler/pkg/failure"
)

// defaultDrainDeadline bounds how long Run waits for in-flight renders to
// finish once cancellation is observed, per spec.md's shutdown contract.
const defaultDrainDeadline = 30 * time.Second

// Renderer is the Renderer Pool (C5) surface the scheduler dispatches to.
// Defined here, not imported from internal/render, so render workers can be
// faked in tests without pulling in chromedp.
type Renderer interface {
	Render(ctx context.Context, targetURL string) (atlas.RenderResult, failure.ClassifiedError)
}

// RobotsChecker is the C3 surface the scheduler gates dispatch through.
type RobotsChecker interface {
	Decide(ctx context.Context, u url.URL) (robots.Decision, error)
	Overridden() (bool, string)
}

// ExtractFunc runs the extraction pipeline over one page's HTML, threading
// results into ctx. Matches extract.DefaultPipeline()'s return shape.
type ExtractFunc func(html string, ctx *extract.PageContext) []error

// Scheduler coordinates one crawl run: a single goroutine owns the frontier,
// visited/enqueued state, and the urlKey→pageId map; it dispatches render
// work to a concurrency-sized worker pool over channels and is the only
// caller of the dataset writers and the checkpoint store.
type Scheduler struct {
	actx      *atlasctx.Context
	cfg       config.Config
	crawlID   string
	frontier  *frontier.Frontier
	filter    *urlnorm.Filter
	bucket    *ratelimit.Bucket
	robot     RobotsChecker
	renderer  Renderer
	archive   *archive.Writer
	checkpts  *checkpoint.Store
	sink      events.Sink
	extractor ExtractFunc

	visitedCount       int64
	lastCheckpointAt   time.Time
	lastCheckpointPage int64
}

// New builds a Scheduler from already-constructed collaborators. Wiring the
// concrete implementations (robots.Checker, render.Pool, archive.Writer,
// ...) is the caller's responsibility, mirroring how the teacher's
// NewSchedulerWithDeps keeps the scheduler itself free of construction
// logic so tests can substitute fakes.
func New(
	actx *atlasctx.Context,
	cfg config.Config,
	crawlID string,
	fr *frontier.Frontier,
	filter *urlnorm.Filter,
	bucket *ratelimit.Bucket,
	robot RobotsChecker,
	renderer Renderer,
	aw *archive.Writer,
	checkpts *checkpoint.Store,
	sink events.Sink,
	extractor ExtractFunc,
) *Scheduler {
	return &Scheduler{
		actx:             actx,
		cfg:              cfg,
		crawlID:          crawlID,
		frontier:         fr,
		filter:           filter,
		bucket:           bucket,
		robot:            robot,
		renderer:         renderer,
		archive:          aw,
		checkpts:         checkpts,
		sink:             sink,
		extractor:        extractor,
		lastCheckpointAt: actx.Clock.Now(),
	}
}

// Resume restores frontier and visited-count state from a previously loaded
// checkpoint, so Run continues rather than re-crawling from the seeds.
func (s *Scheduler) Resume(loaded *checkpoint.Loaded) {
	if loaded == nil {
		return
	}

	enqueued := make([]string, 0, len(loaded.Frontier)+len(loaded.Visited))
	enqueued = append(enqueued, loaded.Visited...)
	for _, entry := range loaded.Frontier {
		normalized, err := urlnorm.Normalize(entry.URL, urlnorm.QueryPolicy(s.cfg.QueryPolicy()), nil, false)
		if err != nil {
			continue
		}
		enqueued = append(enqueued, normalized.Key)
	}

	s.frontier.Restore(frontier.Snapshot{
		Entries:       loaded.Frontier,
		EnqueuedIndex: enqueued,
		VisitedIndex:  loaded.Visited,
	})
	atomic.StoreInt64(&s.visitedCount, int64(loaded.Checkpoint.VisitedCount))
	s.lastCheckpointPage = int64(loaded.Checkpoint.VisitedCount)
	s.lastCheckpointAt = s.actx.Clock.Now()
}

// SubmitUrlForAdmission is the single admission choke point: it normalizes
// raw, applies the scope Filter (C1), and hands the candidate to the
// Frontier (C4), which separately enforces the depth cap. No other code
// path may call Frontier.Enqueue.
//
// robots.txt and the token bucket are deliberately NOT checked here — they
// are re-evaluated at dispatch time in gateForDispatch, since robots
// decisions and crawl-delay overrides can be expensive I/O and are only
// worth paying for a URL that actually reaches the front of the queue.
func (s *Scheduler) SubmitUrlForAdmission(raw string, depth int, discoveredFrom string) {
	normalized, err := urlnorm.Normalize(raw, urlnorm.QueryPolicy(s.cfg.QueryPolicy()), nil, false)
	if err != nil {
		s.sink.Warn("admission_invalid_url", events.A(events.AttrURL, raw), events.A(events.AttrReason, err.Error()))
		return
	}

	if allow, reason := s.filter.ShouldAllow(normalized.URL.Path); !allow {
		s.sink.Info("admission_denied_filter", events.A(events.AttrURL, normalized.URL.String()), events.A(events.AttrReason, reason))
		return
	}

	ok, reason := s.frontier.Enqueue(normalized.Key, atlas.FrontierEntry{
		URL:            normalized.URL.String(),
		Depth:          depth,
		DiscoveredFrom: discoveredFrom,
		EnqueueTime:    s.actx.Clock.Now(),
	})
	if !ok {
		s.sink.Info("admission_denied", events.A(events.AttrURL, normalized.URL.String()), events.A(events.AttrReason, string(reason)), events.A(events.AttrDepth, depth))
	}
}

// gateForDispatch re-checks scope, then robots, then waits on the per-host
// token bucket — the GATING state of spec.md's per-URL state machine, run
// immediately before a popped entry is handed to a render worker.
func (s *Scheduler) gateForDispatch(normalized atlas.NormalizedURL) bool {
	if allow, reason := s.filter.ShouldAllow(normalized.URL.Path); !allow {
		s.sink.Info("dispatch_denied_filter", events.A(events.AttrURL, normalized.URL.String()), events.A(events.AttrReason, reason))
		return false
	}

	decision, err := s.robot.Decide(s.actx.Ctx, *normalized.URL)
	if err != nil {
		s.recordError(atlas.ErrorPhase("robots"), normalized, err)
		return false
	}
	if decision.CrawlDelay != nil {
		s.bucket.SetCrawlDelay(normalized.Host, *decision.CrawlDelay)
	}
	if !decision.Allowed {
		s.sink.Info("dispatch_denied_robots", events.A(events.AttrURL, normalized.URL.String()), events.A(events.AttrReason, string(decision.Reason)))
		return false
	}

	if err := s.bucket.Wait(s.actx.Ctx, normalized.Host); err != nil {
		return false
	}
	return true
}

// nextJob pops entries off the frontier, skipping already-visited ones and
// anything the dispatch gate denies, until it finds one to render or the
// frontier runs dry.
func (s *Scheduler) nextJob() (renderJob, bool) {
	for {
		entry, ok := s.frontier.Pop()
		if !ok {
			return renderJob{}, false
		}

		normalized, err := urlnorm.Normalize(entry.URL, urlnorm.QueryPolicy(s.cfg.QueryPolicy()), nil, false)
		if err != nil {
			continue
		}
		if s.frontier.Visited(normalized.Key) {
			continue
		}
		if !s.gateForDispatch(normalized) {
			continue
		}

		s.frontier.MarkVisited(normalized.Key)
		atomic.AddInt64(&s.visitedCount, 1)
		return renderJob{entry: entry, urlKey: normalized.Key, targetURL: normalized.URL.String()}, true
	}
}

// renderWorker is one member of the render pool: it only ever calls
// Render and reports back over resultCh. It never touches the frontier,
// the archive writer, or the checkpoint store, per the single-writer
// coordinator discipline of spec.md §5.
func (s *Scheduler) renderWorker(wg *sync.WaitGroup, workCh <-chan renderJob, resultCh chan<- renderOutcome) {
	defer wg.Done()
	for job := range workCh {
		result, classified := s.renderer.Render(s.actx.Ctx, job.targetURL)
		outcome := renderOutcome{job: job, result: result}
		if classified != nil {
			outcome.err = classified
		}
		resultCh <- outcome
	}
}

// Run drains the frontier to completion (or a stopping condition), owning
// every frontier/archive/checkpoint call itself while concurrency render
// workers do nothing but render.
func (s *Scheduler) Run(seeds []url.URL) CrawlResult {
	start := s.actx.Clock.Now()

	for _, seed := range seeds {
		s.SubmitUrlForAdmission(seed.String(), 0, "")
	}

	concurrency := s.cfg.Concurrency()
	if concurrency < 1 {
		concurrency = 1
	}

	workCh := make(chan renderJob, concurrency)
	resultCh := make(chan renderOutcome, concurrency)

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		go s.renderWorker(&workers, workCh, resultCh)
	}

	reason := atlas.CompletionFinished
	graceful := false
	var inFlight int

loop:
	for {
		select {
		case <-s.actx.Done():
			reason, graceful = atlas.CompletionManual, true
			break loop
		default:
		}

		for drained := true; drained; {
			select {
			case o := <-resultCh:
				s.handleOutcome(o)
				inFlight--
			default:
				drained = false
			}
		}

		if s.cfg.MaxPages() > 0 && int(atomic.LoadInt64(&s.visitedCount)) >= s.cfg.MaxPages() {
			reason = atlas.CompletionCapped
			break loop
		}
		if s.cfg.ErrorBudget() > 0 && s.sink.ErrorCount() >= s.cfg.ErrorBudget() {
			reason = atlas.CompletionErrorBudget
			break loop
		}

		s.maybeCheckpoint()

		if inFlight >= concurrency {
			select {
			case o := <-resultCh:
				s.handleOutcome(o)
				inFlight--
			case <-s.actx.Done():
				reason, graceful = atlas.CompletionManual, true
				break loop
			}
			continue
		}

		job, ok := s.nextJob()
		if !ok {
			if inFlight == 0 {
				break loop
			}
			select {
			case o := <-resultCh:
				s.handleOutcome(o)
				inFlight--
			case <-s.actx.Done():
				reason, graceful = atlas.CompletionManual, true
				break loop
			}
			continue
		}

		workCh <- job
		inFlight++
	}

	close(workCh)
	drained := make(chan struct{})
	go func() { workers.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(defaultDrainDeadline):
		s.sink.Warn("shutdown_drain_timeout")
	}
	for {
		select {
		case o := <-resultCh:
			s.handleOutcome(o)
			inFlight--
		default:
			inFlight = 0
		}
		if inFlight <= 0 {
			break
		}
	}

	s.finalCheckpoint()
	s.sink.RecordEvent(atlas.EventRecord{
		Timestamp: s.actx.Clock.Now(),
		Kind:      "crawl_stopped",
		Fields: map[string]any{
			"reason":           string(reason),
			"gracefulShutdown": graceful,
		},
	})

	return CrawlResult{
		Reason:           reason,
		GracefulShutdown: graceful,
		PagesWritten:     int(atomic.LoadInt64(&s.visitedCount)),
		ErrorCount:       s.sink.ErrorCount(),
		Duration:         s.actx.Clock.Now().Sub(start),
	}
}

// handleOutcome runs EXTRACTING → WRITING for one rendered page, then
// re-admits every internal link it discovered. This is the only place
// dataset writers are called from, per the single-writer model.
func (s *Scheduler) handleOutcome(o renderOutcome) {
	normalized, nerr := urlnorm.Normalize(o.job.targetURL, urlnorm.QueryPolicy(s.cfg.QueryPolicy()), nil, false)
	if nerr != nil {
		return
	}

	if o.err != nil {
		s.recordError(atlas.ErrorPhase("render"), normalized, o.err)
		return
	}

	pageCtx := &extract.PageContext{BaseURL: normalized.URL, Mode: s.cfg.RenderMode()}
	html := o.result.LiveDOMSerialized
	if html == "" {
		html = string(o.result.RawBody)
	}
	for _, extractErr := range s.extractor(html, pageCtx) {
		s.recordError(atlas.ErrorPhase("extract"), normalized, extractErr)
	}

	pageID := s.archive.AssignPageID(o.job.urlKey)

	if err := s.writePage(pageID, o.job, normalized, o.result, pageCtx); err != nil {
		s.recordError(atlas.ErrorPhase("write"), normalized, err)
		return
	}

	for _, edge := range pageCtx.Links {
		if werr := s.archive.WriteEdge(edge); werr != nil {
			s.recordError(atlas.ErrorPhase("write"), normalized, werr)
		}
		if !edge.IsExternal {
			s.SubmitUrlForAdmission(edge.TargetURL, o.job.entry.Depth+1, o.job.targetURL)
		}
	}
	for _, asset := range pageCtx.Assets {
		if werr := s.archive.WriteAsset(asset); werr != nil {
			s.recordError(atlas.ErrorPhase("write"), normalized, werr)
		}
	}

	s.writeFullModeCaptures(normalized, o.result)
}

// writeFullModeCaptures persists the console logs, computed text styles, and
// DOM snapshot a full-mode render captured alongside the page. These
// datasets are only opened for RenderModeFull, so this is a no-op in every
// other mode.
func (s *Scheduler) writeFullModeCaptures(normalized atlas.NormalizedURL, result atlas.RenderResult) {
	if s.cfg.RenderMode() != atlas.RenderModeFull {
		return
	}
	pageURL := normalized.URL.String()

	for _, entry := range result.ConsoleLogs {
		if werr := s.archive.WriteConsole(atlas.ConsoleRecord{
			PageURL:   pageURL,
			Level:     entry.Level,
			Text:      entry.Text,
			Timestamp: entry.Timestamp,
		}); werr != nil {
			s.recordError(atlas.ErrorPhase("write"), normalized, werr)
		}
	}

	for _, style := range result.ComputedTextStyles {
		if werr := s.archive.WriteStyle(atlas.StyleRecord{
			PageURL:    pageURL,
			Selector:   style.Selector,
			FontFamily: style.FontFamily,
			FontSize:   style.FontSize,
			Color:      style.Color,
		}); werr != nil {
			s.recordError(atlas.ErrorPhase("write"), normalized, werr)
		}
	}

	if result.LiveDOMSerialized != "" {
		if werr := s.archive.WriteDomSnapshot(atlas.DomSnapshotRecord{
			PageURL: pageURL,
			DOMHash: result.DOMHash,
			HTML:    result.LiveDOMSerialized,
		}); werr != nil {
			s.recordError(atlas.ErrorPhase("write"), normalized, werr)
		}
	}
}

func (s *Scheduler) writePage(pageID string, job renderJob, normalized atlas.NormalizedURL, result atlas.RenderResult, pageCtx *extract.PageContext) error {
	ref, err := s.archive.BlobStore().Store(result.RawBody)
	if err != nil {
		return err
	}
	if err := s.archive.WriteResponse(atlas.ResponseRecord{PageID: pageID, BodyBlobRef: ref.String()}); err != nil {
		return err
	}

	var internal, external int
	for _, edge := range pageCtx.Links {
		if edge.IsExternal {
			external++
		} else {
			internal++
		}
	}

	var media *atlas.PageMedia
	if result.FaviconRef != nil {
		favRef, ferr := s.archive.BlobStore().Store(result.FaviconRef.Bytes)
		if ferr == nil {
			media = &atlas.PageMedia{Favicon: favRef.String()}
		}
	}
	if result.Screenshots != nil {
		if len(result.Screenshots.Desktop) > 0 {
			if ref, serr := s.archive.BlobStore().Store(result.Screenshots.Desktop); serr == nil {
				if media == nil {
					media = &atlas.PageMedia{}
				}
				media.ScreenshotDesktop = ref.String()
			}
		}
		if len(result.Screenshots.Mobile) > 0 {
			if ref, serr := s.archive.BlobStore().Store(result.Screenshots.Mobile); serr == nil {
				if media == nil {
					media = &atlas.PageMedia{}
				}
				media.ScreenshotMobile = ref.String()
			}
		}
	}

	return s.archive.WritePage(atlas.PageRecord{
		PageID:             pageID,
		URL:                job.targetURL,
		FinalURL:           result.FinalURL,
		NormalizedURL:      normalized.URL.String(),
		StatusCode:         result.StatusCode,
		ContentType:        result.ContentType,
		RenderMode:         s.cfg.RenderMode(),
		Depth:              job.entry.Depth,
		DiscoveredFrom:     job.entry.DiscoveredFrom,
		RawHTMLHash:        result.RawHTMLHash,
		DOMHash:            result.DOMHash,
		NavEndReason:       result.NavEndReason,
		RedirectChain:      result.RedirectChain,
		FetchMs:            result.FetchMs,
		RenderMs:           result.RenderMs,
		InternalLinksCount: internal,
		ExternalLinksCount: external,
		MediaAssetsCount:   len(pageCtx.Assets),
		Media:              media,
	})
}

func (s *Scheduler) recordError(phase atlas.ErrorPhase, normalized atlas.NormalizedURL, cause error) {
	rec := atlas.ErrorRecord{
		URL:        normalized.URL.String(),
		Origin:     normalized.Origin,
		Host:       normalized.Host,
		Phase:      phase,
		Code:       errorCode(cause),
		Message:    cause.Error(),
		OccurredAt: s.actx.Clock.Now(),
	}
	s.sink.RecordError(rec)
	if werr := s.archive.WriteError(rec); werr != nil {
		s.sink.Error("error_record_write_failed", events.A(events.AttrReason, werr.Error()))
	}
}

func errorCode(err error) string {
	if classified, ok := err.(failure.ClassifiedError); ok {
		if classified.Severity() == failure.SeverityFatal {
			return "fatal"
		}
		return "recoverable"
	}
	return "error"
}

// maybeCheckpoint saves the checkpoint triplet every checkpointInterval
// pages or checkpointEverySeconds seconds, whichever config enables.
func (s *Scheduler) maybeCheckpoint() {
	pages := atomic.LoadInt64(&s.visitedCount)

	dueByCount := s.cfg.CheckpointInterval() > 0 && pages-s.lastCheckpointPage >= int64(s.cfg.CheckpointInterval())
	dueByTime := s.cfg.CheckpointEverySeconds() > 0 && s.actx.Clock.Now().Sub(s.lastCheckpointAt) >= time.Duration(s.cfg.CheckpointEverySeconds())*time.Second
	if !dueByCount && !dueByTime {
		return
	}
	s.saveCheckpoint(pages)
}

func (s *Scheduler) finalCheckpoint() {
	s.saveCheckpoint(atomic.LoadInt64(&s.visitedCount))
}

func (s *Scheduler) saveCheckpoint(pages int64) {
	snapshot := s.frontier.Snapshot()
	cp := atlas.Checkpoint{
		CrawlID:          s.crawlID,
		VisitedCount:     int(pages),
		EnqueuedCount:    len(snapshot.EnqueuedIndex),
		QueueDepth:       len(snapshot.Entries),
		VisitedIndexFile: "visited.idx",
		FrontierSnapshot: snapshot.Entries,
		LastPartPointers: s.archive.PartPointers(),
		Timestamp:        s.actx.Clock.Now(),
	}
	if err := s.checkpts.Save(cp, snapshot.VisitedIndex, snapshot.Entries); err != nil {
		s.sink.Error("checkpoint_save_failed", events.A(events.AttrReason, err.Error()))
		return
	}
	if err := s.archive.BulkFlush(); err != nil {
		s.sink.Error("bulk_flush_failed", events.A(events.AttrReason, err.Error()))
	}

	s.lastCheckpointAt = s.actx.Clock.Now()
	s.lastCheckpointPage = pages
	s.sink.RecordEvent(atlas.EventRecord{
		Timestamp: s.lastCheckpointAt,
		Kind:      "checkpoint",
		Fields:    map[string]any{"visitedCount": pages, "queueDepth": cp.QueueDepth},
	})
}

// ---------------------------------------------------------------------------
// Test Helper Methods
// Exported to let external tests observe coordinator-owned state without
// reaching into the frontier themselves.
// ---------------------------------------------------------------------------

// FrontierSize reports how many entries are currently queued.
func (s *Scheduler) FrontierSize() int {
	return s.frontier.Size()
}

// VisitedCount reports how many pages have been popped and gated so far.
func (s *Scheduler) VisitedCount() int {
	return int(atomic.LoadInt64(&s.visitedCount))
}
