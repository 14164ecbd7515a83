// Package render implements the Renderer Pool (C5): a fixed-size pool of
// workers, each owning a headless-browser context, supporting raw/prerender/
// full render modes with context recycling, per-page caps, challenge
// detection, and a bounded retry policy on transient failures.
package render

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/pkg/failure"
	"github.com/rohmanhakim/atlas-crawler/pkg/retry"
	"github.com/rohmanhakim/atlas-crawler/pkg/timeutil"
)

// Options configures the pool, sourced from config.Config at construction.
type Options struct {
	Mode               atlas.RenderMode
	Concurrency        int
	WorkerRecycleEvery int
	MaxRequestsPerPage int
	MaxBytesPerPage    int64
	NavTimeout         time.Duration
	UserAgent          string
	RetryParam         retry.RetryParam
}

type worker struct {
	id           int
	browserCtx   context.Context
	browserStop  context.CancelFunc
	pagesRendered int
}

// Pool renders URLs under one of raw/prerender/full, recycling each
// worker's browser context every WorkerRecycleEvery pages and deduplicating
// favicon fetches per origin.
type Pool struct {
	opts       Options
	httpClient *http.Client

	mu        sync.Mutex
	workers   []*worker
	nextIdx   int
	rootCtx   context.Context
	allocCtx  context.Context
	allocStop context.CancelFunc

	faviconMu    sync.Mutex
	faviconCache map[string]*atlas.Favicon
}

// New builds a Pool. For raw mode, no browser allocator is started; workers
// are purely logical and share one *http.Client.
func New(ctx context.Context, opts Options) *Pool {
	p := &Pool{
		opts:         opts,
		httpClient:   &http.Client{Timeout: opts.NavTimeout},
		faviconCache: make(map[string]*atlas.Favicon),
		rootCtx:      ctx,
	}

	if opts.Mode != atlas.RenderModeRaw {
		allocCtx, allocStop := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
		p.allocCtx = allocCtx
		p.allocStop = allocStop
	}

	p.workers = make([]*worker, opts.Concurrency)
	for i := range p.workers {
		p.workers[i] = &worker{id: i}
	}
	return p
}

// Close releases every worker's browser context and the exec allocator.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.browserStop != nil {
			w.browserStop()
		}
	}
	if p.allocStop != nil {
		p.allocStop()
	}
}

// Render dispatches to the next worker in round-robin order (whether that
// worker is busy is not checked; callers bound
// concurrency by how many goroutines call Render at once) and retries
// transient render failures per spec's render-phase retry policy.
func (p *Pool) Render(ctx context.Context, targetURL string) (atlas.RenderResult, failure.ClassifiedError) {
	w := p.acquireWorker()

	result := retry.Retry(p.opts.RetryParam, func() (atlas.RenderResult, failure.ClassifiedError) {
		res, err := p.renderOnce(ctx, w, targetURL)
		if err != nil {
			return atlas.RenderResult{}, err
		}
		return res, nil
	})

	if result.IsFailure() {
		return atlas.RenderResult{}, result.Err()
	}
	return result.Value(), nil
}

func (p *Pool) acquireWorker() *worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.nextIdx%len(p.workers)]
	p.nextIdx++
	return w
}

func (p *Pool) renderOnce(ctx context.Context, w *worker, targetURL string) (atlas.RenderResult, *RenderError) {
	if p.opts.Mode == atlas.RenderModeRaw {
		return rawFetch(ctx, p.httpClient, targetURL, p.opts.UserAgent, p.opts.MaxBytesPerPage)
	}

	p.mu.Lock()
	if w.browserCtx == nil || w.pagesRendered >= p.opts.WorkerRecycleEvery {
		if w.browserStop != nil {
			w.browserStop()
		}
		bctx, bstop := chromedp.NewContext(p.allocCtx)
		w.browserCtx, w.browserStop = bctx, bstop
		w.pagesRendered = 0
	}
	w.pagesRendered++
	tabCtx := w.browserCtx
	p.mu.Unlock()

	wantFavicon := p.opts.Mode == atlas.RenderModeFull && !p.faviconKnown(targetURL)

	result, faviconHref, err := chromeRender(tabCtx, targetURL, p.opts.Mode, p.opts.NavTimeout, wantFavicon)
	if err != nil {
		return result, err
	}

	if result.RequestCount > p.opts.MaxRequestsPerPage {
		return atlas.RenderResult{}, &RenderError{URL: targetURL, Cause: CauseRequestCap, Message: "exceeded maxRequestsPerPage", Retryable: false}
	}

	if faviconHref != "" {
		if fav, favErr := fetchFaviconBytes(ctx, p.httpClient, faviconHref, p.opts.MaxBytesPerPage); favErr == nil {
			result.FaviconRef = fav
			p.rememberFavicon(targetURL, fav)
		}
	}

	return result, nil
}

func (p *Pool) faviconKnown(targetURL string) bool {
	origin := originOf(targetURL)
	p.faviconMu.Lock()
	defer p.faviconMu.Unlock()
	_, ok := p.faviconCache[origin]
	return ok
}

func (p *Pool) rememberFavicon(targetURL string, fav *atlas.Favicon) {
	origin := originOf(targetURL)
	p.faviconMu.Lock()
	defer p.faviconMu.Unlock()
	p.faviconCache[origin] = fav
}

// FaviconFor returns the favicon already captured for targetURL's origin,
// so PageRecords on the same origin can share one blob reference.
func (p *Pool) FaviconFor(targetURL string) (*atlas.Favicon, bool) {
	origin := originOf(targetURL)
	p.faviconMu.Lock()
	defer p.faviconMu.Unlock()
	fav, ok := p.faviconCache[origin]
	return fav, ok
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

// DefaultRetryParam builds the render-phase retry policy: up to 2 retries
// (3 attempts total), with exponential backoff starting at 1s, doubling,
// capped at 5s, plus up to 200ms jitter; the two waits are therefore about
// 1s and 2s.
func DefaultRetryParam(seed int64) retry.RetryParam {
	return retry.NewRetryParam(
		time.Second,
		200*time.Millisecond,
		seed,
		3,
		timeutil.NewBackoffParam(time.Second, 2.0, 5*time.Second),
	)
}
