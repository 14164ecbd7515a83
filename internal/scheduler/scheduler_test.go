package scheduler_test

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
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
	"github.com/rohmanhakim/atlas-crawler/internal/scheduler"
	"github.com/rohmanhakim/atlas-crawler/internal/urlnorm"
	"github.com/rohmanhakim/atlas-crawler/pkg/failure"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer serves canned HTML per URL, standing in for the render pool
// so these tests never touch chromedp.
type fakeRenderer struct {
	mu      sync.Mutex
	pages   map[string]string
	visited []string
	full    bool
}

func (f *fakeRenderer) Render(_ context.Context, targetURL string) (atlas.RenderResult, failure.ClassifiedError) {
	f.mu.Lock()
	f.visited = append(f.visited, targetURL)
	body, ok := f.pages[targetURL]
	f.mu.Unlock()
	if !ok {
		body = "<html><body>empty</body></html>"
	}
	result := atlas.RenderResult{
		URL:               targetURL,
		FinalURL:          targetURL,
		StatusCode:        200,
		ContentType:       "text/html",
		RawBody:           []byte(body),
		RawHTMLHash:       "deadbeef",
		LiveDOMSerialized: body,
		DOMHash:           "deadbeef",
		FetchMs:           1,
	}
	if f.full {
		result.Screenshots = &atlas.ScreenshotPair{Desktop: []byte("desktop-jpg"), Mobile: []byte("mobile-jpg")}
		result.ConsoleLogs = []atlas.ConsoleLogEntry{{Level: "log", Text: "hello", Timestamp: time.Now()}}
		result.ComputedTextStyles = []atlas.ComputedTextStyle{{Selector: "body", FontFamily: "sans-serif", FontSize: "16px", Color: "#000"}}
	}
	return result, nil
}

// allowAllRobots never denies and reports no crawl delay.
type allowAllRobots struct{}

func (allowAllRobots) Decide(_ context.Context, u url.URL) (robots.Decision, error) {
	return robots.Decision{Url: u, Allowed: true, Reason: robots.AllowedByRobots}, nil
}

func (allowAllRobots) Overridden() (bool, string) { return false, "" }

func testSeed(t *testing.T) url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	return *u
}

func testConfig(t *testing.T, opts ...func(*config.Config) *config.Config) config.Config {
	t.Helper()
	builder := config.WithDefault([]url.URL{testSeed(t)}).WithConcurrency(2).WithCheckpointInterval(0)
	for _, opt := range opts {
		builder = opt(builder)
	}
	cfg, err := builder.Build()
	require.NoError(t, err)
	return cfg
}

func newTestScheduler(t *testing.T, cfg config.Config, renderer scheduler.Renderer) *scheduler.Scheduler {
	t.Helper()
	dir := t.TempDir()

	aw, err := archive.New(cfg, "crawl-test", filepath.Join(dir, "staging"), "atlas crawl --seeds https://example.com", nil)
	require.NoError(t, err)

	actx := atlasctx.New(context.Background(), zerolog.New(io.Discard), atlasctx.Producer{Name: "atlas-crawler"})
	return scheduler.New(
		actx,
		cfg,
		"crawl-test",
		frontier.New(cfg.MaxDepth()),
		urlnorm.NewFilter(nil, nil),
		ratelimit.New(1000, 1000),
		allowAllRobots{},
		renderer,
		aw,
		checkpoint.New(filepath.Join(dir, "staging")),
		events.NewZerologSink(zerolog.New(io.Discard)),
		extract.DefaultPipeline(),
	)
}

func TestSubmitUrlForAdmission_EnqueuesAllowedURL(t *testing.T) {
	cfg := testConfig(t)
	sched := newTestScheduler(t, cfg, &fakeRenderer{pages: map[string]string{}})

	sched.SubmitUrlForAdmission("https://example.com/docs", 1, "https://example.com/")

	assert.Equal(t, 1, sched.FrontierSize())
}

func TestSubmitUrlForAdmission_RejectsInvalidURL(t *testing.T) {
	cfg := testConfig(t)
	sched := newTestScheduler(t, cfg, &fakeRenderer{pages: map[string]string{}})

	sched.SubmitUrlForAdmission("not a url at all", 0, "")

	assert.Equal(t, 0, sched.FrontierSize())
}

func TestSubmitUrlForAdmission_DedupsByNormalizedKey(t *testing.T) {
	cfg := testConfig(t)
	sched := newTestScheduler(t, cfg, &fakeRenderer{pages: map[string]string{}})

	sched.SubmitUrlForAdmission("https://example.com/a", 1, "")
	sched.SubmitUrlForAdmission("https://example.com/a", 1, "")

	assert.Equal(t, 1, sched.FrontierSize())
}

func TestRun_CrawlsLinkedPageAndFinishes(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]string{
		"https://example.com/": `<html><body><a href="/child">Child</a></body></html>`,
	}}
	cfg := testConfig(t)
	sched := newTestScheduler(t, cfg, renderer)

	result := sched.Run([]url.URL{testSeed(t)})

	assert.Equal(t, atlas.CompletionFinished, result.Reason)
	assert.False(t, result.GracefulShutdown)
	assert.Equal(t, 2, result.PagesWritten)
	assert.Equal(t, 2, sched.VisitedCount())
	assert.Equal(t, 0, sched.FrontierSize())
}

func TestRun_RespectsMaxPagesCap(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]string{
		"https://example.com/": `<html><body>
			<a href="/a">A</a><a href="/b">B</a><a href="/c">C</a>
		</body></html>`,
	}}
	cfg := testConfig(t, func(c *config.Config) *config.Config { return c.WithMaxPages(1) })
	sched := newTestScheduler(t, cfg, renderer)

	result := sched.Run([]url.URL{testSeed(t)})

	assert.Equal(t, atlas.CompletionCapped, result.Reason)
	assert.Equal(t, 1, result.PagesWritten)
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	aw, err := archive.New(cfg, "crawl-test", filepath.Join(dir, "staging"), "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	actx := atlasctx.New(ctx, zerolog.New(io.Discard), atlasctx.Producer{})

	sched := scheduler.New(
		actx,
		cfg,
		"crawl-test",
		frontier.New(cfg.MaxDepth()),
		urlnorm.NewFilter(nil, nil),
		ratelimit.New(1000, 1000),
		allowAllRobots{},
		&fakeRenderer{pages: map[string]string{}},
		aw,
		checkpoint.New(filepath.Join(dir, "staging")),
		events.NewZerologSink(zerolog.New(io.Discard)),
		extract.DefaultPipeline(),
	)

	result := sched.Run([]url.URL{testSeed(t)})

	assert.Equal(t, atlas.CompletionManual, result.Reason)
	assert.True(t, result.GracefulShutdown)
}

func TestRun_FullModeWritesScreenshotsConsoleAndStyles(t *testing.T) {
	renderer := &fakeRenderer{pages: map[string]string{"https://example.com/": "<html><body>ok</body></html>"}, full: true}
	cfg := testConfig(t, func(c *config.Config) *config.Config { return c.WithRenderMode(atlas.RenderModeFull) })
	dir := t.TempDir()

	aw, err := archive.New(cfg, "crawl-test", filepath.Join(dir, "staging"), "", nil)
	require.NoError(t, err)
	actx := atlasctx.New(context.Background(), zerolog.New(io.Discard), atlasctx.Producer{Name: "atlas-crawler"})
	sched := scheduler.New(
		actx,
		cfg,
		"crawl-test",
		frontier.New(cfg.MaxDepth()),
		urlnorm.NewFilter(nil, nil),
		ratelimit.New(1000, 1000),
		allowAllRobots{},
		renderer,
		aw,
		checkpoint.New(filepath.Join(dir, "staging")),
		events.NewZerologSink(zerolog.New(io.Discard)),
		extract.DefaultPipeline(),
	)

	result := sched.Run([]url.URL{testSeed(t)})
	require.Equal(t, atlas.CompletionFinished, result.Reason)

	outPath := filepath.Join(dir, "out.atls")
	_, err = aw.Finalize(outPath, result.Reason, result.GracefulShutdown)
	require.NoError(t, err)

	zr, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer zr.Close()

	var manifest atlas.Manifest
	for _, f := range zr.File {
		if f.Name != "manifest.json" {
			continue
		}
		rc, rerr := f.Open()
		require.NoError(t, rerr)
		require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
		rc.Close()
	}

	assert.Equal(t, int64(1), manifest.Datasets["console"].RecordCount)
	assert.Equal(t, int64(1), manifest.Datasets["styles"].RecordCount)
	assert.Equal(t, int64(1), manifest.Datasets["dom_snapshots"].RecordCount)
}

func TestResume_RestoresVisitedCountAndFrontier(t *testing.T) {
	cfg := testConfig(t)
	sched := newTestScheduler(t, cfg, &fakeRenderer{pages: map[string]string{}})

	sched.Resume(&checkpoint.Loaded{
		Checkpoint: atlas.Checkpoint{VisitedCount: 5},
		Visited:    []string{"key-a"},
		Frontier: []atlas.FrontierEntry{
			{URL: "https://example.com/queued", Depth: 1, EnqueueTime: time.Now()},
		},
	})

	assert.Equal(t, 5, sched.VisitedCount())
	assert.Equal(t, 1, sched.FrontierSize())
}
