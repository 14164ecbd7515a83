package extract

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestLinkExtractor_ClassifiesInternalAndExternal(t *testing.T) {
	html := `<html><body>
		<nav><a href="/docs">Docs</a></nav>
		<main><a href="https://other.example.com/x">Other</a></main>
	</body></html>`

	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	result, err := LinkExtractor(html, ctx)
	require.NoError(t, err)
	require.Len(t, result.Links, 2)

	assert.False(t, result.Links[0].IsExternal)
	assert.Equal(t, atlas.LocationNav, result.Links[0].Location)
	assert.Equal(t, atlas.LinkTypeNavigation, result.Links[0].LinkType)

	assert.True(t, result.Links[1].IsExternal)
	assert.Equal(t, atlas.LocationMain, result.Links[1].Location)
}

func TestLinkExtractor_SkipsFragmentAndJavascriptHrefs(t *testing.T) {
	html := `<a href="#top">Top</a><a href="javascript:void(0)">JS</a>`
	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	result, err := LinkExtractor(html, ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Links)
}

func TestLinkExtractor_DetectsRelAttributes(t *testing.T) {
	html := `<a href="https://sponsor.example.com" rel="nofollow sponsored">Ad</a>`
	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	result, err := LinkExtractor(html, ctx)
	require.NoError(t, err)
	require.Len(t, result.Links, 1)
	assert.True(t, result.Links[0].Nofollow)
	assert.True(t, result.Links[0].Sponsored)
}

func TestLinkExtractor_MissingBaseURLErrors(t *testing.T) {
	ctx := &PageContext{Mode: atlas.RenderModeRaw}
	_, err := LinkExtractor("<a href='/x'>x</a>", ctx)
	assert.Error(t, err)
}

func TestAssetExtractor_CollectsImagesAndScripts(t *testing.T) {
	html := `<img src="/logo.png" alt="Logo" width="100" height="50">
		<script src="/app.js"></script>
		<link rel="stylesheet" href="/style.css">`
	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	result, err := AssetExtractor(html, ctx)
	require.NoError(t, err)
	require.Len(t, result.Assets, 3)

	img := result.Assets[0]
	assert.Equal(t, atlas.AssetImg, img.Type)
	assert.True(t, img.HasAlt)
	assert.Equal(t, 100, img.Width)
}

func TestAssetExtractor_DedupsByResolvedURL(t *testing.T) {
	html := `<img src="/logo.png"><img src="/logo.png">`
	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	result, err := AssetExtractor(html, ctx)
	require.NoError(t, err)
	assert.Len(t, result.Assets, 1)
}

func TestAssetExtractor_CapsAtMaxAssetsPerPage(t *testing.T) {
	var b strings.Builder
	for i := 0; i < maxAssetsPerPage+50; i++ {
		b.WriteString("<img src=\"/img")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(".png\">")
	}
	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	result, err := AssetExtractor(b.String(), ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Assets), maxAssetsPerPage)
}

func TestDefaultPipeline_RunsLinksThenAssets(t *testing.T) {
	html := `<a href="/docs">Docs</a><img src="/logo.png">`
	ctx := &PageContext{BaseURL: mustURL(t, "https://example.com/"), Mode: atlas.RenderModeRaw}
	errs := DefaultPipeline()(html, ctx)
	assert.Empty(t, errs)
	assert.Len(t, ctx.Links, 1)
	assert.Len(t, ctx.Assets, 1)
}

func TestTruncateSample_CapsAtMaxBytes(t *testing.T) {
	long := strings.Repeat("a", maxTextSampleBytes+100)
	assert.Len(t, truncateSample(long), maxTextSampleBytes)
}
