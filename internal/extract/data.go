package extract

import (
	"net/url"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
)

// PageContext carries the shared state an extraction pipeline threads
// through its stages: the page being extracted, the render mode in effect,
// and whatever earlier stages have already produced. Extractors only
// append to Links/Assets; they never rewrite another stage's output.
type PageContext struct {
	BaseURL *url.URL
	Mode    atlas.RenderMode

	Links  []atlas.EdgeRecord
	Assets []atlas.AssetRecord
}

// Result is one extractor's contribution for a single pipeline pass.
// An extractor that only produces links leaves Assets nil, and vice versa.
type Result struct {
	Links  []atlas.EdgeRecord
	Assets []atlas.AssetRecord
}

const (
	maxAssetsPerPage  = 1000
	maxTextSampleBytes = 1500
)

func truncateSample(s string) string {
	if len(s) <= maxTextSampleBytes {
		return s
	}
	return s[:maxTextSampleBytes]
}
