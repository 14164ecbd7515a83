package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
)

// assetSelector pairs a CSS selector with the asset type it always implies.
type assetSelector struct {
	selector string
	kind     atlas.AssetType
}

var assetSelectors = []assetSelector{
	{"img[src]", atlas.AssetImg},
	{"script[src]", atlas.AssetScript},
	{"link[rel=stylesheet]", atlas.AssetStyle},
	{"video[src]", atlas.AssetVideo},
	{"audio[src]", atlas.AssetAudio},
	{"video > source[src]", atlas.AssetVideo},
	{"audio > source[src]", atlas.AssetAudio},
	{"link[rel=preload][as=font]", atlas.AssetFont},
}

// AssetExtractor walks known sub-resource-bearing elements (img, script,
// stylesheet link, audio/video and their <source> children, preloaded
// fonts), stopping once maxAssetsPerPage records have been collected.
func AssetExtractor(html string, ctx *PageContext) (Result, error) {
	if ctx.BaseURL == nil {
		return Result{}, fmt.Errorf("extract: asset extraction requires a base URL")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("extract: parse html: %w", err)
	}

	var assets []atlas.AssetRecord
	seen := make(map[string]bool)

	for _, as := range assetSelectors {
		if len(assets) >= maxAssetsPerPage {
			break
		}
		doc.Find(as.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if len(assets) >= maxAssetsPerPage {
				return false
			}
			src := srcOf(s)
			if src == "" {
				return true
			}
			resolved, err := ctx.BaseURL.Parse(src)
			if err != nil {
				return true
			}
			key := resolved.String()
			if seen[key] {
				return true
			}
			seen[key] = true

			alt, hasAlt := s.Attr("alt")
			assets = append(assets, atlas.AssetRecord{
				PageURL:     ctx.BaseURL.String(),
				Src:         key,
				Type:        as.kind,
				Alt:         alt,
				HasAlt:      hasAlt,
				Width:       intAttr(s, "width"),
				Height:      intAttr(s, "height"),
				LoadingAttr: attrOrEmpty(s, "loading"),
			})
			return true
		})
	}

	return Result{Assets: assets}, nil
}

func srcOf(s *goquery.Selection) string {
	if src, ok := s.Attr("src"); ok && src != "" {
		return strings.TrimSpace(src)
	}
	if href, ok := s.Attr("href"); ok && href != "" {
		return strings.TrimSpace(href)
	}
	return ""
}

func intAttr(s *goquery.Selection, name string) int {
	raw, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
